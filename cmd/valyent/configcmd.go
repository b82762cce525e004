package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"
	goyaml "gopkg.in/yaml.v3"

	"github.com/valyent/valyent-go/internal/client"
	"github.com/valyent/valyent-go/internal/config"
	"github.com/valyent/valyent-go/internal/version"
)

func (a *app) configCommand() *command {
	var (
		token     string
		namespace string
		endpoint  string
		force     bool
	)

	return &command{
		Name:    "config",
		Summary: "Manage the configuration file",
		Subcommands: []*command{
			{
				Name:    "init",
				Summary: "Write a configuration file",
				Flags: func() *pflag.FlagSet {
					fs := pflag.NewFlagSet("init", pflag.ContinueOnError)
					fs.StringVar(&token, "token", "", "API token")
					fs.StringVar(&namespace, "namespace", "", "organization namespace")
					fs.StringVar(&endpoint, "endpoint", client.DefaultEndpoint, "API endpoint")
					fs.BoolVar(&force, "force", false, "overwrite an existing file")
					return fs
				},
				Run: func(ctx context.Context, args []string) error {
					if token == "" {
						return errors.New("--token is required")
					}
					if _, err := os.Stat(a.configPath); err == nil && !force {
						return fmt.Errorf("%s already exists (use --force to overwrite)", a.configPath)
					}
					cfg := &config.Config{
						Endpoint:  endpoint,
						Namespace: namespace,
						Token:     token,
					}
					if err := config.Save(a.configPath, cfg); err != nil {
						return err
					}
					fmt.Fprintln(a.stdout, a.configPath)
					return nil
				},
			},
			{
				Name:    "show",
				Summary: "Print the effective configuration with the secrets redacted",
				Run: func(ctx context.Context, args []string) error {
					cfg, err := config.Load(a.configPath)
					if err != nil {
						return err
					}
					shown := *cfg
					shown.Token = redact(shown.Token)
					shown.Forward.NKeySeed = redact(shown.Forward.NKeySeed)

					data, err := goyaml.Marshal(&shown)
					if err != nil {
						return err
					}
					_, err = a.stdout.Write(data)
					return err
				},
			},
			{
				Name:    "path",
				Summary: "Print the configuration file path",
				Run: func(ctx context.Context, args []string) error {
					fmt.Fprintln(a.stdout, a.configPath)
					return nil
				},
			},
		},
	}
}

func redact(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}

func (a *app) versionCommand() *command {
	return &command{
		Name:    "version",
		Summary: "Print version information",
		Run: func(ctx context.Context, args []string) error {
			fmt.Fprintln(a.stdout, version.Info())
			return nil
		},
	}
}
