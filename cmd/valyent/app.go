package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/valyent/valyent-go/internal/client"
	"github.com/valyent/valyent-go/internal/config"
	"github.com/valyent/valyent-go/internal/logging"
	"github.com/valyent/valyent-go/internal/sandbox"
	"github.com/valyent/valyent-go/internal/store"
)

// app holds the state shared by all commands. Configuration, the logger
// and the API client are set up on first use so that commands like
// "config init" work without a valid configuration.
type app struct {
	configPath string
	stdout     io.Writer
	stderr     io.Writer

	cfg    *config.Config
	logger *slog.Logger
	api    *client.Client
	state  *store.Store
}

func defaultConfigPath() string {
	if path := os.Getenv(config.EnvPrefix + "CONFIG"); path != "" {
		return path
	}
	return config.DefaultPath()
}

// setup loads the configuration and creates the logger and API client.
func (a *app) setup() error {
	if a.api != nil {
		return nil
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat, a.stderr)

	api, err := client.New(cfg.ClientOptions(), logger)
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = logger
	a.api = api
	return nil
}

// sandboxes returns the sandbox service with the configured budgets.
func (a *app) sandboxes() (*sandbox.Sandboxes, error) {
	if err := a.setup(); err != nil {
		return nil, err
	}
	s := sandbox.NewSandboxes(a.api, a.logger)
	s.SetBudgets(a.cfg.Budgets())
	return s, nil
}

// store opens the local state database.
func (a *app) store() (*store.Store, error) {
	if a.state != nil {
		return a.state, nil
	}
	if err := a.setup(); err != nil {
		return nil, err
	}
	st, err := store.Open(a.cfg.CheckpointPath())
	if err != nil {
		return nil, err
	}
	a.state = st
	return st, nil
}

// closeStore closes the state database if it was opened.
func (a *app) closeStore() error {
	if a.state == nil {
		return nil
	}
	err := a.state.Close()
	a.state = nil
	return err
}

// printJSON writes v as indented JSON.
func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printTable writes a header and rows as aligned columns.
func (a *app) printTable(header []string, rows [][]string) error {
	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	writeRow(tw, header)
	for _, row := range rows {
		writeRow(tw, row)
	}
	return tw.Flush()
}

func writeRow(w io.Writer, cols []string) {
	for i, col := range cols {
		if i > 0 {
			fmt.Fprint(w, "\t")
		}
		fmt.Fprint(w, col)
	}
	fmt.Fprintln(w)
}
