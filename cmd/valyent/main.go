// Command valyent is the command line client of the Valyent platform.
//
// It manages fleets, machines and gateways, runs code in AI sandboxes,
// and with "valyent logd" runs as a daemon that follows machine logs,
// checkpoints them in a local database and forwards them to NATS.
//
// Configuration is loaded from the user config directory
// (valyent/config.yaml, or the path given with --config) and VALYENT_
// environment variables.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
)

func main() {
	// Create shutdown context that listens for SIGTERM and SIGINT
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the CLI and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}

	global := pflag.NewFlagSet("valyent", pflag.ContinueOnError)
	global.SetOutput(io.Discard)
	global.SetInterspersed(false)
	global.StringVar(&a.configPath, "config", defaultConfigPath(), "path to the configuration file")
	if err := global.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			a.root().printHelp(stderr)
			return 0
		}
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 2
	}

	err := a.root().execute(ctx, global.Args(), stderr)
	if closeErr := a.closeStore(); closeErr != nil && err == nil {
		err = closeErr
	}

	var exitErr *exitError
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUsage):
		return 2
	case errors.As(err, &exitErr):
		return exitErr.code
	default:
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
}

// exitError ends the process with code without printing anything.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func (a *app) root() *command {
	return &command{
		Name:    "valyent",
		Summary: "Valyent platform client",
		Subcommands: []*command{
			a.fleetsCommand(),
			a.machinesCommand(),
			a.gatewaysCommand(),
			a.execCommand(),
			a.fsCommand(),
			a.sandboxCommand(),
			a.logdCommand(),
			a.configCommand(),
			a.versionCommand(),
		},
	}
}
