package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"

	"github.com/valyent/valyent-go/internal/sandbox"
	"github.com/valyent/valyent-go/internal/schedule"
)

// defaultHistoryKeep bounds the stored history of scheduled runs.
const defaultHistoryKeep = 500

func (a *app) sandboxCommand() *command {
	var (
		typ       string
		language  string
		codeFile  string
		asJSON    bool
		follow    bool
		cron      string
		retention string
		keep      int
		limit     int
	)

	codeFlags := func(fs *pflag.FlagSet) {
		fs.StringVarP(&language, "language", "l", "", "language of the code (sandbox default when empty)")
		fs.StringVarP(&codeFile, "file", "f", "-", "file holding the code; - reads stdin")
	}

	return &command{
		Name:    "sandbox",
		Summary: "Run code in AI sandboxes",
		Subcommands: []*command{
			{
				Name:    "create",
				Summary: "Start a sandbox",
				Flags: func() *pflag.FlagSet {
					fs := pflag.NewFlagSet("create", pflag.ContinueOnError)
					fs.StringVarP(&typ, "type", "t", string(sandbox.TypeCodeInterpreter), "sandbox type: code-interpreter or computer-use")
					return fs
				},
				Run: func(ctx context.Context, args []string) error {
					sandboxes, err := a.sandboxes()
					if err != nil {
						return err
					}
					sb, err := sandboxes.Create(ctx, sandbox.Type(typ))
					if err != nil {
						return err
					}
					return a.printJSON(sb.Record)
				},
			},
			{
				Name:    "get",
				Summary: "Show a sandbox",
				Usage:   "SANDBOX",
				Args:    1,
				Run: func(ctx context.Context, args []string) error {
					sandboxes, err := a.sandboxes()
					if err != nil {
						return err
					}
					sb, err := sandboxes.Get(ctx, args[0])
					if err != nil {
						return err
					}
					return a.printJSON(sb.Record)
				},
			},
			{
				Name:    "delete",
				Summary: "Destroy a sandbox",
				Usage:   "SANDBOX",
				Args:    1,
				Run: func(ctx context.Context, args []string) error {
					sandboxes, err := a.sandboxes()
					if err != nil {
						return err
					}
					sb, err := sandboxes.Get(ctx, args[0])
					if err != nil {
						return err
					}
					return sb.Delete(ctx)
				},
			},
			{
				Name:    "run",
				Summary: "Execute code and print its output",
				Usage:   "SANDBOX",
				Args:    1,
				Flags: func() *pflag.FlagSet {
					fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
					codeFlags(fs)
					fs.BoolVar(&asJSON, "json", false, "print the whole execution as JSON")
					return fs
				},
				Run: func(ctx context.Context, args []string) error {
					code, err := readCode(codeFile)
					if err != nil {
						return err
					}
					sandboxes, err := a.sandboxes()
					if err != nil {
						return err
					}
					sb, err := sandboxes.Get(ctx, args[0])
					if err != nil {
						return err
					}

					exec, err := sb.RunCode(ctx, code, sandbox.WithLanguage(language))
					var timeoutErr *sandbox.ExecutionTimeoutError
					if errors.As(err, &timeoutErr) && timeoutErr.Partial != nil {
						a.printExecution(timeoutErr.Partial)
					}
					if err != nil {
						return err
					}

					if asJSON {
						return a.printJSON(exec)
					}
					a.printExecution(exec)
					if exec.Result != nil {
						fmt.Fprintln(a.stdout, string(exec.Result))
					}
					if exec.Error != nil {
						fmt.Fprintf(a.stderr, "error: %s\n", exec.Error.Message)
						return &exitError{code: 3}
					}
					return nil
				},
			},
			{
				Name:    "logs",
				Summary: "Print or follow the logs of a sandbox",
				Usage:   "SANDBOX",
				Args:    1,
				Flags: func() *pflag.FlagSet {
					fs := pflag.NewFlagSet("logs", pflag.ContinueOnError)
					fs.BoolVarP(&follow, "follow", "f", false, "follow the live log stream")
					fs.BoolVar(&asJSON, "json", false, "print one JSON record per line")
					return fs
				},
				Run: func(ctx context.Context, args []string) error {
					sandboxes, err := a.sandboxes()
					if err != nil {
						return err
					}
					sb := sandboxes.Attach(sandbox.Record{ID: args[0]})
					if follow {
						return a.printFollow(ctx, sb.FollowLogs(ctx), asJSON)
					}
					entries, err := sb.Logs(ctx)
					if err != nil {
						return err
					}
					for _, e := range entries {
						if err := a.printRecord(e, asJSON); err != nil {
							return err
						}
					}
					return nil
				},
			},
			{
				Name:    "schedule",
				Summary: "Run code on a cron schedule until interrupted",
				Usage:   "SANDBOX",
				Args:    1,
				Flags: func() *pflag.FlagSet {
					fs := pflag.NewFlagSet("schedule", pflag.ContinueOnError)
					codeFlags(fs)
					fs.StringVar(&cron, "cron", "", "cron expression, e.g. \"*/5 * * * *\" or \"@every 10m\"")
					fs.StringVar(&retention, "retention", string(schedule.RetainAlways), "runs to keep in history: always, on_failure or never")
					fs.IntVar(&keep, "keep", defaultHistoryKeep, "maximum number of runs kept in history")
					return fs
				},
				Run: func(ctx context.Context, args []string) error {
					if err := schedule.Validate(cron); err != nil {
						return fmt.Errorf("invalid --cron: %w", err)
					}
					policy, err := schedule.ParseRetention(retention)
					if err != nil {
						return err
					}
					code, err := readCode(codeFile)
					if err != nil {
						return err
					}
					sandboxes, err := a.sandboxes()
					if err != nil {
						return err
					}
					sb, err := sandboxes.Get(ctx, args[0])
					if err != nil {
						return err
					}
					st, err := a.store()
					if err != nil {
						return err
					}

					s := schedule.New(sb, sb.ID, st, keep, a.logger)
					if err := s.Add(schedule.Job{Expression: cron, Code: code, Language: language, Retention: policy}); err != nil {
						return err
					}
					if next, err := schedule.NextRun(cron, time.Now()); err == nil {
						a.logger.Info("schedule registered", slog.String("cron", cron), slog.Time("next_run", next))
					}
					s.Run(ctx)
					return nil
				},
			},
			{
				Name:    "history",
				Summary: "List scheduled runs, newest first",
				Flags: func() *pflag.FlagSet {
					fs := pflag.NewFlagSet("history", pflag.ContinueOnError)
					fs.IntVarP(&limit, "limit", "n", 20, "number of runs to show")
					fs.BoolVar(&asJSON, "json", false, "print JSON")
					return fs
				},
				Run: func(ctx context.Context, args []string) error {
					st, err := a.store()
					if err != nil {
						return err
					}
					runs, err := st.Runs(limit)
					if err != nil {
						return err
					}
					if asJSON {
						return a.printJSON(runs)
					}
					rows := make([][]string, 0, len(runs))
					for _, r := range runs {
						rows = append(rows, []string{
							strconv.FormatUint(r.ID, 10),
							r.SandboxID,
							r.StartedAt.Format(time.RFC3339),
							strconv.FormatInt(r.DurationMs, 10) + "ms",
							r.Outcome,
						})
					}
					return a.printTable([]string{"ID", "SANDBOX", "STARTED", "DURATION", "OUTCOME"}, rows)
				},
			},
		},
	}
}

// printExecution writes the captured stdout and stderr chunks.
func (a *app) printExecution(exec *sandbox.Execution) {
	for _, chunk := range exec.Stdout {
		fmt.Fprint(a.stdout, chunk)
	}
	for _, chunk := range exec.Stderr {
		fmt.Fprint(a.stderr, chunk)
	}
}

// readCode reads the code to execute from path, or stdin for "-".
func readCode(path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read code: %w", err)
	}
	if len(data) == 0 {
		return "", errors.New("no code to run")
	}
	return string(data), nil
}

