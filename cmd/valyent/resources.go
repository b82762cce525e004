package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/valyent/valyent-go/internal/client"
	"github.com/valyent/valyent-go/internal/logtail"
)

func (a *app) fleetsCommand() *command {
	var asJSON bool
	jsonFlags := func() *pflag.FlagSet {
		fs := pflag.NewFlagSet("fleets", pflag.ContinueOnError)
		fs.BoolVar(&asJSON, "json", false, "print JSON")
		return fs
	}

	return &command{
		Name:    "fleets",
		Summary: "Manage fleets",
		Subcommands: []*command{
			{
				Name:    "list",
				Summary: "List the fleets of the namespace",
				Flags:   jsonFlags,
				Run: func(ctx context.Context, args []string) error {
					if err := a.setup(); err != nil {
						return err
					}
					fleets, err := a.api.Fleets.List(ctx)
					if err != nil {
						return err
					}
					if asJSON {
						return a.printJSON(fleets)
					}
					rows := make([][]string, 0, len(fleets))
					for _, f := range fleets {
						rows = append(rows, []string{f.ID, f.Name, string(f.Status), formatUnix(f.CreatedAt)})
					}
					return a.printTable([]string{"ID", "NAME", "STATUS", "CREATED"}, rows)
				},
			},
			{
				Name:    "create",
				Summary: "Create a fleet",
				Usage:   "NAME",
				Args:    1,
				Run: func(ctx context.Context, args []string) error {
					if err := a.setup(); err != nil {
						return err
					}
					fleet, err := a.api.Fleets.Create(ctx, client.CreateFleetPayload{Name: args[0]})
					if err != nil {
						return err
					}
					fmt.Fprintln(a.stdout, fleet.ID)
					return nil
				},
			},
		},
	}
}

func (a *app) machinesCommand() *command {
	var (
		asJSON     bool
		follow     bool
		skipBefore int64
	)
	jsonFlags := func() *pflag.FlagSet {
		fs := pflag.NewFlagSet("machines", pflag.ContinueOnError)
		fs.BoolVar(&asJSON, "json", false, "print JSON")
		return fs
	}

	return &command{
		Name:    "machines",
		Summary: "Manage machines",
		Subcommands: []*command{
			{
				Name:    "list",
				Summary: "List the machines of a fleet",
				Usage:   "FLEET",
				Args:    1,
				Flags:   jsonFlags,
				Run: func(ctx context.Context, args []string) error {
					if err := a.setup(); err != nil {
						return err
					}
					machines, err := a.api.Machines.List(ctx, args[0])
					if err != nil {
						return err
					}
					if asJSON {
						return a.printJSON(machines)
					}
					rows := make([][]string, 0, len(machines))
					for _, m := range machines {
						rows = append(rows, []string{m.ID, string(m.State), m.Region, m.Config.Image, m.CreatedAt})
					}
					return a.printTable([]string{"ID", "STATE", "REGION", "IMAGE", "CREATED"}, rows)
				},
			},
			{
				Name:    "get",
				Summary: "Show a machine",
				Usage:   "FLEET MACHINE",
				Args:    2,
				Run: func(ctx context.Context, args []string) error {
					if err := a.setup(); err != nil {
						return err
					}
					m, err := a.api.Machines.Get(ctx, args[0], args[1])
					if err != nil {
						return err
					}
					return a.printJSON(m)
				},
			},
			{
				Name:    "delete",
				Summary: "Delete a machine",
				Usage:   "FLEET MACHINE",
				Args:    2,
				Run: func(ctx context.Context, args []string) error {
					if err := a.setup(); err != nil {
						return err
					}
					return a.api.Machines.Delete(ctx, args[0], args[1])
				},
			},
			{
				Name:    "logs",
				Summary: "Print or follow the logs of a machine",
				Usage:   "FLEET MACHINE",
				Args:    2,
				Flags: func() *pflag.FlagSet {
					fs := pflag.NewFlagSet("logs", pflag.ContinueOnError)
					fs.BoolVarP(&follow, "follow", "f", false, "follow the live log stream")
					fs.Int64Var(&skipBefore, "since", 0, "skip records with a lower timestamp")
					fs.BoolVar(&asJSON, "json", false, "print one JSON record per line")
					return fs
				},
				Run: func(ctx context.Context, args []string) error {
					if err := a.setup(); err != nil {
						return err
					}
					if !follow {
						entries, err := a.api.Machines.Logs(ctx, args[0], args[1])
						if err != nil {
							return err
						}
						for _, e := range entries {
							if e.Timestamp < skipBefore {
								continue
							}
							if err := a.printRecord(e, asJSON); err != nil {
								return err
							}
						}
						return nil
					}

					var opts []logtail.Option
					if skipBefore > 0 {
						opts = append(opts, logtail.WithSkipBefore(skipBefore))
					}
					tailer := logtail.NewTailer(a.api, a.logger)
					return a.printFollow(ctx, tailer.Follow(ctx, args[0], args[1], opts...), asJSON)
				},
			},
		},
	}
}

func (a *app) gatewaysCommand() *command {
	var (
		asJSON bool
		port   int
	)
	jsonFlags := func() *pflag.FlagSet {
		fs := pflag.NewFlagSet("gateways", pflag.ContinueOnError)
		fs.BoolVar(&asJSON, "json", false, "print JSON")
		return fs
	}

	return &command{
		Name:    "gateways",
		Summary: "Manage gateways",
		Subcommands: []*command{
			{
				Name:    "list",
				Summary: "List the gateways of a fleet",
				Usage:   "FLEET",
				Args:    1,
				Flags:   jsonFlags,
				Run: func(ctx context.Context, args []string) error {
					if err := a.setup(); err != nil {
						return err
					}
					gateways, err := a.api.Gateways.List(ctx, args[0])
					if err != nil {
						return err
					}
					if asJSON {
						return a.printJSON(gateways)
					}
					rows := make([][]string, 0, len(gateways))
					for _, g := range gateways {
						rows = append(rows, []string{g.ID, g.Name, g.Protocol, strconv.Itoa(g.TargetPort)})
					}
					return a.printTable([]string{"ID", "NAME", "PROTOCOL", "TARGET PORT"}, rows)
				},
			},
			{
				Name:    "get",
				Summary: "Show a gateway",
				Usage:   "FLEET GATEWAY",
				Args:    2,
				Run: func(ctx context.Context, args []string) error {
					if err := a.setup(); err != nil {
						return err
					}
					g, err := a.api.Gateways.Get(ctx, args[0], args[1])
					if err != nil {
						return err
					}
					return a.printJSON(g)
				},
			},
			{
				Name:    "create",
				Summary: "Expose a fleet port",
				Usage:   "FLEET NAME",
				Args:    2,
				Flags: func() *pflag.FlagSet {
					fs := pflag.NewFlagSet("create", pflag.ContinueOnError)
					fs.IntVarP(&port, "port", "p", 80, "target port on the fleet's machines")
					return fs
				},
				Run: func(ctx context.Context, args []string) error {
					if err := a.setup(); err != nil {
						return err
					}
					g, err := a.api.Gateways.Create(ctx, args[0], client.CreateGatewayPayload{
						Name:       args[1],
						Fleet:      args[0],
						TargetPort: port,
					})
					if err != nil {
						return err
					}
					fmt.Fprintln(a.stdout, g.ID)
					return nil
				},
			},
			{
				Name:    "delete",
				Summary: "Delete a gateway",
				Usage:   "FLEET GATEWAY",
				Args:    2,
				Run: func(ctx context.Context, args []string) error {
					if err := a.setup(); err != nil {
						return err
					}
					return a.api.Gateways.Delete(ctx, args[0], args[1])
				},
			},
		},
	}
}

func (a *app) execCommand() *command {
	var timeout time.Duration
	return &command{
		Name:    "exec",
		Summary: "Run a command on a machine through its init daemon",
		Usage:   "MACHINE -- COMMAND [ARG...]",
		Args:    -1,
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("exec", pflag.ContinueOnError)
			fs.DurationVar(&timeout, "timeout", 0, "command timeout on the machine")
			return fs
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) < 2 {
				return errUsage
			}
			if err := a.setup(); err != nil {
				return err
			}
			res, err := a.api.Initd(args[0]).Exec(ctx, client.ExecOptions{
				Cmd:       args[1:],
				TimeoutMS: timeout.Milliseconds(),
			})
			if err != nil {
				return err
			}
			fmt.Fprint(a.stdout, res.Stdout)
			fmt.Fprint(a.stderr, res.Stderr)
			if res.ExitCode != 0 {
				return &exitError{code: res.ExitCode}
			}
			return nil
		},
	}
}

func (a *app) fsCommand() *command {
	fsRun := func(fn func(ctx context.Context, fsys *client.Filesystem, args []string) error) func(context.Context, []string) error {
		return func(ctx context.Context, args []string) error {
			if err := a.setup(); err != nil {
				return err
			}
			return fn(ctx, a.api.Initd(args[0]).FS, args[1:])
		}
	}

	return &command{
		Name:    "fs",
		Summary: "Access a machine's filesystem",
		Subcommands: []*command{
			{
				Name:    "ls",
				Summary: "List a directory",
				Usage:   "MACHINE DIR",
				Args:    2,
				Run: fsRun(func(ctx context.Context, fsys *client.Filesystem, args []string) error {
					entries, err := fsys.Ls(ctx, args[0])
					if err != nil {
						return err
					}
					rows := make([][]string, 0, len(entries))
					for _, e := range entries {
						kind := "file"
						if e.IsDir {
							kind = "dir"
						}
						rows = append(rows, []string{kind, strconv.FormatInt(e.Size, 10), formatUnix(e.ModTime), e.Name})
					}
					return a.printTable([]string{"TYPE", "SIZE", "MODIFIED", "NAME"}, rows)
				}),
			},
			{
				Name:    "cat",
				Summary: "Print a file",
				Usage:   "MACHINE PATH",
				Args:    2,
				Run: fsRun(func(ctx context.Context, fsys *client.Filesystem, args []string) error {
					content, err := fsys.ReadFile(ctx, args[0])
					if err != nil {
						return err
					}
					fmt.Fprint(a.stdout, content)
					return nil
				}),
			},
			{
				Name:    "put",
				Summary: "Upload a local file",
				Usage:   "MACHINE LOCAL REMOTE",
				Args:    3,
				Run: fsRun(func(ctx context.Context, fsys *client.Filesystem, args []string) error {
					f, err := os.Open(args[0])
					if err != nil {
						return err
					}
					defer f.Close()
					return fsys.WriteFile(ctx, args[1], f)
				}),
			},
			{
				Name:    "mkdir",
				Summary: "Create a directory",
				Usage:   "MACHINE DIR",
				Args:    2,
				Run: fsRun(func(ctx context.Context, fsys *client.Filesystem, args []string) error {
					return fsys.Mkdir(ctx, args[0])
				}),
			},
			{
				Name:    "rm",
				Summary: "Remove a file or directory",
				Usage:   "MACHINE PATH",
				Args:    2,
				Run: fsRun(func(ctx context.Context, fsys *client.Filesystem, args []string) error {
					return fsys.Rm(ctx, args[0])
				}),
			},
			{
				Name:    "stat",
				Summary: "Describe a file",
				Usage:   "MACHINE PATH",
				Args:    2,
				Run: fsRun(func(ctx context.Context, fsys *client.Filesystem, args []string) error {
					entry, err := fsys.Stat(ctx, args[0])
					if err != nil {
						return err
					}
					return a.printJSON(entry)
				}),
			},
		},
	}
}

// printRecord writes one log record as text or JSON.
func (a *app) printRecord(rec client.LogEntry, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(a.stdout).Encode(rec)
	}
	level := strings.ToUpper(rec.Level)
	if level == "" {
		level = "-"
	}
	_, err := fmt.Fprintf(a.stdout, "%d %-5s %s\n", rec.Timestamp, level, rec.Message)
	return err
}

// printFollow prints a live log sequence until it ends or ctx is cancelled.
func (a *app) printFollow(ctx context.Context, seq func(func(logtail.Record, error) bool), asJSON bool) error {
	for rec, err := range seq {
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := a.printRecord(rec, asJSON); err != nil {
			return err
		}
	}
	return nil
}

func formatUnix(sec int64) string {
	if sec == 0 {
		return "-"
	}
	return time.Unix(sec, 0).UTC().Format(time.RFC3339)
}
