package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"
)

// errUsage is returned when a command is invoked with the wrong arguments.
// The command's help has already been printed.
var errUsage = errors.New("invalid usage")

// command is a node of the CLI tree. Exactly one of Run or Subcommands is
// set.
type command struct {
	Name    string
	Summary string

	// Usage follows the command path in help output, e.g. "FLEET MACHINE".
	Usage string

	// Flags returns the flag set bound to the command's option variables.
	// Nil means the command takes no flags.
	Flags func() *pflag.FlagSet

	// Args is the exact number of positional arguments, or -1 for any.
	Args int

	Subcommands []*command
	Run         func(ctx context.Context, args []string) error

	parent *command
}

func (c *command) path() string {
	if c.parent == nil {
		return c.Name
	}
	return c.parent.path() + " " + c.Name
}

// execute dispatches args to the matching subcommand or runs the command.
func (c *command) execute(ctx context.Context, args []string, help io.Writer) error {
	if len(args) > 0 && isHelpFlag(args[0]) {
		c.printHelp(help)
		return nil
	}

	if len(c.Subcommands) > 0 {
		if len(args) == 0 || strings.HasPrefix(args[0], "-") {
			c.printHelp(help)
			return errUsage
		}
		for _, sub := range c.Subcommands {
			if sub.Name == args[0] {
				sub.parent = c
				return sub.execute(ctx, args[1:], help)
			}
		}
		return fmt.Errorf("unknown command %q\n\nRun '%s --help' for usage", args[0], c.path())
	}

	if c.Flags != nil {
		fs := c.Flags()
		fs.SetOutput(io.Discard)
		if err := fs.Parse(args); err != nil {
			if errors.Is(err, pflag.ErrHelp) {
				c.printHelp(help)
				return nil
			}
			return fmt.Errorf("%s: %w\n\nRun '%s --help' for usage", c.path(), err, c.path())
		}
		args = fs.Args()
	}

	if c.Args >= 0 && len(args) != c.Args {
		c.printHelp(help)
		return errUsage
	}
	return c.Run(ctx, args)
}

func (c *command) printHelp(w io.Writer) {
	if c.Summary != "" {
		fmt.Fprintf(w, "%s\n\n", c.Summary)
	}

	usage := c.path()
	switch {
	case len(c.Subcommands) > 0:
		usage += " <command>"
	case c.Usage != "":
		usage += " " + c.Usage
	}
	if c.Flags != nil {
		usage += " [flags]"
	}
	fmt.Fprintf(w, "Usage:\n  %s\n", usage)

	if len(c.Subcommands) > 0 {
		fmt.Fprintf(w, "\nCommands:\n")
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		for _, sub := range c.Subcommands {
			fmt.Fprintf(tw, "  %s\t%s\n", sub.Name, sub.Summary)
		}
		tw.Flush()
	}

	if c.Flags != nil {
		fmt.Fprintf(w, "\nFlags:\n%s", c.Flags().FlagUsages())
	}
}

func isHelpFlag(arg string) bool {
	return arg == "-h" || arg == "--help" || arg == "help"
}
