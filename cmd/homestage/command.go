//go:build linux

package main

import (
	"context"
	"errors"
	"io"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/homestage/homestage"
)

// ErrSilentExit makes a command exit 1 without printing anything.
var ErrSilentExit = errors.New("silent exit")

// Command is a subcommand of the CLI.
type Command struct {
	Flags   *flag.FlagSet
	Usage   string // "mount [flags]": first word is the command name
	Short   string
	Long    string
	Aliases []string
	Exec    func(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) error
}

// Name returns the command name taken from Usage.
func (c *Command) Name() string {
	name, _, _ := strings.Cut(c.Usage, " ")

	return name
}

// HelpLine returns the one-line summary shown in the command list.
func (c *Command) HelpLine() string {
	name := c.Name()
	if len(c.Aliases) > 0 {
		name += " (" + strings.Join(c.Aliases, ", ") + ")"
	}

	return "  " + padRight(name, 22) + c.Short
}

// PrintHelp writes the full command help.
func (c *Command) PrintHelp(output io.Writer) {
	fprintln(output, "Usage: homestage "+c.Usage)
	fprintln(output)
	fprintln(output, c.Long)
	fprintln(output)
	fprintln(output, "Flags:")
	fprintln(output, c.Flags.FlagUsages())
}

// Run parses args and executes the command, returning the exit code.
//
// Failures from the staging pipeline exit with the code they carry. Any
// other error exits 1.
func (c *Command) Run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) int {
	c.Flags.SetOutput(&strings.Builder{})
	c.Flags.Usage = func() {}

	err := c.Flags.Parse(args)
	if err != nil {
		fprintError(stderr, err)
		fprintln(stderr)
		c.PrintHelp(stderr)

		return 1
	}

	if help, _ := c.Flags.GetBool("help"); help {
		c.PrintHelp(stdout)

		return 0
	}

	err = c.Exec(ctx, stdin, stdout, stderr, c.Flags.Args())
	if err == nil {
		return 0
	}

	if errors.Is(err, ErrSilentExit) {
		return 1
	}

	fprintError(stderr, err)

	var fatal *homestage.FatalError
	if errors.As(err, &fatal) {
		return int(fatal.Code)
	}

	return 1
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s + " "
	}

	return s + strings.Repeat(" ", width-len(s))
}
