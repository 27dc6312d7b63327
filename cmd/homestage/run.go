//go:build linux

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
)

// Run is the main entry point. Returns exit code.
// sigCh can be nil if signal handling is not needed (e.g., in tests).
func Run(stdin io.Reader, stdout, stderr io.Writer, args []string, env map[string]string, sigCh <-chan os.Signal) int {
	globalFlags := flag.NewFlagSet("homestage", flag.ContinueOnError)
	globalFlags.SetInterspersed(false)
	globalFlags.Usage = func() {}
	globalFlags.SetOutput(&strings.Builder{})

	flagHelp := globalFlags.BoolP("help", "h", false, "Show help")
	flagVersion := globalFlags.Bool("version", false, "Show version and exit")
	flagConfig := globalFlags.String("config", "", "Use specified config `file`")
	flagDebug := globalFlags.BoolP("debug", "d", false, "Log debug messages")
	flagVerbose := globalFlags.BoolP("verbose", "v", false, "Log informational messages")
	flagQuiet := globalFlags.BoolP("quiet", "q", false, "Only log errors")
	flagSilent := globalFlags.BoolP("silent", "s", false, "Log nothing")

	err := globalFlags.Parse(args[1:])
	if err != nil {
		fprintError(stderr, err)
		fprintln(stderr)
		printGlobalOptions(stderr)

		return 1
	}

	if *flagVersion {
		if commit == "none" && date == "unknown" {
			fprintf(stdout, "homestage %s (built from source)\n", version)
		} else {
			fprintf(stdout, "homestage %s (%s, %s)\n", version, commit, date)
		}

		return 0
	}

	log := NewLogger(stderr, Verbosity{
		Debug:   *flagDebug,
		Verbose: *flagVerbose,
		Quiet:   *flagQuiet,
		Silent:  *flagSilent,
	})

	cfg, err := LoadConfig(LoadConfigInput{
		ConfigPath: *flagConfig,
		Env:        env,
	})
	if err != nil {
		fprintError(stderr, err)

		return 1
	}

	log.WithFields(logrus.Fields{"config": cfg.Path(), "keys": cfg.Keys()}).Debug("configuration loaded")

	commands := []*Command{
		MountCmd(cfg, env, log),
		CheckCmd(cfg, log),
	}

	commandMap := make(map[string]*Command, len(commands)*2)
	for _, cmd := range commands {
		commandMap[cmd.Name()] = cmd
		for _, alias := range cmd.Aliases {
			commandMap[alias] = cmd
		}
	}

	commandAndArgs := globalFlags.Args()

	if *flagHelp || len(commandAndArgs) == 0 {
		printUsage(stdout, commands)

		return 0
	}

	cmd, ok := commandMap[commandAndArgs[0]]
	if !ok {
		fprintError(stderr, fmt.Errorf("unknown command %q", commandAndArgs[0]))
		fprintln(stderr)
		printGlobalOptions(stderr)

		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan int, 1)

	go func() {
		done <- cmd.Run(ctx, stdin, stdout, stderr, commandAndArgs[1:])
	}()

	if sigCh == nil {
		return <-done
	}

	select {
	case exitCode := <-done:
		return exitCode
	case <-sigCh:
		fprintln(stderr, "Interrupted, waiting up to 10s for a running mount step to finish... (Ctrl+C again to force exit)")
		cancel()
	}

	// cancel only stops a mount that has not started staging. A running
	// pipeline finishes and mounts already made are not undone.
	select {
	case <-done:
		fprintln(stderr, "Mount step finished.")

		return 130
	case <-time.After(10 * time.Second):
		fprintln(stderr, "Timed out, forced exit.")

		return 130
	case <-sigCh:
		fprintln(stderr, "Forced exit.")

		return 130
	}
}

func fprintln(output io.Writer, a ...any) {
	_, _ = fmt.Fprintln(output, a...)
}

func fprintf(output io.Writer, format string, a ...any) {
	_, _ = fmt.Fprintf(output, format, a...)
}

const (
	colorRed   = "\033[31m"
	colorReset = "\033[0m"
)

// fprintError prints an error message, red when output is a terminal.
func fprintError(output io.Writer, err error) {
	if isTerminal(output) {
		fprintln(output, colorRed+"error:"+colorReset, err)
	} else {
		fprintln(output, "error:", err)
	}
}

const globalOptionsHelp = `  -h, --help             Show help
      --version          Show version and exit
      --config <file>    Use specified config file
  -d, --debug            Log debug messages
  -v, --verbose          Log informational messages
  -q, --quiet            Only log errors
  -s, --silent           Log nothing`

func printGlobalOptions(output io.Writer) {
	fprintln(output, "Usage: homestage [flags] <command> [args]")
	fprintln(output)
	fprintln(output, "Global flags:")
	fprintln(output, globalOptionsHelp)
	fprintln(output)
	fprintln(output, "Run 'homestage --help' for a list of commands.")
}

func printUsage(output io.Writer, commands []*Command) {
	fprintln(output, "homestage - stage the user's home directory into a container root")
	fprintln(output)
	fprintln(output, "Usage: homestage [flags] <command> [args]")
	fprintln(output)
	fprintln(output, "Flags:")
	fprintln(output, globalOptionsHelp)
	fprintln(output)
	fprintln(output, "Commands:")

	for _, cmd := range commands {
		fprintln(output, cmd.HelpLine())
	}

	fprintln(output)
	fprintln(output, "Run 'homestage <command> --help' for more information on a command.")
}

// isTerminal reports whether output is a character device.
func isTerminal(output io.Writer) bool {
	f, ok := output.(*os.File)
	if !ok {
		return false
	}

	stat, err := f.Stat()
	if err != nil {
		return false
	}

	return (stat.Mode() & os.ModeCharDevice) != 0
}
