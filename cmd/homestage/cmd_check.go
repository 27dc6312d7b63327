//go:build linux

package main

import (
	"context"
	"io"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/homestage/homestage"
)

// CheckCmd creates the check command, a preflight for mount.
func CheckCmd(cfg *FileConfig, log logrus.FieldLogger) *Command {
	flags := flag.NewFlagSet("check", flag.ContinueOnError)
	flags.BoolP("help", "h", false, "Show help")
	flags.BoolP("quiet", "q", false, "Quiet mode, no output")
	flags.String("container-dir", "", "Also inspect the container root `dir`")

	return &Command{
		Flags: flags,
		Usage: "check [flags]",
		Short: "Check privileges and effective configuration",
		Long: "Report whether mount can acquire the privileges it needs, which config file\n" +
			"is in effect and, with --container-dir, whether the container root is an\n" +
			"overlay. Exits 0 if mount can run, 1 otherwise.",
		Aliases: []string{},
		Exec: func(_ context.Context, _ io.Reader, stdout, _ io.Writer, _ []string) error {
			quiet, _ := flags.GetBool("quiet")
			containerDir, _ := flags.GetString("container-dir")

			debug := NewDebugLogger(stdout)
			if quiet {
				debug = NewDebugLogger(nil)
			}

			debug.Section("Privileges")

			privErr := homestage.NewSetuidPrivileges().Check()
			if privErr != nil {
				debug.Logf("  escalation: unavailable (%v)", privErr)
			} else {
				debug.Logf("  escalation: ok")
			}

			debug.Section("Config")
			debug.ConfigFile("file", cfg.Path(), cfg.Path() != "")

			policy := homestage.NewGate(cfg, log).Snapshot()
			debug.BoolSetting(homestage.KeyMountHome, policy.MountHomeEnabled, settingSource(cfg, homestage.KeyMountHome))
			debug.BoolSetting(homestage.KeyUserBindControl, policy.UserBindControlEnabled, settingSource(cfg, homestage.KeyUserBindControl))

			if containerDir != "" {
				debug.Section("Container")

				overlay, err := homestage.DetectOverlay(containerDir)
				if err != nil {
					return err
				}

				debug.Logf("  %s: overlay=%t", containerDir, overlay)
			}

			if privErr != nil {
				return ErrSilentExit
			}

			return nil
		},
	}
}

func settingSource(cfg *FileConfig, key string) string {
	if cfg.Has(key) {
		return "config"
	}

	return "default"
}
