//go:build linux

package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/samber/lo"
	"golang.org/x/sys/unix"

	"github.com/calvinalkan/homestage/homestage"
)

// DebugLogger prints human-readable sections for dry runs and the check
// command. It is disabled when output is nil.
type DebugLogger struct {
	output io.Writer
}

// NewDebugLogger creates a new debug logger.
// If output is nil, the logger is disabled and all methods are no-ops.
func NewDebugLogger(output io.Writer) *DebugLogger {
	return &DebugLogger{output: output}
}

// Enabled returns true if output is set.
func (d *DebugLogger) Enabled() bool {
	return d.output != nil
}

// Section outputs a section header.
func (d *DebugLogger) Section(name string) {
	if d.output == nil {
		return
	}

	_, _ = fmt.Fprintf(d.output, "\n=== %s ===\n", name)
}

// Logf outputs a formatted message.
func (d *DebugLogger) Logf(format string, args ...any) {
	if d.output == nil {
		return
	}

	_, _ = fmt.Fprintf(d.output, format+"\n", args...)
}

// Bulletf outputs an indented bullet point item.
func (d *DebugLogger) Bulletf(format string, args ...any) {
	if d.output == nil {
		return
	}

	_, _ = fmt.Fprintf(d.output, "  • "+format+"\n", args...)
}

// ConfigFile outputs information about a config file.
func (d *DebugLogger) ConfigFile(label, path string, loaded bool) {
	if d.output == nil {
		return
	}

	if loaded {
		_, _ = fmt.Fprintf(d.output, "  %s: %s\n", label, path)
	} else {
		_, _ = fmt.Fprintf(d.output, "  %s: (not found, using defaults)\n", label)
	}
}

// BoolSetting outputs a boolean setting value with its source.
func (d *DebugLogger) BoolSetting(name string, value bool, source string) {
	if d.output == nil {
		return
	}

	_, _ = fmt.Fprintf(d.output, "  %s: %t (%s)\n", name, value, source)
}

// Report outputs what a staging run decided.
func (d *DebugLogger) Report(report homestage.Report) {
	if d.output == nil {
		return
	}

	d.Section("Home Staging")

	if report.Outcome == homestage.OutcomeSkipped {
		d.Logf("  outcome: skipped (%s)", report.SkipReason)

		return
	}

	outcome := "failed"
	if report.Outcome != 0 {
		outcome = report.Outcome.String()
	}

	d.Logf("  outcome: %s", outcome)

	if report.Identity.HomeDir != "" {
		d.Logf("  home: %s (uid %d)", report.Identity.HomeDir, report.Identity.UID)
	}

	if report.Branch != 0 {
		source := report.Source.Path
		if report.Source.Ephemeral {
			source += " (ephemeral)"
		}

		d.Logf("  source: %s [%s]", source, report.Branch)
	}

	if report.StagePath != "" {
		d.Logf("  stage: %s", report.StagePath)
	}

	if report.Target.BasePath != "" {
		how := "nearest existing ancestor"
		if report.Target.CreatedInContainer {
			how = "created in container"
		}

		d.Logf("  bind point: %s (%s)", report.Target.BasePath, how)
	}

	for _, w := range report.Warnings {
		d.Bulletf("warning: %v", w)
	}
}

// Dirs outputs directories a dry run would have created.
func (d *DebugLogger) Dirs(dirs []homestage.PlannedDir) {
	if d.output == nil {
		return
	}

	d.Section("Planned Directories")

	if len(dirs) == 0 {
		d.Logf("  (none)")

		return
	}

	for _, dir := range dirs {
		d.Bulletf("%s (%#o)", dir.Path, dir.Mode.Perm())
	}
}

// PlannedMount is a bind mount recorded by a dry run.
type PlannedMount struct {
	Source string
	Target string
	Flags  uintptr
}

// Mounts outputs planned mounts in the order they would be performed.
func (d *DebugLogger) Mounts(mounts []PlannedMount) {
	if d.output == nil {
		return
	}

	d.Section("Planned Mounts")

	if len(mounts) == 0 {
		d.Logf("  (none)")

		return
	}

	for _, m := range mounts {
		d.Bulletf("%s -> %s [%s]", m.Source, m.Target, describeMountFlags(m.Flags))
	}
}

type mountFlagName struct {
	flag uintptr
	name string
}

var mountFlagNames = []mountFlagName{
	{unix.MS_BIND, "bind"},
	{unix.MS_REC, "rec"},
	{unix.MS_NOSUID, "nosuid"},
	{unix.MS_NODEV, "nodev"},
	{unix.MS_RDONLY, "ro"},
}

func describeMountFlags(flags uintptr) string {
	set := lo.FilterMap(mountFlagNames, func(f mountFlagName, _ int) (string, bool) {
		return f.name, flags&f.flag != 0
	})

	return strings.Join(set, ",")
}
