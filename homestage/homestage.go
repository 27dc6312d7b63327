//go:build linux

// Package homestage stages a user's home directory into a container root
// before the container process is executed.
//
// A [Stager] runs once per container launch, after the root filesystem is
// prepared and before exec. It decides where the home data comes from (the
// real home, an explicit override, or an ephemeral directory), stages it under
// the session directory, picks the bind point inside the container, and then
// performs two bind mounts:
//
//	source -> <session>/<home>           (stage)
//	<session>/<base> -> <container>/<base>
//
// where <base> is either the home directory itself (when it could be created
// inside the container) or its nearest existing ancestor.
//
// # Results
//
// [Stager.Run] returns a [Report] whose Outcome is either OutcomeMounted or
// OutcomeSkipped. Skips are not errors: home mounting is disabled, was not
// requested, or the user has no passwd entry. Every failure is a
// *[FatalError] carrying the exit status the launcher should use.
//
// # Privileges
//
// Mount calls and the mkdir inside the container root run inside a
// privilege window opened through [Privileges]. Windows are closed on every
// return path. Everything else runs with the caller's privileges.
//
// This package is Linux-only.
package homestage

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// Options wires a Stager to its collaborators.
type Options struct {
	// UID is the acting (real) user id.
	UID int

	// SessionDir is the session-private staging directory. It must exist.
	SessionDir string

	// Config backs the mount policy. Defaults to an empty MapConfig, which
	// enables everything.
	Config ConfigStore

	// Identities resolves UID to a home directory. Defaults to PasswdFile{}.
	Identities IdentityStore

	// RootFS describes the prepared container root. Required.
	RootFS RootFS

	// Privileges opens privilege windows. Required.
	Privileges Privileges

	// Mounter performs bind mounts. Defaults to SyscallMounter{}.
	Mounter Mounter

	// Dirs creates the source, stage and container directories and reads
	// their ownership. Defaults to HostDirMaker{}.
	Dirs DirMaker

	// Env holds the caller's overrides.
	Env Environment

	// Logger defaults to a logger that discards everything.
	Logger logrus.FieldLogger
}

// Stager runs the home staging pipeline. It is not safe for concurrent use;
// create one per launch.
type Stager struct {
	opts Options
	gate *Gate
	log  logrus.FieldLogger
}

// New validates opts and returns a Stager.
func New(opts Options) (*Stager, error) {
	if opts.Config == nil {
		opts.Config = MapConfig{}
	}

	if opts.Identities == nil {
		opts.Identities = PasswdFile{}
	}

	if opts.Mounter == nil {
		opts.Mounter = SyscallMounter{}
	}

	if opts.Dirs == nil {
		opts.Dirs = HostDirMaker{}
	}

	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}

	err := validateOptions(&opts)
	if err != nil {
		return nil, fmt.Errorf("homestage: validating: %w", err)
	}

	log := opts.Logger.WithField("uid", opts.UID)

	return &Stager{opts: opts, gate: NewGate(opts.Config, log), log: log}, nil
}

func validateOptions(opts *Options) error {
	var errs []error

	if opts.UID < 0 {
		errs = append(errs, fmt.Errorf("uid %d is negative", opts.UID))
	}

	if strings.TrimSpace(opts.SessionDir) == "" {
		errs = append(errs, errors.New("session directory is empty"))
	} else if !filepath.IsAbs(opts.SessionDir) {
		errs = append(errs, fmt.Errorf("session directory %q is not absolute", opts.SessionDir))
	}

	if opts.RootFS == nil {
		errs = append(errs, errors.New("rootfs is nil"))
	} else if dir := opts.RootFS.Dir(); !filepath.IsAbs(dir) {
		errs = append(errs, fmt.Errorf("container directory %q is not absolute", dir))
	}

	if opts.Privileges == nil {
		errs = append(errs, errors.New("privileges is nil"))
	}

	return errors.Join(errs...)
}

// Outcome tags a successful Report.
type Outcome int

const (
	// OutcomeMounted means both bind mounts were performed.
	OutcomeMounted Outcome = iota + 1

	// OutcomeSkipped means home mounting does not apply. Nothing was
	// created or mounted.
	OutcomeSkipped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeMounted:
		return "mounted"
	case OutcomeSkipped:
		return "skipped"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Report describes what a Run decided and did. Fields after SkipReason are
// set as the pipeline progresses; Outcome stays zero when Run fails.
type Report struct {
	Outcome    Outcome
	SkipReason string

	Identity  Identity
	Branch    SourceBranch
	Source    ResolvedSource
	StagePath string
	Target    BindTarget

	// Warnings holds directory pre-creation failures that did not stop the
	// pipeline. A later ownership or mount failure usually follows.
	Warnings []error
}

// Run stages and mounts the home directory.
//
// The returned error is nil or a *FatalError. On error the Report holds
// whatever was decided before the failure.
func (s *Stager) Run() (Report, error) {
	if !s.gate.HomeMountEnabled() {
		s.log.Info("skipping home dir mounting (per config)")

		return skipped("home mounting disabled by configuration"), nil
	}

	if s.opts.Env.NoHome {
		s.log.Debug("skipping home directory mount by user request")

		return skipped("home mounting disabled by request"), nil
	}

	id, skip, err := s.resolveIdentity(s.opts.UID)
	if err != nil {
		return Report{}, err
	}

	if skip {
		return skipped(fmt.Sprintf("no passwd entry for uid %d", s.opts.UID)), nil
	}

	if filepath.Clean(id.HomeDir) == "/" {
		s.log.Warn("skipping impossible home directory mount to '/'")

		return skipped("home directory is /"), nil
	}

	report := Report{Identity: id}

	report.Branch, report.Source, err = s.resolveSource(id)
	if err != nil {
		return report, err
	}

	err = s.ensureDir(report.Source.Path, 0o755)
	if err != nil {
		s.log.WithError(err).Error("failed creating home directory source")
		report.Warnings = append(report.Warnings, err)
	}

	report.StagePath, err = s.prepareStaging(&report)
	if err != nil {
		return report, err
	}

	report.Target, err = s.resolveBindTarget(id.HomeDir)
	if err != nil {
		return report, err
	}

	err = s.performBindMounts(report.Source.Path, id.HomeDir, report.Target)
	if err != nil {
		return report, err
	}

	report.Outcome = OutcomeMounted

	return report, nil
}

func skipped(reason string) Report {
	return Report{Outcome: OutcomeSkipped, SkipReason: reason}
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)

	return l
}
