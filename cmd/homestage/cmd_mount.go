//go:build linux

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/homestage/homestage"
)

// Flag validation errors.
var (
	// ErrMissingSessionDir is returned when --session-dir is not set.
	ErrMissingSessionDir = errors.New("--session-dir is required")
	// ErrMissingContainerDir is returned when --container-dir is not set.
	ErrMissingContainerDir = errors.New("--container-dir is required")
	// ErrUnexpectedArgs is returned for positional arguments.
	ErrUnexpectedArgs = errors.New("mount takes no arguments")
	// ErrCallerControlled is returned when a non-root caller sets an input
	// that decides identity or policy for a real mount.
	ErrCallerControlled = errors.New("only root may set this outside --dry-run")
)

// MountCmd creates the mount command, which runs the staging pipeline once.
func MountCmd(cfg *FileConfig, env map[string]string, log logrus.FieldLogger) *Command {
	flags := flag.NewFlagSet("mount", flag.ContinueOnError)
	flags.BoolP("help", "h", false, "Show help")
	flags.String("session-dir", "", "Session staging `dir` (must exist)")
	flags.String("container-dir", "", "Prepared container root `dir`")
	flags.Int("uid", os.Getuid(), "Stage the home of `uid` (root or --dry-run only)")
	flags.String("passwd", homestage.DefaultPasswdPath, "Passwd `file` used to resolve the home directory (root or --dry-run only)")
	flags.Bool("overlay", false, "Treat the container root as writable (default: detected)")
	flags.Bool("dry-run", false, "Print the plan without creating directories, mounting or changing privileges")

	return &Command{
		Flags: flags,
		Usage: "mount [flags]",
		Short: "Stage and bind mount the home directory",
		Long: "Resolve the home directory source, stage it under the session directory and\n" +
			"bind mount it into the container root.\n\n" +
			"Honors SINGULARITY_HOME, SINGULARITY_CONTAIN, SINGULARITY_WORKDIR and\n" +
			"SINGULARITY_NOHOME. Exits 5 when a custom home is requested but user bind\n" +
			"control is disabled, 255 on any other staging failure.\n\n" +
			"Unless run by root, a real mount uses the caller's uid, the system passwd\n" +
			"file and the system config; --uid, --passwd, --config and " + EnvConfigDir + "\n" +
			"are only accepted with --dry-run.",
		Aliases: []string{},
		Exec: func(ctx context.Context, _ io.Reader, stdout, _ io.Writer, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("%w: %v", ErrUnexpectedArgs, args)
			}

			sessionDir, _ := flags.GetString("session-dir")
			containerDir, _ := flags.GetString("container-dir")
			uid, _ := flags.GetInt("uid")
			passwd, _ := flags.GetString("passwd")
			dryRun, _ := flags.GetBool("dry-run")

			err := errors.Join(
				requireFlag(sessionDir, ErrMissingSessionDir),
				requireFlag(containerDir, ErrMissingContainerDir),
			)
			if err != nil {
				return err
			}

			if !dryRun {
				err = checkCallerInputs(os.Getuid(), mountInputs{UID: uid, Passwd: passwd, Config: cfg.Source()})
				if err != nil {
					return &homestage.FatalError{Code: homestage.ExitFatal, Op: "check inputs", Err: err}
				}
			}

			overlay, err := overlayFlag(flags, containerDir, log)
			if err != nil {
				return err
			}

			opts := homestage.Options{
				UID:        uid,
				SessionDir: sessionDir,
				Config:     cfg,
				Identities: homestage.PasswdFile{Path: passwd},
				RootFS:     homestage.DirRootFS{Path: containerDir, Overlay: overlay},
				Env:        homestage.EnvironmentFromMap(env),
				Logger:     log,
			}

			plan := &planMounter{}
			dirs := &homestage.RecordingDirMaker{UID: uid}
			debug := NewDebugLogger(nil)

			if dryRun {
				opts.Privileges = homestage.NopPrivileges{}
				opts.Mounter = plan
				opts.Dirs = dirs
				debug = NewDebugLogger(stdout)
			} else {
				privs := homestage.NewSetuidPrivileges()

				err = privs.Check()
				if err != nil {
					return &homestage.FatalError{Code: homestage.ExitFatal, Op: "check privileges", Err: err}
				}

				opts.Privileges = privs
				opts.Mounter = homestage.SyscallMounter{}
			}

			stager, err := homestage.New(opts)
			if err != nil {
				return err
			}

			// Staging itself cannot be interrupted once it starts.
			err = ctx.Err()
			if err != nil {
				return err
			}

			report, err := stager.Run()

			if debug.Enabled() {
				debug.Report(report)
				debug.Dirs(dirs.Planned)
				debug.Mounts(plan.mounts)
			}

			return err
		},
	}
}

// mountInputs are the mount inputs that decide whose home is staged and
// under which policy.
type mountInputs struct {
	UID    int
	Passwd string
	Config ConfigSource
}

// checkCallerInputs rejects identity and policy overrides from a caller
// whose real uid is not 0. All offending inputs are reported together.
func checkCallerInputs(realUID int, in mountInputs) error {
	if realUID == 0 {
		return nil
	}

	var errs []error

	if in.UID != realUID {
		errs = append(errs, fmt.Errorf("--uid %d: %w", in.UID, ErrCallerControlled))
	}

	if in.Passwd != homestage.DefaultPasswdPath {
		errs = append(errs, fmt.Errorf("--passwd %s: %w", in.Passwd, ErrCallerControlled))
	}

	if in.Config != ConfigSourceSystem {
		errs = append(errs, fmt.Errorf("%s: %w", in.Config, ErrCallerControlled))
	}

	return errors.Join(errs...)
}

func requireFlag(value string, errMissing error) error {
	if value == "" {
		return errMissing
	}

	return nil
}

// overlayFlag returns --overlay when given, otherwise whether the
// container root sits on an overlay mount.
func overlayFlag(flags *flag.FlagSet, containerDir string, log logrus.FieldLogger) (bool, error) {
	if flags.Changed("overlay") {
		return flags.GetBool("overlay")
	}

	overlay, err := homestage.DetectOverlay(containerDir)
	if err != nil {
		log.WithError(err).Warn("could not detect overlay, assuming read-only container root")

		return false, nil
	}

	log.WithField("overlay", overlay).Debug("detected container root type")

	return overlay, nil
}

// planMounter records mounts instead of performing them.
type planMounter struct {
	mounts []PlannedMount
}

func (p *planMounter) BindMount(source, target string, flags uintptr) error {
	p.mounts = append(p.mounts, PlannedMount{Source: source, Target: target, Flags: flags})

	return nil
}
