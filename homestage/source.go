//go:build linux

package homestage

import (
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// SourceBranch identifies which rule picked the home source.
type SourceBranch int

const (
	// BranchOverride uses Environment.HomeOverride.
	BranchOverride SourceBranch = iota + 1

	// BranchContainedWorkDir uses <WorkDir>/home.
	BranchContainedWorkDir

	// BranchContainedSession uses <SessionDir>/home.tmp.
	BranchContainedSession

	// BranchDefault uses the passwd home directory.
	BranchDefault
)

func (b SourceBranch) String() string {
	switch b {
	case BranchOverride:
		return "override"
	case BranchContainedWorkDir:
		return "contained-workdir"
	case BranchContainedSession:
		return "contained-session"
	case BranchDefault:
		return "default"
	default:
		return "unknown"
	}
}

// Names of the ephemeral home directories.
const (
	workDirHome    = "home"
	sessionDirHome = "home.tmp"
)

// ResolvedSource is the host directory whose contents appear as the home
// directory inside the container.
type ResolvedSource struct {
	Path string

	// Ephemeral is true for contained homes that do not persist the user's
	// real home.
	Ephemeral bool
}

// resolveSource picks the home source. The first matching branch wins:
// override, contained with workdir, contained without workdir, default.
func (s *Stager) resolveSource(id Identity) (SourceBranch, ResolvedSource, error) {
	env := s.opts.Env

	switch {
	case env.hasHomeOverride():
		err := s.requireUserBindControl("home override")
		if err != nil {
			return BranchOverride, ResolvedSource{}, err
		}

		src := ResolvedSource{Path: env.HomeOverride}
		s.log.WithField("source", src.Path).Debug("set the home directory source (via envar)")

		return BranchOverride, src, nil

	case env.Contain && env.hasWorkDir():
		err := s.requireUserBindControl("contained workdir home")
		if err != nil {
			return BranchContainedWorkDir, ResolvedSource{}, err
		}

		src, err := s.containedSource(workDirSource(env.WorkDir))

		return BranchContainedWorkDir, src, err

	case env.Contain:
		// Not randomized: launches sharing a session directory share this home.
		src, err := s.containedSource(filepath.Join(s.opts.SessionDir, sessionDirHome))

		return BranchContainedSession, src, err

	default:
		if !isDir(id.HomeDir) {
			return BranchDefault, ResolvedSource{}, fatalf("resolve source", ErrHomeNotFound, "%s", id.HomeDir)
		}

		src := ResolvedSource{Path: id.HomeDir}
		s.log.WithField("source", src.Path).Debug("set base the home directory source")

		return BranchDefault, src, nil
	}
}

func (s *Stager) requireUserBindControl(what string) error {
	if s.gate.UserBindControlEnabled() {
		return nil
	}

	s.log.WithField("request", what).Error(ErrBindControlDisabled.Error())

	return &FatalError{Code: ExitBindControlDisabled, Op: "resolve source", Err: ErrBindControlDisabled}
}

func (s *Stager) containedSource(path string) (ResolvedSource, error) {
	err := s.ensureDir(path, 0o755)
	if err != nil {
		return ResolvedSource{}, fatalf("resolve source", ErrCreateContainedHome, "%w", err)
	}

	s.log.WithFields(logrus.Fields{"source": path}).Debug("set the contained home directory source")

	return ResolvedSource{Path: path, Ephemeral: true}, nil
}

// workDirSource appends the home directory to workDir the way a plain
// string join would, so an empty workDir yields "/home".
func workDirSource(workDir string) string {
	return filepath.Clean(workDir + "/" + workDirHome)
}

func isDir(path string) bool {
	info, err := os.Stat(path)

	return err == nil && info.IsDir()
}
