//go:build linux

package homestage

import (
	"fmt"
	"os"
	"strings"

	"github.com/samber/lo"
	"golang.org/x/sys/unix"
)

// DirMaker creates and inspects the host directories the pipeline touches:
// contained homes, the stage directory and the home inside the container.
type DirMaker interface {
	// MkdirAll creates path and missing parents. It succeeds if path
	// already exists as a directory.
	MkdirAll(path string, mode os.FileMode) error

	// OwnerUID returns the uid owning path, following symlinks.
	OwnerUID(path string) (int, error)
}

// HostDirMaker operates on the real filesystem.
type HostDirMaker struct{}

// MkdirAll implements DirMaker.
func (HostDirMaker) MkdirAll(path string, mode os.FileMode) error {
	return os.MkdirAll(path, mode)
}

// OwnerUID implements DirMaker.
func (HostDirMaker) OwnerUID(path string) (int, error) {
	var st unix.Stat_t

	err := unix.Stat(path, &st)
	if err != nil {
		return 0, &os.PathError{Op: "stat", Path: path, Err: err}
	}

	return int(st.Uid), nil
}

// PlannedDir is a directory a RecordingDirMaker would have created.
type PlannedDir struct {
	Path string
	Mode os.FileMode
}

// RecordingDirMaker records directory creation instead of performing it.
// Directories it planned are reported as owned by UID. Everything else is
// read from the host.
type RecordingDirMaker struct {
	UID     int
	Planned []PlannedDir
}

// MkdirAll implements DirMaker. Existing directories are not recorded; an
// existing non-directory fails the way os.MkdirAll would.
func (r *RecordingDirMaker) MkdirAll(path string, mode os.FileMode) error {
	info, err := os.Stat(path)
	if err == nil {
		if info.IsDir() {
			return nil
		}

		return &os.PathError{Op: "mkdir", Path: path, Err: unix.ENOTDIR}
	}

	if !r.planned(path) {
		r.Planned = append(r.Planned, PlannedDir{Path: path, Mode: mode})
	}

	return nil
}

// OwnerUID implements DirMaker.
func (r *RecordingDirMaker) OwnerUID(path string) (int, error) {
	if r.planned(path) {
		return r.UID, nil
	}

	return HostDirMaker{}.OwnerUID(path)
}

func (r *RecordingDirMaker) planned(path string) bool {
	return lo.ContainsBy(r.Planned, func(d PlannedDir) bool {
		return d.Path == path || strings.HasPrefix(path, d.Path+"/")
	})
}

// ensureDir creates path and missing parents with mode through the
// configured DirMaker.
func (s *Stager) ensureDir(path string, mode os.FileMode) error {
	err := s.opts.Dirs.MkdirAll(path, mode)
	if err != nil {
		return fmt.Errorf("creating directory %s: %w", path, err)
	}

	return nil
}

// checkOwner verifies that path is owned by uid.
func (s *Stager) checkOwner(path string, uid int) error {
	owner, err := s.opts.Dirs.OwnerUID(path)
	if err != nil {
		return err
	}

	if owner != uid {
		return fmt.Errorf("%s is owned by uid %d, not %d", path, owner, uid)
	}

	return nil
}
