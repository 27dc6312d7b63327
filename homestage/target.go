//go:build linux

package homestage

import (
	"fmt"
	"os"
	"path/filepath"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/moby/sys/mountinfo"
	"github.com/samber/lo"
)

// RootFS describes the prepared container root filesystem.
type RootFS interface {
	// Dir is the absolute host path of the container root.
	Dir() string

	// OverlayEnabled reports whether new directories can be created in the
	// container root.
	OverlayEnabled() bool

	// NearestExistingAncestor returns the deepest existing directory on the
	// way from path up to, but excluding, "/" inside containerDir.
	NearestExistingAncestor(containerDir, path string) (string, bool)
}

// BindTarget is where the staged home is bound into the container.
//
// BasePath is a container path: the home directory itself when
// CreatedInContainer is true, otherwise its nearest existing ancestor. The
// session directory subtree at BasePath is what gets mounted.
type BindTarget struct {
	BasePath           string
	CreatedInContainer bool
}

// resolveBindTarget decides where in the container the stage is mounted.
func (s *Stager) resolveBindTarget(home string) (BindTarget, error) {
	rootfs := s.opts.RootFS
	containerDir := rootfs.Dir()

	if rootfs.OverlayEnabled() {
		s.log.Debug("trying to create home dir within container")

		var mkErr error

		err := withPrivileges(s.opts.Privileges, func() error {
			mkErr = s.mkdirInContainer(containerDir, home, 0o750)

			return nil
		})
		if err != nil {
			return BindTarget{}, err
		}

		if mkErr == nil {
			s.log.WithField("target", home).Debug("created home directory within the container")

			return BindTarget{BasePath: home, CreatedInContainer: true}, nil
		}

		s.log.WithError(mkErr).Debug("could not create home directory within the container")
	}

	base, ok := rootfs.NearestExistingAncestor(containerDir, home)
	if !ok {
		return BindTarget{}, fatalf("resolve bind target", ErrNoBindPoint, "%s", home)
	}

	s.log.WithField("target", base).Debug("set base bind point")

	return BindTarget{BasePath: base}, nil
}

// containerPath resolves path inside containerDir. Symlinks in the image are
// resolved relative to containerDir and cannot point outside of it.
func containerPath(containerDir, path string) (string, error) {
	full, err := securejoin.SecureJoin(containerDir, path)
	if err != nil {
		return "", fmt.Errorf("resolving %s in %s: %w", path, containerDir, err)
	}

	return full, nil
}

func (s *Stager) mkdirInContainer(containerDir, path string, mode os.FileMode) error {
	full, err := containerPath(containerDir, path)
	if err != nil {
		return err
	}

	return s.ensureDir(full, mode)
}

// DirRootFS is a RootFS for a container root that is already a directory on
// the host.
type DirRootFS struct {
	Path    string
	Overlay bool
}

// Dir implements RootFS.
func (r DirRootFS) Dir() string { return r.Path }

// OverlayEnabled implements RootFS.
func (r DirRootFS) OverlayEnabled() bool { return r.Overlay }

// NearestExistingAncestor implements RootFS.
func (DirRootFS) NearestExistingAncestor(containerDir, path string) (string, bool) {
	return nearestExistingAncestor(containerDir, path)
}

func nearestExistingAncestor(containerDir, path string) (string, bool) {
	for dir := filepath.Clean(path); dir != "/" && dir != "."; dir = filepath.Dir(dir) {
		full, err := containerPath(containerDir, dir)
		if err != nil {
			return "", false
		}

		if isDir(full) {
			return dir, true
		}
	}

	return "", false
}

var overlayFSTypes = []string{"overlay", "fuse.fuse-overlayfs"}

// DetectOverlay reports whether dir lives on an overlay mount, judged by the
// filesystem type of the deepest mount containing it.
func DetectOverlay(dir string) (bool, error) {
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return false, fmt.Errorf("resolving %s: %w", dir, err)
	}

	mounts, err := mountinfo.GetMounts(mountinfo.ParentsFilter(resolved))
	if err != nil {
		return false, fmt.Errorf("reading mountinfo: %w", err)
	}

	if len(mounts) == 0 {
		return false, nil
	}

	deepest := lo.MaxBy(mounts, func(a, b *mountinfo.Info) bool {
		return len(a.Mountpoint) > len(b.Mountpoint)
	})

	return lo.Contains(overlayFSTypes, deepest.FSType), nil
}
