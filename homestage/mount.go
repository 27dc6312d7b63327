//go:build linux

package homestage

import (
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// BindFlags are the flags used for both home bind mounts.
const BindFlags uintptr = unix.MS_BIND | unix.MS_NOSUID | unix.MS_REC

// Mounter performs bind mounts. Implementations are called inside a
// privilege window.
type Mounter interface {
	BindMount(source, target string, flags uintptr) error
}

// SyscallMounter calls mount(2).
type SyscallMounter struct{}

// BindMount implements Mounter.
func (SyscallMounter) BindMount(source, target string, flags uintptr) error {
	return unix.Mount(source, target, "", flags, "")
}

// performBindMounts binds source onto the stage, then the stage subtree at
// target.BasePath into the container. Both mounts share one privilege
// window. A failed second mount does not undo the first; the launcher is
// expected to tear down the whole attempt.
func (s *Stager) performBindMounts(source, home string, target BindTarget) error {
	sessionDir := s.opts.SessionDir
	stage := stagePath(sessionDir, home)
	stageBase := stagePath(sessionDir, target.BasePath)

	return withPrivileges(s.opts.Privileges, func() error {
		s.log.WithFields(logrus.Fields{"source": source, "stage": stage}).Info("mounting home directory to stage")

		err := s.opts.Mounter.BindMount(source, stage, BindFlags)
		if err != nil {
			return fatalf("mount home", ErrMountStage, "%s -> %s: %w", source, stage, err)
		}

		containerBase, err := containerPath(s.opts.RootFS.Dir(), target.BasePath)
		if err != nil {
			return fatalf("mount home", ErrMountContainer, "%w", err)
		}

		s.log.WithFields(logrus.Fields{"stage": stageBase, "target": containerBase}).Info("mounting staged home directory into container")

		err = s.opts.Mounter.BindMount(stageBase, containerBase, BindFlags)
		if err != nil {
			return fatalf("mount home", ErrMountContainer, "%s -> %s: %w", stageBase, containerBase, err)
		}

		return nil
	})
}
