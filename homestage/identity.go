//go:build linux

package homestage

import (
	"errors"
	"fmt"

	"github.com/moby/sys/user"
	"github.com/samber/lo"
	"golang.org/x/sys/unix"
)

// DefaultPasswdPath is the passwd file read by a zero-value [PasswdFile].
const DefaultPasswdPath = "/etc/passwd"

// Identity is the acting user as recorded in the identity store.
type Identity struct {
	UID     int
	HomeDir string
}

// IdentityStore looks up users by numeric id.
//
// A missing entry is reported as user.ErrNoPasswdEntries or one of the
// errnos listed in [IsNoSuchUser].
type IdentityStore interface {
	LookupUID(uid int) (Identity, error)
}

// PasswdFile is an IdentityStore backed by a passwd(5) formatted file.
type PasswdFile struct {
	// Path defaults to DefaultPasswdPath.
	Path string
}

// LookupUID implements IdentityStore. The first matching entry wins.
func (p PasswdFile) LookupUID(uid int) (Identity, error) {
	path := p.Path
	if path == "" {
		path = DefaultPasswdPath
	}

	users, err := user.ParsePasswdFileFilter(path, func(u user.User) bool {
		return u.Uid == uid
	})
	if err != nil {
		return Identity{}, fmt.Errorf("reading %s: %w", path, err)
	}

	if len(users) == 0 {
		return Identity{}, user.ErrNoPasswdEntries
	}

	return Identity{UID: uid, HomeDir: users[0].Home}, nil
}

// noSuchUserErrnos are the errnos getpwuid(3) implementations use for
// "no entry" instead of leaving errno unset.
var noSuchUserErrnos = []unix.Errno{unix.ESRCH, unix.EBADF, unix.EPERM}

// IsNoSuchUser reports whether err from an IdentityStore means the user has
// no entry, as opposed to a failed lookup.
func IsNoSuchUser(err error) bool {
	if errors.Is(err, user.ErrNoPasswdEntries) {
		return true
	}

	return lo.ContainsBy(noSuchUserErrnos, func(errno unix.Errno) bool {
		return errors.Is(err, errno)
	})
}

// resolveIdentity looks up uid. skip is true when the user has no entry and
// home mounting does not apply.
func (s *Stager) resolveIdentity(uid int) (id Identity, skip bool, err error) {
	id, err = s.opts.Identities.LookupUID(uid)
	if err == nil {
		s.log.WithField("home", id.HomeDir).Debug("obtained user's home directory")

		return id, false, nil
	}

	if IsNoSuchUser(err) {
		s.log.WithError(err).Debugf("not mounting home directory as passwd entry for %d not found", uid)

		return Identity{}, true, nil
	}

	return Identity{}, false, fatalf("resolve identity", ErrIdentityLookup, "uid %d: %w", uid, err)
}
