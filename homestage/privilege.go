//go:build linux

package homestage

import (
	"errors"
	"fmt"
	"sync"

	"github.com/moby/sys/capability"
	"golang.org/x/sys/unix"
)

// Privileges switches the process between the caller's identity and an
// identity allowed to mount. Escalate and Drop must be paired.
type Privileges interface {
	Escalate() error
	Drop() error
}

// Escalation is an open privilege window. Drop closes it; calls after the
// first are no-ops, so it is safe to both defer Drop and call it early.
type Escalation struct {
	p       Privileges
	dropped bool
}

// Escalate opens a privilege window on p.
func Escalate(p Privileges) (*Escalation, error) {
	err := p.Escalate()
	if err != nil {
		return nil, fatalf("escalate privileges", ErrPrivilege, "%w", err)
	}

	return &Escalation{p: p}, nil
}

// Drop closes the window.
func (e *Escalation) Drop() error {
	if e.dropped {
		return nil
	}

	e.dropped = true

	err := e.p.Drop()
	if err != nil {
		return fatalf("drop privileges", ErrPrivilege, "%w", err)
	}

	return nil
}

// withPrivileges runs fn inside a privilege window. The window is closed on
// every return path; a failed drop is reported if fn itself succeeded.
func withPrivileges(p Privileges, fn func() error) (err error) {
	win, err := Escalate(p)
	if err != nil {
		return err
	}

	defer func() {
		dropErr := win.Drop()
		if err == nil {
			err = dropErr
		}
	}()

	return fn()
}

// ErrNoPrivileges is returned by [SetuidPrivileges.Check] when the process
// cannot become root.
var ErrNoPrivileges = errors.New("process cannot escalate: need saved uid 0 or CAP_SETUID and CAP_SYS_ADMIN")

// SetuidPrivileges switches the effective uid between 0 and the real uid,
// for binaries installed setuid root. It is process-wide: nested windows
// only bump a depth counter and the uid changes at depth 0 <-> 1.
type SetuidPrivileges struct {
	mu    sync.Mutex
	ruid  int
	depth int
}

// NewSetuidPrivileges records the real uid to drop back to.
func NewSetuidPrivileges() *SetuidPrivileges {
	return &SetuidPrivileges{ruid: unix.Getuid()}
}

// Escalate implements Privileges.
func (p *SetuidPrivileges) Escalate() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.depth == 0 {
		err := unix.Setresuid(-1, 0, -1)
		if err != nil {
			return fmt.Errorf("setting effective uid 0: %w", err)
		}
	}

	p.depth++

	return nil
}

// Drop implements Privileges.
func (p *SetuidPrivileges) Drop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.depth == 0 {
		return errors.New("drop without matching escalate")
	}

	if p.depth == 1 {
		err := unix.Setresuid(-1, p.ruid, -1)
		if err != nil {
			return fmt.Errorf("restoring effective uid %d: %w", p.ruid, err)
		}
	}

	p.depth--

	return nil
}

// Check reports whether Escalate can succeed, without changing identity.
func (p *SetuidPrivileges) Check() error {
	_, euid, suid := unix.Getresuid()
	if euid == 0 || suid == 0 {
		return nil
	}

	caps, err := capability.NewPid2(0)
	if err != nil {
		return fmt.Errorf("reading capabilities: %w", err)
	}

	err = caps.Load()
	if err != nil {
		return fmt.Errorf("loading capabilities: %w", err)
	}

	if caps.Get(capability.PERMITTED, capability.CAP_SETUID) && caps.Get(capability.PERMITTED, capability.CAP_SYS_ADMIN) {
		return nil
	}

	return ErrNoPrivileges
}

// NopPrivileges never changes identity. It is used for dry runs and when
// the caller already runs with the required privileges.
type NopPrivileges struct{}

// Escalate implements Privileges.
func (NopPrivileges) Escalate() error { return nil }

// Drop implements Privileges.
func (NopPrivileges) Drop() error { return nil }
