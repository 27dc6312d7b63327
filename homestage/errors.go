//go:build linux

package homestage

import (
	"errors"
	"fmt"
)

// ExitCode is the process status a launcher should exit with after Run.
type ExitCode int

const (
	// ExitOK is returned for a completed mount and for a skipped one.
	ExitOK ExitCode = 0

	// ExitBindControlDisabled is returned when the caller asked for a custom
	// home source but the administrator disabled user bind control.
	ExitBindControlDisabled ExitCode = 5

	// ExitFatal is returned for every other unrecoverable failure.
	ExitFatal ExitCode = 255
)

// Sentinel errors carried by [FatalError]. Match them with errors.Is.
var (
	ErrBindControlDisabled = errors.New("user bind control is disabled by system administrator")
	ErrIdentityLookup      = errors.New("failed to look up passwd entry")
	ErrHomeNotFound        = errors.New("cannot identify home directory path")
	ErrCreateContainedHome = errors.New("could not create temporary home directory")
	ErrHomeOwnership       = errors.New("home directory permissions incorrect")
	ErrNoBindPoint         = errors.New("no bind point available for home directory")
	ErrMountStage          = errors.New("failed to mount home directory to stage")
	ErrMountContainer      = errors.New("failed to mount staged home directory into container")
	ErrPrivilege           = errors.New("privilege transition failed")
)

// FatalError aborts the container launch. Code is the status the launcher
// should exit with; Err wraps one of the sentinel errors above and, when
// available, the underlying OS error.
type FatalError struct {
	Code ExitCode
	Op   string
	Err  error
}

func (e *FatalError) Error() string {
	if e.Op == "" {
		return "homestage: " + e.Err.Error()
	}

	return fmt.Sprintf("homestage: %s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// fatalf builds a FatalError with ExitFatal. The format is applied after
// the sentinel, so "%w" in args is preserved for errors.Is.
func fatalf(op string, sentinel error, format string, args ...any) *FatalError {
	if format == "" {
		return &FatalError{Code: ExitFatal, Op: op, Err: sentinel}
	}

	return &FatalError{
		Code: ExitFatal,
		Op:   op,
		Err:  fmt.Errorf("%w: "+format, append([]any{sentinel}, args...)...),
	}
}

// ExitCodeOf maps err to the status a launcher should exit with.
//
// nil maps to ExitOK. A [FatalError] anywhere in the chain supplies its own
// code; any other error maps to ExitFatal.
func ExitCodeOf(err error) ExitCode {
	if err == nil {
		return ExitOK
	}

	var fatal *FatalError
	if errors.As(err, &fatal) {
		return fatal.Code
	}

	return ExitFatal
}
