package failure

import (
	"errors"
	"fmt"
)

// Kind classifies a fatal condition of a host run.
type Kind int

const (
	KindUnknown Kind = iota
	// KindPathResolution exists for completeness; path resolution is total.
	KindPathResolution
	KindRuntimeBootstrap
	KindPreconditionMissing
	KindLaunchFailed
	KindReadinessTimeout
	KindCrash
)

func (k Kind) String() string {
	switch k {
	case KindPathResolution:
		return "path_resolution"
	case KindRuntimeBootstrap:
		return "runtime_bootstrap"
	case KindPreconditionMissing:
		return "precondition_missing"
	case KindLaunchFailed:
		return "launch_failed"
	case KindReadinessTimeout:
		return "readiness_timeout"
	case KindCrash:
		return "crash"
	default:
		return "unknown"
	}
}

// Error is a fatal, user-facing failure. Every field other than Kind and
// Message is optional and only rendered when set.
type Error struct {
	Kind     Kind
	Message  string
	Path     string // missing or failing filesystem path
	LogFile  string // hint where the backend writes its own log
	ExitCode *int   // nil when the exit code is unknown
	Stdout   []string
	Stderr   []string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, &Error{Kind: KindCrash})
// works as a kind check.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// Is reports whether err carries a failure of the given kind.
func Is(err error, k Kind) bool { return KindOf(err) == k }

func Bootstrap(path string, err error) *Error {
	return &Error{
		Kind:    KindRuntimeBootstrap,
		Message: fmt.Sprintf("failed to prepare the bundled runtime at %s", path),
		Path:    path,
		Err:     err,
	}
}

func PreconditionMissing(what, path string) *Error {
	return &Error{
		Kind:    KindPreconditionMissing,
		Message: fmt.Sprintf("%s not found: %s", what, path),
		Path:    path,
	}
}

func LaunchFailed(executable string, err error) *Error {
	return &Error{
		Kind:    KindLaunchFailed,
		Message: fmt.Sprintf("could not start %s", executable),
		Path:    executable,
		Err:     err,
	}
}

func ReadinessTimeout(url string, attempts int) *Error {
	return &Error{
		Kind:    KindReadinessTimeout,
		Message: fmt.Sprintf("timed out waiting for the backend at %s after %d attempts", url, attempts),
	}
}

// Crash builds the error for a backend that exited without being asked to.
// code < 0 means the exit code is unknown (for example, killed by a signal).
func Crash(code int, stdout, stderr []string) *Error {
	e := &Error{
		Kind:   KindCrash,
		Stdout: stdout,
		Stderr: stderr,
	}
	if code >= 0 {
		c := code
		e.ExitCode = &c
		e.Message = fmt.Sprintf("the backend server exited with code %d", code)
	} else {
		e.Message = "the backend server exited with code unknown"
	}
	return e
}
