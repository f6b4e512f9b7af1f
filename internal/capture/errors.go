package capture

import (
	"errors"
	"fmt"
)

// Kind classifies capture failures.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindNavigation
	KindProtocol
	KindArchiveBuild
)

// String returns the kind name used in logs and metric labels.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNavigation:
		return "navigation"
	case KindProtocol:
		return "protocol"
	case KindArchiveBuild:
		return "archive_build"
	default:
		return "unknown"
	}
}

// Error is a classified capture failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Op, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s error: %s", e.Kind, e.Op)
	case e.Err != nil:
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s error", e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinels below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Op != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrValidation   error = &Error{Kind: KindValidation}
	ErrNavigation   error = &Error{Kind: KindNavigation}
	ErrProtocol     error = &Error{Kind: KindProtocol}
	ErrArchiveBuild error = &Error{Kind: KindArchiveBuild}

	ErrPoolClosed = errors.New("capture pool is closed")
)

// KindOf returns the kind of err, or 0 when err is not a capture error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func validationError(msg string) error {
	return &Error{Kind: KindValidation, Op: msg}
}

func navigationError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindNavigation, Op: op, Err: err}
}

func protocolError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindProtocol, Op: op, Err: err}
}
