package thumbnail

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by a ProjectStore when no project has the given ID.
var ErrNotFound = errors.New("project not found")

// Kind classifies a failure. Every error leaving the orchestrator carries one.
type Kind string

// Failure kinds.
const (
	KindInvalidInput       Kind = "InvalidInput"
	KindUnauthorized       Kind = "Unauthorized"
	KindNotFound           Kind = "NotFound"
	KindConflict           Kind = "Conflict"
	KindRateLimited        Kind = "RateLimited"
	KindNavigationTimeout  Kind = "NavigationTimeout"
	KindNavigationError    Kind = "NavigationError"
	KindRenderCrash        Kind = "RenderCrash"
	KindTranscodeFailure   Kind = "TranscodeFailure"
	KindUploadFailure      Kind = "UploadFailure"
	KindResolutionFailure  Kind = "ResolutionFailure"
	KindPersistenceFailure Kind = "PersistenceFailure"
	KindCanceled           Kind = "Canceled"
	KindInternal           Kind = "Internal"
)

// Class groups kinds into the caller-facing failure families.
func (k Kind) Class() string {
	switch k {
	case KindNavigationTimeout, KindNavigationError, KindRenderCrash:
		return "RenderFailure"
	case KindUploadFailure, KindResolutionFailure:
		return "PublishFailure"
	case KindNotFound:
		return "Forbidden"
	case "":
		return string(KindInternal)
	default:
		return string(k)
	}
}

// Error is a classified failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// NewError wraps err with a kind and the operation that failed.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the kind of err. Unclassified errors report KindInternal,
// except bare context errors which report KindCanceled.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var te *Error
	if errors.As(err, &te) && te.Kind != "" {
		return te.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCanceled
	}
	return KindInternal
}

// Classify returns err unchanged if it already carries a kind, otherwise it
// wraps it with fallback.
func Classify(err error, fallback Kind, op string) error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) && te.Kind != "" {
		return err
	}
	return NewError(fallback, op, err)
}
