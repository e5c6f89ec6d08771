package errors

import (
	"errors"
	"fmt"
)

// Error represents a tarsync failure with context about the stage and the
// operation that failed.
type Error struct {
	// Kind is the stage classification (auth, fetch, merge, ...)
	Kind Kind

	// Op is the operation that failed (e.g., "startSession", "extract")
	Op string

	// Ref is the remote object or local path involved (if applicable)
	Ref string

	// Err is the underlying error
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Ref != "" {
		return fmt.Sprintf("tarsync.%s %s: %v", e.Op, e.Ref, e.Err)
	}
	return fmt.Sprintf("tarsync.%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error chaining support.
func (e *Error) Unwrap() error {
	return e.Err
}

// WithRef adds object or path context to an existing error.
func (e *Error) WithRef(ref string) *Error {
	e.Ref = ref
	return e
}

// New creates a new Error of the given kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{
		Kind: kind,
		Op:   op,
		Err:  err,
	}
}

// Auth creates a KindAuth error.
func Auth(op string, err error) *Error { return New(KindAuth, op, err) }

// Validation creates a KindValidation error.
func Validation(op string, err error) *Error { return New(KindValidation, op, err) }

// Fetch creates a KindFetch error.
func Fetch(op string, err error) *Error { return New(KindFetch, op, err) }

// Merge creates a KindMerge error.
func Merge(op string, err error) *Error { return New(KindMerge, op, err) }

// Transport creates a KindTransport error.
func Transport(op string, err error) *Error { return New(KindTransport, op, err) }

// Config creates a KindConfig error.
func Config(op string, err error) *Error { return New(KindConfig, op, err) }

// Sentinel errors for common failures.
// These can be used with errors.Is() for error checking.
var (
	// ErrMissingCredential indicates no access credential was supplied
	ErrMissingCredential = errors.New("tarsync: access credential not found")

	// ErrInvalidCredential indicates the remote store rejected the credential
	ErrInvalidCredential = errors.New("tarsync: invalid access credential")

	// ErrUnsupportedFormat indicates an input file has an unsupported suffix
	ErrUnsupportedFormat = errors.New("tarsync: unsupported file format")

	// ErrUnsafePath indicates an archive entry that would escape the extraction directory
	ErrUnsafePath = errors.New("tarsync: unsafe archive entry path")

	// ErrShortRead indicates the source file ended before its reported size
	ErrShortRead = errors.New("tarsync: source shorter than reported size")
)

// KindOf returns the Kind of the outermost *Error in err's chain,
// or KindUnknown if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given Kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
