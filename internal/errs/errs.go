// Package errs defines the stable error kinds returned across the razorfs
// engine's public API. Every operation documented in the engine's external
// interface fails, if it fails at all, with one of these kinds -- wrapped
// with whatever detail the failing component can offer.
package errs

import "errors"

// Sentinel kinds. Callers match against these with errors.Is; components
// wrap them with Wrap or Wrapf to attach detail.
var (
	ErrNotFound    = errors.New("razorfs: not found")
	ErrExists      = errors.New("razorfs: already exists")
	ErrNotDir      = errors.New("razorfs: not a directory")
	ErrIsDir       = errors.New("razorfs: is a directory")
	ErrNotEmpty    = errors.New("razorfs: directory not empty")
	ErrNameTooLong = errors.New("razorfs: name too long")
	ErrInvalidName = errors.New("razorfs: invalid name")
	ErrLoop        = errors.New("razorfs: rename would create a cycle")
	ErrCapacity    = errors.New("razorfs: capacity exhausted")
	ErrVersion     = errors.New("razorfs: incompatible on-disk version")
	ErrCorrupt     = errors.New("razorfs: corrupt and unrecoverable")
	ErrIO          = errors.New("razorfs: storage I/O failure")
	ErrInvalid     = errors.New("razorfs: invalid argument")
)

// Wrap annotates err's kind with a component-supplied detail message,
// preserving errors.Is/errors.As against kind.
func Wrap(kind error, detail string) error {
	return &wrapped{kind: kind, detail: detail}
}

// Wrapf is Wrap with a cause chained underneath the kind.
func Wrapf(kind error, cause error, detail string) error {
	return &wrapped{kind: kind, detail: detail, cause: cause}
}

type wrapped struct {
	kind   error
	detail string
	cause  error
}

func (w *wrapped) Error() string {
	if w.cause != nil {
		return w.detail + ": " + w.cause.Error()
	}
	return w.detail
}

func (w *wrapped) Unwrap() []error {
	if w.cause != nil {
		return []error{w.kind, w.cause}
	}
	return []error{w.kind}
}
