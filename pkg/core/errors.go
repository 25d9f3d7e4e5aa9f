package core

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the session store, the batch simulator and
// the external-code resolver. Transport handlers map these onto HTTP codes.
var (
	// ErrNotFound means an unknown session or algorithm id.
	ErrNotFound = errors.New("not found")
	// ErrOutOfRange means an action index outside [0, n_actions).
	ErrOutOfRange = errors.New("action out of range")
	// ErrLoad means an uploaded module could not be loaded or executed.
	ErrLoad = errors.New("module load failed")
	// ErrEntryMissing means the declared entry symbol is absent or not callable.
	ErrEntryMissing = errors.New("entry function missing")
	// ErrHashMismatch means a declared content hash did not match the computed one.
	ErrHashMismatch = errors.New("sha256 mismatch")
)

// ExternalCodeError wraps a failure inside externally supplied policy code.
// It is caught at the call site that invokes the policy so that one failing
// policy never aborts other policies in the same batch.
type ExternalCodeError struct {
	Name string // policy label, e.g. "custom:decay_eps"
	Err  error
}

func (e *ExternalCodeError) Error() string {
	return fmt.Sprintf("external policy %q: %v", e.Name, e.Err)
}

func (e *ExternalCodeError) Unwrap() error { return e.Err }
