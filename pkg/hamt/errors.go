package hamt

import (
	"errors"
	"fmt"

	hamtipld "github.com/filecoin-project/go-hamt-ipld/v3"
)

var (
	// ErrNotFound is returned when a key is not present.
	ErrNotFound = errors.New("key not found")
	// ErrMaxDepth is returned when a key's hash is exhausted before a free slot is found.
	ErrMaxDepth = hamtipld.ErrMaxDepth
	// ErrMalformed is returned when a stored node violates the node invariants.
	ErrMalformed = hamtipld.ErrMalformedHamt
)

// Error is a failed map operation.
type Error struct {
	// Op is the map operation: new, get, set, delete, load or flush.
	Op string

	// Err is a sentinel above or the store/encoding failure.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("hamt %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

func opError(op string, err error) error {
	if err == nil {
		return nil
	}
	var hamtErr *Error
	if errors.As(err, &hamtErr) {
		return err
	}
	return &Error{Op: op, Err: err}
}
