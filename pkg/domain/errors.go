package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotConnected is returned by every database operation attempted while
// no connection is established.
var ErrNotConnected = errors.New("not yet connected: call and wait for Connect before doing any database operations")

// Configuration errors reported when a binding is declared.
var (
	ErrInvalidIndex   = errors.New("invalid index specification")
	ErrDuplicateIndex = errors.New("duplicate index key pattern")
)

// Issue is one field-level validation failure.
type Issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationError reports a schema rejection. No write happens when it is
// returned.
type ValidationError struct {
	Collection string  `json:"collection,omitempty"`
	Op         string  `json:"op,omitempty"`
	Issues     []Issue `json:"issues"`
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("validation failed")
	if e.Op != "" {
		b.WriteString(" on ")
		b.WriteString(e.Op)
	}
	if e.Collection != "" {
		b.WriteString(" in ")
		b.WriteString(e.Collection)
	}
	for i, issue := range e.Issues {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "%s: %s", issue.Path, issue.Message)
	}
	return b.String()
}

// In returns a copy of e attributed to an operation on a collection.
func (e *ValidationError) In(collection, op string) *ValidationError {
	out := *e
	out.Collection = collection
	out.Op = op
	return &out
}

// DriverError wraps a failure surfaced by the database driver.
type DriverError struct {
	Op  string
	Err error
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *DriverError) Unwrap() error {
	return e.Err
}

// WrapDriver attributes err to op. Nil, ErrNotConnected, validation errors
// and already wrapped driver errors pass through unchanged.
func WrapDriver(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotConnected) {
		return err
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return err
	}
	var de *DriverError
	if errors.As(err, &de) {
		return err
	}
	return &DriverError{Op: op, Err: err}
}

// IsValidation reports whether err is a schema rejection.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
