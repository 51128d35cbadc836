package gallery

import (
	"errors"
	"fmt"
)

// Kind classifies a gallery failure.
type Kind int

const (
	KindArgument Kind = iota + 1 // malformed input or misuse of the store
	KindIO                       // local filesystem
	KindFetch                    // network or parse failure of a fetch
	KindAbsent                   // structural absence, e.g. unknown column
)

func (k Kind) String() string {
	switch k {
	case KindArgument:
		return "argument"
	case KindIO:
		return "io"
	case KindFetch:
		return "fetch"
	case KindAbsent:
		return "absent"
	default:
		return "unknown"
	}
}

var (
	ErrNoPage            = errors.New("no page has been fetched")
	ErrColumnNotInSchema = errors.New("column is not part of the schema")
	ErrLengthMismatch    = errors.New("column length does not match row count")
	ErrUnknownColumn     = errors.New("column not in table")
)

// Error wraps a failure of one gallery operation.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("gallery: %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(op string, kind Kind, err error) error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// KindOf returns the kind of a gallery error, 0 for foreign errors.
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return 0
}

// IsAbsent reports whether err only signals missing data.
func IsAbsent(err error) bool {
	return KindOf(err) == KindAbsent
}
