package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// Error kinds. Every failure surfaced by the resolver, the classifier or the
// service layer matches exactly one of these with errors.Is.
var (
	// ErrInvalidParameter marks caller-correctable input (bad level, year
	// range, threshold, coordinates). Never retried.
	ErrInvalidParameter = eris.New("invalid parameter")

	// ErrEmptySelection is returned when aggregation is asked to run over
	// zero basins.
	ErrEmptySelection = eris.New("empty selection")

	// ErrUpstreamUnavailable marks a transient failure of the basin data source.
	ErrUpstreamUnavailable = eris.New("upstream unavailable")

	// ErrClassificationUnavailable marks a transient failure of the imagery
	// or reduction service.
	ErrClassificationUnavailable = eris.New("classification unavailable")

	// ErrSuperseded is returned to a request whose result was discarded
	// because a newer request for the same session started.
	ErrSuperseded = eris.New("superseded by newer request")
)

// OpError records the failed operation, its parameters and the error kind.
type OpError struct {
	Kind   error
	Op     string
	Params map[string]any
	Err    error
}

func (e *OpError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if len(e.Params) > 0 {
		keys := make([]string, 0, len(e.Params))
		for k := range e.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s=%v", k, e.Params[k])
		}
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewOpError builds an OpError. params are alternating key/value pairs.
func NewOpError(kind error, op string, cause error, params ...any) *OpError {
	e := &OpError{Kind: kind, Op: op, Err: cause}
	if len(params) > 1 {
		e.Params = make(map[string]any, len(params)/2)
		for i := 0; i+1 < len(params); i += 2 {
			e.Params[fmt.Sprint(params[i])] = params[i+1]
		}
	}
	return e
}

// InvalidParameter is shorthand for a caller-correctable OpError.
func InvalidParameter(op, format string, args ...any) error {
	return NewOpError(ErrInvalidParameter, op, eris.Errorf(format, args...))
}

// KindOf returns the error kind of err, or nil when it matches none.
func KindOf(err error) error {
	for _, kind := range []error{
		ErrSuperseded,
		ErrInvalidParameter,
		ErrEmptySelection,
		ErrUpstreamUnavailable,
		ErrClassificationUnavailable,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// IsRetryable reports whether the error kind is recoverable by retrying.
func IsRetryable(err error) bool {
	kind := KindOf(err)
	return kind == ErrUpstreamUnavailable || kind == ErrClassificationUnavailable
}
