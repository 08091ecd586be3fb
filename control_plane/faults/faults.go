// Package faults implements the orchestrator's error taxonomy: a small
// closed set of kinds with an ordered context-annotation chain, so a
// caller at any boundary can decide retry/surface behavior from the kind
// alone without string-matching messages.
package faults

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is a closed enum of error categories.
type Kind int

const (
	// Unknown is never produced deliberately; it signals a bug where an
	// error crossed a boundary without being classified.
	Unknown Kind = iota
	Validation
	NotFound
	CapacityExhausted
	Timeout
	Transient
	Permanent
	Conflict
	Internal
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case NotFound:
		return "not_found"
	case CapacityExhausted:
		return "capacity_exhausted"
	case Timeout:
		return "timeout"
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	case Conflict:
		return "conflict"
	case Internal:
		return "internal"
	default:
		return "unknown"
	}
}

// Retryable reports whether the call site should retry internally without
// surfacing to the caller. Conflict and Transient are retried with bounded
// backoff; everything else propagates. Timeout retry eligibility depends
// on the call site (task execution: yes; Stage B scoring: no, to avoid
// hammering an overloaded Scorer) so it is intentionally excluded here —
// callers decide Timeout retry for themselves.
func (k Kind) Retryable() bool {
	return k == Conflict || k == Transient
}

// Fault is the concrete error type. It carries a Kind, a base message, an
// ordered chain of short human-readable context annotations appended as
// the error crosses component boundaries, an optional retry-after hint,
// and an optional wrapped cause.
type Fault struct {
	Kind       Kind
	Message    string
	Context    []string
	RetryAfter float64 // seconds; zero means "no hint"
	Cause      error
}

func (f *Fault) Error() string {
	var b strings.Builder
	b.WriteString(f.Kind.String())
	b.WriteString(": ")
	b.WriteString(f.Message)
	for _, c := range f.Context {
		b.WriteString(" <- ")
		b.WriteString(c)
	}
	if f.Cause != nil {
		b.WriteString(": ")
		b.WriteString(f.Cause.Error())
	}
	return b.String()
}

func (f *Fault) Unwrap() error { return f.Cause }

// Trace concatenates the context chain into a single human-readable trace.
func (f *Fault) Trace() string {
	return strings.Join(f.Context, " -> ")
}

// New constructs a Fault with no cause.
func New(kind Kind, message string) *Fault {
	return &Fault{Kind: kind, Message: message}
}

// Wrap constructs a Fault around an existing error. If err is already a
// *Fault, its Kind and Context are preserved and the annotation is
// appended rather than creating a nested Fault-of-Fault chain.
func Wrap(err error, annotation string) *Fault {
	var existing *Fault
	if errors.As(err, &existing) {
		ctx := append(append([]string{}, existing.Context...), annotation)
		return &Fault{
			Kind:       existing.Kind,
			Message:    existing.Message,
			Context:    ctx,
			RetryAfter: existing.RetryAfter,
			Cause:      existing.Cause,
		}
	}
	return &Fault{Kind: Internal, Message: err.Error(), Context: []string{annotation}, Cause: err}
}

// Annotate appends a context annotation to a Fault in place, returning the
// same error for chaining at a call site:
//
//	return faults.Annotate(err, "scheduler.claim")
func Annotate(err error, annotation string) error {
	var f *Fault
	if errors.As(err, &f) {
		f.Context = append(f.Context, annotation)
		return f
	}
	return fmt.Errorf("%s: %w", annotation, err)
}

// Is reports whether err is a Fault of the given Kind.
func Is(err error, kind Kind) bool {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind == kind
	}
	return false
}

// WithRetryAfter sets the retry-after hint, in seconds, and returns f.
func (f *Fault) WithRetryAfter(seconds float64) *Fault {
	f.RetryAfter = seconds
	return f
}

var (
	// ErrNoWork is returned by scheduler.Claim when nothing is available;
	// it is not a Fault because it is an expected, non-error outcome.
	ErrNoWork = errors.New("no work available")
)
