// Package errkind classifies pipeline failures into a small set of kinds.
//
// Concrete error types in the other packages match one of the sentinels
// below through errors.Is, so callers can branch on the kind of failure
// without caring about its representation:
//
//	if errors.Is(err, errkind.ErrCapacity) { ... }
//
// The conflict, configuration and not-found kinds wrap the matching
// containerd/errdefs categories so code already using errdefs helpers keeps
// working.
package errkind

import (
	"errors"
	"fmt"

	"github.com/containerd/errdefs"
)

// Kind is the category of a pipeline failure.
type Kind int

const (
	// Unknown is returned by Of for errors that carry no kind.
	Unknown Kind = iota
	// Transport covers network and remote-server failures.
	Transport
	// IO covers local filesystem failures.
	IO
	// Integrity covers checksum mismatches.
	Integrity
	// Capacity covers insufficient free disk space.
	Capacity
	// Policy covers artifacts rejected by validation.
	Policy
	// Conflict covers attempts to install over an existing artifact.
	Conflict
	// Configuration covers invalid caller input such as malformed URLs.
	Configuration
	// NotFound covers lookups that matched nothing.
	NotFound
)

var (
	ErrTransport     = errors.New("transport error")
	ErrIO            = errors.New("io error")
	ErrIntegrity     = errors.New("integrity error")
	ErrCapacity      = errors.New("insufficient capacity")
	ErrPolicy        = errors.New("rejected by policy")
	ErrConflict      = fmt.Errorf("conflict: %w", errdefs.ErrAlreadyExists)
	ErrConfiguration = fmt.Errorf("configuration error: %w", errdefs.ErrInvalidArgument)
	ErrNotFound      = fmt.Errorf("not found: %w", errdefs.ErrNotFound)
)

var sentinels = []struct {
	kind Kind
	err  error
}{
	{Transport, ErrTransport},
	{IO, ErrIO},
	{Integrity, ErrIntegrity},
	{Capacity, ErrCapacity},
	{Policy, ErrPolicy},
	{Conflict, ErrConflict},
	{Configuration, ErrConfiguration},
	{NotFound, ErrNotFound},
}

// Of returns the kind of err, or Unknown.
func Of(err error) Kind {
	if err == nil {
		return Unknown
	}
	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return s.kind
		}
	}
	return Unknown
}

// Sentinel returns the sentinel error for k, or nil for Unknown.
func (k Kind) Sentinel() error {
	for _, s := range sentinels {
		if s.kind == k {
			return s.err
		}
	}
	return nil
}

func (k Kind) String() string {
	switch k {
	case Transport:
		return "transport"
	case IO:
		return "io"
	case Integrity:
		return "integrity"
	case Capacity:
		return "capacity"
	case Policy:
		return "policy"
	case Conflict:
		return "conflict"
	case Configuration:
		return "configuration"
	case NotFound:
		return "not_found"
	}
	return "unknown"
}

// kindError attaches a kind to an underlying error without changing its message.
type kindError struct {
	kind Kind
	op   string
	err  error
}

func (e *kindError) Error() string {
	if e.op == "" {
		return e.err.Error()
	}
	return e.op + ": " + e.err.Error()
}

func (e *kindError) Unwrap() error { return e.err }

func (e *kindError) Is(target error) bool {
	return Matches(e.kind, target)
}

// Matches reports whether target is the sentinel of k or one of the errdefs
// categories that sentinel wraps. Concrete error types use it in their Is
// methods.
func Matches(k Kind, target error) bool {
	sentinel := k.Sentinel()
	if sentinel == nil {
		return false
	}
	return target == sentinel || errors.Is(sentinel, target)
}

// Wrap tags err with kind k. The op, when set, prefixes the message.
// Wrap returns nil if err is nil.
func Wrap(k Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: k, op: op, err: err}
}

// IOError tags a filesystem failure.
func IOError(op string, err error) error {
	return Wrap(IO, op, err)
}

// TransportError tags a network failure.
func TransportError(op string, err error) error {
	return Wrap(Transport, op, err)
}

// Configurationf builds a configuration error from a format string.
func Configurationf(format string, args ...any) error {
	return Wrap(Configuration, "", fmt.Errorf(format, args...))
}
