package transport

import (
	"errors"
	"fmt"
)

// Kind classifies a failed exchange with one of the external endpoints.
type Kind int

const (
	// Unreachable: connection refused, DNS failure or timeout.
	Unreachable Kind = iota + 1
	// MalformedResponse: the endpoint answered, but not with the expected document.
	MalformedResponse
	// TransportWriteFailure: a send/post did not go through.
	TransportWriteFailure
)

func (k Kind) String() string {
	switch k {
	case Unreachable:
		return "unreachable"
	case MalformedResponse:
		return "malformed_response"
	case TransportWriteFailure:
		return "write_failure"
	default:
		return "unknown"
	}
}

// PollError is returned by every network client in this module.
type PollError struct {
	Kind     Kind
	Endpoint string
	Err      error
}

func (e *PollError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s %s: %v", e.Kind, e.Endpoint, e.Err)
}

func (e *PollError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newPollError(kind Kind, endpoint string, err error) *PollError {
	return &PollError{Kind: kind, Endpoint: endpoint, Err: err}
}

// Errorf builds a PollError with a formatted cause.
func Errorf(kind Kind, endpoint string, format string, args ...any) *PollError {
	return newPollError(kind, endpoint, fmt.Errorf(format, args...))
}

// KindOf reports the Kind of the first PollError in err's chain, or 0.
func KindOf(err error) Kind {
	var pe *PollError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return 0
}

// IsKind reports whether err wraps a PollError of the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
