package harvia

import (
	"errors"
	"fmt"
)

// TransportError covers network level failures: dial, timeout, non-JSON body.
// Retried with backoff by whichever call site owns the retry policy.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolError covers responses that arrived but do not have a usable shape.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %s", e.Reason)
}

// ErrEmptyResult marks a query variant that succeeded at the transport level
// but returned no usable data. It triggers the next fallback variant, never a
// retry of the same one.
var ErrEmptyResult = errors.New("empty result")
