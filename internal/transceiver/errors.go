package transceiver

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMonitoringUnsupported  = errors.New("transceiver does not support native monitoring")
	ErrTransceiverUnavailable = errors.New("no transceiver available for this delivery method")
	ErrUnknownModule          = errors.New("unknown transceiver module")
	ErrUnknownTransaction     = errors.New("unknown transaction")
	ErrInvalidTransition      = errors.New("invalid transaction status transition")
	ErrManagerClosed          = errors.New("transceiver manager closed")
)

// BroadcastError wraps the failure reported by a transceiver for one transaction.
type BroadcastError struct {
	Txid string
	Err  error
}

func (e *BroadcastError) Error() string {
	return fmt.Sprintf("broadcast of %s failed: %v", e.Txid, e.Err)
}

func (e *BroadcastError) Unwrap() error { return e.Err }

// TimeoutError reports an operation that ran past its deadline. It can be
// retried. Txid is set when the operation was a broadcast.
type TimeoutError struct {
	Op   string
	Txid string
	Err  error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out: %v", e.Op, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

func (e *TimeoutError) Timeout() bool { return true }

func (e *TimeoutError) Retryable() bool { return true }

// IncompleteTransceiverError reports a module missing required methods.
type IncompleteTransceiverError struct {
	Module  string
	Missing []string
}

func (e *IncompleteTransceiverError) Error() string {
	name := e.Module
	if name == "" {
		name = "<none>"
	}
	return fmt.Sprintf("transceiver module %s is missing %s", name, strings.Join(e.Missing, ", "))
}

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	var timeout *TimeoutError
	return errors.As(err, &timeout)
}
