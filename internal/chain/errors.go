package chain

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedChain   = errors.New("unsupported blockchain")
	ErrUnsupportedNetwork = errors.New("unsupported network")
	ErrWrongNetworkKey    = errors.New("private key is not for this network")
	ErrKeyMismatch        = errors.New("private key does not control input script")
)

// InvalidInputError reports a malformed input, output or option.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// SigningError reports a key or signature failure. Input is -1 when the
// failure is not tied to one input.
type SigningError struct {
	Input int
	Err   error
}

func (e *SigningError) Error() string {
	if e.Input < 0 {
		return fmt.Sprintf("signing failed: %v", e.Err)
	}
	return fmt.Sprintf("signing input %d failed: %v", e.Input, e.Err)
}

func (e *SigningError) Unwrap() error { return e.Err }

// SerializationError reports a script construction or encoding failure.
type SerializationError struct {
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialization failed: %v", e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// PayloadTooLargeError reports an OP_RETURN payload over the relay limit.
type PayloadTooLargeError struct {
	Size  int
	Limit int
}

func (e *PayloadTooLargeError) Error() string {
	return fmt.Sprintf("OP_RETURN payload is %d bytes, limit is %d", e.Size, e.Limit)
}
