package datachan

import (
	"errors"
	"fmt"
)

// Common data channel errors
var (
	// ErrChannel is matched by every failure to open a data channel
	ErrChannel = errors.New("data channel unavailable")

	// ErrNoPassiveListener indicates passive mode was requested without a listener
	ErrNoPassiveListener = errors.New("no passive listener")

	// ErrMalformedEndpoint indicates an active endpoint payload could not be parsed
	ErrMalformedEndpoint = errors.New("malformed endpoint")

	// ErrNotIPv4 indicates an address cannot be encoded as four octets
	ErrNotIPv4 = errors.New("address is not IPv4")
)

// ChannelError represents a data channel failure with additional context
type ChannelError struct {
	Op   string // "connect" or "accept"
	Addr string // address if relevant
	Err  error  // underlying error
}

func (e *ChannelError) Error() string {
	if e.Addr != "" {
		return fmt.Sprintf("data %s %s: %v", e.Op, e.Addr, e.Err)
	}
	return fmt.Sprintf("data %s: %v", e.Op, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// Is makes every ChannelError match ErrChannel.
func (e *ChannelError) Is(target error) bool {
	return target == ErrChannel
}

// newChannelError creates a new ChannelError
func newChannelError(op, addr string, err error) *ChannelError {
	return &ChannelError{
		Op:   op,
		Addr: addr,
		Err:  err,
	}
}
