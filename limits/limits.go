// Package limits provides centralized size limits for device file transfers.
// This ensures consistent validation across different components of the system.
package limits

import (
	"errors"
	"fmt"
)

const (
	// DefaultChunkSize is the default length of a pooled transfer buffer.
	DefaultChunkSize = 1024

	// MinChunkSize is the smallest buffer length a pool accepts.
	MinChunkSize = 64

	// MaxChunkSize is the largest buffer length a pool accepts.
	MaxChunkSize = 65536

	// MaxCommandLine is the longest control line, terminator included.
	MaxCommandLine = 1024

	// LineBufferSize is the read buffer behind a control connection. Lines
	// that overflow it are drained before being rejected.
	LineBufferSize = 4 * MaxCommandLine

	// DefaultBufferCount is the number of buffers a device keeps around:
	// one for the command server and one for whichever other engine runs.
	DefaultBufferCount = 2
)

var (
	// ErrLineEmpty indicates an empty line was provided
	ErrLineEmpty = errors.New("empty line")

	// ErrLineTooLong indicates a line exceeds the maximum length
	ErrLineTooLong = errors.New("line too long")

	// ErrChunkSize indicates a buffer length outside [MinChunkSize, MaxChunkSize]
	ErrChunkSize = errors.New("chunk size out of range")
)

// ValidateLine validates a protocol line against the specified maximum length.
// Returns an error with context including the actual and maximum sizes.
func ValidateLine(line []byte, maxSize int) error {
	if len(line) == 0 {
		return ErrLineEmpty
	}
	if len(line) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrLineTooLong, len(line), maxSize)
	}
	return nil
}

// ValidateCommandLine validates a control line against MaxCommandLine.
func ValidateCommandLine(line []byte) error {
	return ValidateLine(line, MaxCommandLine)
}

// ValidateChunkSize checks that a buffer length is usable for transfers.
func ValidateChunkSize(size int) error {
	if size < MinChunkSize || size > MaxChunkSize {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrChunkSize, size, MinChunkSize, MaxChunkSize)
	}
	return nil
}
