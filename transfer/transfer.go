package transfer

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrShortTransfer indicates the source ended before the expected size.
var ErrShortTransfer = errors.New("transfer ended before expected size")

// ErrEmptyBuffer indicates Pump was given a zero-length buffer.
var ErrEmptyBuffer = errors.New("transfer buffer is empty")

// Direction indicates whether bytes flow into or out of device storage.
type Direction uint8

const (
	// DirectionIncoming represents bytes written into storage.
	DirectionIncoming Direction = iota
	// DirectionOutgoing represents bytes read from storage.
	DirectionOutgoing
)

// String returns the metric/log label for the direction.
func (d Direction) String() string {
	if d == DirectionIncoming {
		return "incoming"
	}
	return "outgoing"
}

// State represents the current state of a transfer.
type State uint8

const (
	// StatePending indicates the transfer has not moved any bytes yet.
	StatePending State = iota
	// StateRunning indicates the transfer is in progress.
	StateRunning
	// StateCompleted indicates the transfer has finished successfully.
	StateCompleted
	// StateError indicates the transfer failed.
	StateError
)

// UnknownSize marks a transfer whose length is only known at EOF.
const UnknownSize int64 = -1

// TimeProvider abstracts time operations for deterministic testing.
type TimeProvider interface {
	Now() time.Time
}

// DefaultTimeProvider uses the standard library time functions.
type DefaultTimeProvider struct{}

// Now returns the current time.
func (DefaultTimeProvider) Now() time.Time { return time.Now() }

var defaultTimeProvider TimeProvider = DefaultTimeProvider{}

// Transfer represents one stream of file content.
type Transfer struct {
	Path        string
	Direction   Direction
	Size        int64
	State       State
	StartTime   time.Time
	Transferred int64
	Error       error

	progressCallback func(int64)
	completeCallback func(error)

	mu            sync.Mutex
	lastChunkTime time.Time
	transferSpeed float64 // bytes per second
	timeProvider  TimeProvider
}

// New creates a pending transfer. Pass UnknownSize when the length is only
// discovered at EOF.
func New(path string, size int64, direction Direction) *Transfer {
	logrus.WithFields(logrus.Fields{
		"function":  "New",
		"path":      path,
		"size":      size,
		"direction": direction.String(),
	}).Debug("Creating transfer")

	return &Transfer{
		Path:         path,
		Direction:    direction,
		Size:         size,
		State:        StatePending,
		timeProvider: defaultTimeProvider,
	}
}

// SetTimeProvider sets a custom time provider for deterministic testing.
func (t *Transfer) SetTimeProvider(tp TimeProvider) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timeProvider = tp
	t.lastChunkTime = tp.Now()
}

// OnProgress sets a callback invoked with the running byte total after every chunk.
func (t *Transfer) OnProgress(callback func(int64)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.progressCallback = callback
}

// OnComplete sets a callback invoked once when the transfer finishes or fails.
func (t *Transfer) OnComplete(callback func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.completeCallback = callback
}

// Begin moves a pending transfer to running.
func (t *Transfer) Begin() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.State != StatePending {
		return fmt.Errorf("transfer %s cannot start in state %d", t.Path, t.State)
	}
	t.State = StateRunning
	t.StartTime = t.timeProvider.Now()
	t.lastChunkTime = t.StartTime
	return nil
}

// Advance records n more bytes moved.
func (t *Transfer) Advance(n int) {
	if n <= 0 {
		return
	}
	t.mu.Lock()
	t.Transferred += int64(n)
	t.updateTransferSpeed(n)
	cb := t.progressCallback
	total := t.Transferred
	t.mu.Unlock()

	if cb != nil {
		cb(total)
	}
}

// Finish ends the transfer with err (nil for success).
func (t *Transfer) Finish(err error) {
	t.mu.Lock()
	if t.State == StateCompleted || t.State == StateError {
		t.mu.Unlock()
		return
	}
	if err != nil {
		t.State = StateError
		t.Error = err
	} else {
		t.State = StateCompleted
	}
	cb := t.completeCallback
	fields := logrus.Fields{
		"function":    "Finish",
		"path":        t.Path,
		"direction":   t.Direction.String(),
		"transferred": t.Transferred,
		"size":        t.Size,
	}
	t.mu.Unlock()

	if err != nil {
		fields["error"] = err.Error()
		logrus.WithFields(fields).Warn("Transfer failed")
	} else {
		logrus.WithFields(fields).Debug("Transfer completed")
	}

	if cb != nil {
		cb(err)
	}
}

// Pump copies src to dst through buf until src reports EOF, then finishes the
// transfer. When Size is known, reaching EOF early yields ErrShortTransfer.
func (t *Transfer) Pump(dst io.Writer, src io.Reader, buf []byte) (int64, error) {
	if len(buf) == 0 {
		t.Finish(ErrEmptyBuffer)
		return 0, ErrEmptyBuffer
	}
	if err := t.Begin(); err != nil {
		return 0, err
	}

	var moved int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				t.Finish(werr)
				return moved, werr
			}
			moved += int64(n)
			t.Advance(n)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			t.Finish(rerr)
			return moved, rerr
		}
	}

	if t.Size >= 0 && moved < t.Size {
		err := fmt.Errorf("%w: %d of %d bytes", ErrShortTransfer, moved, t.Size)
		t.Finish(err)
		return moved, err
	}
	t.Finish(nil)
	return moved, nil
}

// speedSmoothing weights the newest chunk in the moving average.
const speedSmoothing = 0.3

// updateTransferSpeed folds one chunk into the moving average. Caller holds mu.
func (t *Transfer) updateTransferSpeed(n int) {
	now := t.timeProvider.Now()
	elapsed := now.Sub(t.lastChunkTime).Seconds()
	t.lastChunkTime = now
	if elapsed <= 0 {
		return
	}

	rate := float64(n) / elapsed
	if t.transferSpeed == 0 {
		t.transferSpeed = rate
		return
	}
	t.transferSpeed += speedSmoothing * (rate - t.transferSpeed)
}

// GetProgress returns the progress as a percentage, or 0 when the size is unknown.
func (t *Transfer) GetProgress() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.Size <= 0 {
		return 0.0
	}
	return float64(t.Transferred) / float64(t.Size) * 100.0
}

// GetSpeed returns the smoothed transfer speed in bytes per second.
func (t *Transfer) GetSpeed() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transferSpeed
}

// GetState returns the current state.
func (t *Transfer) GetState() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.State
}

// GetTransferred returns the number of bytes moved so far.
func (t *Transfer) GetTransferred() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Transferred
}
