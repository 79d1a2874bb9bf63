// Package transfer moves file content between device storage and a network
// connection through a pooled, fixed-length buffer.
//
// # Overview
//
// A Transfer tracks one stream: its device path, direction, expected size,
// bytes moved so far, state and an exponentially smoothed speed.
//
//	t := transfer.New("/main.py", size, transfer.DirectionOutgoing)
//	t.OnProgress(func(moved int64) {
//	    fmt.Printf("%d/%d\n", moved, size)
//	})
//	n, err := t.Pump(dataConn, file, buf.Bytes())
//
// Pump feeds only the valid prefix of every read to the writer, so a buffer
// reused across reads never leaks stale bytes from a longer previous read.
//
// Engines that drive their own read loop (the push upload, which reads in two
// phases) call Begin, Advance and Finish instead of Pump.
//
// # Transfer States
//
//	StatePending    // created, nothing moved yet
//	StateRunning    // bytes are flowing
//	StateCompleted  // source reached EOF or the expected size was reached
//	StateError      // a read or write failed
//
// # Deterministic Testing
//
// Speed accounting reads the clock through TimeProvider:
//
//	t.SetTimeProvider(mockClock)
//
// # Thread Safety
//
// Transfer methods are safe for concurrent use. Callbacks run synchronously on
// the goroutine moving the bytes.
package transfer
