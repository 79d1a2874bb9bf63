package ftp

import "sync/atomic"

// Gate is the process-wide busy flag: at most one command executes at a time
// across every session and every listener. A second command is rejected, not
// queued.
type Gate struct {
	busy atomic.Bool
}

// TryAcquire takes the gate if it is free.
func (g *Gate) TryAcquire() bool {
	return g.busy.CompareAndSwap(false, true)
}

// Release frees the gate.
func (g *Gate) Release() {
	g.busy.Store(false)
}

// Busy reports whether a command currently holds the gate.
func (g *Gate) Busy() bool {
	return g.busy.Load()
}
