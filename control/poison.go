package control

import (
	"errors"
	"sync/atomic"
)

// ErrPoisoned is returned by Poison.Check once Kill has been called.
var ErrPoisoned = errors.New("control: query cancelled")

// Poison is an atomic cancellation flag, one per running Executor.Run
// invocation, mirroring cozo's Poison::check() — a cheap, lock-free signal
// an out-of-band caller (another goroutine holding the same Poison) can use
// to ask a long-running imperative program to stop at its next statement or
// loop-iteration boundary.
type Poison struct {
	killed atomic.Bool
}

// Kill marks the Poison as triggered. Safe to call from any goroutine, any
// number of times.
func (p *Poison) Kill() {
	if p == nil {
		return
	}
	p.killed.Store(true)
}

// Check returns ErrPoisoned once Kill has been called, nil otherwise. A nil
// Poison is never triggered, so callers that don't wire up cancellation can
// pass nil safely.
func (p *Poison) Check() error {
	if p == nil {
		return nil
	}
	if p.killed.Load() {
		return ErrPoisoned
	}
	return nil
}
