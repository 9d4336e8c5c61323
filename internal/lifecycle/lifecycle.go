// Package lifecycle tracks the process phase so the health check can report draining.
package lifecycle

import "sync/atomic"

// Phase is the process lifecycle phase.
type Phase int32

const (
	PhaseServing Phase = iota
	PhaseDraining
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseServing:
		return "serving"
	case PhaseDraining:
		return "draining"
	case PhaseStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

var phase atomic.Int32

// SetPhase records the current phase. Call PhaseDraining when SIGTERM/SIGINT is received.
func SetPhase(p Phase) {
	phase.Store(int32(p))
}

// Current returns the current phase.
func Current() Phase {
	return Phase(phase.Load())
}

// IsShuttingDown returns true once draining has started; the health handler then returns 503.
func IsShuttingDown() bool {
	return Current() != PhaseServing
}
