package core

import "fmt"

// Phase represents a run's position in the pipeline state machine.
type Phase string

const (
	// PhaseIngesting is the first phase where the paper source is
	// resolved and its metadata fetched.
	PhaseIngesting Phase = "ingesting"

	// PhaseExtracting is the second phase where the paper content is
	// made available for analysis (the LLM reads the PDF by URL, so
	// this phase only validates that a PDF location exists).
	PhaseExtracting Phase = "extracting"

	// PhaseTriaging is the third phase where the LLM produces the
	// triage analysis and the base archive entry is written.
	PhaseTriaging Phase = "triaging"

	// PhaseWaitingDecision is the single suspend point. The run is
	// persisted and control returns to the caller; no goroutine or
	// timer is held open while a human decides.
	PhaseWaitingDecision Phase = "waiting_decision"

	// PhaseResuming is entered when an external decision arrives and
	// the run is re-driven toward a terminal phase.
	PhaseResuming Phase = "resuming"

	// PhaseDeepReading runs the long-form LLM analysis and creates the
	// reading document. Only reached when the decision is deep_read.
	PhaseDeepReading Phase = "deep_reading"

	// PhaseCompleted is the successful terminal phase.
	PhaseCompleted Phase = "completed"

	// PhaseFailed is the failure terminal phase. The run keeps the
	// error that put it there.
	PhaseFailed Phase = "failed"
)

// AllPhases returns all phases in graph order.
func AllPhases() []Phase {
	return []Phase{
		PhaseIngesting,
		PhaseExtracting,
		PhaseTriaging,
		PhaseWaitingDecision,
		PhaseResuming,
		PhaseDeepReading,
		PhaseCompleted,
		PhaseFailed,
	}
}

// PhaseOrder returns the numeric order of a phase (0-indexed).
// PhaseFailed is reachable from anywhere and sorts last.
func PhaseOrder(p Phase) int {
	switch p {
	case PhaseIngesting:
		return 0
	case PhaseExtracting:
		return 1
	case PhaseTriaging:
		return 2
	case PhaseWaitingDecision:
		return 3
	case PhaseResuming:
		return 4
	case PhaseDeepReading:
		return 5
	case PhaseCompleted:
		return 6
	case PhaseFailed:
		return 7
	default:
		return -1
	}
}

// ValidPhase checks if a phase string is valid.
func ValidPhase(p Phase) bool {
	return PhaseOrder(p) >= 0
}

// ParsePhase converts a string to a Phase with validation.
func ParsePhase(s string) (Phase, error) {
	p := Phase(s)
	if !ValidPhase(p) {
		return "", fmt.Errorf("invalid phase: %s", s)
	}
	return p, nil
}

// Terminal reports whether the phase accepts no further transitions.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// CanTransition reports whether moving from p to next follows the
// pipeline graph. Transitions are monotonic: a run never regresses to
// an earlier phase, and any phase may move to failed.
func CanTransition(p, next Phase) bool {
	if p.Terminal() {
		return false
	}
	if next == PhaseFailed {
		return true
	}
	switch p {
	case PhaseIngesting:
		return next == PhaseExtracting
	case PhaseExtracting:
		return next == PhaseTriaging
	case PhaseTriaging:
		return next == PhaseWaitingDecision
	case PhaseWaitingDecision:
		return next == PhaseResuming
	case PhaseResuming:
		return next == PhaseDeepReading || next == PhaseCompleted
	case PhaseDeepReading:
		return next == PhaseCompleted
	default:
		return false
	}
}

// String returns the string representation of the phase.
func (p Phase) String() string {
	return string(p)
}

// Description returns a human-readable description of the phase.
func (p Phase) Description() string {
	switch p {
	case PhaseIngesting:
		return "Resolving the paper source and fetching metadata"
	case PhaseExtracting:
		return "Preparing paper content for analysis"
	case PhaseTriaging:
		return "Generating the triage analysis and base archive entry"
	case PhaseWaitingDecision:
		return "Waiting for a human decision"
	case PhaseResuming:
		return "Applying the human decision"
	case PhaseDeepReading:
		return "Generating the deep-read note and reading document"
	case PhaseCompleted:
		return "Run finished"
	case PhaseFailed:
		return "Run failed"
	default:
		return "Unknown phase"
	}
}
