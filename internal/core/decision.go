package core

// Decision is the action a human (or the triage LLM, as a suggestion)
// picks for a paper.
type Decision string

const (
	DecisionDeepRead Decision = "deep_read"
	DecisionSkim     Decision = "skim"
	DecisionDrop     Decision = "drop"
)

// Decisions returns the enumerated decision set.
func Decisions() []Decision {
	return []Decision{DecisionDeepRead, DecisionSkim, DecisionDrop}
}

// ValidDecision checks membership in the enumerated set.
func ValidDecision(d Decision) bool {
	switch d {
	case DecisionDeepRead, DecisionSkim, DecisionDrop:
		return true
	default:
		return false
	}
}

// ParseDecision converts a string to a Decision, rejecting anything
// outside the enumerated set. Used at the resume boundary where an
// invalid value must not advance the run.
func ParseDecision(s string) (Decision, error) {
	d := Decision(s)
	if !ValidDecision(d) {
		return "", ErrValidation("INVALID_DECISION",
			"decision must be one of deep_read, skim, drop; got "+s)
	}
	return d, nil
}

// CoerceDecision maps arbitrary input to a valid Decision, falling
// back to skim. Used only for the LLM's suggested action, never for
// the human decision.
func CoerceDecision(s string) Decision {
	if d := Decision(s); ValidDecision(d) {
		return d
	}
	return DecisionSkim
}

// String returns the string representation of the decision.
func (d Decision) String() string {
	return string(d)
}
