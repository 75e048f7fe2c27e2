package core

import (
	"crypto/md5" //nolint:gosec // identifier derivation, not security
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// RunID uniquely identifies a run. It is derived deterministically from
// the source reference so a resubmission of the same paper maps to the
// same run instead of creating a duplicate.
type RunID string

// DeriveRunID computes the stable identifier for a source reference.
func DeriveRunID(source string) RunID {
	sum := md5.Sum([]byte(source)) //nolint:gosec
	return RunID(hex.EncodeToString(sum[:])[:16])
}

// Payload is the open, additive field map a run accumulates as steps
// execute. Fields are only ever added; no step deletes another step's
// fields.
type Payload map[string]any

// Well-known payload keys. The map stays open so persisted runs keep
// working when new fields appear.
const (
	KeyTitle    = "title"
	KeyAuthors  = "authors"
	KeyYear     = "year"
	KeyAbstract = "abstract"
	KeyPDFURL   = "pdf_url"

	KeyTriageSummary         = "triage_summary"
	KeyTriageContributions   = "triage_contributions"
	KeyTriageLimitations     = "triage_limitations"
	KeyTriageRelevance       = "triage_relevance"
	KeyTriageSuggestedAction = "triage_suggested_action"
	KeyTriageSuggestedTags   = "triage_suggested_tags"

	KeyArchiveItemID   = "archive_item_id"
	KeyReadingDocID    = "reading_doc_id"
	KeyHumanDecision   = "human_decision"
	KeyHumanTags       = "human_tags"
	KeyHumanComment    = "human_comment"
	KeyDeepOverview    = "deep_read_overview"
	KeyDeepInnovations = "deep_read_innovations"
	KeyDeepDirections  = "deep_read_directions"
)

// GetString returns the payload value for key as a string, or "" when
// absent or of another kind.
func (p Payload) GetString(key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

// GetInt returns the payload value for key as an int. JSON round-trips
// numbers as float64, so both kinds are accepted.
func (p Payload) GetInt(key string) int {
	switch v := p[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return 0
	}
}

// GetStrings returns the payload value for key as a string slice.
func (p Payload) GetStrings(key string) []string {
	switch v := p[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Run is the unit of persisted truth for one paper's journey through
// the pipeline.
type Run struct {
	ID        RunID     `json:"run_id"`
	Source    string    `json:"source_reference"`
	Phase     Phase     `json:"phase"`
	Payload   Payload   `json:"payload"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewRun creates a run for a source reference, entering the first
// phase of the pipeline.
func NewRun(source string) *Run {
	return &Run{
		ID:        DeriveRunID(source),
		Source:    source,
		Phase:     PhaseIngesting,
		Payload:   make(Payload),
		CreatedAt: time.Now(),
	}
}

// Advance moves the run to the next phase, enforcing graph order.
func (r *Run) Advance(next Phase) error {
	if !CanTransition(r.Phase, next) {
		return &DomainError{
			Category: ErrCatState,
			Code:     "INVALID_TRANSITION",
			Message:  fmt.Sprintf("cannot transition run %s from %s to %s", r.ID, r.Phase, next),
		}
	}
	r.Phase = next
	return nil
}

// Fail moves the run to the failed terminal phase, recording the
// cause. The error text never clears itself.
func (r *Run) Fail(err error) {
	if r.Phase.Terminal() {
		return
	}
	r.Phase = PhaseFailed
	if err != nil {
		r.Error = err.Error()
	}
}

// IsTerminal reports whether the run accepts no further transitions.
func (r *Run) IsTerminal() bool {
	return r.Phase.Terminal()
}

// Clone returns a deep copy. The pipeline hands a working copy to each
// step so a failed step cannot leave a half-mutated run behind.
func (r *Run) Clone() *Run {
	cp := *r
	cp.Payload = clonePayload(r.Payload)
	return &cp
}

func clonePayload(p Payload) Payload {
	if p == nil {
		return make(Payload)
	}
	// Payload values are JSON-shaped (strings, numbers, string
	// slices); a marshal round-trip is the simplest faithful copy.
	data, err := json.Marshal(p)
	if err != nil {
		out := make(Payload, len(p))
		for k, v := range p {
			out[k] = v
		}
		return out
	}
	var out Payload
	if err := json.Unmarshal(data, &out); err != nil {
		out = make(Payload, len(p))
		for k, v := range p {
			out[k] = v
		}
	}
	return out
}

// Validate checks run invariants.
func (r *Run) Validate() error {
	if r.ID == "" {
		return ErrValidation("RUN_ID_REQUIRED", "run ID cannot be empty")
	}
	if r.Source == "" {
		return ErrValidation("SOURCE_REQUIRED", "source reference cannot be empty")
	}
	if !ValidPhase(r.Phase) {
		return ErrValidation("INVALID_PHASE", fmt.Sprintf("invalid phase: %s", r.Phase))
	}
	if r.Phase == PhaseFailed && r.Error == "" {
		return ErrValidation("ERROR_REQUIRED", "failed run must carry an error")
	}
	return nil
}

// RunSummary is a listing row for status surfaces.
type RunSummary struct {
	ID        RunID     `json:"run_id"`
	Source    string    `json:"source_reference"`
	Phase     Phase     `json:"phase"`
	Title     string    `json:"title,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Summary projects the run into a listing row.
func (r *Run) Summary() RunSummary {
	return RunSummary{
		ID:        r.ID,
		Source:    r.Source,
		Phase:     r.Phase,
		Title:     r.Payload.GetString(KeyTitle),
		UpdatedAt: r.UpdatedAt,
	}
}
