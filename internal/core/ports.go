package core

import "context"

// =============================================================================
// Run Store Port
// =============================================================================

// RunStore defines the contract for durable run persistence. Save must
// be atomic per run: a crash immediately after Save returns leaves the
// new state recoverable, and a reader never observes a half-written
// state. Storage failures surface as persistence-category DomainErrors
// and are fatal to the calling operation.
type RunStore interface {
	// Save persists the full run, replacing any prior value for its ID.
	Save(ctx context.Context, run *Run) error

	// Load retrieves a run by ID. Returns nil run and no error when
	// the run does not exist.
	Load(ctx context.Context, id RunID) (*Run, error)

	// List returns summaries of all persisted runs, newest first.
	List(ctx context.Context) ([]RunSummary, error)
}

// =============================================================================
// Metadata/Extraction Port
// =============================================================================

// PaperMetadata is what the extraction collaborator resolves for a
// source reference.
type PaperMetadata struct {
	Title    string
	Authors  []string
	Year     int
	Abstract string
	PDFURL   string
}

// MetadataFetcher resolves a source reference (arXiv URL) into paper
// metadata. Unreachable or unparseable sources fail with an
// extraction-category DomainError.
type MetadataFetcher interface {
	Fetch(ctx context.Context, source string) (*PaperMetadata, error)
}

// =============================================================================
// Language-Model Port
// =============================================================================

// TriageRequest is the input to the triage analysis.
type TriageRequest struct {
	Title    string
	Abstract string
	PDFURL   string
}

// TriageAnalysis is the structured triage output. The collaborator
// guarantees a parseable structure or returns an llm-category error;
// the engine never repairs malformed output.
type TriageAnalysis struct {
	Summary         string   `json:"summary"`
	Contributions   string   `json:"contributions"`
	Limitations     string   `json:"limitations"`
	Relevance       int      `json:"relevance"`
	SuggestedAction Decision `json:"suggested_action"`
	SuggestedTags   []string `json:"suggested_tags"`
}

// NoteRequest is the input to the deep-read note generation.
type NoteRequest struct {
	Title         string
	Abstract      string
	TriageSummary string
	PDFURL        string
}

// DeepReadNote is the long-form note produced for a deep read.
type DeepReadNote struct {
	Overview    string `json:"overview"`
	Innovations string `json:"innovations"`
	Directions  string `json:"directions"`
}

// Analyst defines the language-model collaborator contract.
type Analyst interface {
	// Analyze produces the structured triage analysis for a paper.
	Analyze(ctx context.Context, req TriageRequest) (*TriageAnalysis, error)

	// WriteNote produces the long-form deep-read note.
	WriteNote(ctx context.Context, req NoteRequest) (*DeepReadNote, error)
}

// =============================================================================
// Archive Port
// =============================================================================

// ArchiveItem describes the base archive entry for a paper.
type ArchiveItem struct {
	RunID    RunID
	Title    string
	Link     string
	Summary  string
	Tags     []string
	DeepRead bool
}

// ArchiveUpdate carries the fields applied to an existing entry after
// the human decision lands.
type ArchiveUpdate struct {
	ItemID       string
	Title        string
	DeepRead     bool
	ReadingDocID string
	Tags         []string
	Comment      string
}

// ReadingDocument is the long-form document created for a deep read.
type ReadingDocument struct {
	Title       string
	Overview    string
	Innovations string
	Directions  string
}

// Archive defines the knowledge-base collaborator contract. All
// operations except AppendToDocument are idempotent under repeated
// identical calls; UpsertItem is keyed by run ID so a re-run never
// creates a duplicate entry.
type Archive interface {
	UpsertItem(ctx context.Context, item ArchiveItem) (itemID string, err error)
	CreateDocument(ctx context.Context, doc ReadingDocument) (docID string, err error)
	UpdateItem(ctx context.Context, update ArchiveUpdate) error

	// AppendToDocument adds reader-supplied text to the end of an
	// existing reading document. Each call appends a new block.
	AppendToDocument(ctx context.Context, docID, text string) error
}

// =============================================================================
// Decision-Delivery Port
// =============================================================================

// DecisionPrompt is the human-facing digest emitted at the suspend
// point, together with the enumerated decisions. Ephemeral: it is
// rebuilt from the persisted payload, never stored on its own, and
// never contains secrets.
type DecisionPrompt struct {
	RunID           RunID    `json:"run_id"`
	Title           string   `json:"title"`
	SourceURL       string   `json:"source_url"`
	Summary         string   `json:"summary"`
	Contributions   string   `json:"contributions"`
	Relevance       int      `json:"relevance"`
	SuggestedAction Decision `json:"suggested_action"`
	SuggestedTags   []string `json:"suggested_tags"`
}

// Options returns the decisions the card offers.
func (p DecisionPrompt) Options() []Decision {
	return Decisions()
}

// NotifyTarget identifies where decision cards and progress messages
// go (a chat or a single user).
type NotifyTarget struct {
	ReceiveID   string
	ReceiveType string
}

// Notifier defines the decision-delivery collaborator contract.
// Delivery is fire-and-forget from the engine's perspective: failures
// degrade to logged errors, never to pipeline failures.
type Notifier interface {
	SendDecisionCard(ctx context.Context, target NotifyTarget, prompt DecisionPrompt) error
	SendText(ctx context.Context, target NotifyTarget, text string) error
}
