package workflow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/paperflow/internal/core"
	"github.com/hugo-lorenzo-mato/paperflow/internal/metrics"
)

// Engine is the public entry point of the pipeline: start a run,
// resume it with a human decision, report its status. The suspend
// point is not a blocked goroutine; the engine persists the run at
// waiting_decision and returns, and Resume is a fresh invocation that
// reloads the run by ID.
type Engine struct {
	store    core.RunStore
	guard    *Guard
	dedup    Deduper
	exec     *Executor
	pipeline *Pipeline
	notifier core.Notifier
	logger   *slog.Logger
}

// EngineOption configures the engine.
type EngineOption func(*Engine)

// WithNotifier sets the decision-delivery collaborator. Without one,
// suspend points still persist and return; no card goes out.
func WithNotifier(n core.Notifier) EngineOption {
	return func(e *Engine) { e.notifier = n }
}

// WithDeduper replaces the default in-process trigger deduper.
func WithDeduper(d Deduper) EngineOption {
	return func(e *Engine) { e.dedup = d }
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine creates an engine. The store, pipeline and guard are
// required; collaborators arrive through the pipeline.
func NewEngine(store core.RunStore, pipeline *Pipeline, opts ...EngineOption) *Engine {
	e := &Engine{
		store:    store,
		guard:    NewGuard(),
		dedup:    NewTTLDeduper(DedupTTL),
		pipeline: pipeline,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.exec = NewExecutor(e.logger)
	return e
}

// StartOptions tunes a single Start invocation.
type StartOptions struct {
	// Notify, when set, receives the decision card at the suspend
	// point. Card delivery failure is logged, never fatal.
	Notify *core.NotifyTarget
}

// StartResult is what Start hands back to the caller.
type StartResult struct {
	Run *core.Run
	// Prompt is set when the run sits at the suspend point, whether
	// this call drove it there or found it already waiting.
	Prompt *core.DecisionPrompt
	// AlreadyExisted reports that a non-failed run for this source was
	// already persisted. A run found between step boundaries is
	// re-driven toward its next stable phase before being returned.
	AlreadyExisted bool
}

// Start derives the run ID from the source, admits the run, and drives
// the pipeline from ingesting to the suspend point, persisting at
// every step boundary so a crash mid-pipeline resumes from the last
// completed step rather than from scratch. A failed prior run for the
// same source is restarted as a fresh state under the same ID; a run
// at the suspend point or completed is returned untouched; a run
// stranded at any other phase is re-driven from where it stopped.
func (e *Engine) Start(ctx context.Context, source string, opts StartOptions) (*StartResult, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, core.ErrValidation(core.CodeSourceInvalid, "source reference cannot be empty")
	}

	id := core.DeriveRunID(source)
	ticket, err := e.guard.Admit(id)
	if err != nil {
		return nil, err
	}
	defer ticket.Release()

	existing, err := e.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Phase != core.PhaseFailed {
		return e.recoverExisting(ctx, existing, opts)
	}

	run := core.NewRun(source)
	if err := e.save(ctx, run); err != nil {
		return nil, err
	}
	metrics.RunStarted()
	e.logger.Info("run started", slog.String("run_id", string(run.ID)), slog.String("source", source))

	run, err = e.drive(ctx, run, e.pipeline.StartSteps())
	if err != nil {
		return nil, err
	}

	return e.startResult(ctx, run, opts, false), nil
}

// recoverExisting handles a persisted non-failed run found by Start.
// Stable phases are returned untouched. A run stranded between step
// boundaries, typically after a process crash, is re-driven from its
// last persisted phase using the idempotent step short-circuits, so no
// external write repeats.
func (e *Engine) recoverExisting(ctx context.Context, run *core.Run, opts StartOptions) (*StartResult, error) {
	switch run.Phase {
	case core.PhaseWaitingDecision, core.PhaseCompleted:
		e.logger.Info("run already exists",
			slog.String("run_id", string(run.ID)),
			slog.String("phase", string(run.Phase)))
		res := &StartResult{Run: run, AlreadyExisted: true}
		if run.Phase == core.PhaseWaitingDecision {
			prompt := BuildDecisionPrompt(run)
			res.Prompt = &prompt
		}
		return res, nil

	case core.PhaseResuming, core.PhaseDeepReading:
		decision, err := core.ParseDecision(run.Payload.GetString(core.KeyHumanDecision))
		if err != nil {
			return nil, core.ErrPersistence(core.CodeStateCorrupted,
				"run "+string(run.ID)+" is past the suspend point without a stored decision")
		}
		e.logger.Info("re-driving interrupted resume",
			slog.String("run_id", string(run.ID)),
			slog.String("phase", string(run.Phase)),
			slog.String("decision", string(decision)))
		run, err = e.drive(ctx, run, e.pipeline.ResumeStepsFrom(run.Phase, decision))
		if err != nil {
			return nil, err
		}
		return &StartResult{Run: run, AlreadyExisted: true}, nil

	default:
		e.logger.Info("re-driving interrupted run",
			slog.String("run_id", string(run.ID)),
			slog.String("phase", string(run.Phase)))
		run, err := e.drive(ctx, run, e.pipeline.StepsFrom(run.Phase))
		if err != nil {
			return nil, err
		}
		return e.startResult(ctx, run, opts, true), nil
	}
}

// startResult assembles the Start return value and, when the run sits
// at the suspend point, delivers the decision card.
func (e *Engine) startResult(ctx context.Context, run *core.Run, opts StartOptions, existed bool) *StartResult {
	res := &StartResult{Run: run, AlreadyExisted: existed}
	if run.Phase == core.PhaseWaitingDecision {
		prompt := BuildDecisionPrompt(run)
		res.Prompt = &prompt
		e.deliverCard(ctx, opts.Notify, prompt)
	}
	return res
}

// ResumeInput carries the external decision back into a suspended run.
type ResumeInput struct {
	Decision string
	Tags     []string
	Comment  string
}

// Resume reloads the run, validates that it sits at the suspend point,
// and drives the resume branch to a terminal phase. An invalid
// decision value leaves the run at waiting_decision so a corrected
// decision can still be submitted; a run anywhere else yields a
// stale-resume error with no state mutation.
func (e *Engine) Resume(ctx context.Context, id core.RunID, input ResumeInput) (*core.Run, error) {
	decision, err := core.ParseDecision(input.Decision)
	if err != nil {
		return nil, err
	}

	ticket, err := e.guard.Admit(id)
	if err != nil {
		return nil, err
	}
	defer ticket.Release()

	run, err := e.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, core.ErrStaleResume(id, "")
	}
	if run.Phase != core.PhaseWaitingDecision {
		return nil, core.ErrStaleResume(id, run.Phase)
	}

	if err := run.Advance(core.PhaseResuming); err != nil {
		return nil, err
	}
	run.Payload[core.KeyHumanDecision] = string(decision)
	tags := input.Tags
	if len(tags) == 0 {
		tags = run.Payload.GetStrings(core.KeyTriageSuggestedTags)
	}
	run.Payload[core.KeyHumanTags] = tags
	run.Payload[core.KeyHumanComment] = input.Comment

	if err := e.save(ctx, run); err != nil {
		return nil, err
	}
	metrics.RunResumed()
	e.logger.Info("run resumed",
		slog.String("run_id", string(id)),
		slog.String("decision", string(decision)))

	return e.drive(ctx, run, e.pipeline.ResumeSteps(decision))
}

// AddThoughts appends reader thoughts to a run's reading document.
// Only runs that went through deep read have a document to write to;
// the append goes straight to the archive, the run state itself does
// not change.
func (e *Engine) AddThoughts(ctx context.Context, id core.RunID, text string) (*core.Run, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, core.ErrValidation("EMPTY_THOUGHTS", "thoughts text cannot be empty")
	}

	run, err := e.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, core.ErrNotFound("run", string(id))
	}

	docID := run.Payload.GetString(core.KeyReadingDocID)
	if docID == "" {
		return nil, core.ErrValidation("NO_READING_DOC",
			"run "+string(id)+" has no reading document; thoughts need a deep-read run")
	}

	if err := e.pipeline.Archive().AppendToDocument(ctx, docID, text); err != nil {
		return nil, err
	}
	e.logger.Info("thoughts appended",
		slog.String("run_id", string(id)),
		slog.String("doc_id", docID))
	return run, nil
}

// Status returns the run's current phase and payload snapshot.
// Read-only; no guard needed.
func (e *Engine) Status(ctx context.Context, id core.RunID) (*core.Run, error) {
	run, err := e.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, core.ErrNotFound("run", string(id))
	}
	return run, nil
}

// List returns summaries of all persisted runs.
func (e *Engine) List(ctx context.Context) ([]core.RunSummary, error) {
	return e.store.List(ctx)
}

// IsDuplicateTrigger checks and records a trigger fingerprint at the
// ingestion boundary. Purely advisory; see Deduper.
func (e *Engine) IsDuplicateTrigger(key string) bool {
	if e.dedup.IsDuplicate(key) {
		metrics.TriggerSuppressed()
		return true
	}
	return false
}

// drive executes steps in order, persisting after each. The loop stops
// when a step fails; a persistence error aborts the operation itself.
func (e *Engine) drive(ctx context.Context, run *core.Run, steps []Step) (*core.Run, error) {
	for _, step := range steps {
		run = e.exec.Execute(ctx, step, run)
		if err := e.save(ctx, run); err != nil {
			return nil, err
		}
		if run.Phase == core.PhaseFailed {
			metrics.RunFinished("failed")
			return run, nil
		}
	}
	if run.Phase == core.PhaseCompleted {
		metrics.RunFinished("completed")
	}
	return run, nil
}

func (e *Engine) save(ctx context.Context, run *core.Run) error {
	if err := e.store.Save(ctx, run); err != nil {
		e.logger.Error("state save failed",
			slog.String("run_id", string(run.ID)),
			slog.String("error", err.Error()))
		return err
	}
	return nil
}

func (e *Engine) deliverCard(ctx context.Context, target *core.NotifyTarget, prompt core.DecisionPrompt) {
	if e.notifier == nil || target == nil {
		return
	}
	if err := e.notifier.SendDecisionCard(ctx, *target, prompt); err != nil {
		// Delivery is fire-and-forget: the archive already reflects
		// the triage result, so a lost card only delays the human.
		e.logger.Error("decision card delivery failed",
			slog.String("run_id", string(prompt.RunID)),
			slog.String("error", err.Error()))
	}
}

// BuildDecisionPrompt projects the persisted payload into the
// human-facing decision digest.
func BuildDecisionPrompt(run *core.Run) core.DecisionPrompt {
	return core.DecisionPrompt{
		RunID:           run.ID,
		Title:           run.Payload.GetString(core.KeyTitle),
		SourceURL:       run.Source,
		Summary:         run.Payload.GetString(core.KeyTriageSummary),
		Contributions:   run.Payload.GetString(core.KeyTriageContributions),
		Relevance:       run.Payload.GetInt(core.KeyTriageRelevance),
		SuggestedAction: core.CoerceDecision(run.Payload.GetString(core.KeyTriageSuggestedAction)),
		SuggestedTags:   run.Payload.GetStrings(core.KeyTriageSuggestedTags),
	}
}

// TriggerKey fingerprints an external trigger for duplicate
// suppression: the source bucketed to the dedup TTL, so repeated
// deliveries of the same message within the window collapse.
func TriggerKey(source string, at time.Time) string {
	bucket := at.UTC().Truncate(DedupTTL).Format(time.RFC3339)
	sum := sha256.Sum256([]byte(source + "|" + bucket))
	return hex.EncodeToString(sum[:16])
}
