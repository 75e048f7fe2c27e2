package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hugo-lorenzo-mato/paperflow/internal/core"
	"github.com/hugo-lorenzo-mato/paperflow/internal/logging"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type memStore struct {
	mu   sync.Mutex
	runs map[core.RunID]*core.Run

	saveErr error
}

func newMemStore() *memStore {
	return &memStore{runs: make(map[core.RunID]*core.Run)}
}

func (s *memStore) Save(_ context.Context, run *core.Run) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run.Clone()
	return nil
}

func (s *memStore) Load(_ context.Context, id core.RunID) (*core.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, nil
	}
	return run.Clone(), nil
}

func (s *memStore) List(_ context.Context) ([]core.RunSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.RunSummary, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, run.Summary())
	}
	return out, nil
}

type fakeFetcher struct {
	meta    *core.PaperMetadata
	err     error
	calls   int
	started chan struct{} // closed on first call, when set
	release chan struct{} // blocks the call until closed, when set
	once    sync.Once
}

func (f *fakeFetcher) Fetch(_ context.Context, _ string) (*core.PaperMetadata, error) {
	f.calls++
	if f.started != nil {
		f.once.Do(func() { close(f.started) })
	}
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.meta, nil
}

type fakeAnalyst struct {
	analysis   *core.TriageAnalysis
	note       *core.DeepReadNote
	analyzeErr error
	noteCalls  int
}

func (a *fakeAnalyst) Analyze(_ context.Context, _ core.TriageRequest) (*core.TriageAnalysis, error) {
	if a.analyzeErr != nil {
		return nil, a.analyzeErr
	}
	return a.analysis, nil
}

func (a *fakeAnalyst) WriteNote(_ context.Context, _ core.NoteRequest) (*core.DeepReadNote, error) {
	a.noteCalls++
	return a.note, nil
}

type fakeArchive struct {
	mu          sync.Mutex
	upserts     int
	docs        int
	updates     []core.ArchiveUpdate
	appends     map[string][]string
	appendErr   error
	upsertByRun map[core.RunID]string
}

func newFakeArchive() *fakeArchive {
	return &fakeArchive{
		appends:     make(map[string][]string),
		upsertByRun: make(map[core.RunID]string),
	}
}

func (a *fakeArchive) UpsertItem(_ context.Context, item core.ArchiveItem) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.upserts++
	if id, ok := a.upsertByRun[item.RunID]; ok {
		return id, nil
	}
	id := fmt.Sprintf("item-%d", len(a.upsertByRun)+1)
	a.upsertByRun[item.RunID] = id
	return id, nil
}

func (a *fakeArchive) CreateDocument(_ context.Context, _ core.ReadingDocument) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.docs++
	return fmt.Sprintf("doc-%d", a.docs), nil
}

func (a *fakeArchive) UpdateItem(_ context.Context, update core.ArchiveUpdate) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.updates = append(a.updates, update)
	return nil
}

func (a *fakeArchive) AppendToDocument(_ context.Context, docID, text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.appendErr != nil {
		return a.appendErr
	}
	a.appends[docID] = append(a.appends[docID], text)
	return nil
}

type fakeNotifier struct {
	mu      sync.Mutex
	cards   []core.DecisionPrompt
	texts   []string
	sendErr error
}

func (n *fakeNotifier) SendDecisionCard(_ context.Context, _ core.NotifyTarget, p core.DecisionPrompt) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sendErr != nil {
		return n.sendErr
	}
	n.cards = append(n.cards, p)
	return nil
}

func (n *fakeNotifier) SendText(_ context.Context, _ core.NotifyTarget, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.texts = append(n.texts, text)
	return nil
}

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

const testSource = "https://arxiv.org/abs/2401.00001"

type engineFixture struct {
	engine   *Engine
	store    *memStore
	fetcher  *fakeFetcher
	analyst  *fakeAnalyst
	archive  *fakeArchive
	notifier *fakeNotifier
}

func newEngineFixture() *engineFixture {
	f := &engineFixture{
		store: newMemStore(),
		fetcher: &fakeFetcher{meta: &core.PaperMetadata{
			Title:    "Scaling Laws Revisited",
			Authors:  []string{"A. Author", "B. Author"},
			Year:     2024,
			Abstract: "We revisit scaling laws under constrained compute.",
			PDFURL:   "https://arxiv.org/pdf/2401.00001",
		}},
		analyst: &fakeAnalyst{
			analysis: &core.TriageAnalysis{
				Summary:         "Revisits scaling laws.",
				Contributions:   "New fit for small models.",
				Limitations:     "Single benchmark family.",
				Relevance:       8,
				SuggestedAction: core.DecisionDeepRead,
				SuggestedTags:   []string{"scaling", "llm"},
			},
			note: &core.DeepReadNote{
				Overview:    "Detailed overview.",
				Innovations: "Compute-optimal refit.",
				Directions:  "Extend to multimodal.",
			},
		},
		archive:  newFakeArchive(),
		notifier: &fakeNotifier{},
	}
	pipe := NewPipeline(f.fetcher, f.analyst, f.archive)
	f.engine = NewEngine(f.store, pipe,
		WithNotifier(f.notifier),
		WithLogger(logging.NewNop().Logger))
	return f
}

func (f *engineFixture) startToSuspend(t *testing.T) *core.Run {
	t.Helper()
	res, err := f.engine.Start(context.Background(), testSource, StartOptions{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if res.Run.Phase != core.PhaseWaitingDecision {
		t.Fatalf("expected waiting_decision, got %s (error %q)", res.Run.Phase, res.Run.Error)
	}
	return res.Run
}

// ---------------------------------------------------------------------------
// Start
// ---------------------------------------------------------------------------

func TestEngineStartRunsToSuspendPoint(t *testing.T) {
	f := newEngineFixture()

	res, err := f.engine.Start(context.Background(), testSource, StartOptions{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	run := res.Run

	if run.ID != core.DeriveRunID(testSource) {
		t.Fatalf("run ID not derived from source: %s", run.ID)
	}
	if run.Phase != core.PhaseWaitingDecision {
		t.Fatalf("expected waiting_decision, got %s (error %q)", run.Phase, run.Error)
	}
	if got := run.Payload.GetString(core.KeyTitle); got != "Scaling Laws Revisited" {
		t.Fatalf("title not captured, got %q", got)
	}
	if run.Payload.GetString(core.KeyArchiveItemID) == "" {
		t.Fatal("archive item handle not persisted")
	}
	if f.archive.upserts != 1 {
		t.Fatalf("expected one archive upsert, got %d", f.archive.upserts)
	}

	if res.Prompt == nil {
		t.Fatal("expected a decision prompt at the suspend point")
	}
	if res.Prompt.SuggestedAction != core.DecisionDeepRead {
		t.Fatalf("prompt suggested action %q", res.Prompt.SuggestedAction)
	}

	// The suspended state is durable, not in-memory only.
	stored, err := f.store.Load(context.Background(), run.ID)
	if err != nil || stored == nil {
		t.Fatalf("stored run missing: %v", err)
	}
	if stored.Phase != core.PhaseWaitingDecision {
		t.Fatalf("stored phase %s", stored.Phase)
	}
}

func TestEngineStartEmptySourceRejected(t *testing.T) {
	f := newEngineFixture()
	_, err := f.engine.Start(context.Background(), "   ", StartOptions{})
	if !core.IsCategory(err, core.ErrCatValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestEngineStartSendsCardWhenTargetSet(t *testing.T) {
	f := newEngineFixture()
	target := &core.NotifyTarget{ReceiveID: "oc_1", ReceiveType: "chat_id"}

	if _, err := f.engine.Start(context.Background(), testSource, StartOptions{Notify: target}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(f.notifier.cards) != 1 {
		t.Fatalf("expected one decision card, got %d", len(f.notifier.cards))
	}
	if f.notifier.cards[0].Title != "Scaling Laws Revisited" {
		t.Fatalf("card title %q", f.notifier.cards[0].Title)
	}
}

func TestEngineStartCardFailureDoesNotFailRun(t *testing.T) {
	f := newEngineFixture()
	f.notifier.sendErr = errors.New("chat unreachable")
	target := &core.NotifyTarget{ReceiveID: "oc_1", ReceiveType: "chat_id"}

	res, err := f.engine.Start(context.Background(), testSource, StartOptions{Notify: target})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if res.Run.Phase != core.PhaseWaitingDecision {
		t.Fatalf("card failure must not fail the run, got %s", res.Run.Phase)
	}
}

func TestEngineStartExistingRunReturnedUntouched(t *testing.T) {
	f := newEngineFixture()
	first := f.startToSuspend(t)

	res, err := f.engine.Start(context.Background(), testSource, StartOptions{})
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if !res.AlreadyExisted {
		t.Fatal("second start should report the existing run")
	}
	if res.Run.Phase != core.PhaseWaitingDecision {
		t.Fatalf("existing run phase %s", res.Run.Phase)
	}
	if res.Prompt == nil {
		t.Fatal("existing suspended run should still yield a prompt")
	}
	if res.Run.Payload.GetString(core.KeyArchiveItemID) != first.Payload.GetString(core.KeyArchiveItemID) {
		t.Fatal("existing run state changed")
	}
	if f.archive.upserts != 1 {
		t.Fatalf("second start must not re-run steps, upserts %d", f.archive.upserts)
	}
}

func TestEngineStartRestartsFailedRunUnderSameID(t *testing.T) {
	f := newEngineFixture()
	f.fetcher.err = core.ErrExtraction("FETCH_FAILED", "upstream 503")

	res, err := f.engine.Start(context.Background(), testSource, StartOptions{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if res.Run.Phase != core.PhaseFailed {
		t.Fatalf("expected failed, got %s", res.Run.Phase)
	}
	if f.archive.upserts != 0 {
		t.Fatal("failed ingest must not reach the archive")
	}

	f.fetcher.err = nil
	res2, err := f.engine.Start(context.Background(), testSource, StartOptions{})
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if res2.AlreadyExisted {
		t.Fatal("failed run should restart, not be returned as-is")
	}
	if res2.Run.ID != res.Run.ID {
		t.Fatal("restart must reuse the same run ID")
	}
	if res2.Run.Phase != core.PhaseWaitingDecision {
		t.Fatalf("restarted run phase %s (error %q)", res2.Run.Phase, res2.Run.Error)
	}
	if res2.Run.Error != "" {
		t.Fatal("restart must start from fresh state, stale error kept")
	}
}

func TestEngineStartStepFailureRecordedNotPropagated(t *testing.T) {
	f := newEngineFixture()
	f.analyst.analyzeErr = core.ErrLLM(core.CodeParseFailed, "not valid JSON")

	res, err := f.engine.Start(context.Background(), testSource, StartOptions{})
	if err != nil {
		t.Fatalf("step failure must not surface as an operation error: %v", err)
	}
	if res.Run.Phase != core.PhaseFailed {
		t.Fatalf("expected failed, got %s", res.Run.Phase)
	}
	if res.Run.Error == "" {
		t.Fatal("failure cause not recorded on the run")
	}
	if f.archive.upserts != 0 {
		t.Fatalf("failed triage must not reach the archive, upserts %d", f.archive.upserts)
	}

	stored, _ := f.store.Load(context.Background(), res.Run.ID)
	if stored.Phase != core.PhaseFailed {
		t.Fatalf("failed state not persisted, stored phase %s", stored.Phase)
	}
}

func TestEngineStartPersistenceFailureIsFatal(t *testing.T) {
	f := newEngineFixture()
	f.store.saveErr = core.ErrPersistence(core.CodeSaveFailed, "disk full")

	_, err := f.engine.Start(context.Background(), testSource, StartOptions{})
	if !core.IsCategory(err, core.ErrCatPersistence) {
		t.Fatalf("expected persistence error, got %v", err)
	}
}

func TestEngineConcurrentStartSameSourceOneRefused(t *testing.T) {
	f := newEngineFixture()
	f.fetcher.started = make(chan struct{})
	f.fetcher.release = make(chan struct{})

	errs := make(chan error, 1)
	go func() {
		_, err := f.engine.Start(context.Background(), testSource, StartOptions{})
		errs <- err
	}()

	<-f.fetcher.started
	_, err := f.engine.Start(context.Background(), testSource, StartOptions{})
	var de *core.DomainError
	if !errors.As(err, &de) || de.Code != core.CodeRunInFlight {
		t.Fatalf("expected RUN_IN_FLIGHT while first start is mid-pipeline, got %v", err)
	}

	close(f.fetcher.release)
	if err := <-errs; err != nil {
		t.Fatalf("first start: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Resume
// ---------------------------------------------------------------------------

func TestEngineResumeDeepRead(t *testing.T) {
	f := newEngineFixture()
	suspended := f.startToSuspend(t)

	run, err := f.engine.Resume(context.Background(), suspended.ID, ResumeInput{
		Decision: "deep_read",
		Tags:     []string{"must-read"},
		Comment:  "benchmark section first",
	})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if run.Phase != core.PhaseCompleted {
		t.Fatalf("expected completed, got %s (error %q)", run.Phase, run.Error)
	}
	if run.Payload.GetString(core.KeyReadingDocID) == "" {
		t.Fatal("deep read must create a reading document")
	}
	if f.analyst.noteCalls != 1 {
		t.Fatalf("note generation calls %d", f.analyst.noteCalls)
	}

	if len(f.archive.updates) != 1 {
		t.Fatalf("expected one archive update, got %d", len(f.archive.updates))
	}
	up := f.archive.updates[0]
	if !up.DeepRead || up.ReadingDocID == "" {
		t.Fatalf("archive update missing deep-read fields: %+v", up)
	}
	if len(up.Tags) != 1 || up.Tags[0] != "must-read" {
		t.Fatalf("human tags not applied: %v", up.Tags)
	}
	if up.Comment != "benchmark section first" {
		t.Fatalf("comment not applied: %q", up.Comment)
	}
}

func TestEngineResumeSkimSkipsDeepRead(t *testing.T) {
	f := newEngineFixture()
	suspended := f.startToSuspend(t)

	run, err := f.engine.Resume(context.Background(), suspended.ID, ResumeInput{Decision: "skim"})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if run.Phase != core.PhaseCompleted {
		t.Fatalf("expected completed, got %s (error %q)", run.Phase, run.Error)
	}
	if f.analyst.noteCalls != 0 {
		t.Fatal("skim must not generate a deep-read note")
	}
	if f.archive.docs != 0 {
		t.Fatal("skim must not create a reading document")
	}
	up := f.archive.updates[0]
	if up.DeepRead {
		t.Fatal("skim update flagged as deep read")
	}
	// Tags default to the triage suggestion when the human sends none.
	if len(up.Tags) != 2 || up.Tags[0] != "scaling" {
		t.Fatalf("suggested tags not defaulted: %v", up.Tags)
	}
}

func TestEngineResumeInvalidDecisionLeavesRunWaiting(t *testing.T) {
	f := newEngineFixture()
	suspended := f.startToSuspend(t)

	_, err := f.engine.Resume(context.Background(), suspended.ID, ResumeInput{Decision: "archive"})
	if !core.IsCategory(err, core.ErrCatValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	stored, _ := f.store.Load(context.Background(), suspended.ID)
	if stored.Phase != core.PhaseWaitingDecision {
		t.Fatalf("run must stay resumable after a bad decision, got %s", stored.Phase)
	}

	// A corrected decision still lands.
	run, err := f.engine.Resume(context.Background(), suspended.ID, ResumeInput{Decision: "drop"})
	if err != nil {
		t.Fatalf("corrected resume: %v", err)
	}
	if run.Phase != core.PhaseCompleted {
		t.Fatalf("corrected resume phase %s", run.Phase)
	}
}

func TestEngineResumeUnknownRunIsStale(t *testing.T) {
	f := newEngineFixture()

	_, err := f.engine.Resume(context.Background(), core.RunID("deadbeefdeadbeef"), ResumeInput{Decision: "skim"})
	var de *core.DomainError
	if !errors.As(err, &de) || de.Code != core.CodeStaleResume {
		t.Fatalf("expected STALE_RESUME, got %v", err)
	}
}

func TestEngineSecondResumeIsStaleAndMutatesNothing(t *testing.T) {
	f := newEngineFixture()
	suspended := f.startToSuspend(t)

	if _, err := f.engine.Resume(context.Background(), suspended.ID, ResumeInput{Decision: "skim"}); err != nil {
		t.Fatalf("first resume: %v", err)
	}
	before, _ := f.store.Load(context.Background(), suspended.ID)

	_, err := f.engine.Resume(context.Background(), suspended.ID, ResumeInput{Decision: "deep_read"})
	var de *core.DomainError
	if !errors.As(err, &de) || de.Code != core.CodeStaleResume {
		t.Fatalf("expected STALE_RESUME on second resume, got %v", err)
	}

	after, _ := f.store.Load(context.Background(), suspended.ID)
	if after.Phase != before.Phase || after.Payload.GetString(core.KeyHumanDecision) != "skim" {
		t.Fatal("stale resume mutated persisted state")
	}
	if len(f.archive.updates) != 1 {
		t.Fatalf("stale resume reached the archive, updates %d", len(f.archive.updates))
	}
}

func TestEngineResumeIdempotentUpsertAfterRetriedFinalize(t *testing.T) {
	f := newEngineFixture()
	suspended := f.startToSuspend(t)

	// Simulate a crash after archive_base persisted but the decision
	// arrives again through a fresh start trigger: the stored item
	// handle must short-circuit a second upsert.
	res, err := f.engine.Start(context.Background(), testSource, StartOptions{})
	if err != nil {
		t.Fatalf("re-trigger: %v", err)
	}
	if !res.AlreadyExisted || f.archive.upserts != 1 {
		t.Fatalf("re-trigger duplicated the archive entry, upserts %d", f.archive.upserts)
	}
	if res.Run.Payload.GetString(core.KeyArchiveItemID) != suspended.Payload.GetString(core.KeyArchiveItemID) {
		t.Fatal("archive handle changed across re-trigger")
	}
}

// ---------------------------------------------------------------------------
// Status, triggers
// ---------------------------------------------------------------------------

func TestEngineStatus(t *testing.T) {
	f := newEngineFixture()
	run := f.startToSuspend(t)

	got, err := f.engine.Status(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if got.Phase != core.PhaseWaitingDecision {
		t.Fatalf("status phase %s", got.Phase)
	}

	_, err = f.engine.Status(context.Background(), core.RunID("missing"))
	if !core.IsCategory(err, core.ErrCatNotFound) {
		t.Fatalf("expected not_found, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Crash recovery
// ---------------------------------------------------------------------------

// seedStranded persists a run frozen at an intermediate phase, the
// state a crash between step boundaries leaves behind.
func (f *engineFixture) seedStranded(t *testing.T, phase core.Phase, mutate func(*core.Run)) *core.Run {
	t.Helper()
	run := core.NewRun(testSource)
	run.Payload[core.KeyTitle] = "Scaling Laws Revisited"
	run.Payload[core.KeyAuthors] = []string{"A. Author", "B. Author"}
	run.Payload[core.KeyYear] = 2024
	run.Payload[core.KeyAbstract] = "We revisit scaling laws under constrained compute."
	run.Payload[core.KeyPDFURL] = "https://arxiv.org/pdf/2401.00001"
	for run.Phase != phase {
		next := core.AllPhases()[core.PhaseOrder(run.Phase)+1]
		if err := run.Advance(next); err != nil {
			t.Fatalf("seeding phase %s: %v", phase, err)
		}
	}
	if mutate != nil {
		mutate(run)
	}
	if err := f.store.Save(context.Background(), run); err != nil {
		t.Fatalf("seed save: %v", err)
	}
	return run
}

func TestEngineStartRedrivesRunStrandedMidPipeline(t *testing.T) {
	f := newEngineFixture()
	f.seedStranded(t, core.PhaseExtracting, nil)

	res, err := f.engine.Start(context.Background(), testSource, StartOptions{})
	if err != nil {
		t.Fatalf("start on stranded run: %v", err)
	}
	if !res.AlreadyExisted {
		t.Fatal("stranded run not reported as existing")
	}
	if res.Run.Phase != core.PhaseWaitingDecision {
		t.Fatalf("stranded run not driven to the suspend point, got %s (error %q)",
			res.Run.Phase, res.Run.Error)
	}
	if res.Prompt == nil {
		t.Fatal("re-driven run must yield a decision prompt")
	}
	if f.fetcher.calls != 0 {
		t.Fatalf("completed ingest step re-ran, fetch calls %d", f.fetcher.calls)
	}
	if f.archive.upserts != 1 {
		t.Fatalf("re-drive archive upserts %d", f.archive.upserts)
	}

	stored, _ := f.store.Load(context.Background(), res.Run.ID)
	if stored.Phase != core.PhaseWaitingDecision {
		t.Fatalf("re-driven state not persisted, stored phase %s", stored.Phase)
	}
}

func TestEngineStartRedrivesRunStrandedMidResume(t *testing.T) {
	f := newEngineFixture()
	suspended := f.startToSuspend(t)

	// A crash right after the decision was persisted leaves the run at
	// resuming with the decision stored but no resume step executed.
	stored, _ := f.store.Load(context.Background(), suspended.ID)
	if err := stored.Advance(core.PhaseResuming); err != nil {
		t.Fatalf("advance: %v", err)
	}
	stored.Payload[core.KeyHumanDecision] = "deep_read"
	stored.Payload[core.KeyHumanTags] = []string{"must-read"}
	if err := f.store.Save(context.Background(), stored); err != nil {
		t.Fatalf("save: %v", err)
	}

	res, err := f.engine.Start(context.Background(), testSource, StartOptions{})
	if err != nil {
		t.Fatalf("start on interrupted resume: %v", err)
	}
	if !res.AlreadyExisted {
		t.Fatal("interrupted resume not reported as existing")
	}
	if res.Run.Phase != core.PhaseCompleted {
		t.Fatalf("interrupted resume not driven to completion, got %s (error %q)",
			res.Run.Phase, res.Run.Error)
	}
	if res.Run.Payload.GetString(core.KeyReadingDocID) == "" {
		t.Fatal("stored deep_read decision not honored")
	}
	if len(f.archive.updates) != 1 || !f.archive.updates[0].DeepRead {
		t.Fatalf("finalize update missing, updates %+v", f.archive.updates)
	}
}

func TestEngineStartRedrivesRunStrandedAtDeepReading(t *testing.T) {
	f := newEngineFixture()
	suspended := f.startToSuspend(t)

	// Crash after the reading document was created but before finalize:
	// the stored handle must short-circuit a duplicate document.
	stored, _ := f.store.Load(context.Background(), suspended.ID)
	for _, next := range []core.Phase{core.PhaseResuming, core.PhaseDeepReading} {
		if err := stored.Advance(next); err != nil {
			t.Fatalf("advance: %v", err)
		}
	}
	stored.Payload[core.KeyHumanDecision] = "deep_read"
	stored.Payload[core.KeyHumanTags] = []string{"must-read"}
	stored.Payload[core.KeyReadingDocID] = "doc-9"
	if err := f.store.Save(context.Background(), stored); err != nil {
		t.Fatalf("save: %v", err)
	}

	res, err := f.engine.Start(context.Background(), testSource, StartOptions{})
	if err != nil {
		t.Fatalf("start on interrupted deep read: %v", err)
	}
	if res.Run.Phase != core.PhaseCompleted {
		t.Fatalf("expected completed, got %s (error %q)", res.Run.Phase, res.Run.Error)
	}
	if f.analyst.noteCalls != 0 || f.archive.docs != 0 {
		t.Fatalf("existing reading document not short-circuited, notes %d docs %d",
			f.analyst.noteCalls, f.archive.docs)
	}
	if f.archive.updates[0].ReadingDocID != "doc-9" {
		t.Fatalf("finalize lost the stored document handle: %+v", f.archive.updates[0])
	}
}

func TestEngineStartRejectsResumePhaseWithoutStoredDecision(t *testing.T) {
	f := newEngineFixture()
	suspended := f.startToSuspend(t)

	stored, _ := f.store.Load(context.Background(), suspended.ID)
	if err := stored.Advance(core.PhaseResuming); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if err := f.store.Save(context.Background(), stored); err != nil {
		t.Fatalf("save: %v", err)
	}

	_, err := f.engine.Start(context.Background(), testSource, StartOptions{})
	var de *core.DomainError
	if !errors.As(err, &de) || de.Code != core.CodeStateCorrupted {
		t.Fatalf("expected STATE_CORRUPTED, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Thoughts
// ---------------------------------------------------------------------------

func TestEngineAddThoughtsAppendsToReadingDocument(t *testing.T) {
	f := newEngineFixture()
	suspended := f.startToSuspend(t)

	run, err := f.engine.Resume(context.Background(), suspended.ID, ResumeInput{Decision: "deep_read"})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	docID := run.Payload.GetString(core.KeyReadingDocID)

	got, err := f.engine.AddThoughts(context.Background(), run.ID, "the eval setup feels thin")
	if err != nil {
		t.Fatalf("add thoughts: %v", err)
	}
	if got.ID != run.ID {
		t.Fatalf("returned run %s", got.ID)
	}
	if texts := f.archive.appends[docID]; len(texts) != 1 || texts[0] != "the eval setup feels thin" {
		t.Fatalf("thoughts not appended to %s: %v", docID, f.archive.appends)
	}
}

func TestEngineAddThoughtsRequiresReadingDocument(t *testing.T) {
	f := newEngineFixture()
	suspended := f.startToSuspend(t)

	if _, err := f.engine.Resume(context.Background(), suspended.ID, ResumeInput{Decision: "skim"}); err != nil {
		t.Fatalf("resume: %v", err)
	}

	_, err := f.engine.AddThoughts(context.Background(), suspended.ID, "interesting")
	if !core.IsCategory(err, core.ErrCatValidation) {
		t.Fatalf("skimmed run has no document, expected validation error, got %v", err)
	}

	_, err = f.engine.AddThoughts(context.Background(), core.RunID("missing"), "interesting")
	if !core.IsCategory(err, core.ErrCatNotFound) {
		t.Fatalf("expected not_found, got %v", err)
	}

	_, err = f.engine.AddThoughts(context.Background(), suspended.ID, "   ")
	if !core.IsCategory(err, core.ErrCatValidation) {
		t.Fatalf("expected validation error for empty text, got %v", err)
	}
}

func TestEngineDuplicateTriggerSuppressed(t *testing.T) {
	f := newEngineFixture()

	key := "om_message_123"
	if f.engine.IsDuplicateTrigger(key) {
		t.Fatal("first trigger suppressed")
	}
	if !f.engine.IsDuplicateTrigger(key) {
		t.Fatal("duplicate trigger admitted")
	}
	if f.engine.IsDuplicateTrigger("") {
		t.Fatal("empty key suppressed")
	}
}

func TestTriggerKeyBucketsBySourceAndWindow(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 3, 0, 0, time.UTC)

	if TriggerKey(testSource, at) != TriggerKey(testSource, at.Add(2*time.Minute)) {
		t.Fatal("deliveries inside one window must collapse to one key")
	}
	if TriggerKey(testSource, at) == TriggerKey(testSource, at.Add(DedupTTL)) {
		t.Fatal("a later window must produce a fresh key")
	}
	if TriggerKey(testSource, at) == TriggerKey("https://arxiv.org/abs/2402.99999", at) {
		t.Fatal("different sources must not share a key")
	}
}
