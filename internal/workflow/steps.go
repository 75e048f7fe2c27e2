package workflow

import (
	"context"
	"fmt"

	"github.com/hugo-lorenzo-mato/paperflow/internal/core"
)

// ingestStep resolves the source into paper metadata.
type ingestStep struct {
	fetcher core.MetadataFetcher
}

func (s *ingestStep) Name() string { return "ingest" }

func (s *ingestStep) Run(ctx context.Context, run *core.Run) error {
	if run.Source == "" {
		return core.ErrValidation(core.CodeSourceInvalid, "missing source reference")
	}

	meta, err := s.fetcher.Fetch(ctx, run.Source)
	if err != nil {
		return err
	}

	run.Payload[core.KeyTitle] = meta.Title
	run.Payload[core.KeyAuthors] = meta.Authors
	run.Payload[core.KeyYear] = meta.Year
	run.Payload[core.KeyAbstract] = meta.Abstract
	run.Payload[core.KeyPDFURL] = meta.PDFURL

	return run.Advance(core.PhaseExtracting)
}

// extractStep verifies the paper content is reachable. The LLM reads
// the PDF directly by URL, so no local text extraction happens here.
type extractStep struct{}

func (s *extractStep) Name() string { return "extract" }

func (s *extractStep) Run(_ context.Context, run *core.Run) error {
	if run.Payload.GetString(core.KeyPDFURL) == "" {
		return core.ErrExtraction("NO_PDF_URL", "no PDF URL resolved for source")
	}
	return run.Advance(core.PhaseTriaging)
}

// triageStep asks the LLM for the triage analysis.
type triageStep struct {
	analyst core.Analyst
}

func (s *triageStep) Name() string { return "triage" }

func (s *triageStep) Run(ctx context.Context, run *core.Run) error {
	title := run.Payload.GetString(core.KeyTitle)
	abstract := run.Payload.GetString(core.KeyAbstract)
	if title == "" {
		return core.ErrValidation("MISSING_TITLE", "missing required field: title")
	}
	if abstract == "" {
		return core.ErrValidation("MISSING_ABSTRACT", "missing required field: abstract")
	}

	analysis, err := s.analyst.Analyze(ctx, core.TriageRequest{
		Title:    title,
		Abstract: abstract,
		PDFURL:   run.Payload.GetString(core.KeyPDFURL),
	})
	if err != nil {
		return err
	}

	run.Payload[core.KeyTriageSummary] = analysis.Summary
	run.Payload[core.KeyTriageContributions] = analysis.Contributions
	run.Payload[core.KeyTriageLimitations] = analysis.Limitations
	run.Payload[core.KeyTriageRelevance] = analysis.Relevance
	run.Payload[core.KeyTriageSuggestedAction] = string(core.CoerceDecision(string(analysis.SuggestedAction)))
	run.Payload[core.KeyTriageSuggestedTags] = analysis.SuggestedTags

	return nil
}

// archiveBaseStep writes the base archive entry and moves the run to
// the suspend point. The upsert is keyed by run ID and the stored
// handle short-circuits re-entry, so a restart after a crash between
// save and upsert never duplicates the entry.
type archiveBaseStep struct {
	archive core.Archive
}

func (s *archiveBaseStep) Name() string { return "archive_base" }

func (s *archiveBaseStep) Run(ctx context.Context, run *core.Run) error {
	if run.Payload.GetString(core.KeyArchiveItemID) != "" {
		return run.Advance(core.PhaseWaitingDecision)
	}

	itemID, err := s.archive.UpsertItem(ctx, core.ArchiveItem{
		RunID:   run.ID,
		Title:   run.Payload.GetString(core.KeyTitle),
		Link:    run.Source,
		Summary: run.Payload.GetString(core.KeyTriageSummary),
		Tags:    run.Payload.GetStrings(core.KeyTriageSuggestedTags),
	})
	if err != nil {
		return err
	}

	run.Payload[core.KeyArchiveItemID] = itemID
	return run.Advance(core.PhaseWaitingDecision)
}

// deepReadStep generates the long-form note and creates the reading
// document. Idempotent through the stored document handle.
type deepReadStep struct {
	analyst core.Analyst
	archive core.Archive
}

func (s *deepReadStep) Name() string { return "deep_read" }

func (s *deepReadStep) Run(ctx context.Context, run *core.Run) error {
	if run.Phase != core.PhaseDeepReading {
		if err := run.Advance(core.PhaseDeepReading); err != nil {
			return err
		}
	}
	if run.Payload.GetString(core.KeyReadingDocID) != "" {
		return nil
	}

	title := run.Payload.GetString(core.KeyTitle)
	note, err := s.analyst.WriteNote(ctx, core.NoteRequest{
		Title:         title,
		Abstract:      run.Payload.GetString(core.KeyAbstract),
		TriageSummary: run.Payload.GetString(core.KeyTriageSummary),
		PDFURL:        run.Payload.GetString(core.KeyPDFURL),
	})
	if err != nil {
		return err
	}

	run.Payload[core.KeyDeepOverview] = note.Overview
	run.Payload[core.KeyDeepInnovations] = note.Innovations
	run.Payload[core.KeyDeepDirections] = note.Directions

	docID, err := s.archive.CreateDocument(ctx, core.ReadingDocument{
		Title:       title,
		Overview:    note.Overview,
		Innovations: note.Innovations,
		Directions:  note.Directions,
	})
	if err != nil {
		return err
	}

	run.Payload[core.KeyReadingDocID] = docID
	return nil
}

// finalizeStep applies the human decision to the archive entry and
// completes the run. Update, not insert: the base entry already
// exists.
type finalizeStep struct {
	archive core.Archive
}

func (s *finalizeStep) Name() string { return "finalize" }

func (s *finalizeStep) Run(ctx context.Context, run *core.Run) error {
	itemID := run.Payload.GetString(core.KeyArchiveItemID)
	if itemID == "" {
		return core.ErrArchive("NO_ITEM_ID", fmt.Sprintf("run %s has no archive item handle", run.ID))
	}

	decision := core.Decision(run.Payload.GetString(core.KeyHumanDecision))

	err := s.archive.UpdateItem(ctx, core.ArchiveUpdate{
		ItemID:       itemID,
		Title:        run.Payload.GetString(core.KeyTitle),
		DeepRead:     decision == core.DecisionDeepRead,
		ReadingDocID: run.Payload.GetString(core.KeyReadingDocID),
		Tags:         run.Payload.GetStrings(core.KeyHumanTags),
		Comment:      run.Payload.GetString(core.KeyHumanComment),
	})
	if err != nil {
		return err
	}

	return run.Advance(core.PhaseCompleted)
}
