package workflow

import "github.com/hugo-lorenzo-mato/paperflow/internal/core"

// Pipeline is the ordered/conditional composition of steps with one
// suspend point:
//
//	ingest -> extract -> triage -> archive_base  [suspend]
//	resume --(deep_read)--> deep_read -> finalize
//	resume --(skim|drop)--> finalize
//
// Any step failure moves the run to the failed terminal phase through
// the executor.
type Pipeline struct {
	ingest   Step
	extract  Step
	triage   Step
	archive  Step
	deepRead Step
	finalize Step

	archiveClient core.Archive
}

// NewPipeline wires the steps with their collaborators.
func NewPipeline(fetcher core.MetadataFetcher, analyst core.Analyst, archive core.Archive) *Pipeline {
	return &Pipeline{
		ingest:   &ingestStep{fetcher: fetcher},
		extract:  &extractStep{},
		triage:   &triageStep{analyst: analyst},
		archive:  &archiveBaseStep{archive: archive},
		deepRead: &deepReadStep{analyst: analyst, archive: archive},
		finalize: &finalizeStep{archive: archive},

		archiveClient: archive,
	}
}

// Archive exposes the archive collaborator for operations outside the
// step graph, such as appending reader thoughts to a finished run's
// reading document.
func (p *Pipeline) Archive() core.Archive {
	return p.archiveClient
}

// StartSteps returns the steps that run from ingestion to the suspend
// point, in graph order.
func (p *Pipeline) StartSteps() []Step {
	return p.StepsFrom(core.PhaseIngesting)
}

// StepsFrom returns the pre-suspend steps still owed to a run sitting
// at phase. A run interrupted between step boundaries re-drives from
// its last persisted phase instead of re-running completed steps.
func (p *Pipeline) StepsFrom(phase core.Phase) []Step {
	switch phase {
	case core.PhaseIngesting:
		return []Step{p.ingest, p.extract, p.triage, p.archive}
	case core.PhaseExtracting:
		return []Step{p.extract, p.triage, p.archive}
	case core.PhaseTriaging:
		return []Step{p.triage, p.archive}
	default:
		return nil
	}
}

// ResumeSteps returns the branch taken after the human decision.
func (p *Pipeline) ResumeSteps(decision core.Decision) []Step {
	if decision == core.DecisionDeepRead {
		return []Step{p.deepRead, p.finalize}
	}
	return []Step{p.finalize}
}

// ResumeStepsFrom returns the post-decision steps still owed to a run
// found past the suspend point. The deep_read and finalize steps
// short-circuit on their stored handles, so re-driving them after an
// interruption repeats no external write.
func (p *Pipeline) ResumeStepsFrom(phase core.Phase, decision core.Decision) []Step {
	switch phase {
	case core.PhaseResuming:
		return p.ResumeSteps(decision)
	case core.PhaseDeepReading:
		return []Step{p.deepRead, p.finalize}
	default:
		return nil
	}
}
