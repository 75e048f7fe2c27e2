package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hugo-lorenzo-mato/paperflow/internal/core"
	"github.com/hugo-lorenzo-mato/paperflow/internal/workflow"
)

// createPaperRequest is the submission body.
type createPaperRequest struct {
	Source string `json:"source"`
}

// resumePaperRequest carries the human decision.
type resumePaperRequest struct {
	Decision string   `json:"decision"`
	Tags     []string `json:"tags,omitempty"`
	Comment  string   `json:"comment,omitempty"`
}

// runResponse is the wire shape of a run.
type runResponse struct {
	RunID     string          `json:"run_id"`
	Source    string          `json:"source"`
	Phase     string          `json:"phase"`
	Payload   core.Payload    `json:"payload,omitempty"`
	Error     string          `json:"error,omitempty"`
	Prompt    *decisionPrompt `json:"decision_prompt,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// decisionPrompt mirrors core.DecisionPrompt with the options spelled
// out for clients.
type decisionPrompt struct {
	core.DecisionPrompt
	Options []core.Decision `json:"options"`
}

func toRunResponse(run *core.Run, prompt *core.DecisionPrompt) runResponse {
	resp := runResponse{
		RunID:     string(run.ID),
		Source:    run.Source,
		Phase:     string(run.Phase),
		Payload:   run.Payload,
		Error:     run.Error,
		CreatedAt: run.CreatedAt,
		UpdatedAt: run.UpdatedAt,
	}
	if prompt != nil {
		resp.Prompt = &decisionPrompt{DecisionPrompt: *prompt, Options: prompt.Options()}
	}
	return resp
}

// handleCreatePaper accepts a submission and runs the pipeline in the
// background; the caller polls the status endpoint or waits for the
// decision card.
func (s *Server) handleCreatePaper(w http.ResponseWriter, r *http.Request) {
	var req createPaperRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	source := strings.TrimSpace(req.Source)
	if source == "" {
		respondError(w, http.StatusUnprocessableEntity, "source is required")
		return
	}

	runID := core.DeriveRunID(source)
	if s.engine.IsDuplicateTrigger(workflow.TriggerKey(source, time.Now())) {
		respondJSON(w, http.StatusAccepted, map[string]string{
			"run_id": string(runID),
			"status": "duplicate",
		})
		return
	}
	go s.startInBackground(source, nil)

	respondJSON(w, http.StatusAccepted, map[string]string{
		"run_id": string(runID),
		"status": "accepted",
	})
}

// handleCreatePaperSync runs the pipeline to the suspend point within
// the request and returns the decision prompt.
func (s *Server) handleCreatePaperSync(w http.ResponseWriter, r *http.Request) {
	var req createPaperRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res, err := s.engine.Start(r.Context(), req.Source, workflow.StartOptions{})
	if err != nil {
		s.respondDomainError(w, err)
		return
	}

	status := http.StatusCreated
	if res.AlreadyExisted {
		status = http.StatusOK
	}
	respondJSON(w, status, toRunResponse(res.Run, res.Prompt))
}

// handleListPapers returns summaries of all runs.
func (s *Server) handleListPapers(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.engine.List(r.Context())
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"runs": summaries})
}

// handleGetPaper returns a single run.
func (s *Server) handleGetPaper(w http.ResponseWriter, r *http.Request) {
	runID := core.RunID(chi.URLParam(r, "runID"))

	run, err := s.engine.Status(r.Context(), runID)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}

	var prompt *core.DecisionPrompt
	if run.Phase == core.PhaseWaitingDecision {
		p := workflow.BuildDecisionPrompt(run)
		prompt = &p
	}
	respondJSON(w, http.StatusOK, toRunResponse(run, prompt))
}

// handleResumePaper applies the human decision to a suspended run.
func (s *Server) handleResumePaper(w http.ResponseWriter, r *http.Request) {
	runID := core.RunID(chi.URLParam(r, "runID"))

	var req resumePaperRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	run, err := s.engine.Resume(r.Context(), runID, workflow.ResumeInput{
		Decision: req.Decision,
		Tags:     req.Tags,
		Comment:  req.Comment,
	})
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toRunResponse(run, nil))
}

// thoughtsRequest carries reader thoughts for a finished deep read.
type thoughtsRequest struct {
	Text string `json:"text"`
}

// handleAddThoughts appends reader thoughts to the run's reading
// document.
func (s *Server) handleAddThoughts(w http.ResponseWriter, r *http.Request) {
	runID := core.RunID(chi.URLParam(r, "runID"))

	var req thoughtsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	run, err := s.engine.AddThoughts(r.Context(), runID, req.Text)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toRunResponse(run, nil))
}

// startInBackground drives a run detached from the triggering request.
func (s *Server) startInBackground(source string, notify *core.NotifyTarget) {
	ctx, cancel := context.WithTimeout(context.Background(), s.startTimeout)
	defer cancel()

	res, err := s.engine.Start(ctx, source, workflow.StartOptions{Notify: notify})
	if err != nil {
		s.logger.Error("background start failed",
			"source", source,
			"error", err.Error())
		return
	}
	if res.Run.Phase == core.PhaseFailed {
		s.logger.Error("background run failed",
			"run_id", string(res.Run.ID),
			"error", res.Run.Error)
	}
}
