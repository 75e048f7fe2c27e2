package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/paperflow/internal/adapters/feishu"
	"github.com/hugo-lorenzo-mato/paperflow/internal/core"
	"github.com/hugo-lorenzo-mato/paperflow/internal/workflow"
)

// feishuEnvelope covers the three callback shapes Feishu posts to one
// endpoint: URL verification, message events and card actions.
type feishuEnvelope struct {
	// URL verification and card actions carry the token at the top
	// level.
	Type      string `json:"type,omitempty"`
	Challenge string `json:"challenge,omitempty"`
	Token     string `json:"token,omitempty"`

	// Event v2 message callbacks.
	Header struct {
		EventType string `json:"event_type"`
		Token     string `json:"token"`
	} `json:"header"`
	Event struct {
		Message struct {
			MessageID string `json:"message_id"`
			ChatID    string `json:"chat_id"`
			Content   string `json:"content"`
		} `json:"message"`
	} `json:"event"`

	// Card actions.
	Action *struct {
		Value json.RawMessage `json:"value"`
	} `json:"action,omitempty"`
	OpenChatID string `json:"open_chat_id,omitempty"`
}

// handleFeishuCallback is the single webhook endpoint the bot points
// at: challenge echo, inbound messages carrying paper links or
// thoughts, and card button presses carrying decisions. Every branch
// verifies the callback token before acting.
func (s *Server) handleFeishuCallback(w http.ResponseWriter, r *http.Request) {
	var env feishuEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if env.Type == "url_verification" {
		if !s.bot.VerifyToken(env.Token) {
			respondError(w, http.StatusUnauthorized, "verification token mismatch")
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"challenge": env.Challenge})
		return
	}

	if env.Action != nil {
		if !s.bot.VerifyToken(env.Token) {
			respondError(w, http.StatusUnauthorized, "verification token mismatch")
			return
		}
		s.handleCardAction(w, r, &env)
		return
	}

	if env.Header.EventType == "im.message.receive_v1" {
		if !s.bot.VerifyToken(env.Header.Token) {
			respondError(w, http.StatusUnauthorized, "verification token mismatch")
			return
		}
		s.handleMessageEvent(w, r, &env)
		return
	}

	// Unknown event types are acknowledged so Feishu stops retrying.
	respondJSON(w, http.StatusOK, map[string]string{})
}

// thoughtsCmdExpr matches the command prefix that marks a chat message
// as reader thoughts rather than a paper submission.
var thoughtsCmdExpr = regexp.MustCompile(`(?i)^\s*/?thoughts?\b[\s:,]*`)

// parseThoughtsCommand splits a thoughts message into the optional
// paper link and the thoughts body. ok is false when the message does
// not start with the thoughts command.
func parseThoughtsCommand(text string) (source, body string, ok bool) {
	loc := thoughtsCmdExpr.FindStringIndex(text)
	if loc == nil {
		return "", "", false
	}
	rest := strings.TrimSpace(text[loc[1]:])
	if source = feishu.ExtractURL(rest); source != "" {
		rest = strings.TrimSpace(strings.Replace(rest, source, "", 1))
	}
	return source, rest, true
}

// handleMessageEvent routes an inbound chat message: a thoughts
// command lands on an existing run's reading document, anything else
// with a paper link starts a run. Duplicate webhook deliveries are
// absorbed by the trigger deduper, keyed by message ID when Feishu
// sends one and by the bucketed source fingerprint when it does not.
func (s *Server) handleMessageEvent(w http.ResponseWriter, r *http.Request, env *feishuEnvelope) {
	msg := env.Event.Message
	if msg.MessageID != "" && s.engine.IsDuplicateTrigger(msg.MessageID) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
		return
	}

	var content struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(msg.Content), &content); err != nil {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	if source, body, ok := parseThoughtsCommand(content.Text); ok {
		s.handleThoughtsMessage(w, r, msg.ChatID, source, body)
		return
	}

	source := s.resolveSource(r.Context(), content.Text)
	if source == "" {
		respondJSON(w, http.StatusOK, map[string]string{"status": "no_link"})
		return
	}

	if msg.MessageID == "" && s.engine.IsDuplicateTrigger(workflow.TriggerKey(source, time.Now())) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
		return
	}

	runID := core.DeriveRunID(source)
	s.rememberChatRun(msg.ChatID, runID)

	target := &core.NotifyTarget{ReceiveID: msg.ChatID, ReceiveType: "chat_id"}
	go s.startInBackground(source, target)

	respondJSON(w, http.StatusOK, map[string]string{
		"status": "accepted",
		"run_id": string(runID),
	})
}

// resolveSource finds the paper link in the message text, asking the
// language model when the plain scan sees none. An extraction failure
// downgrades to "no link found"; a chat message is never worth a
// webhook error.
func (s *Server) resolveSource(ctx context.Context, text string) string {
	if source := feishu.ExtractURL(text); source != "" {
		return source
	}
	if s.extractor == nil {
		return ""
	}
	source, err := s.extractor.ExtractPaperURL(ctx, text)
	if err != nil {
		s.logger.Error("link extraction fallback failed", "error", err.Error())
		return ""
	}
	return source
}

// handleThoughtsMessage appends the message body to the reading
// document of the linked paper, or of the chat's most recent run when
// the message carries no link.
func (s *Server) handleThoughtsMessage(w http.ResponseWriter, r *http.Request, chatID, source, body string) {
	target := core.NotifyTarget{ReceiveID: chatID, ReceiveType: "chat_id"}

	if body == "" {
		s.replyText(r.Context(), target,
			"Send the thoughts text after the command, optionally with the paper link.")
		respondJSON(w, http.StatusOK, map[string]string{"status": "empty_thoughts"})
		return
	}

	var runID core.RunID
	if source != "" {
		runID = core.DeriveRunID(source)
	} else {
		runID = s.lastChatRun(chatID)
	}
	if runID == "" {
		s.replyText(r.Context(), target,
			"No paper context found; include the paper link in the thoughts message.")
		respondJSON(w, http.StatusOK, map[string]string{"status": "no_context"})
		return
	}

	run, err := s.engine.AddThoughts(r.Context(), runID, body)
	if err != nil {
		s.replyText(r.Context(), target, "Could not record thoughts: "+err.Error())
		s.respondDomainError(w, err)
		return
	}

	s.replyText(r.Context(), target,
		fmt.Sprintf("Thoughts added to the reading document for %s.",
			run.Payload.GetString(core.KeyTitle)))
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "thoughts_recorded",
		"run_id": string(runID),
	})
}

// handleCardAction resumes a suspended run from a card button press
// and reports the outcome back into the chat.
func (s *Server) handleCardAction(w http.ResponseWriter, r *http.Request, env *feishuEnvelope) {
	action, err := feishu.ParseActionValue(env.Action.Value)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}

	run, err := s.engine.Resume(r.Context(), core.RunID(action.RunID), workflow.ResumeInput{
		Decision: action.Decision,
	})
	if err != nil {
		s.respondDomainError(w, err)
		return
	}

	if env.OpenChatID != "" {
		target := core.NotifyTarget{ReceiveID: env.OpenChatID, ReceiveType: "chat_id"}
		text := fmt.Sprintf("Recorded %q for %s; run is now %s.",
			action.Decision, run.Payload.GetString(core.KeyTitle), run.Phase)
		s.replyText(r.Context(), target, text)
	}

	respondJSON(w, http.StatusOK, toRunResponse(run, nil))
}

// replyText sends a best-effort chat reply detached from the request
// cancellation.
func (s *Server) replyText(ctx context.Context, target core.NotifyTarget, text string) {
	if target.ReceiveID == "" {
		return
	}
	if err := s.bot.SendText(context.WithoutCancel(ctx), target, text); err != nil {
		s.logger.Error("chat reply failed", "error", err.Error())
	}
}

// rememberChatRun records the latest run started from a chat.
func (s *Server) rememberChatRun(chatID string, id core.RunID) {
	if chatID == "" {
		return
	}
	s.lastRunMu.Lock()
	defer s.lastRunMu.Unlock()
	s.lastRunByChat[chatID] = id
}

// lastChatRun returns the latest run started from a chat, if any.
func (s *Server) lastChatRun(chatID string) core.RunID {
	s.lastRunMu.Lock()
	defer s.lastRunMu.Unlock()
	return s.lastRunByChat[chatID]
}
