// Package llm implements the analysis collaborator on the OpenAI chat
// completions API. The model answers in JSON embedded in plain text;
// responses that do not parse surface as llm-category errors rather
// than being silently repaired.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/openai/openai-go"
	openaiopt "github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/hugo-lorenzo-mato/paperflow/internal/core"
)

// Config configures the analyst.
type Config struct {
	APIKey  string
	BaseURL string
	// Model handles triage and deep-read note generation.
	Model string
	// AsideModel handles cheap auxiliary calls such as URL extraction
	// from chat messages. Falls back to Model when empty.
	AsideModel  string
	Temperature float64
}

// Analyst implements core.Analyst.
type Analyst struct {
	client      openai.Client
	model       string
	asideModel  string
	temperature float64
}

// NewAnalyst creates an analyst from config.
func NewAnalyst(cfg Config) *Analyst {
	opts := []openaiopt.RequestOption{openaiopt.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, openaiopt.WithBaseURL(cfg.BaseURL))
	}

	aside := cfg.AsideModel
	if aside == "" {
		aside = cfg.Model
	}
	return &Analyst{
		client:      openai.NewClient(opts...),
		model:       cfg.Model,
		asideModel:  aside,
		temperature: cfg.Temperature,
	}
}

const triageSystemPrompt = `You are a research paper triage assistant. ` +
	`Given a paper's title, abstract and PDF link, produce a JSON object with exactly these fields:
  "summary": 2-3 sentence summary of what the paper does,
  "contributions": the main contributions, one short paragraph,
  "limitations": the main limitations or open concerns, one short paragraph,
  "relevance": integer 1-10 scoring relevance for an applied ML engineering team,
  "suggested_action": one of "deep_read", "skim", "drop",
  "suggested_tags": array of 2-5 short lowercase topic tags.
Respond with the JSON object only.`

const noteSystemPrompt = `You are a research paper reading assistant writing structured notes. ` +
	`Produce a JSON object with exactly these fields:
  "overview": a thorough overview of the method and results, 2-4 paragraphs,
  "innovations": what is genuinely new compared to prior work,
  "directions": promising follow-up directions and applications.
Respond with the JSON object only.`

// Analyze produces the structured triage analysis for a paper.
func (a *Analyst) Analyze(ctx context.Context, req core.TriageRequest) (*core.TriageAnalysis, error) {
	user := fmt.Sprintf("Title: %s\n\nAbstract: %s\n\nPDF: %s", req.Title, req.Abstract, req.PDFURL)

	text, err := a.complete(ctx, a.model, triageSystemPrompt, user)
	if err != nil {
		return nil, err
	}

	var analysis core.TriageAnalysis
	if err := parseJSONResponse(text, &analysis); err != nil {
		return nil, err
	}
	if analysis.Relevance < 1 || analysis.Relevance > 10 {
		return nil, core.ErrLLM(core.CodeParseFailed,
			fmt.Sprintf("relevance %d outside 1-10", analysis.Relevance))
	}
	return &analysis, nil
}

// WriteNote produces the long-form deep-read note.
func (a *Analyst) WriteNote(ctx context.Context, req core.NoteRequest) (*core.DeepReadNote, error) {
	user := fmt.Sprintf("Title: %s\n\nAbstract: %s\n\nTriage summary: %s\n\nPDF: %s",
		req.Title, req.Abstract, req.TriageSummary, req.PDFURL)

	text, err := a.complete(ctx, a.model, noteSystemPrompt, user)
	if err != nil {
		return nil, err
	}

	var note core.DeepReadNote
	if err := parseJSONResponse(text, &note); err != nil {
		return nil, err
	}
	return &note, nil
}

// ExtractPaperURL asks the aside model to pull a paper link out of a
// free-form chat message. Returns empty string when the message holds
// none.
func (a *Analyst) ExtractPaperURL(ctx context.Context, message string) (string, error) {
	system := `Extract the single paper URL (arxiv.org or a direct PDF link) from the user message. ` +
		`Respond with the bare URL only, or the word "none" when there is no paper link.`

	text, err := a.complete(ctx, a.asideModel, system, message)
	if err != nil {
		return "", err
	}

	url := strings.TrimSpace(text)
	if url == "" || strings.EqualFold(url, "none") {
		return "", nil
	}
	return url, nil
}

func (a *Analyst) complete(ctx context.Context, model, system, user string) (string, error) {
	completion, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: shared.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			{
				OfSystem: &openai.ChatCompletionSystemMessageParam{
					Content: openai.ChatCompletionSystemMessageParamContentUnion{
						OfString: openai.String(system),
					},
				},
			},
			{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfString: openai.String(user),
					},
				},
			},
		},
		Temperature: openai.Float(a.temperature),
	})
	if err != nil {
		return "", core.ErrLLM("COMPLETION_FAILED", "chat completion failed").WithCause(err)
	}
	if len(completion.Choices) == 0 {
		return "", core.ErrLLM("EMPTY_RESPONSE", "model returned no choices")
	}
	return completion.Choices[0].Message.Content, nil
}

// parseJSONResponse unmarshals a model answer that may wrap its JSON
// in markdown code fences or surrounding prose.
func parseJSONResponse(text string, out any) error {
	cleaned := strings.TrimSpace(text)

	if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
		cleaned = strings.TrimPrefix(cleaned, "```")
		if idx := strings.LastIndex(cleaned, "```"); idx >= 0 {
			cleaned = cleaned[:idx]
		}
		cleaned = strings.TrimSpace(cleaned)
	}

	// Some models add prose around the object; cut to the outermost
	// braces before giving up.
	if !strings.HasPrefix(cleaned, "{") {
		start := strings.Index(cleaned, "{")
		end := strings.LastIndex(cleaned, "}")
		if start >= 0 && end > start {
			cleaned = cleaned[start : end+1]
		}
	}

	if err := json.Unmarshal([]byte(cleaned), out); err != nil {
		return core.ErrLLM(core.CodeParseFailed, "model response is not valid JSON").WithCause(err)
	}
	return nil
}

var _ core.Analyst = (*Analyst)(nil)
