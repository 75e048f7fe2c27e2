package feishu

import (
	"fmt"
	"strings"

	"github.com/hugo-lorenzo-mato/paperflow/internal/core"
)

var decisionLabels = map[core.Decision]string{
	core.DecisionDeepRead: "Deep read",
	core.DecisionSkim:     "Skim",
	core.DecisionDrop:     "Drop",
}

// buildDecisionCard lays the triage digest out as a Feishu interactive
// card. Each button's value carries the run ID and decision, which the
// card-action webhook echoes back.
func buildDecisionCard(prompt core.DecisionPrompt) map[string]any {
	var body strings.Builder
	fmt.Fprintf(&body, "**%s**\n", prompt.Title)
	fmt.Fprintf(&body, "[%s](%s)\n\n", prompt.SourceURL, prompt.SourceURL)
	fmt.Fprintf(&body, "%s\n\n", prompt.Summary)
	if prompt.Contributions != "" {
		fmt.Fprintf(&body, "**Contributions:** %s\n", prompt.Contributions)
	}
	fmt.Fprintf(&body, "**Relevance:** %d/10\n", prompt.Relevance)
	if len(prompt.SuggestedTags) != 0 {
		fmt.Fprintf(&body, "**Tags:** %s\n", strings.Join(prompt.SuggestedTags, ", "))
	}

	actions := make([]map[string]any, 0, len(prompt.Options()))
	for _, decision := range prompt.Options() {
		buttonType := "default"
		if decision == prompt.SuggestedAction {
			buttonType = "primary"
		}
		actions = append(actions, map[string]any{
			"tag": "button",
			"text": map[string]any{
				"tag":     "plain_text",
				"content": decisionLabels[decision],
			},
			"type": buttonType,
			"value": map[string]any{
				"run_id":   string(prompt.RunID),
				"decision": string(decision),
			},
		})
	}

	return map[string]any{
		"config": map[string]any{"wide_screen_mode": true},
		"header": map[string]any{
			"title": map[string]any{
				"tag":     "plain_text",
				"content": "Paper triage: decision needed",
			},
			"template": "blue",
		},
		"elements": []map[string]any{
			{
				"tag":  "div",
				"text": map[string]any{"tag": "lark_md", "content": body.String()},
			},
			{
				"tag":     "action",
				"actions": actions,
			},
		},
	}
}
