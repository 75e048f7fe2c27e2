// Package feishu implements decision-card delivery and webhook helpers
// for the Feishu open platform. The bot posts the triage digest as an
// interactive card whose buttons carry the run ID and decision back
// through the card-action callback.
package feishu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/paperflow/internal/core"
)

const defaultBaseURL = "https://open.feishu.cn/open-apis"

var urlExpr = regexp.MustCompile(`https?://[^\s<>"']+`)

// ExtractURL pulls the first URL out of a chat message text.
func ExtractURL(text string) string {
	return urlExpr.FindString(text)
}

// Config configures the bot.
type Config struct {
	BaseURL           string
	AppID             string
	AppSecret         string
	VerificationToken string
}

// Bot implements core.Notifier against the Feishu message API.
type Bot struct {
	httpClient *http.Client
	baseURL    string
	cfg        Config

	mu          sync.Mutex
	tenantToken string
	tokenExpiry time.Time
}

// NewBot creates a bot.
func NewBot(cfg Config, httpClient *http.Client) *Bot {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	return &Bot{
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(base, "/"),
		cfg:        cfg,
	}
}

// VerifyToken checks a webhook's verification token.
func (b *Bot) VerifyToken(token string) bool {
	return b.cfg.VerificationToken != "" && token == b.cfg.VerificationToken
}

// SendText sends a plain text message.
func (b *Bot) SendText(ctx context.Context, target core.NotifyTarget, text string) error {
	content, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return core.ErrDelivery("encoding text content").WithCause(err)
	}
	return b.sendMessage(ctx, target, "text", string(content))
}

// SendDecisionCard sends the triage digest as an interactive card with
// one button per decision.
func (b *Bot) SendDecisionCard(ctx context.Context, target core.NotifyTarget, prompt core.DecisionPrompt) error {
	card := buildDecisionCard(prompt)
	content, err := json.Marshal(card)
	if err != nil {
		return core.ErrDelivery("encoding card content").WithCause(err)
	}
	return b.sendMessage(ctx, target, "interactive", string(content))
}

func (b *Bot) sendMessage(ctx context.Context, target core.NotifyTarget, msgType, content string) error {
	token, err := b.tenantAccessToken(ctx)
	if err != nil {
		return err
	}

	body := map[string]string{
		"receive_id": target.ReceiveID,
		"msg_type":   msgType,
		"content":    content,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return core.ErrDelivery("encoding message").WithCause(err)
	}

	url := fmt.Sprintf("%s/im/v1/messages?receive_id_type=%s", b.baseURL, target.ReceiveType)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return core.ErrDelivery("building message request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return core.ErrDelivery("calling message API").WithCause(err)
	}
	defer resp.Body.Close()

	var apiResp struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := json.Unmarshal(raw, &apiResp); err != nil {
		return core.ErrDelivery(fmt.Sprintf("message API returned %s", resp.Status)).WithCause(err)
	}
	if apiResp.Code != 0 {
		return core.ErrDelivery(fmt.Sprintf("message API error %d: %s", apiResp.Code, apiResp.Msg))
	}
	return nil
}

// tenantAccessToken returns a cached tenant token, refreshing it one
// minute before expiry.
func (b *Bot) tenantAccessToken(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.tenantToken != "" && time.Now().Before(b.tokenExpiry) {
		return b.tenantToken, nil
	}

	body, err := json.Marshal(map[string]string{
		"app_id":     b.cfg.AppID,
		"app_secret": b.cfg.AppSecret,
	})
	if err != nil {
		return "", core.ErrDelivery("encoding token request").WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		b.baseURL+"/auth/v3/tenant_access_token/internal", bytes.NewReader(body))
	if err != nil {
		return "", core.ErrDelivery("building token request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", core.ErrDelivery("requesting tenant token").WithCause(err)
	}
	defer resp.Body.Close()

	var tokenResp struct {
		Code              int    `json:"code"`
		Msg               string `json:"msg"`
		TenantAccessToken string `json:"tenant_access_token"`
		Expire            int    `json:"expire"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", core.ErrDelivery("decoding token response").WithCause(err)
	}
	if tokenResp.Code != 0 || tokenResp.TenantAccessToken == "" {
		return "", core.ErrDelivery(fmt.Sprintf("token API error %d: %s", tokenResp.Code, tokenResp.Msg))
	}

	b.tenantToken = tokenResp.TenantAccessToken
	b.tokenExpiry = time.Now().Add(time.Duration(tokenResp.Expire)*time.Second - time.Minute)
	return b.tenantToken, nil
}

// CardAction is the decoded value of a card button press.
type CardAction struct {
	RunID    string `json:"run_id"`
	Decision string `json:"decision"`
}

// ParseActionValue decodes a card-action value. Feishu delivers it as
// a JSON object; some client versions double-encode it as a JSON
// string containing JSON.
func ParseActionValue(raw json.RawMessage) (*CardAction, error) {
	var action CardAction
	if err := json.Unmarshal(raw, &action); err == nil && action.RunID != "" {
		return &action, nil
	}

	var nested string
	if err := json.Unmarshal(raw, &nested); err == nil {
		if err := json.Unmarshal([]byte(nested), &action); err == nil && action.RunID != "" {
			return &action, nil
		}
	}
	return nil, core.ErrValidation("INVALID_CARD_ACTION", "card action value has no run_id")
}

var _ core.Notifier = (*Bot)(nil)
