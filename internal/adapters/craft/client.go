// Package craft implements the archive collaborator against the Craft
// space API. The base table row is keyed by the pipeline run ID, which
// makes every write idempotent from the caller's point of view.
package craft

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/paperflow/internal/core"
)

// Client implements core.Archive.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	spaceID    string
}

// Config configures the client.
type Config struct {
	BaseURL string
	Token   string
	SpaceID string
}

// NewClient creates a Craft API client.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		token:      cfg.Token,
		spaceID:    cfg.SpaceID,
	}
}

type itemPayload struct {
	ExternalID string   `json:"external_id"`
	Title      string   `json:"title"`
	Link       string   `json:"link"`
	Summary    string   `json:"summary"`
	Tags       []string `json:"tags"`
	DeepRead   bool     `json:"deep_read"`
	DocumentID string   `json:"document_id,omitempty"`
	Comment    string   `json:"comment,omitempty"`
}

type itemResponse struct {
	ID string `json:"id"`
}

// UpsertItem creates or replaces the base entry for a paper, keyed by
// run ID. Repeating the call with identical input returns the same
// item handle.
func (c *Client) UpsertItem(ctx context.Context, item core.ArchiveItem) (string, error) {
	payload := itemPayload{
		ExternalID: string(item.RunID),
		Title:      item.Title,
		Link:       item.Link,
		Summary:    item.Summary,
		Tags:       item.Tags,
		DeepRead:   item.DeepRead,
	}

	var resp itemResponse
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/spaces/%s/items", c.spaceID), payload, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", core.ErrArchive(core.CodeParseFailed, "upsert response has no item id")
	}
	return resp.ID, nil
}

// CreateDocument creates the long-form reading note as a markdown
// document and returns its handle.
func (c *Client) CreateDocument(ctx context.Context, doc core.ReadingDocument) (string, error) {
	payload := map[string]string{
		"title":   doc.Title,
		"content": renderMarkdown(doc),
	}

	var resp itemResponse
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/spaces/%s/documents", c.spaceID), payload, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", core.ErrArchive(core.CodeParseFailed, "create document response has no id")
	}
	return resp.ID, nil
}

// UpdateItem applies the post-decision fields to an existing entry.
func (c *Client) UpdateItem(ctx context.Context, update core.ArchiveUpdate) error {
	payload := itemPayload{
		Title:      update.Title,
		Tags:       update.Tags,
		DeepRead:   update.DeepRead,
		DocumentID: update.ReadingDocID,
		Comment:    update.Comment,
	}
	return c.do(ctx, http.MethodPatch,
		fmt.Sprintf("/spaces/%s/items/%s", c.spaceID, update.ItemID), payload, nil)
}

// AppendToDocument adds reader thoughts to the end of a reading
// document as a fresh markdown block, so repeated thoughts accumulate
// instead of overwriting each other.
func (c *Client) AppendToDocument(ctx context.Context, docID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return core.ErrValidation("EMPTY_THOUGHTS", "thoughts text cannot be empty")
	}
	payload := map[string]string{
		"markdown": text + "\n",
		"position": "end",
	}
	return c.do(ctx, http.MethodPost,
		fmt.Sprintf("/spaces/%s/documents/%s/blocks", c.spaceID, docID), payload, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return core.ErrArchive("ENCODE_FAILED", "encoding request body").WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return core.ErrArchive("REQUEST_FAILED", "building request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return core.ErrArchive("REQUEST_FAILED", "calling archive API").WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return core.ErrArchive(core.CodeUpstreamStatus,
			fmt.Sprintf("archive API returned %s for %s %s: %s", resp.Status, method, path, snippet))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return core.ErrArchive(core.CodeParseFailed, "decoding response").WithCause(err)
		}
	}
	return nil
}

// renderMarkdown lays the note out as the document body.
func renderMarkdown(doc core.ReadingDocument) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", doc.Title)
	fmt.Fprintf(&b, "## Overview\n\n%s\n\n", doc.Overview)
	fmt.Fprintf(&b, "## Innovations\n\n%s\n\n", doc.Innovations)
	fmt.Fprintf(&b, "## Directions\n\n%s\n", doc.Directions)
	return b.String()
}

var _ core.Archive = (*Client)(nil)
