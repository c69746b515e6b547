// Package analysis talks to the external semantic-analysis service. The
// service is an opaque boundary: this client ships section text out,
// decodes whatever findings come back, and projects their sentence anchors
// onto live document text. How the service scores coverage or drift is
// none of this package's business.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"coscribe/internal/anchor"
	"coscribe/internal/models"
)

// Request is the analysis payload for one section.
type Request struct {
	SectionText     string               `json:"sectionText"`
	OutlineTree     []models.SectionNode `json:"outlineTree"`
	RelatedSections []string             `json:"relatedSections"`
}

// Finding is one coverage/drift observation. Verdict is passed through
// untouched; only the anchor is interpreted here.
type Finding struct {
	Anchor  anchor.Anchor   `json:"anchor"`
	Verdict json.RawMessage `json:"verdict,omitempty"`
}

// Result is the decoded analysis response.
type Result struct {
	Findings []Finding `json:"findings"`
}

// Highlight pairs a finding with the range it currently denotes in the
// live text.
type Highlight struct {
	Range   anchor.Range `json:"range"`
	Finding Finding      `json:"finding"`
}

// Client posts analysis requests over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a client for the given service URL.
func NewClient(baseURL string, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger,
	}
}

// Analyze submits one section for analysis.
func (c *Client) Analyze(ctx context.Context, req Request) (*Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode analysis request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build analysis request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("analysis request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("analysis service returned %d", resp.StatusCode)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode analysis response: %w", err)
	}
	return &result, nil
}

// ProjectFindings resolves each finding's anchor against the current text.
// Unresolved anchors are dropped, not errored: text that drifted past
// recognition simply renders without a highlight.
func ProjectFindings(text string, findings []Finding) []Highlight {
	out := make([]Highlight, 0, len(findings))
	for _, f := range findings {
		r, ok := anchor.Resolve(text, f.Anchor)
		if !ok {
			continue
		}
		out = append(out, Highlight{Range: r, Finding: f})
	}
	return out
}
