package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"virtual-office/internal/domain"
)

const maxSummaryBytes = 64 << 10

// ErrNotConfigured is returned when no summary webhook URL is set.
var ErrNotConfigured = errors.New("notify: summary webhook not configured")

type SummaryRequest struct {
	CardID     string `json:"card_id"`
	AgentEmail string `json:"agent_email"`
}

type Summary struct {
	CardID string `json:"card_id"`
	Text   string `json:"text"`
}

// SummaryClient asks the external workflow for a generated lead summary.
// Calls are not retried.
type SummaryClient struct {
	url        string
	httpClient *http.Client
	log        *slog.Logger
}

func NewSummaryClient(url string, timeout time.Duration, log *slog.Logger) *SummaryClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &SummaryClient{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

// Summarize posts the lead reference and returns the text the workflow
// produced. Replies may be plain text or JSON with a "summary" field.
func (c *SummaryClient) Summarize(ctx context.Context, req SummaryRequest) (Summary, error) {
	const op = "notify.summarize"
	if c.url == "" {
		return Summary{}, domain.External(op, ErrNotConfigured)
	}
	if req.CardID == "" {
		return Summary{}, domain.Validation(op, "card_id is required")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Summary{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return Summary{}, domain.External(op, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.log.Warn("summary webhook failed", "card_id", req.CardID, "err", err)
		return Summary{}, domain.External(op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxSummaryBytes))
	if err != nil {
		return Summary{}, domain.External(op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.Warn("summary webhook returned error status", "card_id", req.CardID, "status", resp.StatusCode)
		return Summary{}, domain.External(op, fmt.Errorf("status %d", resp.StatusCode))
	}

	return Summary{CardID: req.CardID, Text: summaryText(resp.Header.Get("Content-Type"), raw)}, nil
}

func summaryText(contentType string, raw []byte) string {
	if strings.HasPrefix(contentType, "application/json") {
		var payload struct {
			Summary string `json:"summary"`
		}
		if err := json.Unmarshal(raw, &payload); err == nil && payload.Summary != "" {
			return strings.TrimSpace(payload.Summary)
		}
	}
	return strings.TrimSpace(string(raw))
}
