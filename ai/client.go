// Package ai wraps the settlement recommendation oracle. The model behind it
// is opaque to the core: it receives case facts or divergent decisions and
// returns ranked option drafts. Every call is bounded by a timeout and may
// fail with ErrUnavailable; callers retry with the same input.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// ErrUnavailable signals the oracle could not produce a result. The case
// stays in its current status; the call is safe to retry with backoff.
var ErrUnavailable = errors.New("ai: service unavailable")

// OptionDraft is one proposed settlement option before it is committed as a
// batch. Terms are opaque to the core.
type OptionDraft struct {
	Rank        int             `json:"rank"`
	Terms       json.RawMessage `json:"terms"`
	AmountCents int64           `json:"amount_cents"`
	Probability float64         `json:"probability"`
}

// CaseFacts is the input for initial option generation.
type CaseFacts struct {
	CaseID string          `json:"case_id"`
	Facts  json.RawMessage `json:"facts"`
}

// DivergentChoice is one side of a disagreement handed to the compromise call.
type DivergentChoice struct {
	PartyID     string          `json:"party_id"`
	Choice      string          `json:"choice"`
	OptionID    string          `json:"option_id,omitempty"`
	OptionTerms json.RawMessage `json:"option_terms,omitempty"`
}

// CompromiseRequest is the input for compromise generation.
type CompromiseRequest struct {
	CaseID  string            `json:"case_id"`
	BatchID string            `json:"batch_id"`
	Choices []DivergentChoice `json:"choices"`
}

// Client is the recommendation oracle contract.
type Client interface {
	GenerateSettlementOptions(ctx context.Context, facts CaseFacts) ([]OptionDraft, error)
	GenerateCompromise(ctx context.Context, req CompromiseRequest) ([]OptionDraft, error)
}

// HTTPClient talks to the recommendation service over HTTP. Each call carries
// a generated request id so retries can be correlated on the far side.
type HTTPClient struct {
	baseURL     string
	client      *http.Client
	idGenerator func() string
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL:     baseURL,
		client:      &http.Client{Timeout: timeout},
		idGenerator: func() string { return uuid.NewString() },
	}
}

func (c *HTTPClient) GenerateSettlementOptions(ctx context.Context, facts CaseFacts) ([]OptionDraft, error) {
	return c.post(ctx, "/v1/settlement-options", facts)
}

func (c *HTTPClient) GenerateCompromise(ctx context.Context, req CompromiseRequest) ([]OptionDraft, error) {
	return c.post(ctx, "/v1/compromise", req)
}

func (c *HTTPClient) post(ctx context.Context, path string, body any) ([]OptionDraft, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("ai: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("ai: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", c.idGenerator())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var out struct {
		Options []OptionDraft `json:"options"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	if len(out.Options) == 0 {
		return nil, fmt.Errorf("%w: empty option set", ErrUnavailable)
	}
	return out.Options, nil
}
