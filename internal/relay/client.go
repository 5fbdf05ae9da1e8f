// Package relay is the REST client that forwards normalized orders to an
// external order relayer (an aggregator ingest endpoint). Submission is
// best-effort: the index is the source of truth whether or not the relayer
// accepts an order.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/openfloor/nftindex/internal/domain"
)

// ErrInvalidOrder marks a structural rejection by the relayer. Invalid orders
// are never retried.
var ErrInvalidOrder = errors.New("relay: order rejected as invalid")

// Config holds relay endpoint parameters.
type Config struct {
	BaseURL string
	APIKey  string
	// RequestsPerSecond throttles submissions; 0 disables client-side limiting.
	RequestsPerSecond float64
	Timeout           time.Duration
}

// Client is the relayer REST client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a relay Client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
	}
}

type orderSubmission struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	Side      string          `json:"side"`
	Maker     string          `json:"maker"`
	Price     string          `json:"price"`
	Currency  string          `json:"currency"`
	Source    string          `json:"source"`
	RawData   json.RawMessage `json:"rawData"`
	ValidFrom int64           `json:"validFrom"`
	ValidTo   int64           `json:"validTo,omitempty"`
}

// PostOrder submits one order to the relayer. A 429 surfaces as
// domain.ErrRateLimited and any other 4xx as ErrInvalidOrder; both are
// distinguishable so callers can retry throttles but drop rejects.
func (c *Client) PostOrder(ctx context.Context, o *domain.Order) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	sub := orderSubmission{
		ID:        o.ID,
		Kind:      string(o.Kind),
		Side:      string(o.Side),
		Maker:     o.Maker.Hex(),
		Price:     o.Price.String(),
		Currency:  o.Currency.Hex(),
		Source:    o.Source,
		RawData:   o.RawData,
		ValidFrom: o.ValidFrom.Unix(),
	}
	if o.ValidUntil != nil {
		sub.ValidTo = o.ValidUntil.Unix()
	}

	body, err := json.Marshal(map[string]any{"order": sub})
	if err != nil {
		return fmt.Errorf("relay: marshal order %s: %w", o.ID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("relay: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("relay: post order %s: %w", o.ID, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("relay: post order %s: %w", o.ID, domain.ErrRateLimited)
	case resp.StatusCode < 500:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", ErrInvalidOrder, resp.StatusCode, msg)
	default:
		return fmt.Errorf("relay: post order %s: status %d", o.ID, resp.StatusCode)
	}
}
