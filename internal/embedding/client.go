// Package embedding calls the external embedding provider. The provider is
// never load-bearing: every failure path (timeout, non-success status,
// network error, open circuit) degrades to a nil vector, which callers treat
// as "vector search unavailable for this record".
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/engram-memory/engram/internal/config"
)

// Provider generates embeddings. A nil return means the vector is
// unavailable; it is never an error callers should abort on.
type Provider interface {
	// Embed returns the vector for one text, or nil when the provider is
	// unavailable.
	Embed(ctx context.Context, text string) []float32

	// EmbedBatch returns one vector per input text, position-aligned. Any or
	// all entries may be nil.
	EmbedBatch(ctx context.Context, texts []string) [][]float32

	// Model names the provider/model pair the vectors came from.
	Model() string
}

// Client talks to an OpenAI-compatible embeddings endpoint:
// POST {endpoint} {"model": ..., "input": [...]} →
// {"data": [{"embedding": [...], "index": n}, ...]}.
type Client struct {
	endpoint string
	model    string
	apiKey   string
	maxChars int
	timeout  time.Duration

	httpClient *http.Client
	breaker    *Breaker
	limiter    *rate.Limiter
	log        zerolog.Logger
}

var _ Provider = (*Client)(nil)

// NewClient creates a provider client from config.
func NewClient(cfg config.EmbeddingConfig, log zerolog.Logger) *Client {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	maxChars := cfg.MaxChars
	if maxChars <= 0 {
		maxChars = 8000
	}
	return &Client{
		endpoint:   cfg.Endpoint,
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
		maxChars:   maxChars,
		timeout:    timeout,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    NewBreaker(BreakerConfig{}),
		limiter:    rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		log:        log,
	}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Embed returns the vector for one text, or nil on any failure.
func (c *Client) Embed(ctx context.Context, text string) []float32 {
	vectors := c.EmbedBatch(ctx, []string{text})
	if len(vectors) != 1 {
		return nil
	}
	return vectors[0]
}

// EmbedBatch embeds several texts in one provider call. The result is
// position-aligned with the input; failed batches yield all-nil results.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) [][]float32 {
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out
	}

	truncated := make([]string, len(texts))
	for i, t := range texts {
		truncated[i] = truncate(t, c.maxChars)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return out
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.embedWithRetry(ctx, truncated)
	})
	if err != nil {
		c.log.Warn().Err(err).Int("batch", len(texts)).Msg("embedding provider unavailable, degrading to nil vectors")
		return out
	}

	vectors := result.([][]float32)
	copy(out, vectors)
	return out
}

// embedWithRetry retries transient failures with exponential backoff, bounded
// so the whole attempt never exceeds the configured timeout budget twice over.
func (c *Client) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxElapsedTime = 2 * c.timeout

	var vectors [][]float32
	op := func() error {
		var err error
		vectors, err = c.embed(ctx, texts)
		return err
	}
	if err := backoff.Retry(op, backoff.WithContext(policy, ctx)); err != nil {
		return nil, err
	}
	return vectors, nil
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// embed performs one provider round trip. Output vectors are re-associated by
// the response's index tag: providers are not guaranteed to preserve input
// order.
func (c *Client) embed(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(embedRequest{Model: c.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("provider returned status %d: %s", resp.StatusCode, string(raw))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			// Client errors will not heal on retry.
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	vectors := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(texts) || len(d.Embedding) == 0 {
			continue
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

// truncate cuts text at the character ceiling on a rune boundary.
func truncate(text string, maxChars int) string {
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	return string(runes[:maxChars])
}
