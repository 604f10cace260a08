// Package classifier talks to an external content classification service and
// caches its answers.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"chatguard/internal/models"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
)

const maxResponseBytes = 64 << 10

type leveledSlog struct {
	inner *slog.Logger
}

// re-writes HTTP client ERROR to WARN level (because of retries)
func (l leveledSlog) Error(msg string, keysAndValues ...any) {
	l.inner.Warn(msg, keysAndValues...)
}

func (l leveledSlog) Warn(msg string, keysAndValues ...any) {
	l.inner.Warn(msg, keysAndValues...)
}

func (l leveledSlog) Info(msg string, keysAndValues ...any) {
	l.inner.Info(msg, keysAndValues...)
}

func (l leveledSlog) Debug(msg string, keysAndValues ...any) {
	l.inner.Debug(msg, keysAndValues...)
}

type Option func(*retryablehttp.Client)

// WithMaxRetries sets the maximum number of retries for the HTTP client.
func WithMaxRetries(maxRetries int) Option {
	return func(client *retryablehttp.Client) {
		client.RetryMax = maxRetries
	}
}

// WithRetryWait sets the backoff bounds between retries.
func WithRetryWait(waitMin, waitMax time.Duration) Option {
	return func(client *retryablehttp.Client) {
		client.RetryWaitMin = waitMin
		client.RetryWaitMax = waitMax
	}
}

// WithLogger sets a custom logger for the HTTP client.
func WithLogger(logger *slog.Logger) Option {
	return func(client *retryablehttp.Client) {
		client.Logger = retryablehttp.LeveledLogger(leveledSlog{inner: logger})
	}
}

// Client posts message text to a classification endpoint.
type Client struct {
	endpoint string
	apiKey   string
	labels   []string
	http     *http.Client
}

// classifyRequest carries the text and the violation tags the endpoint may
// answer with.
type classifyRequest struct {
	Text   string   `json:"text"`
	Labels []string `json:"labels"`
}

// NewClient builds a client with short retry backoff. Callers bound the
// total time of a call through the context.
func NewClient(endpoint, apiKey string, options ...Option) *Client {
	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient.Transport = cleanhttp.DefaultPooledTransport()
	retryClient.RetryMax = 2
	retryClient.RetryWaitMin = 50 * time.Millisecond
	retryClient.RetryWaitMax = 250 * time.Millisecond
	retryClient.Logger = retryablehttp.LeveledLogger(leveledSlog{inner: slog.Default().With("subsystem", "classifier")})
	retryClient.CheckRetry = retryPolicy

	for _, option := range options {
		option(retryClient)
	}

	kinds := models.ViolationKinds()
	labels := make([]string, 0, len(kinds))
	for _, k := range kinds {
		labels = append(labels, k.String())
	}

	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		labels:   labels,
		http:     retryClient.StandardClient(),
	}
}

// retryPolicy treats 429 as final so a throttled classifier is skipped
// rather than hammered.
func retryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if err == nil && resp.StatusCode == http.StatusTooManyRequests {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// Classify sends text to the endpoint. A reply that parses but names no
// known violation is a negative Classification, not an error.
func (c *Client) Classify(ctx context.Context, text string) (models.Classification, error) {
	body, err := json.Marshal(classifyRequest{Text: text, Labels: c.labels})
	if err != nil {
		return models.Classification{}, fmt.Errorf("encode classify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return models.Classification{}, fmt.Errorf("build classify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return models.Classification{}, fmt.Errorf("classify request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return models.Classification{}, fmt.Errorf("classify request: unexpected status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return models.Classification{}, fmt.Errorf("read classify response: %w", err)
	}
	return Parse(raw)
}
