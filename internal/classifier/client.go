// Package classifier talks to the hosted image-classification service that
// scores frames for unsafe content.
//
// Requests carry a single base64-encoded image. The service answers either
// with label/score pairs or, while the model is still warming up, with a
// loading indicator and an estimated wait; the latter is retried with the
// suggested (or default) delay up to a bounded number of attempts.
package classifier

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"vidpipe/internal/retry"
)

const (
	defaultHTTPTimeout    = 30 * time.Second
	defaultMaxAttempts    = 5
	defaultBackoff        = 10 * time.Second
	defaultMaxBackoff     = 60 * time.Second
	defaultUnsafeLabel    = "nsfw"
	maxErrorBodySnippet   = 512
	maxResponseBodyLength = 1 << 20
)

// Config captures the runtime settings required to talk to the classifier.
type Config struct {
	URL            string
	Token          string
	UnsafeLabel    string
	TimeoutSeconds int
	MaxAttempts    int
	DefaultBackoff time.Duration
	MaxBackoff     time.Duration
}

// Client scores images through the classification service.
type Client struct {
	cfg        Config
	httpClient *http.Client
	sleeper    func(context.Context, time.Duration) error
	onRetry    func(attempt int, delay time.Duration, err error)
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleeper func(context.Context, time.Duration) error) Option {
	return func(c *Client) {
		c.sleeper = sleeper
	}
}

// WithRetryObserver registers a callback invoked before each retry.
func WithRetryObserver(fn func(attempt int, delay time.Duration, err error)) Option {
	return func(c *Client) {
		c.onRetry = fn
	}
}

// NewClient constructs a classifier client using the supplied configuration.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	cfg.URL = strings.TrimSpace(cfg.URL)
	cfg.Token = strings.TrimSpace(cfg.Token)
	cfg.UnsafeLabel = strings.ToLower(strings.TrimSpace(cfg.UnsafeLabel))
	if cfg.UnsafeLabel == "" {
		cfg.UnsafeLabel = defaultUnsafeLabel
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.DefaultBackoff <= 0 {
		cfg.DefaultBackoff = defaultBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	client := &Client{cfg: cfg, httpClient: &http.Client{Timeout: timeout}}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// LoadingError reports that the model is still warming up.
type LoadingError struct {
	Message string
	Wait    time.Duration
}

func (e *LoadingError) Error() string {
	if e.Wait > 0 {
		return fmt.Sprintf("classifier loading (estimated %s): %s", e.Wait, e.Message)
	}
	return "classifier loading: " + e.Message
}

// RetryAfter returns the service-suggested wait.
func (e *LoadingError) RetryAfter() time.Duration { return e.Wait }

// RateLimitError reports a throttled request.
type RateLimitError struct {
	StatusCode int
	Wait       time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("classifier throttled: http %d", e.StatusCode)
}

// RetryAfter returns the Retry-After header value, if any.
func (e *RateLimitError) RetryAfter() time.Duration { return e.Wait }

// StatusError reports a non-retryable HTTP failure.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("classifier request: http %d: %s", e.StatusCode, e.Body)
}

// ScoreFile reads an image from disk and returns its unsafe-content score.
func (c *Client) ScoreFile(ctx context.Context, path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read frame: %w", err)
	}
	return c.Score(ctx, data)
}

// Score returns the unsafe-content score for an encoded image. Loading and
// throttling responses are retried; exhausting the attempts is an error.
func (c *Client) Score(ctx context.Context, image []byte) (float64, error) {
	payload, err := json.Marshal(scoreRequest{Inputs: base64.StdEncoding.EncodeToString(image)})
	if err != nil {
		return 0, fmt.Errorf("classifier request: encode body: %w", err)
	}

	var score float64
	policy := retry.Policy{
		Attempts: c.cfg.MaxAttempts,
		Delay:    c.cfg.DefaultBackoff,
		MaxDelay: c.cfg.MaxBackoff,
		Sleep:    c.sleeper,
		OnRetry:  c.onRetry,
	}
	err = retry.Do(ctx, policy, func(ctx context.Context, _ int) error {
		s, err := c.scoreOnce(ctx, payload)
		if err != nil {
			return err
		}
		score = s
		return nil
	})
	if err != nil {
		return 0, err
	}
	return score, nil
}

type scoreRequest struct {
	Inputs string `json:"inputs"`
}

// LabelScore is one label/score pair returned by the service.
type LabelScore struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

type loadingResponse struct {
	Error         string  `json:"error"`
	EstimatedTime float64 `json:"estimated_time"`
}

func (c *Client) scoreOnce(ctx context.Context, payload []byte) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("classifier request: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("classifier request: http error: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyLength))
	if err != nil {
		return 0, fmt.Errorf("classifier request: read body: %w", err)
	}

	if loading, ok := parseLoading(body); ok {
		return 0, loading
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusBadGateway,
		resp.StatusCode == http.StatusServiceUnavailable,
		resp.StatusCode == http.StatusGatewayTimeout:
		wait, _ := parseRetryAfter(resp.Header.Get("Retry-After"))
		return 0, &RateLimitError{StatusCode: resp.StatusCode, Wait: wait}
	case resp.StatusCode >= http.StatusMultipleChoices:
		return 0, &StatusError{StatusCode: resp.StatusCode, Body: snippet(body)}
	}

	scores, err := decodeScores(body)
	if err != nil {
		return 0, fmt.Errorf("classifier request: decode response: %w", err)
	}
	return UnsafeScore(scores, c.cfg.UnsafeLabel), nil
}

// parseLoading recognises the warm-up body, which may arrive with any status.
func parseLoading(body []byte) (*LoadingError, bool) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}
	var resp loadingResponse
	if err := json.Unmarshal(trimmed, &resp); err != nil {
		return nil, false
	}
	if resp.EstimatedTime <= 0 && !strings.Contains(strings.ToLower(resp.Error), "loading") {
		return nil, false
	}
	wait := time.Duration(resp.EstimatedTime * float64(time.Second))
	return &LoadingError{Message: strings.TrimSpace(resp.Error), Wait: wait}, true
}

// decodeScores accepts both the flat and the batch-nested label list shapes.
func decodeScores(body []byte) ([]LabelScore, error) {
	var flat []LabelScore
	if err := json.Unmarshal(body, &flat); err == nil {
		return flat, nil
	}
	var nested [][]LabelScore
	if err := json.Unmarshal(body, &nested); err != nil {
		return nil, err
	}
	var out []LabelScore
	for _, group := range nested {
		out = append(out, group...)
	}
	return out, nil
}

// UnsafeScore extracts the score for label (case-insensitive), or 0 when absent.
func UnsafeScore(scores []LabelScore, label string) float64 {
	for _, s := range scores {
		if strings.EqualFold(strings.TrimSpace(s.Label), label) {
			return clamp(s.Score)
		}
	}
	return 0
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// Ping checks that the classification endpoint answers at all.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL, nil)
	if err != nil {
		return err
	}
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBodySnippet))
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("classifier rejected credentials: http %d", resp.StatusCode)
	}
	if resp.StatusCode >= http.StatusInternalServerError && resp.StatusCode != http.StatusServiceUnavailable {
		return fmt.Errorf("classifier unavailable: http %d", resp.StatusCode)
	}
	return nil
}

// IsTransient reports whether err is a loading or throttling failure.
func IsTransient(err error) bool {
	var loading *LoadingError
	var limited *RateLimitError
	return errors.As(err, &loading) || errors.As(err, &limited)
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBodySnippet {
		s = s[:maxErrorBodySnippet] + "..."
	}
	return s
}

func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := time.Until(when)
		if delay < 0 {
			return 0, false
		}
		return delay, true
	}
	return 0, false
}
