/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package tensorzero is a minimal client for the TensorZero feedback API.
// Only the feedback endpoint is wrapped: the gateway proxies inference
// elsewhere, and this module only needs to report whether generated
// patches survived review.
package tensorzero

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"chainguard.dev/cifixer/retry"
)

// Feedback attaches a boolean metric value to a prior inference or
// episode. Exactly one of InferenceID or EpisodeID must be set.
type Feedback struct {
	MetricName  string            `json:"metric_name"`
	InferenceID string            `json:"inference_id,omitempty"`
	EpisodeID   string            `json:"episode_id,omitempty"`
	Value       bool              `json:"value"`
	Tags        map[string]string `json:"tags,omitempty"`
}

// Client posts feedback to a TensorZero gateway.
type Client struct {
	baseURL    string
	httpClient *http.Client
	retryCfg   retry.Config
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetryConfig overrides the retry bounds for feedback posts.
func WithRetryConfig(cfg retry.Config) Option {
	return func(c *Client) { c.retryCfg = cfg }
}

// NewClient returns a client for the gateway at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		retryCfg:   retry.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SendFeedback posts one feedback signal.
func (c *Client) SendFeedback(ctx context.Context, fb Feedback) error {
	if fb.MetricName == "" {
		return fmt.Errorf("feedback metric name is empty")
	}
	if fb.InferenceID == "" && fb.EpisodeID == "" {
		return fmt.Errorf("feedback requires an inference id or an episode id")
	}
	if fb.InferenceID != "" && fb.EpisodeID != "" {
		return fmt.Errorf("feedback cannot target both an inference id and an episode id")
	}

	body, err := json.Marshal(fb)
	if err != nil {
		return fmt.Errorf("encoding feedback: %w", err)
	}

	return retry.Run(ctx, c.retryCfg, "feedback post", transient, func() error {
		return c.post(ctx, body)
	})
}

func (c *Client) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/feedback", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building feedback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("posting feedback: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(msg))}
	}
	return nil
}

// statusError preserves the gateway status code so the retry layer can
// tell rate limits and server errors apart from rejected payloads.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("feedback request failed with status %d: %s", e.code, e.body)
}

// transient reports whether an error is worth another attempt: rate
// limits, server-side failures, and network-level errors. 4xx responses
// mean the payload is wrong and will stay wrong.
func transient(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= http.StatusInternalServerError
	}
	var ue *url.Error
	return errors.As(err, &ue)
}
