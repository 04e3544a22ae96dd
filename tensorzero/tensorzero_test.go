/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package tensorzero_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"chainguard.dev/cifixer/retry"
	"chainguard.dev/cifixer/tensorzero"
)

func TestSendFeedback(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/feedback", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"feedback_id": "fb-1"}`))
	}))
	t.Cleanup(srv.Close)

	c := tensorzero.NewClient(srv.URL + "/")
	err := c.SendFeedback(context.Background(), tensorzero.Feedback{
		MetricName: "ci_autofix_diff_patched",
		EpisodeID:  "ep-1",
		Value:      true,
		Tags:       map[string]string{"pull_request_url": "https://github.com/acme/widgets/pull/7"},
	})
	require.NoError(t, err, "failed to send feedback")

	require.Equal(t, "ci_autofix_diff_patched", got["metric_name"])
	require.Equal(t, "ep-1", got["episode_id"])
	require.NotContains(t, got, "inference_id", "inference_id should be omitted when unset")
	require.Equal(t, true, got["value"])
}

func TestSendFeedbackValidation(t *testing.T) {
	t.Parallel()

	c := tensorzero.NewClient("http://unused.invalid")
	ctx := context.Background()

	tests := []struct {
		name string
		fb   tensorzero.Feedback
	}{{
		name: "missing metric",
		fb:   tensorzero.Feedback{EpisodeID: "ep"},
	}, {
		name: "missing both ids",
		fb:   tensorzero.Feedback{MetricName: "m"},
	}, {
		name: "both ids set",
		fb:   tensorzero.Feedback{MetricName: "m", InferenceID: "i", EpisodeID: "e"},
	}}
	for _, tt := range tests {
		require.Error(t, c.SendFeedback(ctx, tt.fb), tt.name)
	}
}

func TestSendFeedbackNon2xx(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such metric", http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)

	c := tensorzero.NewClient(srv.URL)
	err := c.SendFeedback(context.Background(), tensorzero.Feedback{
		MetricName:  "nope",
		InferenceID: "inf-1",
		Value:       false,
	})
	require.Error(t, err, "expected error for 400 response")
	require.Contains(t, err.Error(), "400")
	require.Contains(t, err.Error(), "no such metric")
}

func TestSendFeedbackRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "gateway overloaded", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"feedback_id": "fb-1"}`))
	}))
	t.Cleanup(srv.Close)

	c := tensorzero.NewClient(srv.URL, tensorzero.WithRetryConfig(retry.Config{
		MaxRetries:  3,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	}))
	err := c.SendFeedback(context.Background(), tensorzero.Feedback{
		MetricName: "ci_autofix_diff_patched",
		EpisodeID:  "ep-1",
		Value:      true,
	})
	require.NoError(t, err, "transient 503s should be retried")
	require.EqualValues(t, 3, calls.Load())
}

func TestSendFeedbackDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unknown metric", http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)

	c := tensorzero.NewClient(srv.URL)
	err := c.SendFeedback(context.Background(), tensorzero.Feedback{
		MetricName: "nope",
		EpisodeID:  "ep-1",
	})
	require.Error(t, err)
	require.EqualValues(t, 1, calls.Load(), "4xx responses must not be retried")
}
