/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package retry_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"chainguard.dev/cifixer/retry"
)

var errTransient = errors.New("gateway timeout")

func alwaysRetry(error) bool { return true }

func fastConfig(maxRetries int) retry.Config {
	return retry.Config{
		MaxRetries:  maxRetries,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	t.Parallel()

	calls := 0
	got, err := retry.Do(context.Background(), fastConfig(3), "noop", alwaysRetry, func() (int, error) {
		calls++
		return 42, nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if got != 42 || calls != 1 {
		t.Fatalf("got %d after %d calls", got, calls)
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	calls := 0
	got, err := retry.Do(context.Background(), fastConfig(5), "flaky", alwaysRetry, func() (string, error) {
		calls++
		if calls < 3 {
			return "", errTransient
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if got != "ok" || calls != 3 {
		t.Fatalf("got %q after %d calls", got, calls)
	}
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	t.Parallel()

	permanent := errors.New("bad request")
	calls := 0
	_, err := retry.Do(context.Background(), fastConfig(5), "rejected", func(err error) bool {
		return !errors.Is(err, permanent)
	}, func() (int, error) {
		calls++
		return 0, permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("non-retryable error was retried %d times", calls-1)
	}
}

func TestDoExhaustsBudget(t *testing.T) {
	t.Parallel()

	calls := 0
	_, err := retry.Do(context.Background(), fastConfig(2), "doomed", alwaysRetry, func() (int, error) {
		calls++
		return 0, errTransient
	})
	if !errors.Is(err, errTransient) {
		t.Fatalf("error: %v", err)
	}
	if !strings.Contains(err.Error(), "doomed failed after 2 retries") {
		t.Fatalf("error missing exhaustion context: %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestDoHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cfg := retry.Config{MaxRetries: 10, BaseBackoff: time.Minute, MaxBackoff: time.Minute}

	done := make(chan error, 1)
	go func() {
		_, err := retry.Do(ctx, cfg, "cancelled", alwaysRetry, func() (int, error) {
			return 0, errTransient
		})
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Do did not return after cancellation")
	}
}

func TestRun(t *testing.T) {
	t.Parallel()

	calls := 0
	err := retry.Run(context.Background(), fastConfig(3), "run", alwaysRetry, func() error {
		calls++
		if calls < 2 {
			return errTransient
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	if err := retry.Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if err := (retry.Config{MaxRetries: -1}).Validate(); err == nil {
		t.Fatal("negative retries accepted")
	}
	if err := (retry.Config{BaseBackoff: -time.Second}).Validate(); err == nil {
		t.Fatal("negative backoff accepted")
	}
}
