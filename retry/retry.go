/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package retry provides exponential-backoff retries for the
// control-plane calls the fix pipeline makes around its repository
// writes, such as feedback posts to the model-serving gateway. Callers
// classify which errors are worth retrying; everything else fails fast.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/chainguard-dev/clog"
)

// Config bounds a retry loop.
type Config struct {
	// MaxRetries is the number of attempts after the first. Zero
	// disables retrying.
	MaxRetries int
	// BaseBackoff is the delay before the first retry; it doubles on
	// each subsequent attempt.
	BaseBackoff time.Duration
	// MaxBackoff caps the doubled backoff.
	MaxBackoff time.Duration
	// MaxJitter is the upper bound of the random delay added to each
	// backoff.
	MaxJitter time.Duration
}

// Validate checks the configuration for negative durations.
func (c Config) Validate() error {
	if c.MaxRetries < 0 {
		return errors.New("max retries cannot be negative")
	}
	if c.BaseBackoff < 0 || c.MaxBackoff < 0 || c.MaxJitter < 0 {
		return errors.New("backoff durations cannot be negative")
	}
	return nil
}

// Default returns bounds sized for short control-plane requests. These
// calls run inside a CI job, so the whole loop stays well under a
// minute.
func Default() Config {
	return Config{
		MaxRetries:  3,
		BaseBackoff: 500 * time.Millisecond,
		MaxBackoff:  10 * time.Second,
		MaxJitter:   250 * time.Millisecond,
	}
}

// Do runs fn until it succeeds, returns a non-retryable error, or the
// attempt budget is spent. retryable decides which errors earn another
// attempt.
func Do[T any](ctx context.Context, cfg Config, operation string, retryable func(error) bool, fn func() (T, error)) (T, error) {
	var result T
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		result, lastErr = fn()
		if lastErr == nil {
			return result, nil
		}
		if !retryable(lastErr) {
			return result, lastErr
		}
		if attempt >= cfg.MaxRetries {
			break
		}

		delay := min(cfg.BaseBackoff<<attempt, cfg.MaxBackoff)
		if cfg.MaxJitter > 0 {
			if n, err := rand.Int(rand.Reader, big.NewInt(int64(cfg.MaxJitter))); err == nil {
				delay += time.Duration(n.Int64())
			}
		}

		clog.FromContext(ctx).With("operation", operation).
			With("attempt", attempt+1).
			With("backoff", delay).
			With("error", lastErr.Error()).
			Warn("Transient failure, retrying")

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(delay):
		}
	}

	return result, fmt.Errorf("%s failed after %d retries: %w", operation, cfg.MaxRetries, lastErr)
}

// Run is Do for operations with no result value.
func Run(ctx context.Context, cfg Config, operation string, retryable func(error) bool, fn func() error) error {
	_, err := Do(ctx, cfg, operation, retryable, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}
