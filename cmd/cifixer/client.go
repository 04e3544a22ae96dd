/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"context"

	"github.com/google/go-github/v84/github"
	"golang.org/x/oauth2"

	"chainguard.dev/cifixer/analytics"
	"chainguard.dev/cifixer/tensorzero"
)

func newGitHubClient(ctx context.Context, token string) *github.Client {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	return github.NewClient(oauth2.NewClient(ctx, ts))
}

// clickhouseConfig is the shared analytics-store configuration. Addr left
// empty disables analytics entirely.
type clickhouseConfig struct {
	Addr     string `env:"CLICKHOUSE_ADDR"`
	Database string `env:"CLICKHOUSE_DATABASE,default=default"`
	Username string `env:"CLICKHOUSE_USERNAME,default=default"`
	Password string `env:"CLICKHOUSE_PASSWORD"`
	Table    string `env:"CLICKHOUSE_TABLE,default=ci_autofix_inferences"`
}

func (c clickhouseConfig) open(ctx context.Context) (*analytics.Store, error) {
	if c.Addr == "" {
		return nil, nil
	}
	return analytics.Open(ctx, c.Addr, c.Database, c.Username, c.Password, c.Table)
}

func newFeedbackSink(baseURL string) *tensorzero.Client {
	if baseURL == "" {
		return nil
	}
	return tensorzero.NewClient(baseURL)
}
