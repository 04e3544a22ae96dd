/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"fmt"
	"strings"

	"github.com/chainguard-dev/clog"
	"github.com/sethvargo/go-envconfig"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"chainguard.dev/cifixer/applier"
	"chainguard.dev/cifixer/changemanager"
	"chainguard.dev/cifixer/clonemanager"
	"chainguard.dev/cifixer/gitcli"
)

type applyConfig struct {
	GitHubToken string `env:"GITHUB_TOKEN,required"`
	ArtifactDir string `env:"ARTIFACT_DIR,required"`

	// Trigger identification, cross-checked against the manifest before
	// anything is trusted.
	Repository    string `env:"GITHUB_REPOSITORY,required"`
	WorkflowRunID int64  `env:"WORKFLOW_RUN_ID,required"`
	PRNumber      int    `env:"PR_NUMBER,required"`

	BotIdentity     string `env:"BOT_IDENTITY,default=ci-autofix"`
	BranchNamespace string `env:"BRANCH_NAMESPACE,default=ci-autofix"`

	TensorZeroBaseURL string `env:"TENSORZERO_BASE_URL"`

	ClickHouse clickhouseConfig
}

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "apply",
		Short: "Replay a generated artifact with write credentials",
		RunE:  runApply,
	})
}

func runApply(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	log := clog.FromContext(ctx)

	var cfg applyConfig
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return fmt.Errorf("processing config: %w", err)
	}
	owner, repo, ok := strings.Cut(cfg.Repository, "/")
	if !ok {
		return fmt.Errorf("GITHUB_REPOSITORY %q is not owner/name", cfg.Repository)
	}

	gh := newGitHubClient(ctx, cfg.GitHubToken)
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.GitHubToken})
	clones, err := clonemanager.New(ts, cfg.BotIdentity)
	if err != nil {
		return err
	}
	changes, err := changemanager.New(gh, cfg.BranchNamespace)
	if err != nil {
		return err
	}

	var opts []applier.Option
	if sink := newFeedbackSink(cfg.TensorZeroBaseURL); sink != nil {
		opts = append(opts, applier.WithFeedback(sink))
	}
	store, err := cfg.ClickHouse.open(ctx)
	if err != nil {
		log.Warnf("Failed to open analytics store: %v", err)
	} else if store != nil {
		defer store.Close()
		opts = append(opts, applier.WithAnalytics(store))
	}

	a := applier.New(gh, clones, changes, gitcli.New(cfg.GitHubToken), opts...)
	out, err := a.Apply(ctx, cfg.ArtifactDir, applier.TriggerContext{
		WorkflowRunID: cfg.WorkflowRunID,
		Owner:         owner,
		Repo:          repo,
		PRNumber:      cfg.PRNumber,
	})
	if err != nil {
		return err
	}
	if out.Skipped {
		log.Warnf("Apply skipped: %s", out.Reason)
	}
	return nil
}
