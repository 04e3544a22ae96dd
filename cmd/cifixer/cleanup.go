/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"fmt"

	"github.com/chainguard-dev/clog"
	"github.com/sethvargo/go-envconfig"
	"github.com/spf13/cobra"

	"chainguard.dev/cifixer/events"
	"chainguard.dev/cifixer/followup"
)

type cleanupConfig struct {
	GitHubToken     string `env:"GITHUB_TOKEN,required"`
	EventPath       string `env:"GITHUB_EVENT_PATH,required"`
	BranchNamespace string `env:"BRANCH_NAMESPACE,default=ci-autofix"`
}

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "cleanup",
		Short: "Close stale follow-up PRs when their parent PR closes",
		RunE:  runCleanup,
	})
}

func runCleanup(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	log := clog.FromContext(ctx)

	var cfg cleanupConfig
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return fmt.Errorf("processing config: %w", err)
	}

	ev, err := events.ReadPullRequestEvent(cfg.EventPath)
	if err != nil {
		return err
	}
	if ev.GetAction() != "closed" {
		log.Warnf("Skipping pull_request event with action %q", ev.GetAction())
		return nil
	}

	owner := ev.GetRepo().GetOwner().GetLogin()
	repo := ev.GetRepo().GetName()
	pr := ev.GetPullRequest()

	gh := newGitHubClient(ctx, cfg.GitHubToken)
	closer := followup.New(gh, cfg.BranchNamespace)
	return closer.CloseForParent(ctx, owner, repo, pr.GetNumber(), pr.GetHead().GetRef())
}
