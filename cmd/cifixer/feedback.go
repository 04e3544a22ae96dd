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
	"chainguard.dev/cifixer/tensorzero"
)

type feedbackConfig struct {
	EventPath string `env:"GITHUB_EVENT_PATH,required"`

	TensorZeroBaseURL string `env:"TENSORZERO_BASE_URL,required"`
	MergedMetric      string `env:"TENSORZERO_MERGED_METRIC,default=ci_autofix_pr_merged"`

	ClickHouse clickhouseConfig
}

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "feedback",
		Short: "Report merged/rejected outcomes for a closed follow-up PR",
		RunE:  runFeedback,
	})
}

// runFeedback reacts to a pull_request closed event by looking up which
// inference(s) produced the closed PR and reporting whether it merged.
// PRs with no analytics records were not produced by this bot; that path
// warns and exits clean.
func runFeedback(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	log := clog.FromContext(ctx)

	var cfg feedbackConfig
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
	pr := ev.GetPullRequest()
	merged := pr.GetMerged()

	store, err := cfg.ClickHouse.open(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return fmt.Errorf("CLICKHOUSE_ADDR is required for feedback collection")
	}
	defer store.Close()

	records, err := store.QueryByPullRequestID(ctx, pr.GetID())
	if err != nil {
		return err
	}
	if len(records) == 0 {
		log.Warnf("No inference records for PR #%d (id %d), nothing to report", pr.GetNumber(), pr.GetID())
		return nil
	}

	sink := tensorzero.NewClient(cfg.TensorZeroBaseURL)
	for _, r := range records {
		fb := tensorzero.Feedback{
			MetricName: cfg.MergedMetric,
			Value:      merged,
			Tags:       map[string]string{"pull_request_url": pr.GetHTMLURL()},
		}
		if r.InferenceID != "" {
			fb.InferenceID = r.InferenceID
		} else {
			fb.EpisodeID = r.EpisodeID
		}
		if err := sink.SendFeedback(ctx, fb); err != nil {
			return fmt.Errorf("reporting outcome for PR #%d: %w", pr.GetNumber(), err)
		}
	}
	log.Infof("Reported merged=%t for PR #%d across %d inference record(s)", merged, pr.GetNumber(), len(records))
	return nil
}
