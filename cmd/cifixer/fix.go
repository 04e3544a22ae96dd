/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v84/github"
	"github.com/sethvargo/go-envconfig"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"chainguard.dev/cifixer/agentdriver"
	"chainguard.dev/cifixer/analytics"
	"chainguard.dev/cifixer/changemanager"
	"chainguard.dev/cifixer/clonemanager"
	"chainguard.dev/cifixer/eligibility"
	"chainguard.dev/cifixer/events"
	"chainguard.dev/cifixer/failurecontext"
	"chainguard.dev/cifixer/gitcli"
	"chainguard.dev/cifixer/manifest"
	"chainguard.dev/cifixer/tensorzero"
)

type fixConfig struct {
	GitHubToken string `env:"GITHUB_TOKEN,required"`
	EventPath   string `env:"GITHUB_EVENT_PATH,required"`

	BotIdentity     string `env:"BOT_IDENTITY,default=ci-autofix"`
	BranchNamespace string `env:"BRANCH_NAMESPACE,default=ci-autofix"`

	// ArtifactDir switches the command into split-deployment mode: instead
	// of reconciling directly, outputs are written as an artifact for the
	// privileged apply phase.
	ArtifactDir string `env:"ARTIFACT_DIR"`

	AgentBinary       string        `env:"AGENT_BINARY,default=mini"`
	AgentModel        string        `env:"AGENT_MODEL"`
	AgentCostLimitUSD float64       `env:"AGENT_COST_LIMIT_USD,default=1.00"`
	AgentTimeout      time.Duration `env:"AGENT_TIMEOUT,default=20m"`

	LogMaxBytes int `env:"LOG_MAX_BYTES,default=204800"`

	TensorZeroBaseURL string `env:"TENSORZERO_BASE_URL"`
	DiffPatchedMetric string `env:"TENSORZERO_DIFF_PATCHED_METRIC,default=ci_autofix_diff_patched"`

	ClickHouse clickhouseConfig
}

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "fix",
		Short: "React to a failed workflow run by generating a fix",
		RunE:  runFix,
	})
}

func runFix(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	log := clog.FromContext(ctx)

	var cfg fixConfig
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return fmt.Errorf("processing config: %w", err)
	}

	ev, err := events.ReadWorkflowRunEvent(cfg.EventPath)
	if err != nil {
		return err
	}
	if res := eligibility.Check(ctx, ev); !res.Eligible {
		log.Warnf("Skipping ineligible workflow run: %s", res.Reason)
		return nil
	}

	run := ev.GetWorkflowRun()
	owner := ev.GetRepo().GetOwner().GetLogin()
	repo := ev.GetRepo().GetName()
	number := run.PullRequests[0].GetNumber()

	gh := newGitHubClient(ctx, cfg.GitHubToken)
	ghPR, _, err := gh.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return fmt.Errorf("fetching PR #%d: %w", number, err)
	}
	pr, err := events.FromPullRequest(owner, repo, ghPR)
	if err != nil {
		return err
	}
	if pr.IsFork() {
		log.Warnf("Skipping PR #%d from a fork", pr.Number)
		return nil
	}
	if pr.HeadSHA != run.GetHeadSHA() {
		log.Warnf("Skipping stale run %d: PR #%d head is now %s, run was against %s",
			run.GetID(), pr.Number, pr.HeadSHA, run.GetHeadSHA())
		return nil
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.GitHubToken})
	clones, err := clonemanager.New(ts, cfg.BotIdentity)
	if err != nil {
		return err
	}
	cl, err := clones.Clone(ctx, owner, repo, pr.HeadRef)
	if err != nil {
		return fmt.Errorf("cloning %s/%s@%s: %w", owner, repo, pr.HeadRef, err)
	}
	defer cl.Close()
	if err := cl.FetchBase(ctx, pr.BaseRef); err != nil {
		return err
	}

	git := gitcli.New(cfg.GitHubToken)
	bundle, err := assembleBundle(ctx, gh, git, cl, run, pr, &cfg)
	if err != nil {
		return err
	}
	if bundle == nil {
		return nil
	}

	result, err := runAgent(ctx, cl, bundle, &cfg)
	if err != nil {
		return err
	}

	changed, err := cl.HasChanges()
	if err != nil {
		return err
	}
	if !changed {
		log.Infof("Agent concluded no change was needed for PR #%d", pr.Number)
		return nil
	}
	if err := cl.StageAll(); err != nil {
		return err
	}
	diff, err := git.StagedDiff(ctx, cl.Dir())
	if err != nil {
		return err
	}
	if changemanager.NoEffectiveChange(diff) {
		log.Infof("Agent produced an empty diff for PR #%d", pr.Number)
		return nil
	}

	if cfg.ArtifactDir != "" {
		return writeArtifacts(ctx, run, pr, result, diff, bundle, &cfg)
	}
	return reconcileDirect(ctx, gh, cl, pr, result, diff, &cfg)
}

// assembleBundle gathers the failure context: the PR diff against its
// base, the failed jobs, and their logs. A nil bundle with nil error
// means there is nothing actionable (no failed jobs survived filtering).
func assembleBundle(ctx context.Context, gh *github.Client, git *gitcli.Git, cl *clonemanager.Clone, run *github.WorkflowRun, pr events.PullRequestInfo, cfg *fixConfig) (*failurecontext.Bundle, error) {
	log := clog.FromContext(ctx)

	base := "origin/" + pr.BaseRef
	diffSummary, err := git.RangeDiff(ctx, cl.Dir(), base, true)
	if err != nil {
		return nil, err
	}
	fullDiff, err := git.RangeDiff(ctx, cl.Dir(), base, false)
	if err != nil {
		return nil, err
	}

	jobs, err := failurecontext.ListJobs(ctx, gh, pr.Owner, pr.Repo, run.GetID())
	if err != nil {
		return nil, err
	}
	failed := failurecontext.FilterFailedJobs(jobs)
	if len(failed) == 0 {
		log.Warnf("Run %d concluded failure but no failed jobs were found", run.GetID())
		return nil, nil
	}
	logs := failurecontext.CollectFailureLogs(ctx, gh, pr.Owner, pr.Repo, failed)
	logs = failurecontext.TruncateLogs(logs, cfg.LogMaxBytes)

	return &failurecontext.Bundle{
		WorkflowRunID:  run.GetID(),
		WorkflowRunURL: run.GetHTMLURL(),
		PullRequestURL: pr.HTMLURL,
		FailedJobs:     failed,
		DiffSummary:    diffSummary,
		FullDiff:       fullDiff,
		FailureLogs:    logs,
	}, nil
}

// runAgent writes the task brief into the working copy, runs the agent
// against it, and removes the brief before any diff is computed so it can
// never leak into the generated change.
func runAgent(ctx context.Context, cl *clonemanager.Clone, bundle *failurecontext.Bundle, cfg *fixConfig) (*agentdriver.RunResult, error) {
	brief, err := bundle.RenderBrief()
	if err != nil {
		return nil, err
	}
	if _, err := failurecontext.WriteBrief(cl.Dir(), brief); err != nil {
		return nil, err
	}
	defer func() {
		if err := failurecontext.RemoveBrief(cl.Dir()); err != nil {
			clog.FromContext(ctx).Warnf("Failed to remove task brief: %v", err)
		}
	}()

	opts := []agentdriver.Option{
		agentdriver.WithCostLimit(cfg.AgentCostLimitUSD),
		agentdriver.WithTimeout(cfg.AgentTimeout),
	}
	if cfg.AgentModel != "" {
		opts = append(opts, agentdriver.WithModel(cfg.AgentModel))
	}
	driver, err := agentdriver.New(cfg.AgentBinary, opts...)
	if err != nil {
		return nil, err
	}

	task := fmt.Sprintf("Read %s in the repository root and complete the task it describes.", failurecontext.BriefFilename)
	return driver.Run(ctx, task, cl.Dir())
}

func writeArtifacts(ctx context.Context, run *github.WorkflowRun, pr events.PullRequestInfo, result *agentdriver.RunResult, diff string, bundle *failurecontext.Bundle, cfg *fixConfig) error {
	jobsJSON, err := events.MarshalIndentJSON(bundle.FailedJobs)
	if err != nil {
		return err
	}
	var response []byte
	if result.Trajectory != nil {
		if response, err = events.MarshalIndentJSON(result.Trajectory); err != nil {
			return err
		}
	}

	m := &manifest.Manifest{
		SchemaVersion:   manifest.SchemaVersion,
		ArtifactVersion: manifest.ArtifactVersion,
		CreatedAt:       time.Now().UTC(),
		WorkflowRun: manifest.WorkflowRunRef{
			ID:         run.GetID(),
			Attempt:    run.GetRunAttempt(),
			Name:       run.GetName(),
			HeadBranch: run.GetHeadBranch(),
		},
		Repository: manifest.RepositoryRef{Owner: pr.Owner, Name: pr.Repo},
		PullRequest: manifest.PullRequestRef{
			Number:           pr.Number,
			HeadSHA:          pr.HeadSHA,
			HeadRef:          pr.HeadRef,
			BaseSHA:          pr.BaseSHA,
			BaseRef:          pr.BaseRef,
			HTMLURL:          pr.HTMLURL,
			HeadRepositoryID: pr.HeadRepoID,
			BaseRepositoryID: pr.BaseRepoID,
			Author:           pr.Author,
		},
		Agent: manifest.AgentRef{
			Decision:  string(result.Completion.Decision),
			Reasoning: result.Completion.Reasoning,
		},
		LLM:        manifest.LLMRef{EpisodeID: result.EpisodeID},
		TensorZero: manifest.TensorZeroRef{DiffPatchedMetricName: cfg.DiffPatchedMetric},
	}
	in := &manifest.Inputs{
		Diff:         diff,
		LLMResponse:  response,
		FailureLogs:  bundle.FailureLogs,
		WorkflowJobs: jobsJSON,
	}
	if err := manifest.Write(cfg.ArtifactDir, m, in); err != nil {
		return err
	}
	clog.FromContext(ctx).Infof("Wrote apply artifact for PR #%d to %s (decision %s)",
		pr.Number, cfg.ArtifactDir, m.Agent.Decision)
	return nil
}

func reconcileDirect(ctx context.Context, gh *github.Client, cl *clonemanager.Clone, pr events.PullRequestInfo, result *agentdriver.RunResult, diff string, cfg *fixConfig) error {
	log := clog.FromContext(ctx)

	changes, err := changemanager.New(gh, cfg.BranchNamespace)
	if err != nil {
		return err
	}
	sink := newFeedbackSink(cfg.TensorZeroBaseURL)

	if result.Completion.Decision == agentdriver.DecisionInlineSuggestions {
		files, err := changemanager.ParseGitDiff(diff)
		if err != nil {
			return fmt.Errorf("parsing agent diff: %w", err)
		}
		if err := changes.PostInlineSuggestions(ctx, pr, files, result.Completion.Reasoning); err != nil {
			sendPatchFeedback(ctx, sink, cfg, result.EpisodeID, false)
			return err
		}
		log.Infof("Posted inline suggestions on PR #%d (%d files)", pr.Number, len(files))
		sendPatchFeedback(ctx, sink, cfg, result.EpisodeID, true)
		return nil
	}

	title := fmt.Sprintf("Fix CI failure on #%d", pr.Number)
	body := fmt.Sprintf("Automated fix for the CI failure on #%d.\n\n%s\n\nReview carefully before merging: these changes were generated by an automated agent.",
		pr.Number, result.Completion.Reasoning)
	followup, err := changes.CreateFollowupPR(ctx, cl, pr, title, body)
	if err != nil {
		sendPatchFeedback(ctx, sink, cfg, result.EpisodeID, false)
		if cerr := changes.PostComment(ctx, pr, fmt.Sprintf("I attempted to fix this CI failure automatically but could not open a follow-up PR: %v", err)); cerr != nil {
			log.Warnf("Failed to post diagnostic comment on PR #%d: %v", pr.Number, cerr)
		}
		return err
	}
	log.Infof("Opened follow-up PR %s for PR #%d", followup.HTMLURL, pr.Number)

	recordInference(ctx, cfg, result.EpisodeID, followup.ID, pr.HTMLURL)
	sendPatchFeedback(ctx, sink, cfg, result.EpisodeID, true)

	if err := changes.PostComment(ctx, pr, fmt.Sprintf("I opened %s with a proposed fix for this CI failure.", followup.HTMLURL)); err != nil {
		log.Warnf("Failed to post diagnostic comment on PR #%d: %v", pr.Number, err)
	}
	return nil
}

func sendPatchFeedback(ctx context.Context, sink *tensorzero.Client, cfg *fixConfig, episodeID string, value bool) {
	if sink == nil || episodeID == "" {
		return
	}
	fb := tensorzero.Feedback{
		MetricName: cfg.DiffPatchedMetric,
		EpisodeID:  episodeID,
		Value:      value,
	}
	if !value {
		fb.Tags = map[string]string{"reason": "Failed to Apply Patch"}
	}
	if err := sink.SendFeedback(ctx, fb); err != nil {
		clog.FromContext(ctx).Warnf("Failed to send patch-outcome feedback: %v", err)
	}
}

func recordInference(ctx context.Context, cfg *fixConfig, episodeID string, followupID int64, originalURL string) {
	log := clog.FromContext(ctx)
	if episodeID == "" {
		return
	}
	store, err := cfg.ClickHouse.open(ctx)
	if err != nil {
		log.Warnf("Failed to open analytics store: %v", err)
		return
	}
	if store == nil {
		return
	}
	defer store.Close()
	if err := store.Insert(ctx, analytics.Record{
		EpisodeID:              episodeID,
		PullRequestID:          followupID,
		CreatedAt:              time.Now().UTC(),
		OriginalPullRequestURL: originalURL,
	}); err != nil {
		log.Warnf("Failed to record inference analytics: %v", err)
	}
}
