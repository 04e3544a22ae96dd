/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package applier is the privileged half of the split deployment. It
// consumes an artifact directory produced by the untrusted generation
// phase, validates the manifest against the triggering event and live PR
// state, and only then touches the repository with write credentials.
package applier

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v84/github"

	"chainguard.dev/cifixer/analytics"
	"chainguard.dev/cifixer/changemanager"
	"chainguard.dev/cifixer/clonemanager"
	"chainguard.dev/cifixer/events"
	"chainguard.dev/cifixer/gitcli"
	"chainguard.dev/cifixer/manifest"
	"chainguard.dev/cifixer/tensorzero"
)

// TriggerContext identifies the workflow_run event that launched the
// privileged phase. Every field must agree with the manifest before any
// artifact content is trusted.
type TriggerContext struct {
	WorkflowRunID int64
	Owner         string
	Repo          string
	PRNumber      int
}

// Outcome reports what the apply phase did. Skipped outcomes are
// successes that performed no write, e.g. drift against the live PR.
type Outcome struct {
	Skipped           bool
	Reason            string
	Followup          *changemanager.FollowupPR
	SuggestionsPosted bool
}

// Applier replays a validated manifest against GitHub.
type Applier struct {
	client  *github.Client
	clones  *clonemanager.Manager
	changes *changemanager.Manager
	git     *gitcli.Git
	store   *analytics.Store
	sink    *tensorzero.Client
}

// Option configures an Applier.
type Option func(*Applier)

// WithAnalytics records inference-to-PR mappings after follow-up creation.
func WithAnalytics(store *analytics.Store) Option {
	return func(a *Applier) { a.store = store }
}

// WithFeedback posts patch-outcome feedback to the model-serving layer.
func WithFeedback(sink *tensorzero.Client) Option {
	return func(a *Applier) { a.sink = sink }
}

// New returns an Applier over the given GitHub client and git plumbing.
func New(client *github.Client, clones *clonemanager.Manager, changes *changemanager.Manager, git *gitcli.Git, opts ...Option) *Applier {
	a := &Applier{client: client, clones: clones, changes: changes, git: git}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Apply validates the manifest in artifactDir against the trigger and the
// live PR, then posts the recorded comment and applies the recorded patch
// as a follow-up PR. Drift between the manifest's PR snapshot and the
// live PR is a skip, not an error: a head SHA that moved on means either
// the author pushed or a previous apply already landed, and in both cases
// the patch no longer describes the code it was generated against.
func (a *Applier) Apply(ctx context.Context, artifactDir string, trigger TriggerContext) (*Outcome, error) {
	log := clog.FromContext(ctx)

	m, err := manifest.Load(artifactDir)
	if err != nil {
		return nil, fmt.Errorf("loading manifest: %w", err)
	}
	if err := verifyTrigger(m, trigger); err != nil {
		return nil, err
	}

	ghPR, _, err := a.client.PullRequests.Get(ctx, trigger.Owner, trigger.Repo, trigger.PRNumber)
	if err != nil {
		return nil, fmt.Errorf("fetching live PR #%d: %w", trigger.PRNumber, err)
	}
	pr, err := events.FromPullRequest(trigger.Owner, trigger.Repo, ghPR)
	if err != nil {
		return nil, err
	}
	if pr.HeadSHA != m.PullRequest.HeadSHA {
		reason := fmt.Sprintf("PR #%d head moved from %s to %s since generation", pr.Number, m.PullRequest.HeadSHA, pr.HeadSHA)
		log.Warnf("Skipping apply: %s", reason)
		return &Outcome{Skipped: true, Reason: reason}, nil
	}
	if state := ghPR.GetState(); state != "" && state != "open" {
		reason := fmt.Sprintf("PR #%d is %s", pr.Number, state)
		log.Warnf("Skipping apply: %s", reason)
		return &Outcome{Skipped: true, Reason: reason}, nil
	}

	comment, err := manifest.ReadComment(artifactDir, m)
	if err != nil {
		return nil, err
	}

	out := &Outcome{}
	var applyErr error
	if m.Metadata.HasDiff {
		switch m.Agent.Decision {
		case manifest.DecisionInlineSuggestions:
			applyErr = a.postSuggestions(ctx, artifactDir, m, pr)
			out.SuggestionsPosted = applyErr == nil
		default:
			out.Followup, applyErr = a.applyPatch(ctx, artifactDir, m, pr)
		}
		a.reportPatchOutcome(ctx, m, applyErr)
	}

	// The diagnostic comment is posted regardless of whether the patch
	// landed, so the PR author always learns what happened.
	if body := diagnosticComment(comment, out, applyErr); body != "" {
		if err := a.changes.PostComment(ctx, pr, body); err != nil {
			log.Warnf("Failed to post diagnostic comment on PR #%d: %v", pr.Number, err)
		}
	}
	if applyErr != nil {
		return nil, applyErr
	}
	return out, nil
}

// postSuggestions replays an INLINE_SUGGESTIONS decision by re-parsing
// the recorded diff into per-hunk suggestion comments on the original PR.
func (a *Applier) postSuggestions(ctx context.Context, artifactDir string, m *manifest.Manifest, pr events.PullRequestInfo) error {
	diff, err := manifest.ReadDiff(artifactDir, m)
	if err != nil {
		return err
	}
	files, err := changemanager.ParseGitDiff(diff)
	if err != nil {
		return fmt.Errorf("parsing recorded diff: %w", err)
	}
	if err := a.changes.PostInlineSuggestions(ctx, pr, files, m.Agent.Reasoning); err != nil {
		return fmt.Errorf("posting inline suggestions on PR #%d: %w", pr.Number, err)
	}
	clog.FromContext(ctx).Infof("Posted inline suggestions on PR #%d (%d files)", pr.Number, len(files))
	return nil
}

func (a *Applier) applyPatch(ctx context.Context, artifactDir string, m *manifest.Manifest, pr events.PullRequestInfo) (*changemanager.FollowupPR, error) {
	log := clog.FromContext(ctx)

	diff, err := manifest.ReadDiff(artifactDir, m)
	if err != nil {
		return nil, err
	}

	cl, err := a.clones.Clone(ctx, pr.Owner, pr.Repo, pr.HeadRef)
	if err != nil {
		return nil, fmt.Errorf("cloning %s/%s@%s: %w", pr.Owner, pr.Repo, pr.HeadRef, err)
	}
	defer cl.Close()

	if cl.HeadSHA() != m.PullRequest.HeadSHA {
		return nil, fmt.Errorf("branch %s advanced to %s between validation and clone", pr.HeadRef, cl.HeadSHA())
	}

	patch, err := os.CreateTemp("", "cifixer-patch-*.diff")
	if err != nil {
		return nil, fmt.Errorf("creating patch scratch file: %w", err)
	}
	defer os.Remove(patch.Name())
	if _, err := patch.WriteString(diff); err != nil {
		patch.Close()
		return nil, fmt.Errorf("writing patch scratch file: %w", err)
	}
	if err := patch.Close(); err != nil {
		return nil, fmt.Errorf("closing patch scratch file: %w", err)
	}

	if err := a.git.Apply(ctx, cl.Dir(), patch.Name()); err != nil {
		return nil, fmt.Errorf("applying patch to %s: %w", pr.HeadRef, err)
	}

	title := fmt.Sprintf("Fix CI failure on #%d", pr.Number)
	body := followupBody(m, pr)
	followup, err := a.changes.CreateFollowupPR(ctx, cl, pr, title, body)
	if err != nil {
		return nil, err
	}
	log.Infof("Opened follow-up PR %s for PR #%d", followup.HTMLURL, pr.Number)

	if a.store != nil && (m.LLM.InferenceID != "" || m.LLM.EpisodeID != "") {
		if err := a.store.Insert(ctx, analytics.Record{
			InferenceID:            m.LLM.InferenceID,
			EpisodeID:              m.LLM.EpisodeID,
			PullRequestID:          followup.ID,
			CreatedAt:              m.CreatedAt,
			OriginalPullRequestURL: pr.HTMLURL,
		}); err != nil {
			log.Warnf("Failed to record inference analytics for PR #%d: %v", followup.Number, err)
		}
	}
	return followup, nil
}

// reportPatchOutcome posts the diff-patched metric. Sink failures are
// logged and swallowed: feedback is advisory, the repository write is the
// product.
func (a *Applier) reportPatchOutcome(ctx context.Context, m *manifest.Manifest, applyErr error) {
	if a.sink == nil {
		return
	}
	log := clog.FromContext(ctx)
	if m.LLM.InferenceID == "" && m.LLM.EpisodeID == "" {
		log.Warnf("No inference or episode id recorded, skipping patch-outcome feedback")
		return
	}
	fb := tensorzero.Feedback{
		MetricName: m.TensorZero.DiffPatchedMetricName,
		Value:      applyErr == nil,
	}
	if m.LLM.InferenceID != "" {
		fb.InferenceID = m.LLM.InferenceID
	} else {
		fb.EpisodeID = m.LLM.EpisodeID
	}
	if applyErr != nil {
		fb.Tags = map[string]string{"reason": "Failed to Apply Patch"}
	}
	if err := a.sink.SendFeedback(ctx, fb); err != nil {
		log.Warnf("Failed to send patch-outcome feedback: %v", err)
	}
}

func verifyTrigger(m *manifest.Manifest, trigger TriggerContext) error {
	if m.WorkflowRun.ID != trigger.WorkflowRunID {
		return fmt.Errorf("manifest workflow run %d does not match triggering run %d", m.WorkflowRun.ID, trigger.WorkflowRunID)
	}
	if !strings.EqualFold(m.Repository.Owner, trigger.Owner) || !strings.EqualFold(m.Repository.Name, trigger.Repo) {
		return fmt.Errorf("manifest repository %s/%s does not match triggering repository %s/%s",
			m.Repository.Owner, m.Repository.Name, trigger.Owner, trigger.Repo)
	}
	if m.PullRequest.Number != trigger.PRNumber {
		return fmt.Errorf("manifest PR #%d does not match triggering PR #%d", m.PullRequest.Number, trigger.PRNumber)
	}
	return nil
}

func followupBody(m *manifest.Manifest, pr events.PullRequestInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Automated fix for the CI failure on #%d.\n\n", pr.Number)
	if m.WorkflowRun.Name != "" {
		fmt.Fprintf(&b, "Failed workflow: %s (run %d).\n", m.WorkflowRun.Name, m.WorkflowRun.ID)
	} else {
		fmt.Fprintf(&b, "Failed workflow run: %d.\n", m.WorkflowRun.ID)
	}
	b.WriteString("\nReview carefully before merging: these changes were generated by an automated agent.\n")
	return b.String()
}

func diagnosticComment(generated string, out *Outcome, applyErr error) string {
	var parts []string
	if generated != "" {
		parts = append(parts, generated)
	}
	switch {
	case applyErr != nil:
		parts = append(parts, fmt.Sprintf("I attempted to fix this CI failure automatically but could not apply the generated changes: %v", applyErr))
	case out.Followup != nil:
		parts = append(parts, fmt.Sprintf("I opened %s with a proposed fix for this CI failure.", out.Followup.HTMLURL))
	case out.SuggestionsPosted:
		parts = append(parts, "I left inline suggestions on this PR with a proposed fix for the CI failure.")
	}
	return strings.Join(parts, "\n\n---\n\n")
}
