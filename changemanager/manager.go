/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package changemanager reconciles the agent's file-system mutations into
// GitHub state: either inline review suggestions on the original pull
// request or a follow-up pull request built from a fresh branch, commit,
// and push.
package changemanager

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"chainguard.dev/cifixer/clonemanager"
	"chainguard.dev/cifixer/events"
	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v84/github"
)

// Manager drives PR-facing mutations for a given branch namespace.
type Manager struct {
	client    *github.Client
	namespace string
}

// New constructs a Manager. The namespace prefixes every follow-up branch
// the bot creates, e.g. "ci-autofix" yields ci-autofix/pr-42-1700000000.
func New(client *github.Client, namespace string) (*Manager, error) {
	if client == nil {
		return nil, errors.New("github client cannot be nil")
	}
	if namespace == "" {
		return nil, errors.New("branch namespace cannot be empty")
	}
	return &Manager{client: client, namespace: namespace}, nil
}

// Namespace returns the manager's branch namespace.
func (m *Manager) Namespace() string { return m.namespace }

// BranchName builds the uniquely timestamped follow-up branch name for a
// parent PR. The timestamp suffix guarantees uniqueness across retries.
func BranchName(namespace string, prNumber int, now time.Time) string {
	return fmt.Sprintf("%s/pr-%d-%d", namespace, prNumber, now.Unix())
}

// NoEffectiveChange reports whether a staged diff carries nothing worth
// delivering. Callers check this before any GitHub write so an agent run
// that touched nothing ends quietly.
func NoEffectiveChange(diff string) bool {
	return strings.TrimSpace(diff) == ""
}

// FollowupPR identifies a created follow-up pull request. ID is the
// durable key recorded in the analytics store.
type FollowupPR struct {
	Number  int
	ID      int64
	HTMLURL string
}

// CreateFollowupPR runs the branch → commit → push → PR sequence against
// the given working copy. The follow-up PR's base is the original PR's
// head branch: it targets the in-flight PR, not mainline. Each stage's
// failure is reported by name; nothing is rolled back because the working
// copy is disposable.
//
// Fork-origin PRs are rejected before any mutation. The eligibility gate
// already checks this, but this layer can be invoked from a different
// trust context (the privileged replay), so the check is repeated here.
func (m *Manager) CreateFollowupPR(ctx context.Context, cl *clonemanager.Clone, pr events.PullRequestInfo, title, body string) (*FollowupPR, error) {
	log := clog.FromContext(ctx)

	if pr.IsFork() {
		return nil, fmt.Errorf("refusing to create follow-up PR for fork-origin pull request #%d", pr.Number)
	}

	branch := BranchName(m.namespace, pr.Number, time.Now())

	if err := cl.CreateBranch(branch); err != nil {
		return nil, fmt.Errorf("creating branch %s: %w", branch, err)
	}

	if err := cl.StageAll(); err != nil {
		return nil, fmt.Errorf("staging changes on %s: %w", branch, err)
	}

	message := fmt.Sprintf("Fix CI failure on #%d\n\n%s", pr.Number, title)
	if _, err := cl.Commit(message); err != nil {
		return nil, fmt.Errorf("committing changes on %s: %w", branch, err)
	}

	if err := cl.Push(ctx, branch); err != nil {
		return nil, fmt.Errorf("pushing branch %s: %w", branch, err)
	}

	created, _, err := m.client.PullRequests.Create(ctx, pr.Owner, pr.Repo, &github.NewPullRequest{
		Title: github.Ptr(title),
		Body:  github.Ptr(body),
		Head:  github.Ptr(branch),
		Base:  github.Ptr(pr.HeadRef),
	})
	if err != nil {
		return nil, fmt.Errorf("creating pull request from %s: %w", branch, err)
	}

	log.Infof("Created follow-up PR #%d: %s", created.GetNumber(), created.GetHTMLURL())
	return &FollowupPR{
		Number:  created.GetNumber(),
		ID:      created.GetID(),
		HTMLURL: created.GetHTMLURL(),
	}, nil
}

// PostComment posts an issue comment on the pull request.
func (m *Manager) PostComment(ctx context.Context, pr events.PullRequestInfo, body string) error {
	_, _, err := m.client.Issues.CreateComment(ctx, pr.Owner, pr.Repo, pr.Number, &github.IssueComment{
		Body: github.Ptr(body),
	})
	if err != nil {
		return fmt.Errorf("posting comment on #%d: %w", pr.Number, err)
	}
	return nil
}
