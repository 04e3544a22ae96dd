/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package events decodes the GitHub Actions event payloads consumed by the
// pipeline into explicit typed values. Nothing downstream reads ambient
// state; every component receives one of these values as an argument.
package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/google/go-github/v84/github"
)

// ReadWorkflowRunEvent reads and decodes a workflow_run event payload from
// the given file (typically $GITHUB_EVENT_PATH).
func ReadWorkflowRunEvent(path string) (*github.WorkflowRunEvent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading event payload: %w", err)
	}

	var ev github.WorkflowRunEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("decoding workflow_run event: %w", err)
	}
	if ev.WorkflowRun == nil {
		return nil, errors.New("workflow_run event has no workflow_run field")
	}
	if ev.Repo == nil {
		return nil, errors.New("workflow_run event has no repository field")
	}
	return &ev, nil
}

// ReadPullRequestEvent reads and decodes a pull_request event payload from
// the given file.
func ReadPullRequestEvent(path string) (*github.PullRequestEvent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading event payload: %w", err)
	}

	var ev github.PullRequestEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("decoding pull_request event: %w", err)
	}
	if ev.PullRequest == nil {
		return nil, errors.New("pull_request event has no pull_request field")
	}
	if ev.Repo == nil {
		return nil, errors.New("pull_request event has no repository field")
	}
	return &ev, nil
}

// PullRequestInfo is an immutable snapshot of the pull request fields the
// pipeline consumes. It is fetched fresh at each stage and never carried
// across the untrusted/privileged boundary; the privileged phase re-fetches
// and compares before acting.
type PullRequestInfo struct {
	Owner       string
	Repo        string
	Number      int
	ID          int64
	HeadSHA     string
	HeadRef     string
	BaseSHA     string
	BaseRef     string
	HTMLURL     string
	Description string
	Author      string
	HeadRepoID  int64
	BaseRepoID  int64
}

// FromPullRequest narrows a freshly fetched PR into a PullRequestInfo.
func FromPullRequest(owner, repo string, pr *github.PullRequest) (PullRequestInfo, error) {
	if pr == nil {
		return PullRequestInfo{}, errors.New("pull request cannot be nil")
	}
	if pr.GetHead() == nil || pr.GetBase() == nil {
		return PullRequestInfo{}, fmt.Errorf("pull request #%d is missing head or base", pr.GetNumber())
	}

	return PullRequestInfo{
		Owner:       owner,
		Repo:        repo,
		Number:      pr.GetNumber(),
		ID:          pr.GetID(),
		HeadSHA:     pr.GetHead().GetSHA(),
		HeadRef:     pr.GetHead().GetRef(),
		BaseSHA:     pr.GetBase().GetSHA(),
		BaseRef:     pr.GetBase().GetRef(),
		HTMLURL:     pr.GetHTMLURL(),
		Description: pr.GetBody(),
		Author:      pr.GetUser().GetLogin(),
		HeadRepoID:  pr.GetHead().GetRepo().GetID(),
		BaseRepoID:  pr.GetBase().GetRepo().GetID(),
	}, nil
}

// IsFork reports whether the PR's head repository differs from its base
// repository. Fork-origin PRs are never auto-fixed with write credentials.
func (p PullRequestInfo) IsFork() bool {
	return p.HeadRepoID == 0 || p.BaseRepoID == 0 || p.HeadRepoID != p.BaseRepoID
}

// MarshalIndentJSON is a small helper for persisting raw payload snapshots
// as debug artifacts.
func MarshalIndentJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
