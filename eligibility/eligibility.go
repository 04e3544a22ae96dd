/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package eligibility decides whether a workflow_run event warrants running
// the autofix pipeline at all. All rejections are non-fatal: they
// short-circuit the pipeline with a logged reason, never an error.
package eligibility

import (
	"context"
	"fmt"

	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v84/github"
)

// Result is the gate's verdict. Reason is set only when Eligible is false.
type Result struct {
	Eligible bool
	Reason   string
}

func ineligible(format string, args ...any) Result {
	return Result{Reason: fmt.Sprintf(format, args...)}
}

// Check evaluates a workflow_run event against the preconditions for
// automated fixing:
//
//   - the run concluded in failure,
//   - exactly one pull request is associated with the run,
//   - that PR's head repository is the base repository (no forks),
//   - the PR targets the repository's default branch.
func Check(ctx context.Context, ev *github.WorkflowRunEvent) Result {
	log := clog.FromContext(ctx)

	run := ev.GetWorkflowRun()
	if run == nil {
		return logged(log, ineligible("event carries no workflow run"))
	}

	if c := run.GetConclusion(); c != "failure" {
		return logged(log, ineligible("workflow run %d concluded %q, not failure", run.GetID(), c))
	}

	switch n := len(run.PullRequests); {
	case n == 0:
		return logged(log, ineligible("workflow run %d has no associated pull request", run.GetID()))
	case n > 1:
		return logged(log, ineligible("workflow run %d has %d associated pull requests, expected exactly one", run.GetID(), n))
	}

	pr := run.PullRequests[0]
	headRepoID := pr.GetHead().GetRepo().GetID()
	baseRepoID := pr.GetBase().GetRepo().GetID()
	if headRepoID == 0 || baseRepoID == 0 || headRepoID != baseRepoID {
		return logged(log, ineligible("pull request #%d is from a fork (head repo %d, base repo %d)", pr.GetNumber(), headRepoID, baseRepoID))
	}

	defaultBranch := ev.GetRepo().GetDefaultBranch()
	if base := pr.GetBase().GetRef(); base != defaultBranch {
		return logged(log, ineligible("pull request #%d targets %q, not default branch %q", pr.GetNumber(), base, defaultBranch))
	}

	return Result{Eligible: true}
}

func logged(log *clog.Logger, r Result) Result {
	log.Warnf("Skipping run: %s", r.Reason)
	return r
}
