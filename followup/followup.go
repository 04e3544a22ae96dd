/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package followup finds and retires the automated follow-up pull
// requests attached to a parent PR. When the parent closes, any open
// fix PRs targeting it are stale and get closed with an explanatory
// comment.
package followup

import (
	"context"
	"fmt"
	"regexp"

	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v84/github"
)

// branchPattern matches follow-up branches minted for the given parent PR
// under the given namespace. The parent number is anchored between
// literal separators so pr-12 never matches branches for pr-123.
func branchPattern(namespace string, parentNumber int) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf(`^%s/pr-%d-\d+$`, regexp.QuoteMeta(namespace), parentNumber))
}

// Closer closes stale follow-up pull requests.
type Closer struct {
	client    *github.Client
	namespace string
}

// New returns a Closer that recognizes follow-up branches under namespace.
func New(client *github.Client, namespace string) *Closer {
	return &Closer{client: client, namespace: namespace}
}

// CloseForParent closes every open follow-up PR whose base is the parent
// PR's head branch and whose head branch encodes the parent number. The
// branch itself is deleted best effort: a surviving branch is clutter, a
// surviving open PR is noise for the next reviewer.
func (c *Closer) CloseForParent(ctx context.Context, owner, repo string, parentNumber int, parentHeadRef string) error {
	log := clog.FromContext(ctx)
	pattern := branchPattern(c.namespace, parentNumber)

	opt := &github.PullRequestListOptions{
		State:       "open",
		Base:        parentHeadRef,
		ListOptions: github.ListOptions{PerPage: 100},
	}
	for {
		prs, resp, err := c.client.PullRequests.List(ctx, owner, repo, opt)
		if err != nil {
			return fmt.Errorf("listing open pull requests on base %q: %w", parentHeadRef, err)
		}
		for _, pr := range prs {
			headRef := pr.GetHead().GetRef()
			if !pattern.MatchString(headRef) {
				continue
			}
			if err := c.closeOne(ctx, owner, repo, pr, parentNumber); err != nil {
				return err
			}
			log.Infof("Closed stale follow-up PR #%d (branch %s)", pr.GetNumber(), headRef)
		}
		if resp.NextPage == 0 {
			break
		}
		opt.Page = resp.NextPage
	}
	return nil
}

func (c *Closer) closeOne(ctx context.Context, owner, repo string, pr *github.PullRequest, parentNumber int) error {
	log := clog.FromContext(ctx)
	number := pr.GetNumber()

	// The comment is a courtesy; closing the PR is the point. A failed
	// comment must not leave the stale PR open.
	comment := fmt.Sprintf("Closing this automated fix because its parent PR #%d was closed.", parentNumber)
	if _, _, err := c.client.Issues.CreateComment(ctx, owner, repo, number, &github.IssueComment{
		Body: github.Ptr(comment),
	}); err != nil {
		log.Warnf("Failed to comment on follow-up PR #%d: %v", number, err)
	}

	if _, _, err := c.client.PullRequests.Edit(ctx, owner, repo, number, &github.PullRequest{
		State: github.Ptr("closed"),
	}); err != nil {
		return fmt.Errorf("closing follow-up PR #%d: %w", number, err)
	}

	ref := "heads/" + pr.GetHead().GetRef()
	if _, err := c.client.Git.DeleteRef(ctx, owner, repo, ref); err != nil {
		log.Warnf("Failed to delete branch %s for closed follow-up PR #%d: %v", ref, number, err)
	}
	return nil
}
