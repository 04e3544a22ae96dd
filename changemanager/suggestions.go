/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package changemanager

import (
	"context"
	"fmt"
	"strings"

	"chainguard.dev/cifixer/events"
	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v84/github"
	"github.com/waigani/diffparser"
)

// DiffHunk is one contiguous change region parsed from a unified diff.
type DiffHunk struct {
	// StartLine and LineCount describe the hunk's extent on the new side
	// of the diff (the +c,d half of the @@ header).
	StartLine int
	LineCount int
	// Content is the raw hunk text with diff markers.
	Content string
	// SuggestedContent is the hunk with markers stripped: additions and
	// context only, removed lines excluded. This is what goes inside a
	// review suggestion block.
	SuggestedContent string
}

// FileChange groups a file's hunks.
type FileChange struct {
	Path  string
	Hunks []DiffHunk
}

// ParseGitDiff parses a unified diff into per-file hunk records. Deletions
// (files whose new-side target is /dev/null) are skipped: there is no line
// to anchor a suggestion to.
func ParseGitDiff(diff string) ([]FileChange, error) {
	if strings.TrimSpace(diff) == "" {
		return nil, nil
	}

	parsed, err := diffparser.Parse(diff)
	if err != nil {
		return nil, fmt.Errorf("parsing unified diff: %w", err)
	}

	var changes []FileChange
	for _, file := range parsed.Files {
		if file.Mode == diffparser.DELETED || file.NewName == "" || file.NewName == "/dev/null" {
			continue
		}

		fc := FileChange{Path: file.NewName}
		for _, hunk := range file.Hunks {
			fc.Hunks = append(fc.Hunks, DiffHunk{
				StartLine:        hunk.NewRange.Start,
				LineCount:        hunk.NewRange.Length,
				Content:          rawHunk(hunk),
				SuggestedContent: suggested(hunk),
			})
		}
		if len(fc.Hunks) > 0 {
			changes = append(changes, fc)
		}
	}
	return changes, nil
}

func rawHunk(hunk *diffparser.DiffHunk) string {
	var sb strings.Builder
	for _, line := range hunk.WholeRange.Lines {
		switch line.Mode {
		case diffparser.ADDED:
			sb.WriteString("+")
		case diffparser.REMOVED:
			sb.WriteString("-")
		default:
			sb.WriteString(" ")
		}
		sb.WriteString(line.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}

func suggested(hunk *diffparser.DiffHunk) string {
	lines := make([]string, 0, len(hunk.NewRange.Lines))
	for _, line := range hunk.NewRange.Lines {
		lines = append(lines, line.Content)
	}
	return strings.Join(lines, "\n")
}

// PostInlineSuggestions submits one review comment per hunk, all in a
// single batched review call. One API call means transient failures cannot
// leave a partially posted review behind.
func (m *Manager) PostInlineSuggestions(ctx context.Context, pr events.PullRequestInfo, changes []FileChange, reasoning string) error {
	var comments []*github.DraftReviewComment
	for _, fc := range changes {
		for _, hunk := range fc.Hunks {
			// Anchor on the hunk's last line on the new side.
			line := hunk.StartLine + hunk.LineCount - 1
			comments = append(comments, &github.DraftReviewComment{
				Path: github.Ptr(fc.Path),
				Line: github.Ptr(line),
				Side: github.Ptr("RIGHT"),
				Body: github.Ptr(suggestionBody(hunk.SuggestedContent, reasoning)),
			})
		}
	}
	if len(comments) == 0 {
		return nil
	}

	clog.FromContext(ctx).Infof("Posting review with %d suggestion(s) on PR #%d", len(comments), pr.Number)
	_, _, err := m.client.PullRequests.CreateReview(ctx, pr.Owner, pr.Repo, pr.Number, &github.PullRequestReviewRequest{
		CommitID: github.Ptr(pr.HeadSHA),
		Event:    github.Ptr("COMMENT"),
		Body:     github.Ptr("Proposed fixes for the failing CI run."),
		Comments: comments,
	})
	if err != nil {
		return fmt.Errorf("creating pull request review: %w", err)
	}
	return nil
}

func suggestionBody(content, reasoning string) string {
	var sb strings.Builder
	if reasoning != "" {
		sb.WriteString(reasoning)
		sb.WriteString("\n\n")
	}
	sb.WriteString("```suggestion\n")
	sb.WriteString(content)
	if !strings.HasSuffix(content, "\n") {
		sb.WriteString("\n")
	}
	sb.WriteString("```")
	return sb.String()
}
