/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package agentdriver

import "strings"

// Decision is the agent's choice of how its change should be delivered.
type Decision string

const (
	// DecisionInlineSuggestions delivers the change as inline review
	// suggestions on the original pull request.
	DecisionInlineSuggestions Decision = "INLINE_SUGGESTIONS"
	// DecisionPullRequest delivers the change as a follow-up pull request.
	// This is the default: a human reviews the result either way, but a PR
	// is the safer container for anything the agent did not clearly flag.
	DecisionPullRequest Decision = "PULL_REQUEST"
)

const (
	decisionPrefix  = "DECISION:"
	reasoningPrefix = "REASONING:"
)

// Completion is the typed result of parsing the agent's free-text
// submission.
type Completion struct {
	Decision  Decision
	Reasoning string
}

// ParseCompletion scans the agent's final submission text line by line.
// A DECISION: line sets the decision only when its value is one of the two
// known enum values; unrecognized values are ignored. A REASONING: line and
// any other non-blank, non-sentinel line feed the reasoning accumulator, so
// free-form reasoning without the prefix is still captured.
//
// The submission is model output and cannot be schema-validated, so the
// parser is total: any input yields a valid Completion, defaulting to
// DecisionPullRequest with a synthetic reasoning when nothing usable was
// found.
func ParseCompletion(submission string) Completion {
	var (
		decision  Decision
		reasoning []string
	)

	for _, raw := range strings.Split(submission, "\n") {
		line := strings.TrimSpace(raw)
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, decisionPrefix):
			value := strings.TrimSpace(strings.TrimPrefix(line, decisionPrefix))
			switch Decision(value) {
			case DecisionInlineSuggestions, DecisionPullRequest:
				decision = Decision(value)
			}
			// Unrecognized decision values are ignored, not errored.
		case strings.HasPrefix(line, reasoningPrefix):
			if value := strings.TrimSpace(strings.TrimPrefix(line, reasoningPrefix)); value != "" {
				reasoning = append(reasoning, value)
			}
		default:
			reasoning = append(reasoning, line)
		}
	}

	out := Completion{
		Decision:  decision,
		Reasoning: strings.Join(reasoning, "\n"),
	}
	if out.Decision == "" {
		out.Decision = DecisionPullRequest
	}
	if out.Reasoning == "" {
		out.Reasoning = "The agent did not explain its change."
	}
	return out
}
