/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package failurecontext

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

// BriefFilename is where the task brief is written inside the agent's
// working copy. It is deleted before any staging or diff step so it can
// never leak into a generated patch.
const BriefFilename = "CI_FIX_TASK.md"

// briefTemplate renders the bundle into the markdown brief with fixed
// section ordering. The DECISION/REASONING sentinel convention here is the
// contract parsed by the agent driver's completion parser.
var briefTemplate = template.Must(template.New("brief").Parse(`# Overview

CI failed on workflow run [{{.WorkflowRunID}}]({{.WorkflowRunURL}}) for pull request {{.PullRequestURL}}.
Your job is to diagnose the failure from the context below and fix it in this working copy.

# Task instructions

- The repository is checked out at the pull request's head commit.
- Make the smallest change that fixes the CI failure. Do not refactor unrelated code.
- When you are done, end your final message with exactly these two lines:

` + "```" + `
DECISION: <INLINE_SUGGESTIONS or PULL_REQUEST>
REASONING: <one sentence explaining the fix>
` + "```" + `

Use INLINE_SUGGESTIONS for small, self-evident fixes that fit as review
suggestions. Use PULL_REQUEST for anything larger or riskier.

# Failed Jobs and Steps
{{range .FailedJobs}}
## {{.Name}} ({{.Conclusion}})

{{.HTMLURL}}
{{range .FailedSteps}}- step {{.Name}}: {{.Conclusion}}
{{end}}{{else}}
(no failed job details available)
{{end}}
# Diff Summary

` + "```" + `
{{.DiffSummary}}
` + "```" + `

# Full Diff

` + "```diff" + `
{{.FullDiff}}
` + "```" + `

# Failure Logs

` + "```" + `
{{.FailureLogs}}
` + "```" + `

# Validation Instructions

Re-run the failing commands from the job logs above to confirm the fix
before finishing. Never commit, push, or touch {{.BriefName}}.
`))

type briefData struct {
	*Bundle
	BriefName string
}

// RenderBrief produces the markdown task brief for the bundle.
func (b *Bundle) RenderBrief() (string, error) {
	var sb strings.Builder
	if err := briefTemplate.Execute(&sb, briefData{Bundle: b, BriefName: BriefFilename}); err != nil {
		return "", fmt.Errorf("rendering task brief: %w", err)
	}
	return sb.String(), nil
}

// WriteBrief writes the brief into the working copy and returns its path.
func WriteBrief(dir, content string) (string, error) {
	path := filepath.Join(dir, BriefFilename)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("writing task brief: %w", err)
	}
	return path, nil
}

// RemoveBrief deletes the brief from the working copy. Missing is fine.
func RemoveBrief(dir string) error {
	err := os.Remove(filepath.Join(dir, BriefFilename))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing task brief: %w", err)
	}
	return nil
}
