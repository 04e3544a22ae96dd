/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Load reads and validates a manifest from the artifact directory. Unknown
// fields, structural violations, and schema-version mismatches are all
// rejected; nothing is silently coerced.
func Load(artifactDir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(artifactDir, Filename))
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var m Manifest
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}

	if err := Assert(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Assert runs the structural assertion pass over a decoded manifest,
// rejecting on the first violation with a field-specific message.
func Assert(m *Manifest) error {
	switch {
	case m == nil:
		return fmt.Errorf("manifest is nil")
	case m.SchemaVersion != SchemaVersion:
		return fmt.Errorf("manifest schemaVersion is %d, this build requires %d", m.SchemaVersion, SchemaVersion)
	case m.ArtifactVersion == "":
		return fmt.Errorf("manifest artifactVersion is empty")
	case m.CreatedAt.IsZero():
		return fmt.Errorf("manifest createdAt is missing")
	case m.WorkflowRun.ID == 0:
		return fmt.Errorf("manifest workflowRun.id is missing")
	case m.Repository.Owner == "":
		return fmt.Errorf("manifest repository.owner is empty")
	case m.Repository.Name == "":
		return fmt.Errorf("manifest repository.name is empty")
	case m.PullRequest.Number <= 0:
		return fmt.Errorf("manifest pullRequest.number is missing")
	case m.PullRequest.HeadSHA == "":
		return fmt.Errorf("manifest pullRequest.headSha is empty")
	case m.PullRequest.HeadRef == "":
		return fmt.Errorf("manifest pullRequest.headRef is empty")
	case m.PullRequest.BaseSHA == "":
		return fmt.Errorf("manifest pullRequest.baseSha is empty")
	case m.PullRequest.BaseRef == "":
		return fmt.Errorf("manifest pullRequest.baseRef is empty")
	case m.Agent.Decision != DecisionInlineSuggestions && m.Agent.Decision != DecisionPullRequest:
		return fmt.Errorf("manifest agent.decision is %q, must be %q or %q", m.Agent.Decision, DecisionInlineSuggestions, DecisionPullRequest)
	case m.TensorZero.DiffPatchedMetricName == "":
		return fmt.Errorf("manifest tensorZero.diffPatchedMetricName is empty")
	}

	// Metadata flags must agree with the recorded output paths.
	if m.Metadata.HasDiff && m.Outputs.GeneratedPatchPath == "" {
		return fmt.Errorf("manifest metadata.hasDiff is true but outputs.generatedPatchPath is empty")
	}
	if m.Metadata.HasComment && m.Outputs.GeneratedCommentPath == "" {
		return fmt.Errorf("manifest metadata.hasComment is true but outputs.generatedCommentPath is empty")
	}
	if m.Metadata.HasCommands && m.Outputs.CommandsPath == "" {
		return fmt.Errorf("manifest metadata.hasCommands is true but outputs.commandsPath is empty")
	}

	// Every recorded path must be a safe relative path even before any
	// read is attempted.
	for field, path := range map[string]string{
		"outputs.generatedPatchPath":   m.Outputs.GeneratedPatchPath,
		"outputs.generatedCommentPath": m.Outputs.GeneratedCommentPath,
		"outputs.commandsPath":         m.Outputs.CommandsPath,
		"outputs.llmResponsePath":      m.Outputs.LLMResponsePath,
		"outputs.failureLogsPath":      m.Outputs.FailureLogsPath,
		"outputs.workflowJobsPath":     m.Outputs.WorkflowJobsPath,
	} {
		if path == "" {
			continue
		}
		if err := checkRelativePath(path); err != nil {
			return fmt.Errorf("manifest %s: %w", field, err)
		}
	}

	return nil
}
