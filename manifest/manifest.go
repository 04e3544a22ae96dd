/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package manifest defines the schema-versioned artifact that bridges the
// untrusted generation phase and the privileged application phase. The
// generation phase writes sibling artifact files first and the manifest
// last, so a valid manifest is the atomic commit signal; the privileged
// phase validates structure, schema version, cross-references to the
// triggering event, and live PR state before acting on any of it.
package manifest

import "time"

// SchemaVersion is the integer constant a manifest's schemaVersion field
// must equal exactly. Bumped on any breaking field change; consumers hard
// fail on mismatch rather than shimming compatibility.
const SchemaVersion = 1

// ArtifactVersion names the artifact directory layout revision.
const ArtifactVersion = "v1"

// Filename is the manifest's name inside the artifact directory.
const Filename = "manifest.json"

// Recognized agent decisions. The applying phase acts on these verbatim,
// so the set is closed: anything else fails validation.
const (
	DecisionInlineSuggestions = "INLINE_SUGGESTIONS"
	DecisionPullRequest       = "PULL_REQUEST"
)

// WorkflowRunRef records the generating workflow run.
type WorkflowRunRef struct {
	ID         int64  `json:"id"`
	Attempt    int    `json:"attempt,omitempty"`
	Name       string `json:"name,omitempty"`
	HeadBranch string `json:"headBranch,omitempty"`
}

// RepositoryRef records the repository the manifest applies to.
type RepositoryRef struct {
	Owner string `json:"owner"`
	Name  string `json:"name"`
}

// PullRequestRef snapshots the PR state observed at generation time. The
// privileged phase re-fetches the PR and treats any SHA divergence as
// drift.
type PullRequestRef struct {
	Number           int    `json:"number"`
	HeadSHA          string `json:"headSha"`
	HeadRef          string `json:"headRef"`
	BaseSHA          string `json:"baseSha"`
	BaseRef          string `json:"baseRef"`
	HTMLURL          string `json:"htmlUrl,omitempty"`
	HeadRepositoryID int64  `json:"headRepositoryId,omitempty"`
	BaseRepositoryID int64  `json:"baseRepositoryId,omitempty"`
	Author           string `json:"author,omitempty"`
}

// Outputs maps artifact kinds to paths relative to the artifact directory.
// Paths are never absolute and never contain "..": manifest content
// originates from the less-trusted phase, so every path is re-checked
// against directory escape before any read.
type Outputs struct {
	GeneratedPatchPath   string `json:"generatedPatchPath,omitempty"`
	GeneratedCommentPath string `json:"generatedCommentPath,omitempty"`
	CommandsPath         string `json:"commandsPath,omitempty"`
	LLMResponsePath      string `json:"llmResponsePath,omitempty"`
	FailureLogsPath      string `json:"failureLogsPath,omitempty"`
	WorkflowJobsPath     string `json:"workflowJobsPath,omitempty"`
}

// AgentRef records the agent's parsed completion: how it decided its
// changes should be delivered, and why.
type AgentRef struct {
	Decision  string `json:"decision"`
	Reasoning string `json:"reasoning,omitempty"`
}

// LLMRef keys the run back to the model-serving layer for feedback. Both
// identifiers may be empty when the agent reported neither; downstream
// feedback is skipped rather than the fix being discarded.
type LLMRef struct {
	InferenceID string `json:"inferenceId,omitempty"`
	EpisodeID   string `json:"episodeId,omitempty"`
}

// TensorZeroRef carries feedback-sink routing recorded at generation time.
type TensorZeroRef struct {
	DiffPatchedMetricName string `json:"diffPatchedMetricName"`
}

// Metadata summarizes which sibling artifacts exist. Each flag is true iff
// a non-empty file exists at the corresponding outputs path.
type Metadata struct {
	HasDiff     bool `json:"hasDiff"`
	HasComment  bool `json:"hasComment"`
	HasCommands bool `json:"hasCommands"`
}

// Manifest is the persisted cross-phase contract. Created once by the
// generation phase; read and validated exactly once per replay by the
// privileged phase; never mutated in place.
type Manifest struct {
	SchemaVersion   int            `json:"schemaVersion"`
	ArtifactVersion string         `json:"artifactVersion"`
	CreatedAt       time.Time      `json:"createdAt"`
	WorkflowRun     WorkflowRunRef `json:"workflowRun"`
	Repository      RepositoryRef  `json:"repository"`
	PullRequest     PullRequestRef `json:"pullRequest"`
	Agent           AgentRef       `json:"agent"`
	Outputs         Outputs        `json:"outputs"`
	LLM             LLMRef         `json:"llm"`
	TensorZero      TensorZeroRef  `json:"tensorZero"`
	Metadata        Metadata       `json:"metadata"`
}
