/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package manifest_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"chainguard.dev/cifixer/manifest"
)

func validManifest() *manifest.Manifest {
	return &manifest.Manifest{
		SchemaVersion:   manifest.SchemaVersion,
		ArtifactVersion: manifest.ArtifactVersion,
		CreatedAt:       time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		WorkflowRun: manifest.WorkflowRunRef{
			ID:         12345,
			Attempt:    1,
			Name:       "CI",
			HeadBranch: "feature",
		},
		Repository: manifest.RepositoryRef{Owner: "acme", Name: "widgets"},
		PullRequest: manifest.PullRequestRef{
			Number:  7,
			HeadSHA: "headsha",
			HeadRef: "feature",
			BaseSHA: "basesha",
			BaseRef: "main",
		},
		Agent: manifest.AgentRef{
			Decision:  manifest.DecisionPullRequest,
			Reasoning: "fixed the lint failure",
		},
		LLM:        manifest.LLMRef{EpisodeID: "ep-1"},
		TensorZero: manifest.TensorZeroRef{DiffPatchedMetricName: "ci_autofix_diff_patched"},
	}
}

func TestWriteLoadRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	in := &manifest.Inputs{
		Diff:         "diff --git a/main.go b/main.go\n",
		Comment:      "I fixed it.",
		Commands:     []string{"go test ./..."},
		LLMResponse:  []byte(`{"info": {}}`),
		FailureLogs:  "main.go:10: undefined: foo",
		WorkflowJobs: []byte(`[]`),
	}
	m := validManifest()
	if err := manifest.Write(dir, m, in); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := manifest.Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(m, got); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}

	if !got.Metadata.HasDiff || !got.Metadata.HasComment || !got.Metadata.HasCommands {
		t.Fatalf("metadata flags not set: %+v", got.Metadata)
	}

	diffContent, err := manifest.ReadDiff(dir, got)
	if err != nil {
		t.Fatalf("ReadDiff: %v", err)
	}
	if diffContent != in.Diff {
		t.Errorf("diff content: got %q", diffContent)
	}
	comment, err := manifest.ReadComment(dir, got)
	if err != nil || comment != in.Comment {
		t.Errorf("ReadComment: %q, %v", comment, err)
	}
	commands, err := manifest.ReadCommands(dir, got)
	if err != nil || len(commands) != 1 || commands[0] != "go test ./..." {
		t.Errorf("ReadCommands: %v, %v", commands, err)
	}
}

// An agent run that reports no episode id still produced a usable fix;
// the manifest must persist it so only the feedback keying is lost.
func TestWriteWithoutLLMIdentifiers(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m := validManifest()
	m.LLM = manifest.LLMRef{}
	if err := manifest.Write(dir, m, &manifest.Inputs{Diff: "diff --git a/main.go b/main.go\n"}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := manifest.Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.LLM.InferenceID != "" || got.LLM.EpisodeID != "" {
		t.Errorf("llm block not empty: %+v", got.LLM)
	}
	if !got.Metadata.HasDiff {
		t.Error("expected hasDiff")
	}
}

func TestWriteOmitsEmptySiblings(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	m := validManifest()
	if err := manifest.Write(dir, m, &manifest.Inputs{Diff: "some diff\n"}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := manifest.Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !got.Metadata.HasDiff {
		t.Error("expected hasDiff")
	}
	if got.Metadata.HasComment || got.Metadata.HasCommands {
		t.Errorf("unexpected metadata flags: %+v", got.Metadata)
	}
	if _, err := os.Stat(filepath.Join(dir, manifest.CommentFilename)); !os.IsNotExist(err) {
		t.Errorf("unexpected comment sibling: %v", err)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := manifest.Write(dir, validManifest(), &manifest.Inputs{}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	path := filepath.Join(dir, manifest.Filename)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	raw["surprise"] = true
	data, err = json.Marshal(raw)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := manifest.Load(dir); err == nil {
		t.Fatal("expected unknown field rejection")
	}
}

func TestLoadMissingManifest(t *testing.T) {
	t.Parallel()

	if _, err := manifest.Load(t.TempDir()); err == nil {
		t.Fatal("expected error for missing manifest")
	}
}

func TestAssert(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*manifest.Manifest)
		wantErr string
	}{{
		name:   "valid",
		mutate: func(*manifest.Manifest) {},
	}, {
		name:    "wrong schema version",
		mutate:  func(m *manifest.Manifest) { m.SchemaVersion = 2 },
		wantErr: "schemaVersion is 2, this build requires 1",
	}, {
		name:    "missing artifact version",
		mutate:  func(m *manifest.Manifest) { m.ArtifactVersion = "" },
		wantErr: "artifactVersion",
	}, {
		name:    "missing createdAt",
		mutate:  func(m *manifest.Manifest) { m.CreatedAt = time.Time{} },
		wantErr: "createdAt",
	}, {
		name:    "missing workflow run id",
		mutate:  func(m *manifest.Manifest) { m.WorkflowRun.ID = 0 },
		wantErr: "workflowRun.id",
	}, {
		name:    "missing owner",
		mutate:  func(m *manifest.Manifest) { m.Repository.Owner = "" },
		wantErr: "repository.owner",
	}, {
		name:    "missing PR number",
		mutate:  func(m *manifest.Manifest) { m.PullRequest.Number = 0 },
		wantErr: "pullRequest.number",
	}, {
		name:    "missing head sha",
		mutate:  func(m *manifest.Manifest) { m.PullRequest.HeadSHA = "" },
		wantErr: "pullRequest.headSha",
	}, {
		name:    "missing base ref",
		mutate:  func(m *manifest.Manifest) { m.PullRequest.BaseRef = "" },
		wantErr: "pullRequest.baseRef",
	}, {
		name:    "unknown decision",
		mutate:  func(m *manifest.Manifest) { m.Agent.Decision = "SHIP_IT" },
		wantErr: "agent.decision",
	}, {
		name: "no llm identifiers is valid",
		mutate: func(m *manifest.Manifest) {
			m.LLM = manifest.LLMRef{}
		},
	}, {
		name:    "missing metric name",
		mutate:  func(m *manifest.Manifest) { m.TensorZero.DiffPatchedMetricName = "" },
		wantErr: "diffPatchedMetricName",
	}, {
		name: "hasDiff without path",
		mutate: func(m *manifest.Manifest) {
			m.Metadata.HasDiff = true
		},
		wantErr: "hasDiff is true",
	}, {
		name: "absolute artifact path",
		mutate: func(m *manifest.Manifest) {
			m.Metadata.HasDiff = true
			m.Outputs.GeneratedPatchPath = "/etc/passwd"
		},
		wantErr: "absolute",
	}, {
		name: "traversal artifact path",
		mutate: func(m *manifest.Manifest) {
			m.Metadata.HasDiff = true
			m.Outputs.GeneratedPatchPath = "../../etc/passwd"
		},
		wantErr: "escapes",
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := validManifest()
			tt.mutate(m)
			err := manifest.Assert(m)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Assert: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}
