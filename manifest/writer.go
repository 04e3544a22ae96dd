/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Sibling artifact filenames inside the artifact directory.
const (
	PatchFilename        = "patch.diff"
	CommentFilename      = "comment.md"
	CommandsFilename     = "commands.json"
	LLMResponseFilename  = "llm_response.json"
	FailureLogsFilename  = "failure_logs.txt"
	WorkflowJobsFilename = "workflow_jobs.json"
)

// Inputs carries the raw artifact payloads gathered by the generation
// phase. Empty fields produce no sibling file and leave the corresponding
// metadata flag false.
type Inputs struct {
	Diff         string
	Comment      string
	Commands     []string
	LLMResponse  []byte
	FailureLogs  string
	WorkflowJobs []byte
}

func writeSibling(dir, name string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", nil
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", name, err)
	}
	return name, nil
}

// Write persists the sibling artifacts and then the manifest itself into
// dir. The manifest is written last so a partially-populated artifact
// directory is never mistaken for a complete one: no manifest, no replay.
func Write(dir string, m *Manifest, in *Inputs) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating artifact directory: %w", err)
	}

	var err error
	if m.Outputs.GeneratedPatchPath, err = writeSibling(dir, PatchFilename, []byte(in.Diff)); err != nil {
		return err
	}
	if m.Outputs.GeneratedCommentPath, err = writeSibling(dir, CommentFilename, []byte(in.Comment)); err != nil {
		return err
	}
	if len(in.Commands) > 0 {
		data, err := json.MarshalIndent(in.Commands, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding commands: %w", err)
		}
		if m.Outputs.CommandsPath, err = writeSibling(dir, CommandsFilename, data); err != nil {
			return err
		}
	}
	if m.Outputs.LLMResponsePath, err = writeSibling(dir, LLMResponseFilename, in.LLMResponse); err != nil {
		return err
	}
	if m.Outputs.FailureLogsPath, err = writeSibling(dir, FailureLogsFilename, []byte(in.FailureLogs)); err != nil {
		return err
	}
	if m.Outputs.WorkflowJobsPath, err = writeSibling(dir, WorkflowJobsFilename, in.WorkflowJobs); err != nil {
		return err
	}

	m.Metadata = Metadata{
		HasDiff:     m.Outputs.GeneratedPatchPath != "",
		HasComment:  m.Outputs.GeneratedCommentPath != "",
		HasCommands: m.Outputs.CommandsPath != "",
	}

	if err := Assert(m); err != nil {
		return fmt.Errorf("refusing to write invalid manifest: %w", err)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, Filename), data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", Filename, err)
	}
	return nil
}
