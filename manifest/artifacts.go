/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Size ceilings for artifact reads. Oversized content is a fatal error,
// never truncated: a silently truncated patch is worse than refusing to
// apply it.
const (
	MaxDiffChars      = 500_000
	MaxCommentChars   = 25_000
	MaxCommandEntries = 200
	MaxCommandChars   = 5_000
)

func checkRelativePath(p string) error {
	if p == "" {
		return fmt.Errorf("path is empty")
	}
	if filepath.IsAbs(p) || strings.HasPrefix(p, "/") {
		return fmt.Errorf("path %q is absolute", p)
	}
	clean := path.Clean(filepath.ToSlash(p))
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("path %q escapes the artifact directory", p)
	}
	return nil
}

// ResolveArtifactPath joins a manifest-recorded relative path onto the
// artifact directory, rejecting absolute paths and directory escapes. The
// manifest comes from the less-trusted phase, so this is a traversal
// guard, not a convenience.
func ResolveArtifactPath(artifactDir, rel string) (string, error) {
	if err := checkRelativePath(rel); err != nil {
		return "", err
	}
	return filepath.Join(artifactDir, filepath.FromSlash(path.Clean(filepath.ToSlash(rel)))), nil
}

func readCapped(artifactDir, rel, kind string, maxChars int) (string, error) {
	p, err := ResolveArtifactPath(artifactDir, rel)
	if err != nil {
		return "", fmt.Errorf("resolving %s path: %w", kind, err)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", kind, err)
	}
	if len(data) > maxChars {
		return "", fmt.Errorf("%s is %d bytes, exceeding the %d byte ceiling", kind, len(data), maxChars)
	}
	return string(data), nil
}

// ReadDiff reads the generated patch artifact under the diff size ceiling.
func ReadDiff(artifactDir string, m *Manifest) (string, error) {
	if !m.Metadata.HasDiff {
		return "", nil
	}
	diff, err := readCapped(artifactDir, m.Outputs.GeneratedPatchPath, "generated patch", MaxDiffChars)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(diff) == "" {
		return "", fmt.Errorf("manifest metadata.hasDiff is true but the patch file at %q is empty", m.Outputs.GeneratedPatchPath)
	}
	return diff, nil
}

// ReadComment reads the generated comment artifact under its size ceiling.
func ReadComment(artifactDir string, m *Manifest) (string, error) {
	if !m.Metadata.HasComment {
		return "", nil
	}
	return readCapped(artifactDir, m.Outputs.GeneratedCommentPath, "generated comment", MaxCommentChars)
}

// ReadCommands reads the recorded command list, bounding both entry count
// and per-entry length.
func ReadCommands(artifactDir string, m *Manifest) ([]string, error) {
	if !m.Metadata.HasCommands {
		return nil, nil
	}
	p, err := ResolveArtifactPath(artifactDir, m.Outputs.CommandsPath)
	if err != nil {
		return nil, fmt.Errorf("resolving commands path: %w", err)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("reading commands: %w", err)
	}

	var commands []string
	if err := json.Unmarshal(data, &commands); err != nil {
		return nil, fmt.Errorf("decoding commands: %w", err)
	}
	if len(commands) > MaxCommandEntries {
		return nil, fmt.Errorf("commands list has %d entries, exceeding the %d entry ceiling", len(commands), MaxCommandEntries)
	}
	for i, cmd := range commands {
		if len(cmd) > MaxCommandChars {
			return nil, fmt.Errorf("command entry %d is %d bytes, exceeding the %d byte ceiling", i, len(cmd), MaxCommandChars)
		}
	}
	return commands, nil
}
