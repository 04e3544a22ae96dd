/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package gitcli shells out to the git binary for the few operations the
// pipeline needs that go-git does not cover well: unified diffs over a
// range or the index, and patch application. Errors include the command's
// trimmed output with any registered secrets redacted, since git surfaces
// remote URLs (which may embed tokens) in its messages.
package gitcli

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Git runs git commands in a working copy.
type Git struct {
	secrets []string
}

// New returns a Git runner that redacts the given secrets from all error
// text.
func New(secrets ...string) *Git {
	return &Git{secrets: secrets}
}

// Redact replaces every occurrence of each secret in s with "***".
func Redact(s string, secrets ...string) string {
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		s = strings.ReplaceAll(s, secret, "***")
	}
	return s
}

func (g *Git) run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		msg := Redact(strings.TrimSpace(string(out)), g.secrets...)
		return "", fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), msg, err)
	}
	return string(out), nil
}

// RangeDiff computes the diff over base...HEAD in dir. With stat set it
// returns the --stat summary instead of the full patch.
func (g *Git) RangeDiff(ctx context.Context, dir, base string, stat bool) (string, error) {
	args := []string{"diff"}
	if stat {
		args = append(args, "--stat")
	}
	args = append(args, base+"...HEAD")
	return g.run(ctx, dir, args...)
}

// StagedDiff returns the unified diff of the index against HEAD. Callers
// stage everything first so untracked files the agent created are included.
func (g *Git) StagedDiff(ctx context.Context, dir string) (string, error) {
	return g.run(ctx, dir, "diff", "--cached")
}

// Apply applies a patch file to the working tree and index.
func (g *Git) Apply(ctx context.Context, dir, patchPath string) error {
	_, err := g.run(ctx, dir, "apply", "--index", "--whitespace=nowarn", patchPath)
	return err
}
