/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package main implements the cifixer CLI: a GitHub Actions bot that
// reacts to CI failures on pull requests by driving a coding agent to
// propose a fix, delivered as inline review suggestions or a follow-up
// pull request.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "cifixer",
	Short: "Automated CI failure fixer for GitHub pull requests",
	Long: `cifixer reacts to failed CI runs on pull requests. It gathers the
failure context, drives an external coding agent to propose a fix, and
delivers the result as inline review suggestions or a follow-up PR.

Subcommands map to deployment phases: "fix" is the generation phase,
"apply" replays a generated artifact with write credentials, "feedback"
and "cleanup" react to pull_request close events.`,
	SilenceUsage: true,
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
