/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package agentdriver spawns the external coding agent as a child process
// under cost and wall-clock bounds, captures its trajectory, and parses the
// free-text completion signal into a typed decision.
package agentdriver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/google/uuid"
)

// Driver runs the coding-agent subprocess. The zero value is not usable;
// construct with New.
type Driver struct {
	binary       string
	model        string
	costLimitUSD float64
	timeout      time.Duration
}

// Option configures a Driver.
type Option func(*Driver) error

// WithModel overrides the agent's default model.
func WithModel(model string) Option {
	return func(d *Driver) error {
		d.model = model
		return nil
	}
}

// WithCostLimit sets the per-run cost ceiling in USD.
func WithCostLimit(usd float64) Option {
	return func(d *Driver) error {
		if usd <= 0 {
			return fmt.Errorf("cost limit must be positive, got %f", usd)
		}
		d.costLimitUSD = usd
		return nil
	}
}

// WithTimeout sets the hard wall-clock bound on the subprocess.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Driver) error {
		if timeout <= 0 {
			return fmt.Errorf("timeout must be positive, got %s", timeout)
		}
		d.timeout = timeout
		return nil
	}
}

// New constructs a Driver for the given agent binary.
func New(binary string, opts ...Option) (*Driver, error) {
	if binary == "" {
		return nil, errors.New("agent binary cannot be empty")
	}
	d := &Driver{
		binary:       binary,
		costLimitUSD: 1.0,
		timeout:      20 * time.Minute,
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// RunResult is what the driver hands back to the pipeline. On trajectory
// read failures the returned error is non-nil but EpisodeID may still be
// populated from the side-channel file so close-out feedback keeps working.
type RunResult struct {
	Trajectory *Trajectory
	Completion Completion
	EpisodeID  string
}

// Run executes the agent against the task inside workdir. The trajectory
// file is written to a scratch location outside the working tree and
// deleted after reading, so it can never leak into the repo. The timeout is
// enforced by forceful termination; a late trajectory from a timed-out run
// is never trusted.
func (d *Driver) Run(ctx context.Context, task, workdir string) (*RunResult, error) {
	log := clog.FromContext(ctx)

	trajPath := filepath.Join(os.TempDir(), fmt.Sprintf("cifixer-traj-%s.json", uuid.NewString()))
	defer os.Remove(trajPath)
	defer os.Remove(trajPath + ".episode")

	args := []string{
		"--task", task,
		"--output", trajPath,
		"--cost-limit", fmt.Sprintf("%.2f", d.costLimitUSD),
		"--yolo",
	}
	if d.model != "" {
		args = append(args, "--model", d.model)
	}

	runCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, d.binary, args...)
	cmd.Dir = workdir
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	log.Infof("Running agent %s in %s (cost limit $%.2f, timeout %s)", d.binary, workdir, d.costLimitUSD, d.timeout)

	start := time.Now()
	err := cmd.Run()
	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		return nil, fmt.Errorf("agent timed out after %s", d.timeout)
	case err != nil:
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("spawning agent %s: %w", d.binary, err)
		}
		// Non-zero exits still often leave a usable trajectory (e.g. the
		// agent hit its own cost limit after submitting); fall through to
		// the trajectory read and let that decide.
		log.Warnf("Agent exited with %v, attempting to read trajectory anyway", exitErr)
	}
	log.Infof("Agent finished in %s", time.Since(start).Round(time.Second))

	traj, trajErr := readTrajectory(trajPath)
	if trajErr != nil {
		res := &RunResult{EpisodeID: readEpisodeSidechannel(trajPath)}
		if res.EpisodeID != "" {
			log.Warnf("Trajectory unusable but recovered episode id %s", res.EpisodeID)
		}
		return res, fmt.Errorf("agent run produced no usable trajectory (output tail: %s): %w", tail(output.String(), 2048), trajErr)
	}

	episodeID := traj.Info.EpisodeID
	if episodeID == "" {
		episodeID = readEpisodeSidechannel(trajPath)
	}

	log.Infof("Agent exit status %q, cost $%.4f over %d calls",
		traj.Info.ExitStatus, traj.Info.ModelStats.InstanceCost, traj.Info.ModelStats.APICalls)

	return &RunResult{
		Trajectory: traj,
		Completion: ParseCompletion(traj.Info.Submission),
		EpisodeID:  episodeID,
	}, nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
