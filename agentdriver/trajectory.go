/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package agentdriver

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Trajectory is the agent's structured run record, read back from the
// trajectory file the subprocess writes. The message exchange is opaque to
// us; only the info block is consumed.
type Trajectory struct {
	Messages []json.RawMessage `json:"messages"`
	Info     TrajectoryInfo    `json:"info"`
}

// TrajectoryInfo carries the completion signal and run statistics.
type TrajectoryInfo struct {
	ExitStatus string     `json:"exit_status"`
	Submission string     `json:"submission"`
	EpisodeID  string     `json:"episode_id,omitempty"`
	ModelStats ModelStats `json:"model_stats"`
}

// ModelStats is the agent's self-reported cost accounting.
type ModelStats struct {
	InstanceCost float64 `json:"instance_cost"`
	APICalls     int     `json:"api_calls"`
}

func readTrajectory(path string) (*Trajectory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading trajectory file: %w", err)
	}

	var traj Trajectory
	if err := json.Unmarshal(data, &traj); err != nil {
		return nil, fmt.Errorf("decoding trajectory file: %w", err)
	}
	return &traj, nil
}

// readEpisodeSidechannel recovers the episode identifier from the
// lighter-weight side-channel file next to the trajectory, for runs whose
// trajectory is missing or corrupt. Returns "" when nothing is recoverable.
func readEpisodeSidechannel(trajPath string) string {
	data, err := os.ReadFile(trajPath + ".episode")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
