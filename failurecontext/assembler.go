/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package failurecontext assembles the CI failure context for a pull
// request (failed jobs and steps, diff summary, full diff, raw logs) and
// renders it into the task brief handed to the coding agent.
package failurecontext

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v84/github"
)

// FailedStep is one failed step within a job.
type FailedStep struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	Conclusion string `json:"conclusion"`
}

// FailedJob summarizes a job that did not succeed, retaining only the steps
// that themselves concluded unsuccessfully.
type FailedJob struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	Conclusion  string       `json:"conclusion"`
	HTMLURL     string       `json:"html_url"`
	FailedSteps []FailedStep `json:"failed_steps"`
}

// Bundle is the full failure context assembled once per run.
type Bundle struct {
	WorkflowRunID  int64
	WorkflowRunURL string
	PullRequestURL string
	FailedJobs     []FailedJob
	DiffSummary    string
	FullDiff       string
	FailureLogs    string
}

// FilterFailedJobs reduces the API's job list to the jobs whose conclusion
// is not success, preserving the API's original order. Within each job only
// steps with a defined, non-success conclusion are kept.
func FilterFailedJobs(jobs []*github.WorkflowJob) []FailedJob {
	var failed []FailedJob
	for _, job := range jobs {
		if job.GetConclusion() == "success" {
			continue
		}

		fj := FailedJob{
			ID:         job.GetID(),
			Name:       job.GetName(),
			Conclusion: job.GetConclusion(),
			HTMLURL:    job.GetHTMLURL(),
		}
		for _, step := range job.Steps {
			if step.Conclusion == nil || step.GetConclusion() == "success" {
				continue
			}
			fj.FailedSteps = append(fj.FailedSteps, FailedStep{
				Name:       step.GetName(),
				Status:     step.GetStatus(),
				Conclusion: step.GetConclusion(),
			})
		}
		failed = append(failed, fj)
	}
	return failed
}

// ListJobs fetches all jobs for a workflow run, following pagination.
func ListJobs(ctx context.Context, gh *github.Client, owner, repo string, runID int64) ([]*github.WorkflowJob, error) {
	var all []*github.WorkflowJob
	opts := &github.ListWorkflowJobsOptions{ListOptions: github.ListOptions{PerPage: 100}}
	for {
		jobs, resp, err := gh.Actions.ListWorkflowJobs(ctx, owner, repo, runID, opts)
		if err != nil {
			return nil, fmt.Errorf("listing workflow jobs for run %d: %w", runID, err)
		}
		all = append(all, jobs.Jobs...)
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

// CollectFailureLogs downloads and concatenates the raw logs of the given
// failed jobs. A job whose logs cannot be fetched contributes a placeholder
// rather than failing the whole collection; the brief is best-effort input.
func CollectFailureLogs(ctx context.Context, gh *github.Client, owner, repo string, jobs []FailedJob) string {
	log := clog.FromContext(ctx)

	var sb strings.Builder
	for _, job := range jobs {
		fmt.Fprintf(&sb, "===== Logs for job %q (%s) =====\n", job.Name, job.Conclusion)

		text, err := fetchJobLogs(ctx, gh, owner, repo, job.ID)
		if err != nil {
			log.Warnf("Fetching logs for job %d: %v", job.ID, err)
			fmt.Fprintf(&sb, "(logs unavailable: %v)\n\n", err)
			continue
		}
		sb.WriteString(text)
		if !strings.HasSuffix(text, "\n") {
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func fetchJobLogs(ctx context.Context, gh *github.Client, owner, repo string, jobID int64) (string, error) {
	url, _, err := gh.Actions.GetWorkflowJobLogs(ctx, owner, repo, jobID, 4)
	if err != nil {
		return "", fmt.Errorf("resolving log URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url.String(), nil)
	if err != nil {
		return "", fmt.Errorf("building log request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("downloading logs: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("downloading logs: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading log body: %w", err)
	}
	return string(body), nil
}

// TruncateLogs caps raw log text to roughly maxBytes by keeping the head
// and tail halves with an elision marker between them. Truncating input to
// the agent is safe; it is never applied to generated output.
func TruncateLogs(s string, maxBytes int) string {
	if maxBytes <= 0 || len(s) <= maxBytes {
		return s
	}
	half := maxBytes / 2
	return s[:half] + "\n\n[... log truncated ...]\n\n" + s[len(s)-half:]
}
