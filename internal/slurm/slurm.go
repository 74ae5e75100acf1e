/**
 * Copyright (c) 2024 Peking University and Peking University
 * Changsha Institute for Computing and Digital Economy
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <https://www.gnu.org/licenses/>.
 */

// Package slurm wraps the cluster's sbatch and sacct clients. The wrappers
// capture exit status and output; they never interpret the workload itself.
package slurm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// SubmissionResult records one sbatch invocation. A non-zero ExitCode is
// data, not an error: a failed submission must not abort a sweep.
type SubmissionResult struct {
	JobId    uint32
	ExitCode int
	Stdout   string
	Stderr   string
}

func (r *SubmissionResult) Ok() bool {
	return r.ExitCode == 0
}

type JobSubmitter interface {
	Submit(ctx context.Context, scriptPath string) (*SubmissionResult, error)
}

type StateQuerier interface {
	JobState(ctx context.Context, jobId uint32) (string, error)
}

var jobIdRegex = regexp.MustCompile(`Submitted batch job (\d+)`)

// ParseJobId extracts the job id from sbatch output.
func ParseJobId(output string) (uint32, error) {
	match := jobIdRegex.FindStringSubmatch(output)
	if match == nil {
		return 0, fmt.Errorf("no job id in sbatch output: %q", strings.TrimSpace(output))
	}
	id, err := strconv.ParseUint(match[1], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid job id '%s': %w", match[1], err)
	}
	return uint32(id), nil
}

type SbatchClient struct {
	SbatchPath string
}

func NewSbatchClient(sbatchPath string) *SbatchClient {
	if sbatchPath == "" {
		sbatchPath = "sbatch"
	}
	return &SbatchClient{SbatchPath: sbatchPath}
}

// Submit runs sbatch on the given script. The returned error is non-nil
// only when the client itself could not be invoked; a rejected submission
// is reported through SubmissionResult.ExitCode.
func (c *SbatchClient) Submit(ctx context.Context, scriptPath string) (*SubmissionResult, error) {
	cmd := exec.CommandContext(ctx, c.SbatchPath, scriptPath)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := &SubmissionResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		// sbatch missing or not executable
		return nil, fmt.Errorf("failed to invoke %s: %w", c.SbatchPath, err)
	}

	jobId, err := ParseJobId(result.Stdout)
	if err != nil {
		return nil, err
	}
	result.JobId = jobId
	return result, nil
}

type SacctClient struct {
	SacctPath string
}

func NewSacctClient(sacctPath string) *SacctClient {
	if sacctPath == "" {
		sacctPath = "sacct"
	}
	return &SacctClient{SacctPath: sacctPath}
}

// JobState queries sacct for the state of the job's first record.
func (c *SacctClient) JobState(ctx context.Context, jobId uint32) (string, error) {
	cmd := exec.CommandContext(ctx, c.SacctPath,
		"-j", strconv.FormatUint(uint64(jobId), 10),
		"--format=State", "--noheader", "-X")

	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("failed to query state of job %d: %w", jobId, err)
	}

	fields := strings.Fields(stdout.String())
	if len(fields) == 0 {
		// sacct may lag behind sbatch right after submission
		return "", nil
	}
	return fields[0], nil
}

// IsTerminalState reports whether a job state string marks a finished job.
// CANCELLED may carry a "by <uid>" suffix, so prefix matching is used.
func IsTerminalState(state string) bool {
	for _, terminal := range []string{"COMPLETED", "FAILED", "CANCELLED", "TIMEOUT", "OUT_OF_MEMORY", "NODE_FAIL"} {
		if strings.HasPrefix(state, terminal) {
			return true
		}
	}
	return false
}

// WaitJob polls the querier until the job reaches a terminal state or the
// context is cancelled. The final observed state is returned.
func WaitJob(ctx context.Context, querier StateQuerier, jobId uint32, interval time.Duration) (string, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		state, err := querier.JobState(ctx, jobId)
		if err != nil {
			return "", err
		}
		if IsTerminalState(state) {
			return state, nil
		}

		select {
		case <-ctx.Done():
			return state, ctx.Err()
		case <-ticker.C:
		}
	}
}
