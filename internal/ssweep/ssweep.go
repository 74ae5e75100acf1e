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

package ssweep

import (
	"SweepFrontEnd/internal/slurm"
	"SweepFrontEnd/internal/util"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
)

const (
	PlaceholderCpus  = "{cpus}"
	PlaceholderCores = "{cores}"
)

// A leading $ marks a shell expansion like ${HOME}, not a sweep placeholder.
var placeholderRegex = regexp.MustCompile(`\$?\{[A-Za-z_]+\}`)

// SweepRequest is the parsed form of one ssweep invocation. CpuList keeps
// the order and duplicates of the command line.
type SweepRequest struct {
	CpuList   []uint32
	Template  string
	Account   string
	Partition string
}

// RenderedJob is one fully substituted sweep configuration, consumed
// exactly once by submission.
type RenderedJob struct {
	Cpus       uint32
	Cores      uint32
	JobName    string
	Command    string
	OutputDir  string
	ScriptPath string
}

type SweepEntry struct {
	Cpus       uint32 `yaml:"Cpus" json:"cpus"`
	Cores      uint32 `yaml:"Cores" json:"cores"`
	JobId      uint32 `yaml:"JobId,omitempty" json:"job_id,omitempty"`
	State      string `yaml:"State" json:"state"`
	ExitCode   int    `yaml:"ExitCode" json:"exit_code"`
	ScriptPath string `yaml:"ScriptPath,omitempty" json:"script_path,omitempty"`
	OutputDir  string `yaml:"OutputDir,omitempty" json:"output_dir,omitempty"`
	Reason     string `yaml:"Reason,omitempty" json:"reason,omitempty"`
}

const (
	EntrySubmitted = "SUBMITTED"
	EntryFailed    = "FAILED"
	EntrySkipped   = "SKIPPED"
	EntryDryRun    = "DRY-RUN"
)

// SweepReport is written next to the generated scripts so that ssuacct can
// find the job ids of a finished sweep.
type SweepReport struct {
	Account   string       `yaml:"Account,omitempty" json:"account,omitempty"`
	Partition string       `yaml:"Partition,omitempty" json:"partition,omitempty"`
	Entries   []SweepEntry `yaml:"Entries" json:"entries"`
}

func (r *SweepReport) FailedCount() int {
	count := 0
	for _, entry := range r.Entries {
		if entry.State == EntryFailed || entry.State == EntrySkipped {
			count++
		}
	}
	return count
}

// BuildSweepRequest validates the positional arguments. Any error here is
// fatal and aborts the run before a single job is submitted.
func BuildSweepRequest(cpuList, template, account, partition string) (*SweepRequest, error) {
	cpus, err := util.ParseCpuList(cpuList)
	if err != nil {
		return nil, util.WrapSweepErr(util.ErrorCmdArg, "Invalid cpu list", err)
	}

	if strings.TrimSpace(template) == "" {
		return nil, util.NewSweepErr(util.ErrorCmdArg, "Command template must not be empty.")
	}
	if !strings.Contains(template, PlaceholderCpus) && !strings.Contains(template, PlaceholderCores) {
		return nil, util.NewSweepErr(util.ErrorCmdArg,
			fmt.Sprintf("Command template must contain %s or %s.", PlaceholderCpus, PlaceholderCores))
	}

	return &SweepRequest{
		CpuList:   cpus,
		Template:  template,
		Account:   account,
		Partition: partition,
	}, nil
}

// DeriveCores maps an allocatable CPU count to hardware threads using the
// cluster topology. Deterministic over all positive inputs below the cap.
func DeriveCores(cpus uint32, cluster *util.ClusterConfig) (uint32, error) {
	if cluster.MaxCpusPerJob > 0 && cpus > cluster.MaxCpusPerJob {
		return 0, util.NewSweepErr(util.ErrorCpuCountUnsupported,
			fmt.Sprintf("Requested %d cpus exceeds the cluster limit of %d.", cpus, cluster.MaxCpusPerJob))
	}
	cores := uint64(cpus) * uint64(cluster.CoresPerCpu)
	if cores > math.MaxUint32 {
		return 0, util.NewSweepErr(util.ErrorCpuCountUnsupported,
			fmt.Sprintf("Requested %d cpus yields %d cores, beyond the representable range.", cpus, cores))
	}
	return uint32(cores), nil
}

// Render substitutes {cpus} and {cores} into a template. Plain textual
// replacement, no evaluation of any kind.
func Render(template string, cpus uint32, cores uint32) string {
	rendered := strings.ReplaceAll(template, PlaceholderCpus, fmt.Sprint(cpus))
	return strings.ReplaceAll(rendered, PlaceholderCores, fmt.Sprint(cores))
}

// RenderJob renders the command and the derived names for one cpu count.
// With strict set, any placeholder left over after substitution fails the
// entry instead of submitting a malformed command.
func RenderJob(template string, jobNamePattern string, cpus uint32, cores uint32, strict bool) (*RenderedJob, error) {
	command := Render(template, cpus, cores)
	if strict {
		var leftover []string
		for _, match := range placeholderRegex.FindAllString(command, -1) {
			if !strings.HasPrefix(match, "$") {
				leftover = append(leftover, match)
			}
		}
		if leftover != nil {
			return nil, util.NewSweepErr(util.ErrorTemplateRendering,
				fmt.Sprintf("Unresolved placeholders %s in rendered command.", strings.Join(leftover, ", ")))
		}
	}

	return &RenderedJob{
		Cpus:      cpus,
		Cores:     cores,
		JobName:   Render(jobNamePattern, cpus, cores),
		Command:   command,
		OutputDir: fmt.Sprintf("output_%d", cpus),
	}, nil
}

// ScriptParams holds the scheduler directives shared by every job of a sweep.
type ScriptParams struct {
	Account       string
	Partition     string
	TimeLimit     string
	MemPerCpu     string
	Exclusive     bool
	StdoutPattern string
	StderrPattern string
	ExtraAttr     string
}

// BuildScript renders the batch script for one job. The script requests
// ntasks=cpus with one cpu per task, runs the command under a wall-clock
// timer and leaves the elapsed seconds in job-<cpus>.time for ssuacct.
func BuildScript(job *RenderedJob, p *ScriptParams) string {
	var b strings.Builder

	directive := func(format string, args ...any) {
		b.WriteString("#SBATCH ")
		fmt.Fprintf(&b, format, args...)
		b.WriteString("\n")
	}

	b.WriteString("#!/bin/bash\n")
	directive("--job-name=%s", job.JobName)
	directive("--ntasks=%d", job.Cpus)
	directive("--cpus-per-task=1")
	if p.TimeLimit != "" {
		directive("--time=%s", p.TimeLimit)
	}
	if p.Account != "" {
		directive("--account=%s", p.Account)
	}
	if p.Partition != "" {
		directive("--partition=%s", p.Partition)
	}
	if p.Exclusive {
		directive("--exclusive")
	}
	directive("--output=%s", p.StdoutPattern)
	directive("--error=%s", p.StderrPattern)
	if p.MemPerCpu != "" {
		directive("--mem-per-cpu=%s", p.MemPerCpu)
	}
	if comment := util.GetExtraAttrComment(p.ExtraAttr); comment != "" {
		directive("--comment=%s", comment)
	}
	if mailType, mailUser := util.GetExtraAttrMail(p.ExtraAttr); mailType != "" {
		directive("--mail-type=%s", mailType)
		if mailUser != "" {
			directive("--mail-user=%s", mailUser)
		}
	}

	b.WriteString("\n")
	b.WriteString("echo \"Running on $SLURM_JOB_NODELIST\"\n")
	fmt.Fprintf(&b, "echo \"Using %d CPUs and %d cores\"\n", job.Cpus, job.Cores)
	b.WriteString("\n")
	b.WriteString("start_time=$(date +%s)\n")
	b.WriteString("\n")
	b.WriteString(job.Command)
	b.WriteString("\n")
	b.WriteString("\n")
	b.WriteString("end_time=$(date +%s)\n")
	b.WriteString("elapsed_time=$((end_time - start_time))\n")
	fmt.Fprintf(&b, "echo \"Elapsed time: $elapsed_time seconds\" > job-%d.time\n", job.Cpus)

	return b.String()
}

// SweepOptions controls script generation and submission of one run.
type SweepOptions struct {
	ScriptDir      string
	JobNamePattern string
	Strict         bool
	DryRun         bool
	Cluster        util.ClusterConfig
	Params         ScriptParams
}

// RunSweep processes the cpu list in order: derive cores, render, write the
// script, submit. Per-entry failures are recorded and the sweep continues;
// a cancelled context stops further submissions but leaves already
// submitted jobs to the scheduler.
func RunSweep(ctx context.Context, req *SweepRequest, submitter slurm.JobSubmitter, opts *SweepOptions) *SweepReport {
	report := &SweepReport{
		Account:   req.Account,
		Partition: req.Partition,
		Entries:   make([]SweepEntry, 0, len(req.CpuList)),
	}
	params := opts.Params
	params.Account = req.Account
	params.Partition = req.Partition

	for _, cpus := range req.CpuList {
		if ctx.Err() != nil {
			log.Warnf("Interrupted, %d configuration(s) not submitted.", len(req.CpuList)-len(report.Entries))
			break
		}

		entry := SweepEntry{Cpus: cpus}

		cores, err := DeriveCores(cpus, &opts.Cluster)
		if err != nil {
			log.Warnf("Skipping %d cpus: %s", cpus, err)
			entry.State = EntrySkipped
			entry.Reason = err.Error()
			report.Entries = append(report.Entries, entry)
			continue
		}
		entry.Cores = cores

		job, err := RenderJob(req.Template, opts.JobNamePattern, cpus, cores, opts.Strict)
		if err != nil {
			log.Warnf("Skipping %d cpus: %s", cpus, err)
			entry.State = EntrySkipped
			entry.Reason = err.Error()
			report.Entries = append(report.Entries, entry)
			continue
		}
		entry.OutputDir = job.OutputDir

		job.ScriptPath = filepath.Join(opts.ScriptDir, fmt.Sprintf("slurm_job_%d.sh", cpus))
		script := BuildScript(job, &params)
		if err := os.WriteFile(job.ScriptPath, []byte(script), 0644); err != nil {
			log.Errorf("Failed to write script for %d cpus: %s", cpus, err)
			entry.State = EntryFailed
			entry.Reason = err.Error()
			report.Entries = append(report.Entries, entry)
			continue
		}
		entry.ScriptPath = job.ScriptPath

		if opts.DryRun {
			entry.State = EntryDryRun
			report.Entries = append(report.Entries, entry)
			continue
		}

		result, err := submitter.Submit(ctx, job.ScriptPath)
		if err != nil {
			log.Errorf("Failed to submit job for %d cpus: %s", cpus, err)
			entry.State = EntryFailed
			entry.ExitCode = util.ErrorScheduler
			entry.Reason = err.Error()
			report.Entries = append(report.Entries, entry)
			continue
		}

		entry.ExitCode = result.ExitCode
		if result.Ok() {
			entry.State = EntrySubmitted
			entry.JobId = result.JobId
			log.Infof("Job id allocated: %d for %d cpus.", result.JobId, cpus)
		} else {
			entry.State = EntryFailed
			entry.Reason = strings.TrimSpace(result.Stderr)
			log.Errorf("Submission for %d cpus failed: %s", cpus, entry.Reason)
		}
		report.Entries = append(report.Entries, entry)
	}

	return report
}

func PrintReportTable(report *SweepReport) {
	table := tablewriter.NewWriter(os.Stdout)
	util.SetBorderlessTable(table)
	table.SetHeader([]string{"Cpus", "Cores", "JobId", "State", "Reason"})
	for _, entry := range report.Entries {
		jobId := ""
		if entry.JobId != 0 {
			jobId = fmt.Sprint(entry.JobId)
		}
		table.Append([]string{
			fmt.Sprint(entry.Cpus),
			fmt.Sprint(entry.Cores),
			jobId,
			entry.State,
			entry.Reason,
		})
	}
	table.Render()
}

func FormatReportJson(report *SweepReport) string {
	output, _ := json.Marshal(report)
	return string(output)
}
