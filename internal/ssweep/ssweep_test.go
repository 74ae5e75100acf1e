package ssweep

import (
	"SweepFrontEnd/internal/slurm"
	"SweepFrontEnd/internal/util"
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"testing"
)

var testCluster = util.ClusterConfig{CoresPerCpu: 64, SuCostPerCoreHour: 1.0}

func TestBuildSweepRequest(t *testing.T) {
	testCases := []struct {
		name      string
		cpuList   string
		template  string
		wantCpus  []uint32
		expectErr bool
	}{
		{
			name:     "valid request",
			cpuList:  "2,4,8",
			template: "run -t {cores} -c {cpus}",
			wantCpus: []uint32{2, 4, 8},
		},
		{
			name:     "cores placeholder only",
			cpuList:  "16",
			template: "my_tool --consCores {cores}",
			wantCpus: []uint32{16},
		},
		{
			name:      "zero cpu rejected",
			cpuList:   "0",
			template:  "run {cpus}",
			expectErr: true,
		},
		{
			name:      "empty template rejected",
			cpuList:   "2",
			template:  "",
			expectErr: true,
		},
		{
			name:      "template without placeholder rejected",
			cpuList:   "2",
			template:  "run -t 4",
			expectErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := BuildSweepRequest(tc.cpuList, tc.template, "acct", "work")
			if tc.expectErr {
				if err == nil {
					t.Fatal("expected error")
				}
				var sweepErr *util.SweepError
				if !errors.As(err, &sweepErr) || sweepErr.Code != util.ErrorCmdArg {
					t.Errorf("expected ErrorCmdArg, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(req.CpuList, tc.wantCpus) {
				t.Errorf("cpu list = %v, want %v", req.CpuList, tc.wantCpus)
			}
		})
	}
}

func TestDeriveCores(t *testing.T) {
	for _, cpus := range []uint32{1, 2, 8, 128} {
		first, err := DeriveCores(cpus, &testCluster)
		if err != nil {
			t.Fatalf("DeriveCores(%d): %v", cpus, err)
		}
		second, _ := DeriveCores(cpus, &testCluster)
		if first != second {
			t.Errorf("DeriveCores(%d) not deterministic: %d != %d", cpus, first, second)
		}
		if first != cpus*64 {
			t.Errorf("DeriveCores(%d) = %d, want %d", cpus, first, cpus*64)
		}
	}
}

func TestDeriveCoresOverLimit(t *testing.T) {
	capped := util.ClusterConfig{CoresPerCpu: 64, MaxCpusPerJob: 8}
	if _, err := DeriveCores(8, &capped); err != nil {
		t.Errorf("8 cpus within limit: %v", err)
	}
	_, err := DeriveCores(16, &capped)
	if err == nil {
		t.Fatal("expected error above the cap")
	}
	var sweepErr *util.SweepError
	if !errors.As(err, &sweepErr) || sweepErr.Code != util.ErrorCpuCountUnsupported {
		t.Errorf("expected ErrorCpuCountUnsupported, got %v", err)
	}
}

func TestDeriveCoresOverflow(t *testing.T) {
	uncapped := util.ClusterConfig{CoresPerCpu: 64}
	_, err := DeriveCores(1<<26, &uncapped)
	if err == nil {
		t.Fatal("expected error when the core count overflows uint32")
	}
	var sweepErr *util.SweepError
	if !errors.As(err, &sweepErr) || sweepErr.Code != util.ErrorCpuCountUnsupported {
		t.Errorf("expected ErrorCpuCountUnsupported, got %v", err)
	}
}

func TestRender(t *testing.T) {
	got := Render("run -t {cores} -c {cpus} -o output_{cpus}", 4, 256)
	want := "run -t 256 -c 4 -o output_4"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestRenderWithoutPlaceholdersIsIdentity(t *testing.T) {
	template := "run -t 4 --flag value"
	if got := Render(template, 8, 512); got != template {
		t.Errorf("got %q, want unchanged input", got)
	}
}

func TestRenderContainsLiteralValues(t *testing.T) {
	for _, cpus := range []uint32{1, 3, 17, 1024} {
		cores, _ := DeriveCores(cpus, &testCluster)
		out := Render("x {cpus} y {cores} z", cpus, cores)
		if !strings.Contains(out, fmt.Sprint(cpus)) {
			t.Errorf("rendered output %q misses cpus value %d", out, cpus)
		}
		if !strings.Contains(out, fmt.Sprint(cores)) {
			t.Errorf("rendered output %q misses cores value %d", out, cores)
		}
	}
}

func TestRenderJobStrictRejectsLeftovers(t *testing.T) {
	_, err := RenderJob("run {cpus} {threads}", "job_{cpus}", 2, 128, true)
	if err == nil {
		t.Fatal("expected error for unresolved placeholder")
	}
	var sweepErr *util.SweepError
	if !errors.As(err, &sweepErr) || sweepErr.Code != util.ErrorTemplateRendering {
		t.Errorf("expected ErrorTemplateRendering, got %v", err)
	}

	job, err := RenderJob("run {cpus} {threads}", "job_{cpus}", 2, 128, false)
	if err != nil {
		t.Fatalf("lenient mode: %v", err)
	}
	if job.Command != "run 2 {threads}" {
		t.Errorf("lenient command = %q", job.Command)
	}
}

func TestRenderJobStrictAllowsShellExpansions(t *testing.T) {
	job, err := RenderJob("my_tool -o ${HOME}/out_{cpus} --tmp ${TMPDIR}", "job_{cpus}", 2, 128, true)
	if err != nil {
		t.Fatalf("shell expansion treated as placeholder: %v", err)
	}
	if job.Command != "my_tool -o ${HOME}/out_2 --tmp ${TMPDIR}" {
		t.Errorf("command = %q", job.Command)
	}

	// A real leftover next to an expansion is still caught.
	if _, err := RenderJob("run ${HOME} {threads}", "job_{cpus}", 2, 128, true); err == nil {
		t.Error("expected error for unresolved placeholder")
	}
}

func TestRenderJobNamesAndOutputDir(t *testing.T) {
	job, err := RenderJob("run {cpus}", "sweep_job_{cpus}_cpus", 8, 512, true)
	if err != nil {
		t.Fatalf("RenderJob: %v", err)
	}
	if job.OutputDir != "output_8" {
		t.Errorf("output dir = %q, want output_8", job.OutputDir)
	}
	if job.JobName != "sweep_job_8_cpus" {
		t.Errorf("job name = %q, want sweep_job_8_cpus", job.JobName)
	}
}

func TestBuildScript(t *testing.T) {
	job := &RenderedJob{
		Cpus:    4,
		Cores:   256,
		JobName: "sweep_job_4_cpus",
		Command: "my_tool --consCores 256 -o output_4",
	}
	extraAttr, _ := (&util.JobExtraAttrs{MailType: "END", MailUser: "a@b"}).Marshal()
	params := &ScriptParams{
		Account:       "pawsey0001",
		Partition:     "work",
		TimeLimit:     "1-00:00:00",
		MemPerCpu:     "200G",
		Exclusive:     true,
		StdoutPattern: "slurm-%j.out",
		StderrPattern: "slurm-%j.err",
		ExtraAttr:     extraAttr,
	}

	script := BuildScript(job, params)

	for _, want := range []string{
		"#!/bin/bash\n",
		"#SBATCH --job-name=sweep_job_4_cpus\n",
		"#SBATCH --ntasks=4\n",
		"#SBATCH --cpus-per-task=1\n",
		"#SBATCH --time=1-00:00:00\n",
		"#SBATCH --account=pawsey0001\n",
		"#SBATCH --partition=work\n",
		"#SBATCH --exclusive\n",
		"#SBATCH --mem-per-cpu=200G\n",
		"#SBATCH --mail-type=END\n",
		"#SBATCH --mail-user=a@b\n",
		"my_tool --consCores 256 -o output_4\n",
		"> job-4.time\n",
	} {
		if !strings.Contains(script, want) {
			t.Errorf("script misses %q:\n%s", want, script)
		}
	}
}

func TestBuildScriptOmitsEmptyDirectives(t *testing.T) {
	job := &RenderedJob{Cpus: 2, Cores: 128, JobName: "j", Command: "run"}
	script := BuildScript(job, &ScriptParams{StdoutPattern: "o", StderrPattern: "e"})

	for _, unwanted := range []string{"--account", "--partition", "--exclusive", "--mem-per-cpu", "--mail-type", "--time"} {
		if strings.Contains(script, unwanted) {
			t.Errorf("script contains %q without a value:\n%s", unwanted, script)
		}
	}
}

// fakeSubmitter hands out job ids and fails configured cpu counts through
// a non-zero sbatch exit.
type fakeSubmitter struct {
	nextJobId uint32
	failOn    map[string]bool
	submitted []string
}

func (s *fakeSubmitter) Submit(ctx context.Context, scriptPath string) (*slurm.SubmissionResult, error) {
	s.submitted = append(s.submitted, scriptPath)
	if s.failOn[scriptPath] {
		return &slurm.SubmissionResult{ExitCode: 1, Stderr: "sbatch: error: invalid account"}, nil
	}
	s.nextJobId++
	return &slurm.SubmissionResult{JobId: s.nextJobId, Stdout: fmt.Sprintf("Submitted batch job %d\n", s.nextJobId)}, nil
}

func testOpts(t *testing.T) *SweepOptions {
	t.Helper()
	return &SweepOptions{
		ScriptDir:      t.TempDir(),
		JobNamePattern: "sweep_job_{cpus}_cpus",
		Strict:         true,
		Cluster:        testCluster,
		Params:         ScriptParams{StdoutPattern: "slurm-%j.out", StderrPattern: "slurm-%j.err"},
	}
}

func TestRunSweepSubmitsAllEntries(t *testing.T) {
	req, err := BuildSweepRequest("2,4,8", "run -t {cores} -c {cpus}", "acct", "work")
	if err != nil {
		t.Fatalf("BuildSweepRequest: %v", err)
	}

	submitter := &fakeSubmitter{}
	report := RunSweep(context.Background(), req, submitter, testOpts(t))

	if len(report.Entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(report.Entries))
	}
	wantCores := []uint32{128, 256, 512}
	for i, entry := range report.Entries {
		if entry.State != EntrySubmitted {
			t.Errorf("entry %d state = %s", i, entry.State)
		}
		if entry.Cores != wantCores[i] {
			t.Errorf("entry %d cores = %d, want %d", i, entry.Cores, wantCores[i])
		}
		if entry.OutputDir != fmt.Sprintf("output_%d", entry.Cpus) {
			t.Errorf("entry %d output dir = %q", i, entry.OutputDir)
		}
	}
	if report.FailedCount() != 0 {
		t.Errorf("failed count = %d, want 0", report.FailedCount())
	}
}

func TestRunSweepContinuesAfterFailure(t *testing.T) {
	req, _ := BuildSweepRequest("2,4,8", "run -c {cpus}", "acct", "work")
	opts := testOpts(t)

	submitter := &fakeSubmitter{failOn: map[string]bool{
		opts.ScriptDir + "/slurm_job_4.sh": true,
	}}
	report := RunSweep(context.Background(), req, submitter, opts)

	if len(submitter.submitted) != 3 {
		t.Fatalf("submitted %d scripts, want 3", len(submitter.submitted))
	}
	if report.Entries[1].State != EntryFailed {
		t.Errorf("entry for 4 cpus state = %s, want FAILED", report.Entries[1].State)
	}
	if report.Entries[0].State != EntrySubmitted || report.Entries[2].State != EntrySubmitted {
		t.Error("entries around the failure were not submitted")
	}
	if report.FailedCount() != 1 {
		t.Errorf("failed count = %d, want 1", report.FailedCount())
	}
}

func TestRunSweepSkipsUnsupportedCpuCount(t *testing.T) {
	req, _ := BuildSweepRequest("2,1024,4", "run -c {cpus}", "acct", "work")
	opts := testOpts(t)
	opts.Cluster.MaxCpusPerJob = 256

	submitter := &fakeSubmitter{}
	report := RunSweep(context.Background(), req, submitter, opts)

	if len(submitter.submitted) != 2 {
		t.Fatalf("submitted %d scripts, want 2", len(submitter.submitted))
	}
	if report.Entries[1].State != EntrySkipped {
		t.Errorf("oversized entry state = %s, want SKIPPED", report.Entries[1].State)
	}
	if report.FailedCount() != 1 {
		t.Errorf("failed count = %d, want 1", report.FailedCount())
	}
}

func TestRunSweepDryRunWritesScriptsOnly(t *testing.T) {
	req, _ := BuildSweepRequest("2,4", "run -c {cpus}", "", "")
	opts := testOpts(t)
	opts.DryRun = true

	submitter := &fakeSubmitter{}
	report := RunSweep(context.Background(), req, submitter, opts)

	if len(submitter.submitted) != 0 {
		t.Errorf("dry run submitted %d scripts", len(submitter.submitted))
	}
	for _, entry := range report.Entries {
		if entry.State != EntryDryRun {
			t.Errorf("entry state = %s, want DRY-RUN", entry.State)
		}
		if _, err := os.Stat(entry.ScriptPath); err != nil {
			t.Errorf("script %s not written: %v", entry.ScriptPath, err)
		}
	}
	if report.FailedCount() != 0 {
		t.Errorf("failed count = %d, want 0", report.FailedCount())
	}
}

func TestRunSweepStopsOnCancelledContext(t *testing.T) {
	req, _ := BuildSweepRequest("2,4,8", "run -c {cpus}", "", "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	submitter := &fakeSubmitter{}
	report := RunSweep(ctx, req, submitter, testOpts(t))

	if len(submitter.submitted) != 0 {
		t.Errorf("cancelled sweep submitted %d scripts", len(submitter.submitted))
	}
	if len(report.Entries) != 0 {
		t.Errorf("cancelled sweep recorded %d entries", len(report.Entries))
	}
}

func TestReportRoundTrip(t *testing.T) {
	path := t.TempDir() + "/sweep_report.yaml"
	report := &SweepReport{
		Account:   "acct",
		Partition: "work",
		Entries: []SweepEntry{
			{Cpus: 2, Cores: 128, JobId: 11, State: EntrySubmitted},
			{Cpus: 4, Cores: 256, State: EntryFailed, ExitCode: 1, Reason: "invalid account"},
		},
	}

	if err := WriteReport(report, path); err != nil {
		t.Fatalf("WriteReport: %v", err)
	}
	loaded, err := LoadReport(path)
	if err != nil {
		t.Fatalf("LoadReport: %v", err)
	}
	if !reflect.DeepEqual(loaded, report) {
		t.Errorf("loaded report differs:\ngot  %+v\nwant %+v", loaded, report)
	}
}

func TestLoadReportMissingFile(t *testing.T) {
	_, err := LoadReport(t.TempDir() + "/nope.yaml")
	if err == nil {
		t.Fatal("expected error")
	}
	var sweepErr *util.SweepError
	if !errors.As(err, &sweepErr) || sweepErr.Code != util.ErrorReportNotFound {
		t.Errorf("expected ErrorReportNotFound, got %v", err)
	}
}
