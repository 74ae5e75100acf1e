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
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	FlagConfigFilePath string
	FlagAccount        string
	FlagPartition      string
	FlagJobName        string
	FlagTime           string
	FlagMemPerCpu      string
	FlagExclusive      bool
	FlagStdoutPath     string
	FlagStderrPath     string
	FlagScriptDir      string
	FlagReportPath     string
	FlagComment        string
	FlagMailType       string
	FlagMailUser       string
	FlagNoStrict       bool
	FlagDryRun         bool
	FlagJson           bool

	RootCmd = &cobra.Command{
		Use:   "ssweep [flags] cpu_list command_template [account] [partition]",
		Short: "Submit one batch job per CPU count of a parameter sweep",
		Long: "ssweep renders a command template once per CPU count, wraps each rendered\n" +
			"command in a batch script and submits it. The template may use the {cpus}\n" +
			"and {cores} placeholders, e.g. 'my_tool --consCores {cores} -o output_{cpus}'.\n" +
			"The exit code is the number of failed or skipped configurations, 0 when all\n" +
			"were submitted; argument errors exit 2 before any submission.",
		Version: util.Version(),
		Args:    cobra.RangeArgs(2, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			return SubmitSweep(cmd, args)
		},
	}
)

func SubmitSweep(cmd *cobra.Command, args []string) error {
	config := util.ParseConfig(FlagConfigFilePath)
	if config.LogPath != "" {
		util.InitFileLogger(log.InfoLevel, config.LogPath)
	}

	account := config.DefaultAccount
	partition := config.DefaultPartition
	if len(args) > 2 {
		account = args[2]
	}
	if len(args) > 3 {
		partition = args[3]
	}
	if cmd.Flags().Changed("account") {
		account = FlagAccount
	}
	if cmd.Flags().Changed("partition") {
		partition = FlagPartition
	}

	request, err := BuildSweepRequest(args[0], args[1], account, partition)
	if err != nil {
		return err
	}
	log.Infof("Sweeping over cpu counts: %s.", util.ConvertSliceToString(request.CpuList, ", "))

	timeLimit := config.Job.TimeLimit
	if cmd.Flags().Changed("time") {
		timeLimit = FlagTime
	}
	if _, err := util.ParseDurationStrToSeconds(timeLimit); err != nil {
		return util.WrapSweepErr(util.ErrorCmdArg, "Invalid time limit", err)
	}

	memPerCpu := config.Job.MemPerCpu
	if cmd.Flags().Changed("mem-per-cpu") {
		memPerCpu = FlagMemPerCpu
	}
	if memPerCpu != "" {
		if _, err := util.ParseMemStringAsByte(memPerCpu); err != nil {
			return util.WrapSweepErr(util.ErrorCmdArg, "Invalid --mem-per-cpu", err)
		}
	}

	exclusive := config.Job.Exclusive
	if cmd.Flags().Changed("exclusive") {
		exclusive = FlagExclusive
	}

	extraAttrs := util.JobExtraAttrs{
		Comment:  FlagComment,
		MailType: FlagMailType,
		MailUser: FlagMailUser,
	}
	if err := extraAttrs.Validate(); err != nil {
		return util.WrapSweepErr(util.ErrorCmdArg, "Invalid argument", err)
	}
	extraAttr, err := extraAttrs.Marshal()
	if err != nil {
		return util.WrapSweepErr(util.ErrorCmdArg, "Invalid argument", err)
	}

	opts := &SweepOptions{
		ScriptDir:      FlagScriptDir,
		JobNamePattern: FlagJobName,
		Strict:         !FlagNoStrict,
		DryRun:         FlagDryRun,
		Cluster:        config.Cluster,
		Params: ScriptParams{
			TimeLimit:     timeLimit,
			MemPerCpu:     memPerCpu,
			Exclusive:     exclusive,
			StdoutPattern: FlagStdoutPath,
			StderrPattern: FlagStderrPath,
			ExtraAttr:     extraAttr,
		},
	}

	// An interrupt stops issuing submissions; jobs already queued stay
	// with the scheduler.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	submitter := slurm.NewSbatchClient(config.SbatchPath)
	report := RunSweep(ctx, request, submitter, opts)

	if FlagJson {
		fmt.Println(FormatReportJson(report))
	} else {
		PrintReportTable(report)
	}

	if !FlagDryRun {
		if err := WriteReport(report, FlagReportPath); err != nil {
			log.Errorf("Failed to write sweep report: %s", err)
		}
	}

	if failed := report.FailedCount(); failed > 0 {
		return util.NewSweepErr(failed,
			fmt.Sprintf("%d of %d configuration(s) failed.", failed, len(report.Entries)))
	}
	return nil
}

func ParseCmdArgs() {
	util.RunEWrapperForLeafCommand(RootCmd)
	util.RunAndHandleExit(RootCmd)
}

func init() {
	RootCmd.SetVersionTemplate(util.VersionTemplate())
	RootCmd.PersistentFlags().StringVarP(&FlagConfigFilePath, "config", "C",
		util.DefaultConfigPath, "Path to configuration file")
	RootCmd.Flags().StringVarP(&FlagAccount, "account", "A", "", "Account used for the jobs")
	RootCmd.Flags().StringVarP(&FlagPartition, "partition", "p", "", "Partition requested")
	RootCmd.Flags().StringVarP(&FlagJobName, "job-name", "J", "sweep_job_{cpus}_cpus",
		"Name pattern of the jobs, may use {cpus} and {cores}")
	RootCmd.Flags().StringVarP(&FlagTime, "time", "t", "",
		"Time limit, format: \"day-hours:minutes:seconds\" 1-0:0:0 for one day")
	RootCmd.Flags().StringVar(&FlagMemPerCpu, "mem-per-cpu", "",
		"Memory per cpu, support GB(G, g), MB(M, m), KB(K, k) and Bytes(B), default unit is MB")
	RootCmd.Flags().BoolVar(&FlagExclusive, "exclusive", true, "Request exclusive node access")
	RootCmd.Flags().StringVarP(&FlagStdoutPath, "output", "o", "slurm-%j.out",
		"Redirection path of standard output of the jobs")
	RootCmd.Flags().StringVarP(&FlagStderrPath, "error", "e", "slurm-%j.err",
		"Redirection path of standard error of the jobs")
	RootCmd.Flags().StringVar(&FlagScriptDir, "script-dir", ".", "Directory the batch scripts are written to")
	RootCmd.Flags().StringVar(&FlagReportPath, "report", DefaultReportPath, "Path of the sweep report")
	RootCmd.Flags().StringVar(&FlagComment, "comment", "", "Comment of the jobs")
	RootCmd.Flags().StringVar(&FlagMailType, "mail-type", "",
		"Notify user by mail when certain events occur, supported values: NONE, BEGIN, END, FAIL, TIMELIMIT, ALL")
	RootCmd.Flags().StringVar(&FlagMailUser, "mail-user", "", "Mail address of the notification receiver")
	RootCmd.Flags().BoolVar(&FlagNoStrict, "no-strict", false,
		"Keep unresolved {placeholder} tokens in rendered commands instead of skipping the entry")
	RootCmd.Flags().BoolVar(&FlagDryRun, "dry-run", false, "Render and write batch scripts without submitting")
	RootCmd.Flags().BoolVar(&FlagJson, "json", false, "Output in JSON format")
}
