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

package ssuacct

import (
	"SweepFrontEnd/internal/slurm"
	"SweepFrontEnd/internal/ssweep"
	"SweepFrontEnd/internal/util"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	FlagConfigFilePath string
	FlagReportPath     string
	FlagOutputPath     string
	FlagNoWait         bool
	FlagInterval       time.Duration
	FlagJson           bool

	RootCmd = &cobra.Command{
		Use:   "ssuacct [flags] [cpu_list]",
		Short: "Report service unit usage of a submitted sweep",
		Long: "ssuacct reads the sweep report written by ssweep, waits for the jobs to\n" +
			"reach a terminal state and computes the service unit cost of each\n" +
			"configuration from the recorded wall time.",
		Version: util.Version(),
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ReportSweep(args)
		},
	}
)

func ReportSweep(args []string) error {
	config := util.ParseConfig(FlagConfigFilePath)
	if config.LogPath != "" {
		util.InitFileLogger(log.InfoLevel, config.LogPath)
	}

	report, err := ssweep.LoadReport(FlagReportPath)
	if err != nil {
		return err
	}

	if len(args) == 1 {
		cpus, err := util.ParseCpuList(args[0])
		if err != nil {
			return util.WrapSweepErr(util.ErrorCmdArg, "Invalid cpu list", err)
		}
		report = FilterReport(report, cpus)
	}
	if len(report.Entries) == 0 {
		return util.NewSweepErr(util.ErrorCmdArg, "No matching sweep entries in the report.")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	querier := slurm.NewSacctClient(config.SacctPath)
	records := AccountSweep(ctx, report, querier, &config.Cluster, !FlagNoWait, FlagInterval)

	if FlagJson {
		fmt.Println(FormatSuJson(records))
	} else {
		PrintSuTable(records)
	}

	if err := WriteSuLog(records, FlagOutputPath); err != nil {
		return util.WrapSweepErr(util.ErrorBackend, "Failed to write SU log", err)
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
	RootCmd.Flags().StringVar(&FlagReportPath, "report", ssweep.DefaultReportPath,
		"Path of the sweep report written by ssweep")
	RootCmd.Flags().StringVarP(&FlagOutputPath, "output", "o", "job_output.log",
		"Path of the SU accounting table")
	RootCmd.Flags().BoolVar(&FlagNoWait, "no-wait", false,
		"Account with the current wall times instead of waiting for job completion")
	RootCmd.Flags().DurationVar(&FlagInterval, "interval", 10*time.Second,
		"Poll interval while waiting for jobs")
	RootCmd.Flags().BoolVar(&FlagJson, "json", false, "Output in JSON format")
}
