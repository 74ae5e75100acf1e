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

package ssutrace

import (
	"SweepFrontEnd/internal/util"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	FlagConfigFilePath string
	FlagCpus           uint32
	FlagJson           bool

	RootCmd = &cobra.Command{
		Use:   "ssutrace [flags] trace_file",
		Short: "Compute service unit usage from a Nextflow trace file",
		Long: "ssutrace reads the tab-separated trace file a Nextflow run writes and\n" +
			"reports the service unit cost per task. By default a task is billed by\n" +
			"its observed %CPU; with --cpus it is billed against a fixed allocation.",
		Version: util.Version(),
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ReportTrace(cmd, args)
		},
	}
)

func ReportTrace(cmd *cobra.Command, args []string) error {
	config := util.ParseConfig(FlagConfigFilePath)
	if config.LogPath != "" {
		util.InitFileLogger(log.InfoLevel, config.LogPath)
	}

	tasks, err := ParseTraceFile(args[0])
	if err != nil {
		return err
	}

	var records []SuRecord
	if cmd.Flags().Changed("cpus") {
		if FlagCpus == 0 {
			return util.NewSweepErr(util.ErrorCmdArg, "--cpus must be > 0.")
		}
		records, err = FixedCpusReport(tasks, FlagCpus, &config.Cluster)
	} else {
		records, err = UtilizationReport(tasks, &config.Cluster)
	}
	if err != nil {
		return util.WrapSweepErr(util.ErrorCmdArg, "Failed to account trace", err)
	}

	if FlagJson {
		fmt.Println(FormatSuJson(records))
	} else {
		PrintSuTable(records)
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
	RootCmd.Flags().Uint32VarP(&FlagCpus, "cpus", "c", 0,
		"Bill every task against this fixed CPU count instead of its %CPU")
	RootCmd.Flags().BoolVar(&FlagJson, "json", false, "Output in JSON format")
}
