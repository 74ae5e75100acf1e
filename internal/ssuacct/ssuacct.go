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
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
)

// SuRecord is the accounting result for one sweep configuration.
// SU = cores × wall-clock hours × cost per core-hour.
type SuRecord struct {
	Cpus      uint32  `json:"cpus"`
	Cores     uint32  `json:"cores"`
	JobId     uint32  `json:"job_id"`
	State     string  `json:"state"`
	WallHours float64 `json:"wall_hours"`
	Su        float64 `json:"su"`
}

// ReadWallTimeHours reads the elapsed wall time from the job-<cpus>.time
// file a sweep job leaves behind. A missing file yields zero hours, the
// entry then shows up with SU 0 instead of failing the whole report.
func ReadWallTimeHours(cpus uint32) float64 {
	data, err := os.ReadFile(fmt.Sprintf("job-%d.time", cpus))
	if err != nil {
		return 0
	}
	// "Elapsed time: <seconds> seconds"
	fields := strings.Fields(string(data))
	if len(fields) < 3 {
		return 0
	}
	seconds, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return 0
	}
	return seconds / 3600
}

// CalculateSu computes service units for one job.
func CalculateSu(cores uint32, wallHours float64, costPerCoreHour float64) float64 {
	return float64(cores) * wallHours * costPerCoreHour
}

// AccountSweep waits for each submitted sweep job to finish and computes
// its SU cost. Per-entry failures (job vanished, sacct errors) are logged
// and the remaining entries are still accounted.
func AccountSweep(ctx context.Context, report *ssweep.SweepReport, querier slurm.StateQuerier,
	cluster *util.ClusterConfig, wait bool, interval time.Duration) []SuRecord {

	records := make([]SuRecord, 0, len(report.Entries))
	for _, entry := range report.Entries {
		if entry.State != ssweep.EntrySubmitted || entry.JobId == 0 {
			log.Warnf("Skipping %d cpus: no job was submitted (%s).", entry.Cpus, entry.State)
			continue
		}

		record := SuRecord{Cpus: entry.Cpus, Cores: entry.Cores, JobId: entry.JobId}

		if wait {
			state, err := slurm.WaitJob(ctx, querier, entry.JobId, interval)
			if err != nil {
				log.Errorf("Failed to wait for job %d: %s", entry.JobId, err)
				record.State = state
				records = append(records, record)
				if ctx.Err() != nil {
					break
				}
				continue
			}
			record.State = state
		}

		record.WallHours = ReadWallTimeHours(entry.Cpus)
		record.Su = CalculateSu(entry.Cores, record.WallHours, cluster.SuCostPerCoreHour)
		records = append(records, record)
	}
	return records
}

// WriteSuLog writes the fixed-width accounting table consumed by the
// benchmarking workflow.
func WriteSuLog(records []SuRecord, path string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%-10s%-10s%-10s\n", "CPUs", "Cores", "SU")
	b.WriteString(strings.Repeat("=", 30) + "\n")
	for _, record := range records {
		fmt.Fprintf(&b, "%-10d%-10d%-10.2f\n", record.Cpus, record.Cores, record.Su)
	}
	return os.WriteFile(path, []byte(b.String()), 0644)
}

func PrintSuTable(records []SuRecord) {
	table := tablewriter.NewWriter(os.Stdout)
	util.SetBorderlessTable(table)
	table.SetHeader([]string{"Cpus", "Cores", "JobId", "State", "WallTime", "SU"})
	for _, record := range records {
		table.Append([]string{
			fmt.Sprint(record.Cpus),
			fmt.Sprint(record.Cores),
			fmt.Sprint(record.JobId),
			record.State,
			util.SecondTimeFormat(int64(record.WallHours * 3600)),
			strconv.FormatFloat(record.Su, 'f', 2, 64),
		})
	}
	table.Render()
}

func FormatSuJson(records []SuRecord) string {
	output, _ := json.Marshal(records)
	return string(output)
}

// FilterReport narrows a sweep report down to the given cpu counts.
func FilterReport(report *ssweep.SweepReport, cpus []uint32) *ssweep.SweepReport {
	wanted := make(map[uint32]bool, len(cpus))
	for _, c := range cpus {
		wanted[c] = true
	}
	filtered := &ssweep.SweepReport{Account: report.Account, Partition: report.Partition}
	for _, entry := range report.Entries {
		if wanted[entry.Cpus] {
			filtered.Entries = append(filtered.Entries, entry)
		}
	}
	return filtered
}
