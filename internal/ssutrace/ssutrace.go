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
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
)

// TraceTask is one row of a Nextflow trace file.
type TraceTask struct {
	Name       string
	Duration   string
	CpuPercent float64
	PeakRss    string
}

// SuRecord is the accounted form of one trace task.
type SuRecord struct {
	Name     string  `json:"name"`
	Duration string  `json:"duration"`
	Hours    float64 `json:"hours"`
	PeakRss  string  `json:"peak_rss"`
	Cores    float64 `json:"cores"`
	Su       float64 `json:"su"`
}

var (
	durationTokenRegex = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(ms|d|h|m|s)`)
	parenRegex         = regexp.MustCompile(`\(.*?\)`)
	memoryRegex        = regexp.MustCompile(`^([\d.]+)\s*(\w+)$`)
)

// ConvertTimeToHours parses Nextflow duration strings like "1h 2m 3.5s".
func ConvertTimeToHours(duration string) (float64, error) {
	duration = strings.TrimSpace(duration)
	if duration == "" || duration == "-" {
		return 0, fmt.Errorf("empty duration")
	}

	matches := durationTokenRegex.FindAllStringSubmatch(duration, -1)
	if matches == nil {
		return 0, fmt.Errorf("invalid duration format: %s", duration)
	}

	hours := 0.0
	for _, match := range matches {
		value, err := strconv.ParseFloat(match[1], 64)
		if err != nil {
			return 0, err
		}
		switch match[2] {
		case "d":
			hours += value * 24
		case "h":
			hours += value
		case "m":
			hours += value / 60
		case "s":
			hours += value / 3600
		case "ms":
			hours += value / 3600000
		}
	}
	return hours, nil
}

// CleanName strips the parenthesized tag Nextflow appends to process names.
func CleanName(name string) string {
	return strings.TrimSpace(parenRegex.ReplaceAllString(name, ""))
}

// FormatMemory normalizes a peak RSS cell, keeping the raw value when the
// format is unexpected.
func FormatMemory(memory string) string {
	if strings.TrimSpace(memory) == "" {
		return "N/A"
	}
	match := memoryRegex.FindStringSubmatch(strings.TrimSpace(memory))
	if match == nil {
		return memory
	}
	return match[1] + " " + match[2]
}

// ParseTraceFile reads a tab-separated Nextflow trace file. Columns are
// located by header name so the trace format version does not matter.
func ParseTraceFile(path string) ([]TraceTask, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, util.WrapSweepErr(util.ErrorCmdArg,
			fmt.Sprintf("Failed to open trace file %s", path), err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.Comma = '\t'
	reader.LazyQuotes = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, util.WrapSweepErr(util.ErrorCmdArg,
			fmt.Sprintf("Failed to parse trace file %s", path), err)
	}
	if len(rows) < 2 {
		return nil, util.NewSweepErr(util.ErrorCmdArg, "Trace file has no task rows.")
	}

	column := make(map[string]int, len(rows[0]))
	for i, header := range rows[0] {
		column[strings.ToLower(strings.TrimSpace(header))] = i
	}
	nameCol, ok := column["name"]
	if !ok {
		return nil, util.NewSweepErr(util.ErrorCmdArg, "Trace file has no 'name' column.")
	}
	durationCol, ok := column["duration"]
	if !ok {
		return nil, util.NewSweepErr(util.ErrorCmdArg, "Trace file has no 'duration' column.")
	}
	cpuCol, hasCpu := column["%cpu"]
	rssCol, hasRss := column["peak_rss"]

	tasks := make([]TraceTask, 0, len(rows)-1)
	for _, row := range rows[1:] {
		task := TraceTask{
			Name:     CleanName(row[nameCol]),
			Duration: strings.TrimSpace(row[durationCol]),
		}
		if hasCpu && cpuCol < len(row) {
			pct, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(row[cpuCol]), "%"), 64)
			if err == nil {
				task.CpuPercent = pct
			}
		}
		if hasRss && rssCol < len(row) {
			task.PeakRss = FormatMemory(row[rssCol])
		} else {
			task.PeakRss = "N/A"
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// FixedCpusReport accounts every task against a fixed CPU allocation:
// SU = hours × cores, with cores = cpus × CoresPerCpu.
func FixedCpusReport(tasks []TraceTask, cpus uint32, cluster *util.ClusterConfig) ([]SuRecord, error) {
	cores := float64(cpus) * float64(cluster.CoresPerCpu)
	records := make([]SuRecord, 0, len(tasks))
	for _, task := range tasks {
		hours, err := ConvertTimeToHours(task.Duration)
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", task.Name, err)
		}
		records = append(records, SuRecord{
			Name:     task.Name,
			Duration: task.Duration,
			Hours:    hours,
			PeakRss:  task.PeakRss,
			Cores:    cores,
			Su:       hours * cores * cluster.SuCostPerCoreHour,
		})
	}
	return records, nil
}

// UtilizationReport accounts every task by its observed %CPU:
// SU = (%CPU / 100) × CoresPerCpu × hours.
func UtilizationReport(tasks []TraceTask, cluster *util.ClusterConfig) ([]SuRecord, error) {
	records := make([]SuRecord, 0, len(tasks))
	for _, task := range tasks {
		hours, err := ConvertTimeToHours(task.Duration)
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", task.Name, err)
		}
		cores := task.CpuPercent / 100 * float64(cluster.CoresPerCpu)
		records = append(records, SuRecord{
			Name:     task.Name,
			Duration: task.Duration,
			Hours:    hours,
			PeakRss:  task.PeakRss,
			Cores:    cores,
			Su:       cores * hours * cluster.SuCostPerCoreHour,
		})
	}
	return records, nil
}

func TotalSu(records []SuRecord) float64 {
	total := 0.0
	for _, record := range records {
		total += record.Su
	}
	return total
}

func PrintSuTable(records []SuRecord) {
	table := tablewriter.NewWriter(os.Stdout)
	util.SetBorderlessTable(table)
	table.SetHeader([]string{"Name", "Duration", "Hours", "PeakRSS", "Cores", "SU"})
	for _, record := range records {
		table.Append([]string{
			record.Name,
			record.Duration,
			strconv.FormatFloat(record.Hours, 'f', 2, 64),
			record.PeakRss,
			strconv.FormatFloat(record.Cores, 'f', 2, 64),
			strconv.FormatFloat(record.Su, 'f', 2, 64),
		})
	}
	table.Render()
	fmt.Printf("\nTotal SU: %.4f\n", TotalSu(records))
}

func FormatSuJson(records []SuRecord) string {
	output, _ := json.Marshal(struct {
		Tasks   []SuRecord `json:"tasks"`
		TotalSu float64    `json:"total_su"`
	}{Tasks: records, TotalSu: TotalSu(records)})
	return string(output)
}
