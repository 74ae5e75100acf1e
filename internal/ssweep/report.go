package ssweep

import (
	"SweepFrontEnd/internal/util"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const DefaultReportPath = "sweep_report.yaml"

// WriteReport persists the sweep outcome so ssuacct can later map cpu
// counts back to job ids.
func WriteReport(report *SweepReport, path string) error {
	data, err := yaml.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal sweep report: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write sweep report %s: %w", path, err)
	}
	return nil
}

func LoadReport(path string) (*SweepReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, util.WrapSweepErr(util.ErrorReportNotFound,
			fmt.Sprintf("Failed to read sweep report %s", path), err)
	}
	report := &SweepReport{}
	if err := yaml.Unmarshal(data, report); err != nil {
		return nil, util.WrapSweepErr(util.ErrorReportNotFound,
			fmt.Sprintf("Failed to parse sweep report %s", path), err)
	}
	return report, nil
}
