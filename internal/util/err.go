package util

import (
	"errors"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type SweepCmdError = int

// general
const (
	ErrorSuccess       SweepCmdError = 0
	ErrorExecuteFailed SweepCmdError = 1
	ErrorCmdArg        SweepCmdError = 2
	ErrorScheduler     SweepCmdError = 3
	ErrorBackend       SweepCmdError = 4
)

// ssweep
const (
	ErrorCpuCountUnsupported SweepCmdError = 300
	ErrorTemplateRendering   SweepCmdError = 301
)

// ssuacct
const (
	ErrorReportNotFound SweepCmdError = 400
)

type SweepError struct {
	Code    SweepCmdError
	Message string
}

func (e *SweepError) Error() string {
	return e.Message
}

func NewSweepErr(code SweepCmdError, message string) *SweepError {
	return &SweepError{Code: code, Message: message}
}

func WrapSweepErr(code SweepCmdError, message string, err error) *SweepError {
	return &SweepError{Code: code, Message: message + ": " + err.Error()}
}

// RunEWrapperForLeafCommand wraps the RunE of every leaf command so that
// usage text is printed for argument errors only, not for runtime failures.
func RunEWrapperForLeafCommand(cmd *cobra.Command) {
	for _, c := range cmd.Commands() {
		RunEWrapperForLeafCommand(c)
	}

	if len(cmd.Commands()) == 0 && cmd.RunE != nil {
		originalRunE := cmd.RunE
		cmd.SilenceUsage = true
		cmd.RunE = func(cmd *cobra.Command, args []string) error {
			err := originalRunE(cmd, args)
			var sweepErr *SweepError
			if errors.As(err, &sweepErr) && sweepErr.Code == ErrorCmdArg {
				cmd.SilenceUsage = false
			}
			return err
		}
	}
}

// RunAndHandleExit executes the command and converts the returned error
// into the process exit code.
func RunAndHandleExit(cmd *cobra.Command) {
	cmd.SilenceErrors = true

	err := cmd.Execute()
	if err == nil {
		os.Exit(ErrorSuccess)
	}

	var sweepErr *SweepError
	if errors.As(err, &sweepErr) {
		if sweepErr.Message != "" {
			log.Error(sweepErr.Message)
		}
		os.Exit(sweepErr.Code)
	}

	log.Error(err)
	os.Exit(ErrorExecuteFailed)
}
