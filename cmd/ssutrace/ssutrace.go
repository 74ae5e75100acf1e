package main

import (
	"SweepFrontEnd/internal/ssutrace"
	"SweepFrontEnd/internal/util"

	log "github.com/sirupsen/logrus"
)

func main() {
	util.InitLogger(log.InfoLevel)
	ssutrace.ParseCmdArgs()
}
