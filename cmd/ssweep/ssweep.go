package main

import (
	"SweepFrontEnd/internal/ssweep"
	"SweepFrontEnd/internal/util"

	log "github.com/sirupsen/logrus"
)

func main() {
	util.InitLogger(log.InfoLevel)
	ssweep.ParseCmdArgs()
}
