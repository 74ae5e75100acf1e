package main

import (
	"SweepFrontEnd/internal/ssuacct"
	"SweepFrontEnd/internal/util"

	log "github.com/sirupsen/logrus"
)

func main() {
	util.InitLogger(log.InfoLevel)
	ssuacct.ParseCmdArgs()
}
