package main

import (
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/CrowderSoup/kanban/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		log.WithError(err).Error("kanban failed")
		os.Exit(1)
	}
}
