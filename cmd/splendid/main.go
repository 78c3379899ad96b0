package main

import (
	"fmt"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"splendid-controller/internal/cmd"
)

// Set by the build script.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// Variables already in the environment win over .env.
	if err := godotenv.Load(); err != nil {
		log.Debug("no .env file found, using environment variables")
	}

	cmd.Execute(fmt.Sprintf("%s (commit %s, built %s)", version, commit, date))
}
