package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/parlance-data/parlance/internal/cli"
	"github.com/parlance-data/parlance/pkg/metrics"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()
	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
	os.Exit(int(cli.Run()))
}
