package main

import (
	"github.com/cohort-run/cohort/internal/cli"
	"github.com/cohort-run/cohort/internal/metrics"
)

func main() {
	metrics.EmitBuildInfo()
	cli.Execute()
}
