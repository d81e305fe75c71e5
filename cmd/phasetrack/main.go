// Package main provides the entry point for the phasetrack CLI.
package main

import (
	"os"

	"github.com/randalmurphal/phasetrack/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
