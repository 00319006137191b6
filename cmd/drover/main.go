// Package main is the entry point for the drover CLI. Drover supervises
// long-running loops in which autonomous coding agents work tracked
// issues toward their acceptance criteria.
package main

import (
	"fmt"
	"os"

	"github.com/droverhq/drover/internal/cli"
)

// Version information (set by goreleaser)
var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
