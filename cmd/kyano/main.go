// Package main is the entry point for kyano.
package main

import (
	"fmt"
	"os"

	"github.com/snldzo7/kyano-dashboard-project-sub001/cmd/kyano/cmd"
)

// Version information (set by ldflags during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	cmd.SetVersionInfo(Version, BuildTime, GitCommit)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
