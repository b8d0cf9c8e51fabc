package main

import (
	"os"

	"github.com/rowpane/rowpane/internal/cli"
)

// Version info (set by ldflags)
var version = "dev"

func main() {
	if err := cli.NewRootCommand(version).Execute(); err != nil {
		// Error already printed by cobra
		os.Exit(1)
	}
}
