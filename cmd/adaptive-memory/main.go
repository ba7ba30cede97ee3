package main

import (
	"os"

	"github.com/daz2208/adaptive-memory/internal/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
