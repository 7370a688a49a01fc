// Package main is the entry point for the flarewatch CLI.
package main

import (
	"os"

	"github.com/good-yellow-bee/flarewatch/cmd/flarewatch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
