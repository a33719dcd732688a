// Package main is the entry point for the keywatch CLI.
package main

import (
	"os"

	"github.com/good-yellow-bee/keywatch/cmd/keywatch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
