// Package main is the entry point for the sequencer proxy.
package main

import (
	"os"

	"github.com/stacklok/seqci-proxy/cmd/seqci-proxy/app"
)

func main() {
	// Logs go to stderr so stdout stays clean for commands that print data
	// (version --format json, tenant list).
	app.SetupLogging(false)

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
