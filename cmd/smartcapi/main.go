// Copyright 2025 Preventioid
// SPDX-License-Identifier: Apache-2.0

// smartcapi runs the field-interview sync system: "serve" starts the central
// sync server, "agent" runs the on-device background sync loop, and "sync"
// fires a single explicit sync attempt.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "smartcapi",
	Short: "Offline-first field interview data collection and sync",
	Long: `smartcapi moves field-collected interview records (transcripts, form
answers, voice enrollments) from enumerator devices to a central server.

Records are captured into a durable local queue and uploaded in batches
whenever connectivity allows; nothing is lost across restarts or dead
zones. Configuration comes from SMARTCAPI_* environment variables.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
