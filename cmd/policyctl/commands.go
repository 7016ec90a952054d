// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"os"

	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	orchestratorURL string
	sessionID       string
	ingestWorkers   int
	skipScan        bool

	rootCmd = &cobra.Command{
		Use:   "policyctl",
		Short: "A cli to query and manage the Aleutian policy assistant",
		Long: `Policyctl talks to a running orchestrator: ask questions about
your policy corpus, stream answers, ingest documents, and manage sessions.`,
	}

	// --- Ask / Stream ---
	askCmd = &cobra.Command{
		Use:   "ask [question]",
		Short: "Asks a question and waits for the complete answer",
		Args:  cobra.MinimumNArgs(1),
		Run:   runAskCommand, // Defined in cmd_query.go
	}
	streamCmd = &cobra.Command{
		Use:   "stream [question]",
		Short: "Asks a question and streams the answer as it is generated",
		Args:  cobra.MinimumNArgs(1),
		Run:   runStreamCommand, // Defined in cmd_query.go
	}

	// --- Ingestion ---
	ingestCmd = &cobra.Command{
		Use:   "ingest [file or directory path...]",
		Short: "Scans local files for secrets before ingesting them into the knowledge base",
		Args:  cobra.MinimumNArgs(1),
		Run:   runIngestCommand, // Defined in cmd_ingest.go
	}

	// --- Sessions ---
	sessionsCmd = &cobra.Command{
		Use:   "sessions",
		Short: "Manage conversation sessions on the orchestrator",
	}
	sessionsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List active session ids",
		Run:   runSessionsList, // Defined in cmd_sessions.go
	}
	sessionsDeleteCmd = &cobra.Command{
		Use:   "delete [session_id]",
		Short: "Delete a session and its history",
		Args:  cobra.ExactArgs(1),
		Run:   runSessionsDelete, // Defined in cmd_sessions.go
	}
)

func init() {
	defaultURL := os.Getenv("ORCHESTRATOR_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:12210"
	}
	rootCmd.PersistentFlags().StringVar(&orchestratorURL, "url", defaultURL,
		"Base URL of the orchestrator service")

	askCmd.Flags().StringVar(&sessionID, "session", "",
		"Session id for multi-turn conversations")
	streamCmd.Flags().StringVar(&sessionID, "session", "",
		"Session id for multi-turn conversations")

	ingestCmd.Flags().IntVar(&ingestWorkers, "workers", 4,
		"Number of concurrent ingestion workers")
	ingestCmd.Flags().BoolVar(&skipScan, "skip-scan", false,
		"Skip the local secret scan before uploading (the server still scans)")

	sessionsCmd.AddCommand(sessionsListCmd, sessionsDeleteCmd)
	rootCmd.AddCommand(askCmd, streamCmd, ingestCmd, sessionsCmd)
}
