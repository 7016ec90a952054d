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
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var sessionClient = &http.Client{Timeout: 30 * time.Second}

func runSessionsList(cmd *cobra.Command, args []string) {
	resp, err := sessionClient.Get(orchestratorURL + "/v1/sessions")
	if err != nil {
		log.Fatalf("Failed to reach the orchestrator at %s: %v", orchestratorURL, err)
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		log.Fatalf("Orchestrator returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var listResp struct {
		Sessions []string `json:"sessions"`
		Count    int      `json:"count"`
	}
	if err := json.Unmarshal(bodyBytes, &listResp); err != nil {
		log.Fatalf("Could not parse the session list: %v", err)
	}

	if listResp.Count == 0 {
		fmt.Println("No active sessions.")
		return
	}
	for _, id := range listResp.Sessions {
		fmt.Println(id)
	}
}

func runSessionsDelete(cmd *cobra.Command, args []string) {
	req, err := http.NewRequest(http.MethodDelete,
		orchestratorURL+"/v1/sessions/"+args[0], nil)
	if err != nil {
		log.Fatalf("Could not build the request: %v", err)
	}

	resp, err := sessionClient.Do(req)
	if err != nil {
		log.Fatalf("Failed to reach the orchestrator at %s: %v", orchestratorURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		log.Fatalf("Orchestrator returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}
	fmt.Printf("Deleted session %s\n", args[0])
}
