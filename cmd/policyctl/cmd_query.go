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
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/PolicyAssistant/services/orchestrator/datatypes"
)

var queryClient = &http.Client{Timeout: 5 * time.Minute}

func runAskCommand(cmd *cobra.Command, args []string) {
	question := strings.Join(args, " ")

	postBody, err := json.Marshal(datatypes.AgenticQueryRequest{
		Query:     question,
		SessionId: sessionID,
	})
	if err != nil {
		log.Fatalf("Could not build the request: %v", err)
	}

	resp, err := queryClient.Post(orchestratorURL+"/agentic/query",
		"application/json", bytes.NewBuffer(postBody))
	if err != nil {
		log.Fatalf("Failed to reach the orchestrator at %s: %v", orchestratorURL, err)
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		log.Fatalf("Orchestrator returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var answer datatypes.AgentResponse
	if err := json.Unmarshal(bodyBytes, &answer); err != nil {
		log.Fatalf("Could not parse the orchestrator response: %v", err)
	}

	fmt.Println(answer.Answer)
	if len(answer.Sources) > 0 {
		fmt.Println("\nSources:")
		for _, src := range answer.Sources {
			fmt.Printf("  - %s\n", src)
		}
	}
	fmt.Printf("\nSession: %s\n", answer.SessionId)
}

func runStreamCommand(cmd *cobra.Command, args []string) {
	question := strings.Join(args, " ")

	postBody, err := json.Marshal(datatypes.AgenticQueryRequest{
		Query:     question,
		SessionId: sessionID,
	})
	if err != nil {
		log.Fatalf("Could not build the request: %v", err)
	}

	resp, err := queryClient.Post(orchestratorURL+"/agentic/query/streaming",
		"application/json", bytes.NewBuffer(postBody))
	if err != nil {
		log.Fatalf("Failed to reach the orchestrator at %s: %v", orchestratorURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		log.Fatalf("Orchestrator returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	// Each frame is a bare "data: {json}" line. Comment lines (keepalives)
	// start with a colon and are skipped.
	prevHash := ""
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var event datatypes.StreamEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			log.Printf("Skipping unparseable event: %v", err)
			continue
		}

		if event.PrevHash != prevHash {
			fmt.Fprintf(os.Stderr, "\nWARNING: event chain break at %s\n", event.Id)
		}
		prevHash = event.Hash

		switch event.Type {
		case datatypes.StreamEventThinking:
			fmt.Fprintf(os.Stderr, "[%s]\n", event.Message)
		case datatypes.StreamEventAgentStep:
			fmt.Fprintf(os.Stderr, "[%s: %s (%s)]\n", event.Agent, event.Step, event.Status)
		case datatypes.StreamEventSource:
			fmt.Fprintf(os.Stderr, "[source: %s]\n", event.Source)
		case datatypes.StreamEventContent:
			fmt.Print(event.Chunk)
		case datatypes.StreamEventDone:
			fmt.Println()
			return
		case datatypes.StreamEventError:
			fmt.Fprintf(os.Stderr, "\nStream error: %s\n", event.Message)
			os.Exit(1)
		}
	}
	if err := scanner.Err(); err != nil {
		log.Fatalf("Stream read failed: %v", err)
	}
}
