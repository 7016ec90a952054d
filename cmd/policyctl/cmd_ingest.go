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
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/PolicyAssistant/services/policy_engine"
)

// ingestExtensions lists the file types worth sending to the knowledge base.
var ingestExtensions = map[string]bool{
	".md":   true,
	".txt":  true,
	".rst":  true,
	".html": true,
}

func runIngestCommand(cmd *cobra.Command, args []string) {
	files, err := collectIngestFiles(args)
	if err != nil {
		log.Fatalf("Could not collect files: %v", err)
	}
	if len(files) == 0 {
		log.Fatal("No ingestable files found (want .md, .txt, .rst, or .html)")
	}

	var engine *policy_engine.PolicyEngine
	if !skipScan {
		engine, err = policy_engine.NewPolicyEngine()
		if err != nil {
			log.Fatalf("Could not initialize the policy engine: %v", err)
		}
	}

	fmt.Printf("Ingesting %d file(s) with %d worker(s)\n", len(files), ingestWorkers)

	jobs := make(chan string)
	var g errgroup.Group
	for i := 0; i < ingestWorkers; i++ {
		workerID := i
		g.Go(func() error {
			return ingestWorker(workerID, jobs, engine)
		})
	}
	for _, file := range files {
		jobs <- file
	}
	close(jobs)

	if err := g.Wait(); err != nil {
		log.Fatalf("Ingestion failed: %v", err)
	}
	fmt.Println("Ingestion complete.")
}

// collectIngestFiles expands the given paths into a flat list of files,
// walking directories recursively and filtering by extension.
func collectIngestFiles(paths []string) ([]string, error) {
	var files []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, path)
			continue
		}
		err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			if ingestExtensions[strings.ToLower(filepath.Ext(p))] {
				files = append(files, p)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}

func ingestWorker(id int, jobs <-chan string, engine *policy_engine.PolicyEngine) error {
	client := &http.Client{Timeout: 5 * time.Minute}

	for file := range jobs {
		content, err := os.ReadFile(file)
		if err != nil {
			log.Printf("[Worker %d] Could not read file %s: %v", id, file, err)
			continue
		}

		if engine != nil {
			if findings := engine.ScanFileContent(string(content)); len(findings) > 0 {
				log.Printf("[Worker %d] SKIPPING %s: %d policy finding(s), first: %s",
					id, file, len(findings), findings[0].PatternDescription)
				continue
			}
		}

		postBody, err := json.Marshal(map[string]string{
			"source":  filepath.Base(file),
			"content": string(content),
		})
		if err != nil {
			log.Printf("[Worker %d] Could not build request for %s: %v", id, file, err)
			continue
		}

		resp, err := client.Post(orchestratorURL+"/v1/documents",
			"application/json", bytes.NewBuffer(postBody))
		if err != nil {
			return fmt.Errorf("worker %d: failed to reach orchestrator for %s: %w", id, file, err)
		}

		bodyBytes, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode >= 400 {
			log.Printf("[Worker %d] Orchestrator error for %s, status %d: %s",
				id, file, resp.StatusCode, string(bodyBytes))
			continue
		}

		var ingestResp map[string]interface{}
		if err := json.Unmarshal(bodyBytes, &ingestResp); err == nil {
			log.Printf("[Worker %d] Ingested %s (chunks: %v)", id, file,
				ingestResp["chunks_processed"])
		} else {
			log.Printf("[Worker %d] Ingested %s", id, file)
		}
	}
	return nil
}
