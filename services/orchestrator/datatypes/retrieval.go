// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"
)

// RetrievedChunk is one ranked unit of policy document context.
//
// Rank is 1-based and reflects the retriever's relevance ordering.
// Score is the hybrid relevance score reported by the vector index
// (0 when the index did not report one).
type RetrievedChunk struct {
	Source  string  `json:"source"`
	Content string  `json:"content"`
	Rank    int     `json:"rank"`
	Score   float64 `json:"score,omitempty"`
}

// SourceInfo identifies a retrieved document source with its relevance score.
type SourceInfo struct {
	Source string  `json:"source"`
	Score  float64 `json:"score,omitempty"`
}

// Message is a single chat message exchanged with an LLM backend.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// =============================================================================
// Embedding Service Client Types
// =============================================================================

type EmbeddingRequest struct {
	Text string `json:"text"`
}

type EmbeddingResponse struct {
	Id        string    `json:"id"`
	Timestamp int       `json:"timestamp"`
	Text      string    `json:"text"`
	Vector    []float32 `json:"vector"`
	Dim       int       `json:"dim"`
}

var embeddingHTTPClient = &http.Client{
	Timeout: 30 * time.Second,
}

// Get populates the EmbeddingResponse by calling the embedding service
// configured via EMBEDDING_SERVICE_URL. The request is bound to ctx, so
// cancelling the query cancels the embedding call.
func (e *EmbeddingResponse) Get(ctx context.Context, text string) error {
	embeddingServiceURL := os.Getenv("EMBEDDING_SERVICE_URL")
	if embeddingServiceURL == "" {
		return fmt.Errorf("EMBEDDING_SERVICE_URL environment variable not set")
	}
	embReq := EmbeddingRequest{Text: text}
	reqBody, err := json.Marshal(embReq)
	if err != nil {
		return fmt.Errorf("failed to marshal the input text for the /embed endpoint: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, embeddingServiceURL,
		bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("failed to setup a new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cache-Control", "no-cache, no-store, must-revalidate")

	resp, err := embeddingHTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make the request to the embedding service: %w", err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			slog.Warn("Failed to close the embedding response body", "error", err)
		}
	}(resp.Body)

	bodyBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("the response was not a 200 OK from the embedding service: %s, "+
			"%d", string(bodyBytes), resp.StatusCode)
	}

	if err := json.Unmarshal(bodyBytes, &e); err != nil {
		return fmt.Errorf("failed to parse the response from the embedding service %w", err)
	}
	return nil
}
