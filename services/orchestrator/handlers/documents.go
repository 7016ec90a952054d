// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/tmc/langchaingo/textsplitter"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/AleutianAI/PolicyAssistant/services/orchestrator/datatypes"
	"github.com/AleutianAI/PolicyAssistant/services/policy_engine"
)

var (
	CHUNK_SIZE        = 1000
	CHUNK_OVERLAP     = int(float64(CHUNK_SIZE) * 0.10) // Chunk_overlap is 10% of the CHUNK_SIZE
	defaultSeparators = []string{"\n\n", "\n", " ", ""}

	markdownSeparators = []string{
		"\n# ", "\n## ", "\n### ", "\n#### ", "\n##### ", "\n###### ",
		"\n\n", "\n", " ", "",
	}
)

type IngestDocumentRequest struct {
	Content string `json:"content"`
	Source  string `json:"source"`
}

type BatchEmbeddingRequest struct {
	Texts []string `json:"texts"`
}
type BatchEmbeddingResponse struct {
	Id        string      `json:"id"`
	Timestamp int64       `json:"timestamp"`
	Vectors   [][]float32 `json:"vectors"`
	Model     string      `json:"model"`
	Dim       int         `json:"dim"`
}

// CreateDocument receives a policy document and adds it to Weaviate.
// This is a thin wrapper around RunIngestion plus a policy scan; documents
// carrying secrets or PII never reach the vector store.
func CreateDocument(client *weaviate.Client, pe *policy_engine.PolicyEngine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req IngestDocumentRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if req.Content == "" || req.Source == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "content and source are required"})
			return
		}

		if pe != nil {
			findings := pe.ScanFileContent(req.Content)
			if len(findings) > 0 {
				slog.Warn("Blocked document ingestion due to policy violation",
					"source", req.Source, "findings", len(findings))
				c.JSON(http.StatusForbidden, gin.H{
					"error":    "Policy Violation: Document contains sensitive data.",
					"findings": findings,
				})
				return
			}
		}

		chunksCreated, err := RunIngestion(c.Request.Context(), client, req)
		if err != nil {
			slog.Error("Ingestion failed", "source", req.Source, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		slog.Info("Successfully processed document via API",
			"source", req.Source, "chunks_processed", chunksCreated)
		c.JSON(http.StatusCreated, gin.H{
			"status":           "success",
			"source":           req.Source,
			"chunks_processed": chunksCreated,
		})
	}
}

// ListDocuments gets a unique list of all ingested 'parent_source' files
func ListDocuments(client *weaviate.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		slog.Info("Received request to list ingested documents")

		agg, err := client.GraphQL().Aggregate().
			WithClassName(datatypes.PolicyChunkClass).
			WithGroupBy("parent_source").
			Do(c.Request.Context())

		if err != nil {
			slog.Error("Failed to aggregate documents from Weaviate", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to query documents"})
			return
		}

		docList := parseAggregateGroups(agg.Data)
		c.JSON(http.StatusOK, gin.H{"documents": docList})
	}
}

// parseAggregateGroups extracts grouped-by values from a Weaviate
// Aggregate response.
func parseAggregateGroups(data map[string]models.JSONObject) []string {
	var docList []string
	aggMap, ok := data["Aggregate"].(map[string]interface{})
	if !ok {
		return docList
	}
	docGroups, ok := aggMap[datatypes.PolicyChunkClass].([]interface{})
	if !ok {
		return docList
	}
	for _, groupItem := range docGroups {
		groupMap, ok := groupItem.(map[string]interface{})
		if !ok {
			continue
		}
		groupedByMap, ok := groupMap["groupedBy"].(map[string]interface{})
		if !ok {
			continue
		}
		if sourceName, ok := groupedByMap["value"].(string); ok {
			docList = append(docList, sourceName)
		}
	}
	return docList
}

// RunIngestion splits a policy document, embeds the chunks, and batch-imports
// them into the PolicyChunk class.
//
// Chunk ids are derived from the chunk content hash, so re-ingesting the same
// document updates in place rather than duplicating.
func RunIngestion(ctx context.Context, client *weaviate.Client, req IngestDocumentRequest) (int, error) {
	embeddingServiceBaseURL := os.Getenv("EMBEDDING_SERVICE_URL")
	if embeddingServiceBaseURL == "" {
		slog.Error("EMBEDDING_SERVICE_URL not set for orchestrator")
		return 0, fmt.Errorf("Embedding service not configured")
	}
	batchEmbeddingURL := strings.TrimSuffix(embeddingServiceBaseURL, "/embed") + "/batch_embed"
	slog.Info("Ingestion request received", "source", req.Source)

	splitter := getSplitterForFile(req.Source)

	chunks, err := splitter.SplitText(req.Content)
	if err != nil {
		slog.Error("Failed to split text", "source", req.Source, "error", err)
		return 0, fmt.Errorf("Failed to split content: %w", err)
	}
	if len(chunks) == 0 {
		slog.Warn("No chunks produced after splitting", "source", req.Source)
		return 0, nil
	}
	slog.Info("Split document into chunks", "source", req.Source, "chunk_count", len(chunks))

	vectors, err := callBatchEmbed(batchEmbeddingURL, chunks)
	if err != nil {
		slog.Error("Failed to get batch embeddings", "source", req.Source, "error", err)
		return 0, err
	}
	if len(vectors) != len(chunks) {
		slog.Error("Mismatch between chunk count and vector count",
			"chunks", len(chunks), "vectors", len(vectors))
		return 0, fmt.Errorf("embedding service returned mismatched vector count")
	}

	batcher := client.Batch().ObjectsBatcher()
	objects := make([]*models.Object, len(chunks))

	for i, chunk := range chunks {
		chunkSource := fmt.Sprintf("%s_part_%d", req.Source, i+1)
		hash := sha256.Sum256([]byte(chunk))
		docUUID, _ := uuid.FromBytes(hash[:16])

		objects[i] = &models.Object{
			Class:  datatypes.PolicyChunkClass,
			ID:     strfmt.UUID(docUUID.String()),
			Vector: vectors[i],
			Properties: map[string]interface{}{
				"content":       chunk,
				"source":        chunkSource,
				"parent_source": req.Source,
				"ingested_at":   time.Now().UnixMilli(),
			},
		}
	}

	batcher.WithObjects(objects...)

	resp, err := batcher.Do(ctx)
	if err != nil {
		slog.Error("Failed to perform batch import to Weaviate", "error", err)
		return 0, fmt.Errorf("failed to save objects to Weaviate: %w", err)
	}

	chunksCreated := 0
	hasErrors := false
	for _, item := range resp {
		if item.Result != nil && item.Result.Status != nil && *item.Result.Status == "SUCCESS" {
			chunksCreated++
			continue
		}
		hasErrors = true
		if item.Result != nil && item.Result.Errors != nil && len(item.Result.Errors.Error) > 0 {
			for _, errItem := range item.Result.Errors.Error {
				slog.Warn("Error in Weaviate batch item", "source", req.Source, "error", errItem.Message)
			}
		} else {
			status := "UNKNOWN"
			if item.Result != nil && item.Result.Status != nil {
				status = *item.Result.Status
			}
			slog.Warn("Failed Weaviate batch item, no error provided",
				"source", req.Source, "status", status)
		}
	}

	if hasErrors {
		slog.Warn("Errors encountered during Weaviate batch import",
			"source", req.Source, "successful_chunks", chunksCreated)
	}

	slog.Info("Successfully processed document",
		"source", req.Source, "chunks_processed", chunksCreated)
	return chunksCreated, nil
}

func callBatchEmbed(batchEmbedURL string, chunks []string) ([][]float32, error) {
	reqBody := BatchEmbeddingRequest{Texts: chunks}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch embed request: %w", err)
	}

	// Use a client with a longer timeout for batch processing
	client := &http.Client{Timeout: 5 * time.Minute}
	resp, err := client.Post(batchEmbedURL, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to call /batch_embed endpoint: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read /batch_embed response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("/batch_embed returned status %d: %s", resp.StatusCode, string(body))
	}

	var batchResp BatchEmbeddingResponse
	if err = json.Unmarshal(body, &batchResp); err != nil {
		return nil, fmt.Errorf("failed to decode batch embed response: %w", err)
	}

	return batchResp.Vectors, nil
}

// getSplitterForFile picks a splitter by file extension. Policy corpora are
// mostly markdown, where heading-aware splitting keeps sections intact.
func getSplitterForFile(filename string) textsplitter.TextSplitter {
	switch filepath.Ext(filename) {
	case ".md":
		return textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(CHUNK_SIZE),
			textsplitter.WithChunkOverlap(CHUNK_OVERLAP),
			textsplitter.WithSeparators(markdownSeparators),
		)
	default:
		return textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(CHUNK_SIZE),
			textsplitter.WithChunkOverlap(CHUNK_OVERLAP),
			textsplitter.WithSeparators(defaultSeparators),
		)
	}
}
