// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retrieval implements the knowledge retrieval stage of the
// agentic pipeline: hybrid search over the PolicyChunk class in Weaviate.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/PolicyAssistant/services/orchestrator/datatypes"
)

var tracer = otel.Tracer("aleutian.orchestrator.retrieval")

// DefaultTopK is the number of chunks retrieved per query.
const DefaultTopK = 3

// ErrRetrievalUnavailable indicates the vector store could not be reached
// or rejected the query. An empty result set is NOT this error; finding
// nothing relevant is a valid outcome.
var ErrRetrievalUnavailable = errors.New("retrieval unavailable")

// Retriever finds policy chunks relevant to a query.
//
// # Description
//
// Retriever is the interface between the coordinator and the vector store.
// Implementations must return chunks in descending relevance order with
// Rank assigned starting at 1.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]datatypes.RetrievedChunk, error)
}

// EmbeddingProvider produces a vector for a piece of text. Used to feed the
// vector half of the hybrid query when an embedding service is configured.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ServiceEmbedder calls the external embedding service configured via
// EMBEDDING_SERVICE_URL.
type ServiceEmbedder struct{}

func (ServiceEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp := &datatypes.EmbeddingResponse{}
	if err := resp.Get(ctx, text); err != nil {
		return nil, err
	}
	return resp.Vector, nil
}

// WeaviateRetriever implements Retriever against a Weaviate instance.
//
// # Thread Safety
//
// Safe for concurrent use. The Weaviate client handles connection pooling.
type WeaviateRetriever struct {
	client   *weaviate.Client
	embedder EmbeddingProvider
	topK     int
	alpha    float32
}

// NewWeaviateRetriever creates a retriever over the PolicyChunk class.
// The embedder may be nil, in which case the hybrid query runs with
// Weaviate's server-side vectorization (or keyword-only scoring when the
// class has no vectorizer).
func NewWeaviateRetriever(client *weaviate.Client, embedder EmbeddingProvider) *WeaviateRetriever {
	return &WeaviateRetriever{
		client:   client,
		embedder: embedder,
		topK:     DefaultTopK,
		alpha:    0.5,
	}
}

// WithTopK overrides the number of chunks retrieved per query.
func (r *WeaviateRetriever) WithTopK(k int) *WeaviateRetriever {
	if k > 0 {
		r.topK = k
	}
	return r
}

// Retrieve runs the hybrid query and maps the results to ranked chunks.
func (r *WeaviateRetriever) Retrieve(ctx context.Context, query string) ([]datatypes.RetrievedChunk, error) {
	ctx, span := tracer.Start(ctx, "WeaviateRetriever.Retrieve")
	defer span.End()
	span.SetAttributes(
		attribute.String("retrieval.class", datatypes.PolicyChunkClass),
		attribute.Int("retrieval.top_k", r.topK),
	)

	// Lightweight mode: no Weaviate configured, the pipeline proceeds with
	// an empty context set.
	if r.client == nil {
		span.AddEvent("no_weaviate_client")
		return nil, nil
	}

	hybrid := r.client.GraphQL().HybridArgumentBuilder().
		WithQuery(query).
		WithAlpha(r.alpha)

	if r.embedder != nil {
		vector, err := r.embedder.Embed(ctx, query)
		if err != nil {
			// Keyword half of the hybrid query still works without a vector.
			slog.Warn("Query embedding failed, falling back to keyword scoring", "error", err)
			span.AddEvent("embedding_fallback")
		} else {
			hybrid = hybrid.WithVector(vector)
		}
	}

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "source"},
		{Name: "parent_source"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "id"},
			{Name: "score"},
		}},
	}

	result, err := r.client.GraphQL().Get().
		WithClassName(datatypes.PolicyChunkClass).
		WithFields(fields...).
		WithHybrid(hybrid).
		WithLimit(r.topK).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Weaviate hybrid search failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrRetrievalUnavailable, err)
	}
	if len(result.Errors) > 0 {
		msg := result.Errors[0].Message
		span.SetStatus(codes.Error, msg)
		slog.Error("Weaviate hybrid search returned errors", "message", msg)
		return nil, fmt.Errorf("%w: %s", ErrRetrievalUnavailable, msg)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.PolicyChunkQueryResponse](result)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %v", ErrRetrievalUnavailable, err)
	}

	chunks := mapChunks(parsed.Get.PolicyChunk)
	span.SetAttributes(attribute.Int("retrieval.num_chunks", len(chunks)))
	slog.Debug("Retrieved policy chunks", "count", len(chunks))
	return chunks, nil
}

// mapChunks converts raw query results into ranked chunks. Weaviate reports
// hybrid scores as strings; an unparseable score becomes 0.0 rather than an
// error so one malformed result cannot sink the whole retrieval.
func mapChunks(results []datatypes.PolicyChunkResult) []datatypes.RetrievedChunk {
	chunks := make([]datatypes.RetrievedChunk, 0, len(results))
	for i, item := range results {
		score := 0.0
		if item.Additional.Score != "" {
			if s, err := strconv.ParseFloat(item.Additional.Score, 64); err == nil {
				score = s
			}
		}
		chunks = append(chunks, datatypes.RetrievedChunk{
			Source:  item.Source,
			Content: item.Content,
			Rank:    i + 1,
			Score:   score,
		})
	}
	return chunks
}

var _ Retriever = (*WeaviateRetriever)(nil)
