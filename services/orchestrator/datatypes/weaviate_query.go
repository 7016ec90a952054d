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
	"encoding/json"
	"fmt"

	"github.com/weaviate/weaviate/entities/models"
)

// =============================================================================
// Generic GraphQL Response Parser
// =============================================================================

// ParseGraphQLResponse parses a Weaviate GraphQL response into the target type.
//
// # Description
//
// This generic function encapsulates the marshal/unmarshal pattern required to
// convert Weaviate's dynamic response (map[string]models.JSONObject) into a
// strongly-typed Go struct. The target type T must have json tags matching
// the expected response shape.
//
// # Example
//
//	resp, err := client.GraphQL().Get().WithClassName("PolicyChunk").Do(ctx)
//	if err != nil { ... }
//
//	parsed, err := ParseGraphQLResponse[PolicyChunkQueryResponse](resp)
//	if err != nil { ... }
//
//	for _, c := range parsed.Get.PolicyChunk {
//	    fmt.Println(c.Source)
//	}
//
// # Limitations
//
//   - Requires the target type to exactly match the expected response structure.
//   - Type mismatches will result in zero values, not errors.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}

	return &result, nil
}

// =============================================================================
// PolicyChunk Query Types
// =============================================================================

// PolicyChunkQueryResponse represents the response from querying the
// PolicyChunk class.
type PolicyChunkQueryResponse struct {
	Get struct {
		PolicyChunk []PolicyChunkResult `json:"PolicyChunk"`
	} `json:"Get"`
}

// PolicyChunkResult is a single policy document chunk from a query.
// Weaviate reports hybrid search scores as strings in _additional.
type PolicyChunkResult struct {
	Content      string `json:"content"`
	Source       string `json:"source"`
	ParentSource string `json:"parent_source"`
	Additional   struct {
		ID    string `json:"id"`
		Score string `json:"score"`
	} `json:"_additional"`
}

// PolicyChunkProperties represents the properties for creating a PolicyChunk
// object during ingestion.
type PolicyChunkProperties struct {
	Content      string `json:"content"`
	Source       string `json:"source"`
	ParentSource string `json:"parent_source"`
	IngestedAt   int64  `json:"ingested_at"`
}

// ToMap converts PolicyChunkProperties to the map format required by
// Weaviate's WithProperties() method.
func (p *PolicyChunkProperties) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"content":       p.Content,
		"source":        p.Source,
		"parent_source": p.ParentSource,
		"ingested_at":   p.IngestedAt,
	}
}
