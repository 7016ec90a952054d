// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddingResponse_Get(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req EmbeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "managers and approvals", req.Text)

		resp := EmbeddingResponse{
			Text:   req.Text,
			Vector: []float32{0.1, 0.2, 0.3},
			Dim:    3,
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer server.Close()
	t.Setenv("EMBEDDING_SERVICE_URL", server.URL)

	resp := &EmbeddingResponse{}
	err := resp.Get(context.Background(), "managers and approvals")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, resp.Vector)
	assert.Equal(t, 3, resp.Dim)
}

func TestEmbeddingResponse_Get_CanceledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()
	t.Setenv("EMBEDDING_SERVICE_URL", server.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp := &EmbeddingResponse{}
	err := resp.Get(ctx, "anything")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEmbeddingResponse_Get_MissingURL(t *testing.T) {
	t.Setenv("EMBEDDING_SERVICE_URL", "")

	resp := &EmbeddingResponse{}
	err := resp.Get(context.Background(), "anything")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "EMBEDDING_SERVICE_URL")
}
