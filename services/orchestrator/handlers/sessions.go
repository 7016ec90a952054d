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
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/PolicyAssistant/services/orchestrator/sessions"
)

// ListSessions returns the ids of all live sessions.
//
// Handles GET /v1/sessions. Session ids are caller-supplied and
// unauthenticated; see the session store docs for the trust model.
func ListSessions(store sessions.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ids, err := store.List(c.Request.Context())
		if err != nil {
			slog.Error("Failed to list sessions", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list sessions"})
			return
		}
		if ids == nil {
			ids = []string{}
		}
		c.JSON(http.StatusOK, gin.H{"sessions": ids, "count": len(ids)})
	}
}

// DeleteSession removes one session and all of its history.
//
// Handles DELETE /v1/sessions/:sessionId. Deleting a session that does not
// exist is a no-op and still returns success.
func DeleteSession(store sessions.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionId := c.Param("sessionId")
		slog.Info("Received a request to delete a session", "sessionId", sessionId)

		if err := store.Delete(c.Request.Context(), sessionId); err != nil {
			slog.Error("Failed to delete session", "sessionId", sessionId, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete session"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "success", "deleted_session_id": sessionId})
	}
}

// HandleHealth reports service liveness.
//
// Handles GET /health. Kept dependency-free so the probe succeeds even when
// backends are degraded; backend failures surface per-request instead.
func HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
