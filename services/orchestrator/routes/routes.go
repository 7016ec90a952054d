// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"github.com/AleutianAI/PolicyAssistant/services/orchestrator/handlers"
	"github.com/AleutianAI/PolicyAssistant/services/orchestrator/sessions"
	"github.com/AleutianAI/PolicyAssistant/services/policy_engine"
)

// SetupRoutes registers every HTTP endpoint the orchestrator serves.
//
// The agentic endpoints sit at the root; document and session
// administration live under /v1.
func SetupRoutes(router *gin.Engine, agenticHandler *handlers.AgenticHandler,
	client *weaviate.Client, store sessions.Store,
	policyEngine *policy_engine.PolicyEngine) {

	router.GET("/health", handlers.HandleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	agentic := router.Group("/agentic")
	{
		agentic.POST("/query", agenticHandler.HandleAgenticQuery)
		agentic.POST("/query/streaming", agenticHandler.HandleAgenticQueryStream)
	}

	v1 := router.Group("/v1")
	{
		v1.POST("/documents", handlers.CreateDocument(client, policyEngine))
		v1.GET("/documents", handlers.ListDocuments(client))

		sessionRoutes := v1.Group("/sessions")
		{
			sessionRoutes.GET("", handlers.ListSessions(store))
			sessionRoutes.DELETE("/:sessionId", handlers.DeleteSession(store))
		}
	}
}
