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
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/PolicyAssistant/services/llm"
	"github.com/AleutianAI/PolicyAssistant/services/orchestrator/analysis"
	"github.com/AleutianAI/PolicyAssistant/services/orchestrator/datatypes"
	"github.com/AleutianAI/PolicyAssistant/services/orchestrator/handlers"
	"github.com/AleutianAI/PolicyAssistant/services/orchestrator/middleware"
	"github.com/AleutianAI/PolicyAssistant/services/orchestrator/observability"
	"github.com/AleutianAI/PolicyAssistant/services/orchestrator/retrieval"
	"github.com/AleutianAI/PolicyAssistant/services/orchestrator/routes"
	"github.com/AleutianAI/PolicyAssistant/services/orchestrator/services"
	"github.com/AleutianAI/PolicyAssistant/services/orchestrator/sessions"
	"github.com/AleutianAI/PolicyAssistant/services/orchestrator/tools"
	"github.com/AleutianAI/PolicyAssistant/services/policy_engine"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
)

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "aleutian-otel-collector:4317"
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("orchestrator-service")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

// buildWeaviateClient parses WEAVIATE_SERVICE_URL and returns a client, or
// nil when the variable is unset or unusable. A nil client puts the service
// in lightweight mode: the agentic endpoints still answer but retrieval
// returns no context.
func buildWeaviateClient() *weaviate.Client {
	weaviateURL := strings.Trim(os.Getenv("WEAVIATE_SERVICE_URL"), "\"' ")
	if weaviateURL == "" || !strings.Contains(weaviateURL, "http") {
		slog.Info("WEAVIATE_SERVICE_URL not set or empty. Running in lightweight mode.")
		return nil
	}

	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		slog.Warn("WEAVIATE_SERVICE_URL is invalid. Running in lightweight mode.",
			"url", weaviateURL, "error", err)
		return nil
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
	if err != nil {
		slog.Error("Failed to create Weaviate client", "error", err)
		return nil
	}
	datatypes.EnsureWeaviateSchema(client)
	return client
}

// buildSessionStore selects the session backend from SESSION_STORE_BACKEND
// (memory or badger). Badger needs SESSION_STORE_PATH for its data directory.
func buildSessionStore(historyLimit int) (sessions.Store, func()) {
	backend := os.Getenv("SESSION_STORE_BACKEND")
	switch backend {
	case "badger":
		path := os.Getenv("SESSION_STORE_PATH")
		if path == "" {
			path = "/var/lib/aleutian/sessions"
		}
		store, err := sessions.NewBadgerStore(path, historyLimit)
		if err != nil {
			log.Fatalf("Failed to open badger session store: %v", err)
		}
		slog.Info("Using badger session store", "path", path)
		return store, func() {
			if err := store.Close(); err != nil {
				slog.Error("failed to close badger store", "error", err)
			}
		}
	case "", "memory":
		slog.Info("Using in-memory session store")
		return sessions.NewMemoryStore(historyLimit), func() {}
	default:
		log.Fatalf("Unknown SESSION_STORE_BACKEND %q (want memory or badger)", backend)
		return nil, nil
	}
}

func buildLLMClient() llm.LLMClient {
	var client llm.LLMClient
	var err error

	switch backend := os.Getenv("LLM_BACKEND_TYPE"); backend {
	case "openai":
		client, err = llm.NewOpenAIClient()
		slog.Info("Using OpenAI LLM backend")
	case "", "ollama":
		client, err = llm.NewOllamaClient()
		slog.Info("Using Ollama LLM backend")
	default:
		log.Fatalf("Unknown LLM_BACKEND_TYPE %q (want openai or ollama)", backend)
	}
	if err != nil {
		log.Fatalf("Failed to initialize LLM client: %v", err)
	}
	return client
}

func envInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		slog.Warn("invalid integer env var, using fallback", "key", key, "value", raw)
		return fallback
	}
	return v
}

func main() {
	port := os.Getenv("ORCHESTRATOR_PORT")
	if port == "" {
		port = "12210"
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())
	defer handlers.PurgeAllSecureMemory()

	observability.InitMetrics()

	weaviateClient := buildWeaviateClient()

	policyEngine, err := policy_engine.NewPolicyEngine()
	if err != nil {
		log.Fatalf("FATAL: Could not initialize the Policy Engine %v", err)
	}

	store, closeStore := buildSessionStore(sessions.HistoryLimitFromEnv())
	defer closeStore()

	// Optional TTL sweeping. Sessions live forever unless SESSION_TTL is set.
	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	defer stopJanitor()
	if ttl := sessions.TTLFromEnv(); ttl > 0 {
		janitor := sessions.NewJanitor(store, ttl, 0, sessions.SystemClock())
		go janitor.Start(janitorCtx)
		slog.Info("Session TTL janitor enabled", "ttl", ttl)
	}

	llmClient := buildLLMClient()

	retriever := retrieval.NewWeaviateRetriever(weaviateClient, retrieval.ServiceEmbedder{})
	analyzer := analysis.NewAnalyzer(llmClient, tools.DefaultRegistry())
	agenticService := services.NewAgenticService(retriever, analyzer, store, policyEngine)
	agenticHandler := handlers.NewAgenticHandler(agenticService)

	router := gin.Default()
	router.Use(otelgin.Middleware("orchestrator-service"))
	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		router.Use(middleware.CORS(strings.Split(origins, ",")))
	}
	rateLimiter := middleware.NewRateLimiter(
		float64(envInt("RATE_LIMIT_RPS", 10)), envInt("RATE_LIMIT_BURST", 20))
	router.Use(middleware.RateLimit(rateLimiter, os.Getenv("TRUST_PROXY_HEADERS") == "true"))

	routes.SetupRoutes(router, agenticHandler, weaviateClient, store, policyEngine)

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	go func() {
		slog.Info("Starting the orchestrator server", "port", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down the orchestrator server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}
}
