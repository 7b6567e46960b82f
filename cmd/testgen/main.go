// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command testgen starts the AleutianForge test-generation service.
//
// The service listens for GitHub issue webhooks, generates test-case
// documents for issues carrying the trigger label, and opens pull requests
// with the results.
//
// # Environment Variables
//
//   - PORT: HTTP server port (default: 12310)
//   - GITHUB_TOKEN: token used for repository writes
//   - GITHUB_WEBHOOK_SECRET: HMAC secret for webhook verification
//   - LLM_BACKEND_TYPE: LLM provider - ollama, openai (default: ollama)
//   - WEAVIATE_SERVICE_URL: Weaviate vector DB URL (optional)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (default: aleutian-otel-collector:4317)
//   - TESTGEN_CONFIG_FILE: optional YAML config file; env vars win
//
// # Usage
//
//	# Build
//	go build -o testgen ./cmd/testgen
//
//	# Run
//	./testgen
//
//	# Or via container
//	podman-compose up testgen
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/AleutianAI/AleutianForge/services/llm"
	"github.com/AleutianAI/AleutianForge/services/testgen/config"
	"github.com/AleutianAI/AleutianForge/services/testgen/pipeline"
	"github.com/AleutianAI/AleutianForge/services/testgen/prompt"
	"github.com/AleutianAI/AleutianForge/services/testgen/repo"
	"github.com/AleutianAI/AleutianForge/services/testgen/retriever"
	"github.com/AleutianAI/AleutianForge/services/testgen/routes"
	"github.com/AleutianAI/AleutianForge/services/testgen/store"
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
		resource.WithAttributes(semconv.ServiceNameKey.String("testgen-service")))
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

func buildLLMClient() (llm.LLMClient, error) {
	switch backend := os.Getenv("LLM_BACKEND_TYPE"); backend {
	case "openai":
		slog.Info("Using OpenAI LLM backend")
		return llm.NewOpenAIClient()
	case "ollama", "":
		slog.Info("Using Ollama LLM backend")
		return llm.NewOllamaClient()
	default:
		slog.Warn("LLM_BACKEND_TYPE not recognized, defaulting to ollama", "value", backend)
		return llm.NewOllamaClient()
	}
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.OpenDB(store.DefaultDBConfig(cfg.BadgerPath))
	if err != nil {
		log.Fatalf("failed to open job store: %v", err)
	}
	defer db.Close()

	gc, err := store.NewGCRunner(db, 5*time.Minute, 0.5)
	if err != nil {
		log.Fatalf("failed to build GC runner: %v", err)
	}
	gc.Start()
	defer gc.Stop()

	st := store.New(db)
	guard := store.NewGuard(db, cfg.IdempotencyTTL)

	retr, err := retriever.New(cfg.WeaviateURL)
	if err != nil {
		log.Fatalf("failed to create Weaviate client: %v", err)
	}
	if err := retr.EnsureSchema(ctx); err != nil {
		// Retrieval degrades gracefully; an unreachable Weaviate at boot
		// must not keep webhooks from being accepted.
		slog.Warn("Weaviate schema check failed, retrieval will degrade", "error", err)
	}

	llmClient, err := buildLLMClient()
	if err != nil {
		log.Fatalf("failed to initialize LLM client: %v", err)
	}

	github := repo.NewGitHub(cfg.GitHubBaseURL, cfg.GitHubToken, cfg.GitHubTimeout)

	executor := pipeline.NewExecutor(
		st,
		retr,
		llm.DefaultGenerator(llmClient),
		github,
		retr,
		prompt.Render,
		pipeline.NewRetryPolicy(cfg.RetryDelays),
		pipeline.ExecutorConfig{
			MinIssueBodyChars:  cfg.MinIssueBodyChars,
			ContextLimit:       cfg.ContextLimit,
			VectorQueryTimeout: cfg.VectorQueryTimeout,
			GenerateTimeout:    cfg.GenerateTimeout,
			RepoTimeout:        cfg.GitHubTimeout,
			BaseBranch:         cfg.BaseBranch,
		},
	)

	pool := pipeline.NewPool(executor, cfg.WorkerCount, cfg.QueueSize)
	pool.Start(ctx)
	defer pool.Stop()

	if err := pool.Recover(ctx, st); err != nil {
		slog.Error("Crash recovery scan failed", "error", err)
	}

	sweeper := pipeline.NewSweeper(st, pool.Submit, pipeline.SweeperConfig{
		Interval:     cfg.SweepInterval,
		MaxJobClock:  cfg.MaxJobClock,
		RequeueAfter: cfg.SweepInterval,
	})
	sweeper.Start(ctx)
	defer sweeper.Stop()

	router := gin.Default()
	router.Use(otelgin.Middleware("testgen-service"))
	routes.SetupRoutes(router, &cfg, st, guard, pool)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		slog.Info("Starting the testgen server", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	slog.Info("Shutdown signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown failed", "error", err)
	}
}
