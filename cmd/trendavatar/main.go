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
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/AleutianAI/trendavatar/pkg/config"
	"github.com/AleutianAI/trendavatar/pkg/logging"
	"github.com/AleutianAI/trendavatar/services/gateway/routes"
	"github.com/AleutianAI/trendavatar/services/gateway/session"
	"github.com/AleutianAI/trendavatar/services/observability"
	"github.com/AleutianAI/trendavatar/services/oracle"
	"github.com/AleutianAI/trendavatar/services/pipeline"
	"github.com/AleutianAI/trendavatar/services/platform"
	"github.com/AleutianAI/trendavatar/services/ratelimit"
	"github.com/AleutianAI/trendavatar/services/tokenstore"
	"github.com/AleutianAI/trendavatar/services/tokenstore/badgerdb"
)

const serviceName = "trendavatar"

func initTracer(endpoint string) (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
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

func main() {
	cfg, err := config.Parse()
	if err != nil {
		log.Fatalf("FATAL: invalid configuration: %v", err)
	}

	level := slog.LevelInfo
	if cfg.LogDebug {
		level = slog.LevelDebug
	}
	logger, closeLogs, err := logging.New(logging.Config{
		Level:   level,
		Service: serviceName,
		LogDir:  cfg.LogDir,
	})
	if err != nil {
		log.Fatalf("FATAL: could not set up logging: %v", err)
	}
	defer closeLogs()
	slog.SetDefault(logger)

	// --- Init the tracer (only when a collector is configured) ---
	if cfg.OTELEndpoint != "" {
		cleanup, err := initTracer(cfg.OTELEndpoint)
		if err != nil {
			log.Fatalf("FATAL: failed to setup the OTLP tracer: %v", err)
		}
		defer cleanup(context.Background())
	} else {
		slog.Info("OTEL_EXPORTER_OTLP_ENDPOINT not set, tracing disabled")
	}

	metrics := observability.InitMetrics()

	// Credential records: Badger when a data dir is configured,
	// in-memory otherwise.
	var records tokenstore.Records
	if cfg.DataDir != "" {
		badgerRecords, err := badgerdb.Open(badgerdb.Config{
			Path:   filepath.Join(cfg.DataDir, "credentials"),
			Logger: logger,
		})
		if err != nil {
			log.Fatalf("FATAL: could not open credential store: %v", err)
		}
		defer badgerRecords.Close()
		records = badgerRecords
		slog.Info("Using BadgerDB credential records", "path", cfg.DataDir)
	} else {
		records = tokenstore.NewMemoryRecords()
		slog.Warn("DATA_DIR not set, credentials are in-memory only")
	}

	tokens := tokenstore.New(records, nil, logger, tokenstore.WithSkew(cfg.Platform.TokenSkew))
	governor := ratelimit.NewGovernor()

	platformClient := platform.New(cfg.Platform, cfg.Limits, tokens, governor, logger)
	tokens.SetRefresher(platformClient)

	oracleClient, err := oracle.NewOpenAIOracle(cfg.Oracle, logger)
	if err != nil {
		log.Fatalf("FATAL: could not initialize content oracle: %v", err)
	}

	orchestrator := pipeline.New(platformClient, oracleClient, tokens, cfg.Pipeline, metrics, logger)
	sessions := session.NewStore()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scheduler := pipeline.NewScheduler(orchestrator, tokens, cfg.Scheduler, metrics, logger)
	if cfg.Scheduler.Enabled {
		if err := scheduler.Start(ctx); err != nil {
			log.Fatalf("FATAL: could not start scheduler: %v", err)
		}
		defer scheduler.Stop()
	} else {
		slog.Info("Scheduler disabled by configuration")
	}

	if !cfg.LogDebug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	router.Use(otelgin.Middleware(serviceName))

	routes.SetupRoutes(router, routes.Deps{
		Platform: platformClient,
		Oracle:   oracleClient,
		Runner:   orchestrator,
		Creds:    tokens,
		Sessions: sessions,
		Governor: governor,
		Limits:   cfg.Limits,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		slog.Info("Starting the gateway", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	slog.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped")
}
