// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads TrendAvatar configuration from environment
// variables into a single typed struct.
//
// Every knob the service exposes lives here, with its default in the
// struct tag. The binary parses once at startup and hands sub-structs
// to the components that need them; nothing reads the environment
// after startup.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the full service configuration.
type Config struct {
	// Port is the gateway listen port.
	Port string `env:"PORT" envDefault:"8080"`

	// LogDir enables file logging when set.
	LogDir string `env:"LOG_DIR"`

	// LogDebug lowers the log level to debug.
	LogDebug bool `env:"LOG_DEBUG" envDefault:"false"`

	// OTELEndpoint is the OTLP/gRPC collector address. Tracing is
	// disabled when empty.
	OTELEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	// DataDir is the BadgerDB directory for credential records.
	// When empty the service keeps credentials in memory only.
	DataDir string `env:"DATA_DIR"`

	Platform  Platform  `envPrefix:"X_"`
	Oracle    Oracle    `envPrefix:"OPENAI_"`
	Pipeline  Pipeline  `envPrefix:"PIPELINE_"`
	Scheduler Scheduler `envPrefix:"SCHEDULER_"`
	Limits    Limits    `envPrefix:"LIMITS_"`
}

// Platform configures the X API client and OAuth endpoints.
type Platform struct {
	ClientID     string `env:"CLIENT_ID"`
	ClientSecret string `env:"CLIENT_SECRET"`
	CallbackURL  string `env:"CALLBACK_URL"`
	APIBaseURL   string `env:"API_BASE_URL" envDefault:"https://api.x.com/2"`
	AuthURL      string `env:"AUTH_URL" envDefault:"https://x.com/i/oauth2/authorize"`
	TokenURL     string `env:"TOKEN_URL" envDefault:"https://api.x.com/2/oauth2/token"`

	// TokenSkew is subtracted from the stored expiry when deciding
	// whether an access token is still usable.
	TokenSkew time.Duration `env:"TOKEN_SKEW" envDefault:"60s"`

	// TrendTTL caches trend and timeline lookups; tuned to the
	// scheduler cadence so interactive and scheduled runs share fetches.
	TrendTTL time.Duration `env:"TREND_TTL" envDefault:"15m"`

	// HistoryTTL caches user post history for voice cloning. Writing
	// style changes slowly, so this is deliberately long.
	HistoryTTL time.Duration `env:"HISTORY_TTL" envDefault:"24h"`

	// MinEngagement is the floor for media search results
	// (retweets + likes).
	MinEngagement int `env:"MIN_ENGAGEMENT" envDefault:"1100"`
}

// Oracle configures the OpenAI-backed content oracle.
type Oracle struct {
	APIKey string `env:"API_KEY"`
	Model  string `env:"MODEL" envDefault:"gpt-4o-mini"`

	// RPS throttles outbound oracle calls.
	RPS float64 `env:"RPS" envDefault:"1"`
}

// Pipeline configures the trend-to-post orchestrator.
type Pipeline struct {
	// OnDemandThreshold gates compositing for interactive runs.
	OnDemandThreshold int `env:"ONDEMAND_THRESHOLD" envDefault:"50"`

	// ScheduledThreshold gates compositing for unattended runs.
	// Stricter than on-demand because nobody reviews the result.
	ScheduledThreshold int `env:"SCHEDULED_THRESHOLD" envDefault:"70"`

	// MinPostCount filters out trends without significant volume.
	MinPostCount int `env:"MIN_POST_COUNT" envDefault:"50"`

	// CandidateCap bounds oracle calls per run.
	CandidateCap int `env:"CANDIDATE_CAP" envDefault:"3"`
}

// Scheduler configures the unattended batch runner.
type Scheduler struct {
	Enabled  bool          `env:"ENABLED" envDefault:"true"`
	Interval time.Duration `env:"INTERVAL" envDefault:"4h"`

	// Subjects optionally pins the population to a fixed list instead
	// of iterating stored subjects.
	Subjects []string `env:"SUBJECTS" envSeparator:","`

	// Concurrency bounds parallel per-subject runs. Keep at 1 unless
	// the rate limit comfortably allows more.
	Concurrency int `env:"CONCURRENCY" envDefault:"1"`

	// SubjectTimeout bounds a single subject's run so a stuck remote
	// call cannot stall the batch.
	SubjectTimeout time.Duration `env:"SUBJECT_TIMEOUT" envDefault:"2m"`
}

// Limits configures the fixed-window rate governor.
type Limits struct {
	// PlatformLimit is the per-subject call budget against the X API.
	PlatformLimit  int           `env:"PLATFORM_LIMIT" envDefault:"50"`
	PlatformWindow time.Duration `env:"PLATFORM_WINDOW" envDefault:"15m"`

	// GatewayLimit is the per-client budget for /v1 routes.
	GatewayLimit  int           `env:"GATEWAY_LIMIT" envDefault:"60"`
	GatewayWindow time.Duration `env:"GATEWAY_WINDOW" envDefault:"1m"`
}

// Parse reads the full configuration from the environment.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
