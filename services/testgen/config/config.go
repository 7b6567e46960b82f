// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads service settings from an optional YAML file with
// environment variable overrides. Environment always wins, so container
// deployments can override a baked-in file per instance.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the testgen service.
type Config struct {
	Port string `yaml:"port"`

	// GitHub access.
	GitHubToken         string        `yaml:"github_token"`
	GitHubWebhookSecret string        `yaml:"github_webhook_secret"`
	GitHubBaseURL       string        `yaml:"github_base_url"`
	GitHubTimeout       time.Duration `yaml:"github_timeout"`
	BaseBranch          string        `yaml:"base_branch"`

	// Admission.
	TriggerLabel       string        `yaml:"trigger_label"`
	MinIssueBodyChars  int           `yaml:"min_issue_body_chars"`
	IdempotencyTTL     time.Duration `yaml:"idempotency_ttl"`

	// Retrieval.
	WeaviateURL        string        `yaml:"weaviate_url"`
	VectorQueryTimeout time.Duration `yaml:"vector_query_timeout"`
	ContextLimit       int           `yaml:"context_limit"`

	// Generation.
	GenerateTimeout time.Duration `yaml:"generate_timeout"`

	// Retry and workers.
	RetryDelays  []time.Duration `yaml:"retry_delays"`
	WorkerCount  int             `yaml:"worker_count"`
	QueueSize    int             `yaml:"queue_size"`
	SweepInterval time.Duration  `yaml:"sweep_interval"`
	MaxJobClock   time.Duration  `yaml:"max_job_clock"`

	// Storage.
	BadgerPath string `yaml:"badger_path"`
}

// Default returns the built-in settings used when neither file nor
// environment says otherwise.
func Default() Config {
	return Config{
		Port:               "12310",
		GitHubBaseURL:      "https://api.github.com",
		GitHubTimeout:      30 * time.Second,
		BaseBranch:         "main",
		TriggerLabel:       "generate-tests",
		MinIssueBodyChars:  50,
		IdempotencyTTL:     time.Hour,
		WeaviateURL:        "http://localhost:8080",
		VectorQueryTimeout: 5 * time.Second,
		ContextLimit:       5,
		GenerateTimeout:    120 * time.Second,
		RetryDelays:        []time.Duration{5 * time.Second, 15 * time.Second, 45 * time.Second},
		WorkerCount:        10,
		QueueSize:          100,
		SweepInterval:      time.Minute,
		MaxJobClock:        10 * time.Minute,
		BadgerPath:         "/var/lib/testgen/badger",
	}
}

// Load builds the effective config: defaults, then the YAML file named by
// TESTGEN_CONFIG_FILE (if any), then individual environment overrides.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("TESTGEN_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
		slog.Info("Loaded config file", "path", path)
	}

	applyEnv(&cfg)

	if cfg.GitHubToken == "" {
		slog.Warn("GITHUB_TOKEN not set, repository writes will fail")
	}
	if cfg.GitHubWebhookSecret == "" {
		slog.Warn("GITHUB_WEBHOOK_SECRET not set, webhook signatures are not verified")
	}
	if len(cfg.RetryDelays) == 0 {
		return Config{}, fmt.Errorf("retry_delays must not be empty")
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	envString(&cfg.Port, "PORT")
	envString(&cfg.GitHubToken, "GITHUB_TOKEN")
	envString(&cfg.GitHubWebhookSecret, "GITHUB_WEBHOOK_SECRET")
	envString(&cfg.GitHubBaseURL, "GITHUB_API_BASE_URL")
	envString(&cfg.BaseBranch, "TESTGEN_BASE_BRANCH")
	envString(&cfg.TriggerLabel, "TESTGEN_TRIGGER_LABEL")
	envString(&cfg.WeaviateURL, "WEAVIATE_SERVICE_URL")
	envString(&cfg.BadgerPath, "TESTGEN_BADGER_PATH")

	envInt(&cfg.MinIssueBodyChars, "TESTGEN_MIN_ISSUE_BODY_CHARS")
	envInt(&cfg.ContextLimit, "TESTGEN_CONTEXT_LIMIT")
	envInt(&cfg.WorkerCount, "TESTGEN_WORKER_COUNT")
	envInt(&cfg.QueueSize, "TESTGEN_QUEUE_SIZE")

	envDuration(&cfg.GitHubTimeout, "TESTGEN_GITHUB_TIMEOUT")
	envDuration(&cfg.IdempotencyTTL, "TESTGEN_IDEMPOTENCY_TTL")
	envDuration(&cfg.VectorQueryTimeout, "TESTGEN_VECTOR_QUERY_TIMEOUT")
	envDuration(&cfg.GenerateTimeout, "TESTGEN_GENERATE_TIMEOUT")
	envDuration(&cfg.SweepInterval, "TESTGEN_SWEEP_INTERVAL")
	envDuration(&cfg.MaxJobClock, "TESTGEN_MAX_JOB_CLOCK")
}

func envString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("Ignoring non-integer env value", "key", key, "value", v)
		return
	}
	*dst = n
}

func envDuration(dst *time.Duration, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("Ignoring unparsable duration env value", "key", key, "value", v)
		return
	}
	*dst = d
}
