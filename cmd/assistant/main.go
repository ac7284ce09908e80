// Copyright (C) 2025 Cortex KA (dev@cortexka.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command assistant starts the Cortex KA assistant HTTP server.
//
// This is the main entry point for the containerized assistant service.
// It reads configuration from environment variables and starts the server.
//
// # Environment Variables
//
//   - ASSISTANT_PORT: HTTP server port (default: 12310)
//   - LLM_BACKEND_TYPE: generation provider - ollama, openai (default: ollama)
//   - WEAVIATE_SERVICE_URL: Weaviate vector DB URL (required)
//   - EMBEDDER_SERVICE_URL: embedding sidecar URL (required)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (default: cortexka-otel-collector:4317)
//   - ASSISTANT_DATA_DIR: local store directory (default: in-memory)
//   - TOKEN_REGISTRY_PATH: bearer token registry JSON file (optional)
//   - SNAPSHOT_SEED_PATH: subject snapshot seed JSON file (optional)
//   - PII_PATTERN_PATH: pattern file overriding the embedded defaults (optional)
//   - ASSISTANT_LOG_DIR: directory for daily JSON log files (optional)
//   - CORTEX_INSECURE_MEMORY: set "true" to allow streaming without mlocked buffers
//
// # Usage
//
//	# Build
//	go build -o assistant ./cmd/assistant
//
//	# Run
//	./assistant
//
//	# Or via container
//	podman-compose up assistant
package main

import (
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/cortexka/assistant/pkg/logging"
	"github.com/cortexka/assistant/services/assistant"
	"github.com/cortexka/assistant/services/assistant/handlers"
)

func main() {
	// Setup structured logging
	logger := logging.New(logging.Config{
		Level:   logging.LevelInfo,
		LogDir:  os.Getenv("ASSISTANT_LOG_DIR"),
		Service: "assistant",
		JSON:    true,
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	// Build configuration from environment variables
	cfg := assistant.Config{
		Port:              getEnvInt("ASSISTANT_PORT", 12310),
		LLMBackend:        getEnvString("LLM_BACKEND_TYPE", "ollama"),
		WeaviateURL:       os.Getenv("WEAVIATE_SERVICE_URL"),
		EmbedderURL:       os.Getenv("EMBEDDER_SERVICE_URL"),
		OTelEndpoint:      getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", "cortexka-otel-collector:4317"),
		DataDir:           os.Getenv("ASSISTANT_DATA_DIR"),
		TokenRegistryPath: os.Getenv("TOKEN_REGISTRY_PATH"),
		SnapshotSeedPath:  os.Getenv("SNAPSHOT_SEED_PATH"),
		PIIPatternPath:    os.Getenv("PII_PATTERN_PATH"),
	}

	slog.Info("starting assistant",
		"port", cfg.Port,
		"llm_backend", cfg.LLMBackend,
		"weaviate_url", cfg.WeaviateURL,
	)

	// Wipe mlocked answer buffers before the process exits on a signal.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		slog.Info("shutdown signal received", "signal", sig.String())
		handlers.PurgeAllSecureMemory()
		os.Exit(0)
	}()

	// Create the service with default (no-op) extension options.
	// Enterprise builds pass custom ServiceOptions here.
	svc, err := assistant.New(cfg, nil)
	if err != nil {
		log.Fatalf("Failed to create assistant: %v", err)
	}

	// Run the server (blocks until shutdown)
	if err := svc.Run(); err != nil {
		log.Fatalf("Assistant error: %v", err)
	}
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as an int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
		slog.Warn("invalid integer in environment, using default", "key", key, "default", defaultValue)
	}
	return defaultValue
}
