// Copyright (C) 2025 Cortex KA (dev@cortexka.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package assistant provides the tenant-scoped answer service.
//
// This package contains the top-level Service type that wires together
// all components: HTTP routing, access resolution, retrieval, PII
// classification, generation, redaction, and observability.
//
// # Deployment Integration
//
// The service supports dependency injection via extensions.ServiceOptions,
// enabling deployments to provide custom implementations of:
//   - AuthProvider: Token validation against an identity provider
//   - AuditLogger: Compliance audit logging
//   - AnswerFilter: Post-redaction answer filtering
//
// # Usage
//
// Default (static token registry, no-op audit):
//
//	cfg := assistant.Config{Port: 12310}
//	svc, err := assistant.New(cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc.Run()
//
// With custom extensions:
//
//	opts := extensions.DefaultOptions().
//	    WithAuth(myIdP).
//	    WithAudit(myAuditSink)
//	svc, err := assistant.New(cfg, &opts)
package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/cortexka/assistant/pkg/extensions"
	"github.com/cortexka/assistant/services/assistant/dlp"
	"github.com/cortexka/assistant/services/assistant/memory"
	"github.com/cortexka/assistant/services/assistant/middleware"
	"github.com/cortexka/assistant/services/assistant/observability"
	"github.com/cortexka/assistant/services/assistant/pii"
	"github.com/cortexka/assistant/services/assistant/queryproc"
	"github.com/cortexka/assistant/services/assistant/retrieval"
	"github.com/cortexka/assistant/services/assistant/routes"
	"github.com/cortexka/assistant/services/assistant/services"
	"github.com/cortexka/assistant/services/assistant/store"
	"github.com/cortexka/assistant/services/llm"
)

const serviceName = "assistant-service"

// Version is stamped at build time via -ldflags.
var Version = "dev"

// Service defines the contract for the assistant service.
//
// Run() blocks and should only be called once per instance. Router()
// exposes the configured Gin engine for integration tests.
type Service interface {
	// Run starts the HTTP server and blocks until shutdown or error.
	Run() error

	// Router returns the underlying Gin engine for testing.
	Router() *gin.Engine
}

// Config holds assistant service configuration options.
//
// All fields are optional except WeaviateURL and EmbedderURL; zero
// values use defaults applied by New().
type Config struct {
	// Port is the HTTP server port. Default: 12310
	Port int

	// LLMBackend specifies the generation provider.
	// Valid values: "ollama", "openai". Default: "ollama"
	LLMBackend string

	// WeaviateURL is the vector database URL. Required.
	// Example: "http://localhost:8080"
	WeaviateURL string

	// EmbedderURL is the embedding sidecar URL. Required.
	// Example: "http://localhost:12320/embed"
	EmbedderURL string

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Default: "cortexka-otel-collector:4317"
	OTelEndpoint string

	// GinMode sets the Gin framework mode.
	// Valid values: "debug", "release", "test"
	GinMode string

	// DataDir is the directory for the local Badger store holding the
	// answer cache, session memory, and subject snapshots. Empty runs
	// the store in memory.
	DataDir string

	// TokenRegistryPath points at a JSON file of bearer tokens and
	// their principals. Empty means every request is treated as a
	// local privileged admin; never leave it empty outside development.
	TokenRegistryPath string

	// SnapshotSeedPath points at a JSON file of subject snapshots to
	// load at startup. Optional.
	SnapshotSeedPath string

	// PIIPatternPath points at a pattern file that overrides the
	// embedded defaults and is hot-reloaded on change. Optional.
	PIIPatternPath string

	// CacheTTL is the answer cache entry lifetime. Default: 15 minutes.
	CacheTTL time.Duration

	// SessionTTL is the conversation memory lifetime. Default: 24 hours.
	SessionTTL time.Duration

	// SessionMaxTurns caps stored turns per session. Default: 20.
	SessionMaxTurns int

	// RequestsPerMinute and RateBurst configure per-principal rate
	// limiting. Defaults: 30 and 10.
	RequestsPerMinute int
	RateBurst         int

	// RetrievalK is the candidate pool size requested per query.
	// Default: retrieval.DefaultPoolSize.
	RetrievalK int
}

// service implements Service for production use.
//
// Thread-safe after construction; all fields are read-only once New()
// returns.
type service struct {
	config        Config
	opts          extensions.ServiceOptions
	router        *gin.Engine
	answerSvc     *services.AnswerService
	db            *store.DB
	piiEngine     *pii.Engine
	piiWatcher    *pii.PatternWatcher
	tracerCleanup func(context.Context)
	watcherCancel context.CancelFunc
}

// New creates a new assistant Service with the given configuration.
//
// # Description
//
// New initializes all components:
//  1. Applies default configuration for missing values
//  2. Initializes OpenTelemetry tracing and metrics
//  3. Opens the local store and seeds subject snapshots
//  4. Loads the PII pattern table and starts the hot-reload watcher
//  5. Creates the Weaviate retrieval gateway and embedding client
//  6. Creates the generation client for the configured backend
//  7. Assembles the answer pipeline and registers HTTP routes
//
// If opts is nil, DefaultOptions() is used with a static token registry
// when TokenRegistryPath is set.
//
// # Inputs
//
//   - cfg: Service configuration. Zero values use defaults.
//   - opts: Extension options. May be nil.
//
// # Outputs
//
//   - Service: Ready-to-run assistant service
//   - error: Non-nil if initialization fails
//
// # Limitations
//
//   - WeaviateURL and EmbedderURL are required; there is no lightweight
//     mode without retrieval.
func New(cfg Config, opts *extensions.ServiceOptions) (Service, error) {
	s := &service{
		config: applyConfigDefaults(cfg),
	}

	if opts != nil {
		s.opts = *opts
	} else {
		s.opts = extensions.DefaultOptions()
	}
	if err := s.initAuthProvider(); err != nil {
		return nil, fmt.Errorf("failed to initialize auth provider: %w", err)
	}

	cleanup, err := s.initTelemetry()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	metrics, err := observability.NewMetrics(otel.Meter("cortexka.assistant"))
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	if err := s.initStore(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}

	if err := s.initPIIEngine(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize pattern engine: %w", err)
	}

	gateway, embedder, err := s.initRetrieval()
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize retrieval: %w", err)
	}

	llmClient, err := s.initLLMClient()
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	s.answerSvc, err = services.NewAnswerService(services.AnswerDeps{
		Embedder: embedder,
		Gateway:  gateway,
		Normalizer: queryproc.NewNormalizer(queryproc.Config{
			Synonyms:      queryproc.DefaultSynonyms,
			TopicKeywords: queryproc.DefaultTopicKeywords,
		}),
		Classifier: s.piiEngine,
		LLM:        llmClient,
		Redactor:   dlp.NewRedactor(s.piiEngine),
		Sessions:   memory.NewSessionMemory(s.db, s.config.SessionMaxTurns, s.config.SessionTTL),
		Snapshots:  store.NewSnapshotStore(s.db),
		Cache:      store.NewAnswerCache(s.db, s.config.CacheTTL),
		Metrics:    metrics,
		Options:    &s.opts,
		RetrievalK: s.config.RetrievalK,
	})
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to assemble answer pipeline: %w", err)
	}

	s.seedSnapshots()
	s.initRouter()

	return s, nil
}

// Run starts the HTTP server and blocks until shutdown or error.
func (s *service) Run() error {
	defer s.cleanup()

	addr := fmt.Sprintf(":%d", s.config.Port)
	slog.Info("starting assistant server", "port", s.config.Port, "version", Version)

	return s.router.Run(addr)
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12310
	}
	if cfg.LLMBackend == "" {
		cfg.LLMBackend = "ollama"
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "cortexka-otel-collector:4317"
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 15 * time.Minute
	}
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	if cfg.SessionMaxTurns == 0 {
		cfg.SessionMaxTurns = 20
	}
	if cfg.RequestsPerMinute == 0 {
		cfg.RequestsPerMinute = middleware.DefaultRequestsPerMinute
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = middleware.DefaultBurst
	}
	if cfg.RetrievalK == 0 {
		cfg.RetrievalK = retrieval.DefaultPoolSize
	}
	return cfg
}

// initAuthProvider installs the static token registry when a path is
// configured and the caller did not inject a provider of their own.
func (s *service) initAuthProvider() error {
	if s.opts.AuthProvider == nil {
		s.opts.AuthProvider = &extensions.NopAuthProvider{}
	}
	if s.config.TokenRegistryPath == "" {
		return nil
	}
	if _, ok := s.opts.AuthProvider.(*extensions.NopAuthProvider); !ok {
		// Caller injected a real provider; the registry file is ignored.
		return nil
	}
	provider, err := extensions.NewStaticAuthProviderFromFile(s.config.TokenRegistryPath)
	if err != nil {
		return err
	}
	s.opts.AuthProvider = provider
	slog.Info("loaded static token registry", "path", s.config.TokenRegistryPath)
	return nil
}

// initTelemetry installs the OpenTelemetry trace and metric providers,
// both pushing over the same OTLP gRPC connection. Without a registered
// meter provider every instrument is a no-op, so this must run before
// observability.NewMetrics.
//
// Uses an insecure gRPC connection, appropriate for internal networks.
func (s *service) initTelemetry() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	metricExporter, err := otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)))
	otel.SetMeterProvider(meterProvider)

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := meterProvider.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown meter provider", "error", err)
		}
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}

	return cleanup, nil
}

func (s *service) initStore() error {
	var err error
	if s.config.DataDir == "" {
		slog.Warn("no data directory configured, store runs in memory")
		s.db, err = store.OpenInMemoryDB()
		return err
	}
	s.db, err = store.OpenDB(store.Config{Path: s.config.DataDir})
	return err
}

// initPIIEngine loads the pattern table, preferring a configured file
// over the embedded defaults, and starts the hot-reload watcher for
// file-backed tables.
func (s *service) initPIIEngine() error {
	var err error
	if s.config.PIIPatternPath == "" {
		s.piiEngine, err = pii.NewEngine()
		return err
	}

	s.piiEngine, err = pii.NewEngineFromFile(s.config.PIIPatternPath)
	if err != nil {
		return err
	}

	watcher, err := pii.NewPatternWatcher(s.config.PIIPatternPath, s.piiEngine, nil)
	if err != nil {
		slog.Warn("pattern hot-reload unavailable", "error", err)
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := watcher.Start(ctx); err != nil {
		cancel()
		slog.Warn("pattern watcher failed to start", "error", err)
		return nil
	}
	s.piiWatcher = watcher
	s.watcherCancel = cancel
	return nil
}

func (s *service) initRetrieval() (retrieval.Gateway, retrieval.Embedder, error) {
	weaviateURL := strings.Trim(s.config.WeaviateURL, "\"' ")
	if weaviateURL == "" {
		return nil, nil, fmt.Errorf("weaviate URL is required")
	}
	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, nil, fmt.Errorf("invalid weaviate URL: %s", weaviateURL)
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create weaviate client: %w", err)
	}
	slog.Info("weaviate client initialized", "url", weaviateURL)

	if s.config.EmbedderURL == "" {
		return nil, nil, fmt.Errorf("embedder URL is required")
	}
	embedder := retrieval.NewHTTPEmbedder(s.config.EmbedderURL, 30*time.Second)

	return retrieval.NewWeaviateGateway(client), embedder, nil
}

func (s *service) initLLMClient() (llm.LLMClient, error) {
	switch s.config.LLMBackend {
	case "ollama":
		slog.Info("using Ollama generation backend")
		return llm.NewOllamaClient()
	case "openai":
		slog.Info("using OpenAI generation backend")
		return llm.NewOpenAIClient()
	default:
		slog.Warn("unknown generation backend, defaulting to ollama", "backend", s.config.LLMBackend)
		return llm.NewOllamaClient()
	}
}

// seedSnapshots loads subject snapshots from the seed file, if one is
// configured. Failures are logged and not fatal; the store may already
// hold data from a previous run.
func (s *service) seedSnapshots() {
	if s.config.SnapshotSeedPath == "" {
		return
	}
	snapshots := store.NewSnapshotStore(s.db)
	n, err := snapshots.SeedFromFile(context.Background(), s.config.SnapshotSeedPath)
	if err != nil {
		slog.Warn("snapshot seed failed", "path", s.config.SnapshotSeedPath, "error", err)
		return
	}
	slog.Info("seeded subject snapshots", "path", s.config.SnapshotSeedPath, "count", n)
}

func (s *service) initRouter() {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.Default()
	s.router.Use(otelgin.Middleware(serviceName))

	limiter := middleware.NewRateLimiter(s.config.RequestsPerMinute, s.config.RateBurst)
	routes.SetupRoutes(s.router, s.answerSvc, s.opts.AuthProvider, limiter, serviceName, Version)
}

// cleanup releases all resources held by the service. Called when Run()
// exits or on initialization failure.
func (s *service) cleanup() {
	if s.watcherCancel != nil {
		s.watcherCancel()
	}
	if s.piiWatcher != nil {
		s.piiWatcher.Stop()
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			slog.Warn("store close error", "error", err)
		}
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

var _ Service = (*service)(nil)
