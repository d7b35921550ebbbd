// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package node assembles the tunnel node service.
//
// The node sits between the panel and the tunnel wrapper:
//
//	Panel ──HTTP──► node (gin) ──► reconcile.Engine ──► wrapper.Client ──► wrapper
//	                  │                   │
//	                  │                   └──► registry.Registry
//	                  └──► stats.Aggregator ──► wrapper /api/metrics
//
// # Usage
//
//	cfg, err := config.Load(path)
//	if err != nil {
//	    return err
//	}
//	opts, err := node.OptionsFromConfig(cfg, slog.Default())
//	if err != nil {
//	    return err
//	}
//	svc, err := node.New(cfg, &opts)
//	if err != nil {
//	    return err
//	}
//	return svc.Run(ctx)
//
// Callers that inject their own extensions (a different AuthProvider, an
// external audit sink) pass them in ServiceOptions; nil fields fall back
// to no-op defaults.
package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/AleutianAI/TunnelNode/pkg/extensions"
	"github.com/AleutianAI/TunnelNode/services/node/config"
	"github.com/AleutianAI/TunnelNode/services/node/datatypes"
	"github.com/AleutianAI/TunnelNode/services/node/observability"
	"github.com/AleutianAI/TunnelNode/services/node/reconcile"
	"github.com/AleutianAI/TunnelNode/services/node/registry"
	"github.com/AleutianAI/TunnelNode/services/node/routes"
	"github.com/AleutianAI/TunnelNode/services/node/stats"
	"github.com/AleutianAI/TunnelNode/services/node/sysinfo"
	"github.com/AleutianAI/TunnelNode/services/node/users"
	"github.com/AleutianAI/TunnelNode/services/node/wrapper"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// =============================================================================
// Interface Definition
// =============================================================================

// Service is the node lifecycle.
//
// # Thread Safety
//
// Run or Serve may be called once per instance. Router is safe to call
// at any time.
type Service interface {
	// Run listens on the configured port and serves until ctx is done.
	//
	// # Description
	//
	// Performs the startup sequence (wrapper probe, optional stale tunnel
	// stop, startup summary), then serves HTTP. When ctx is cancelled the
	// server drains in-flight requests for up to 10s.
	//
	// # Outputs
	//
	//   - error: Non-nil if the port cannot be bound or the server fails.
	//     A clean shutdown returns nil.
	Run(ctx context.Context) error

	// Serve is Run on an existing listener.
	Serve(ctx context.Context, ln net.Listener) error

	// Router returns the configured Gin engine for testing.
	Router() *gin.Engine
}

// =============================================================================
// Implementation
// =============================================================================

// service wires the node components.
//
// # Fields
//
//   - config: Node configuration with defaults applied
//   - opts: Extension options (auth, audit)
//   - baseLogger: Handed to components and handlers, which add their own attrs
//   - logger: baseLogger tagged component=node
//   - metricsRegistry: Private Prometheus registry served on /metrics
//   - client: Wrapper admin API client
//   - engine: Reconcile state machine
//   - tracerCleanup: Shuts down the tracer provider; nil when tracing is off
type service struct {
	config          config.Config
	opts            extensions.ServiceOptions
	baseLogger      *slog.Logger
	logger          *slog.Logger
	router          *gin.Engine
	metricsRegistry *prometheus.Registry
	metrics         *observability.NodeMetrics
	client          *wrapper.Client
	registry        *registry.Registry
	engine          *reconcile.Engine
	stats           *stats.Aggregator
	users           users.Service
	systemInfo      *datatypes.SystemInformation
	tracerCleanup   func(context.Context)
}

var _ Service = (*service)(nil)

// =============================================================================
// Constructor
// =============================================================================

// New creates the node service.
//
// # Description
//
// New initializes, in order:
//  1. Defaults for zero-valued configuration
//  2. OpenTelemetry tracing (only with an OTLP endpoint)
//  3. A private Prometheus registry with node, Go and process collectors
//  4. The wrapper client, registry, reconcile engine, stats aggregator
//     and user service
//  5. The Gin router with every route registered
//
// If opts is nil, DefaultOptions() is used.
//
// # Inputs
//
//   - cfg: Node configuration. Wrapper.URL is required.
//   - opts: Extension options. May be nil.
//
// # Outputs
//
//   - Service: Ready-to-run node
//   - error: Non-nil if the tracer or wrapper client cannot be created
//
// # Examples
//
//	svc, err := node.New(cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run(ctx))
//
// # Limitations
//
//   - No hot reload of configuration
func New(cfg config.Config, opts *extensions.ServiceOptions) (Service, error) {
	s := &service{
		config: applyConfigDefaults(cfg),
		baseLogger: slog.Default(),
	}
	s.logger = s.baseLogger.With("component", "node")

	if opts != nil {
		s.opts = opts.Normalize()
	} else {
		s.opts = extensions.DefaultOptions()
	}

	if s.config.Telemetry.OTLPEndpoint != "" {
		cleanup, err := s.initTracer()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}
		s.tracerCleanup = cleanup
	}

	s.initMetrics()

	if err := s.initComponents(); err != nil {
		s.cleanup()
		return nil, err
	}

	s.initRouter()
	return s, nil
}

// OptionsFromConfig builds extension options from configuration: a
// JWTAuthProvider when a panel key is configured, and a slog audit logger.
func OptionsFromConfig(cfg config.Config, logger *slog.Logger) (extensions.ServiceOptions, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := extensions.DefaultOptions().WithAudit(extensions.NewSlogAuditLogger(logger))

	key, err := cfg.PanelPublicKey()
	if err != nil {
		return opts, err
	}
	if key == "" {
		logger.Warn("No panel public key configured, panel requests are not authenticated")
		return opts, nil
	}

	provider, err := extensions.NewJWTAuthProvider(extensions.JWTConfig{
		PublicKey: key,
		Issuer:    cfg.Auth.Issuer,
		Audience:  cfg.Auth.Audience,
		Leeway:    cfg.Auth.Leeway,
	})
	if err != nil {
		return opts, fmt.Errorf("failed to load panel public key: %w", err)
	}
	return opts.WithAuth(provider), nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

func (s *service) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.cleanup()
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

func (s *service) Serve(ctx context.Context, ln net.Listener) error {
	defer s.cleanup()

	s.startup(ctx, ln.Addr().String())

	server := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down node server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// applyConfigDefaults fills zero-valued fields from config.Default().
func applyConfigDefaults(cfg config.Config) config.Config {
	def := config.Default()
	if cfg.Port == 0 {
		cfg.Port = def.Port
	}
	if cfg.NodeVersion == "" {
		cfg.NodeVersion = def.NodeVersion
	}
	if cfg.Wrapper.Timeout <= 0 {
		cfg.Wrapper.Timeout = def.Wrapper.Timeout
	}
	if cfg.Verify.Attempts <= 0 {
		cfg.Verify.Attempts = def.Verify.Attempts
	}
	if cfg.Verify.Interval <= 0 {
		cfg.Verify.Interval = def.Verify.Interval
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = def.Telemetry.ServiceName
	}
	return cfg
}

// initTracer sets up OTLP trace export to the configured collector.
//
// # Outputs
//
//   - func(context.Context): Flushes and shuts down the provider
//   - error: Non-nil if exporter setup fails
//
// # Limitations
//
//   - Uses an insecure gRPC connection (collector on the node's network)
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.Telemetry.OTLPEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(s.config.Telemetry.ServiceName),
			semconv.ServiceVersionKey.String(s.config.NodeVersion),
		))
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

	s.logger.Info("Tracing enabled", "otlp_endpoint", s.config.Telemetry.OTLPEndpoint)

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceProvider.Shutdown(ctx); err != nil {
			s.logger.Error("failed to shutdown tracer provider", "error", err)
		}
		if err := conn.Close(); err != nil {
			s.logger.Warn("failed to close OTLP connection", "error", err)
		}
	}

	return cleanup, nil
}

// initMetrics creates the private registry served on /metrics.
func (s *service) initMetrics() {
	s.metricsRegistry = prometheus.NewRegistry()
	s.metricsRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.metrics = observability.NewNodeMetrics(s.metricsRegistry)
}

// initComponents builds the wrapper client and everything that talks to it.
func (s *service) initComponents() error {
	client, err := wrapper.New(wrapper.Config{
		BaseURL:           s.config.Wrapper.URL,
		Secret:            s.config.Wrapper.Secret,
		Timeout:           s.config.Wrapper.Timeout,
		RequestsPerSecond: s.config.Wrapper.RequestsPerSecond,
		Burst:             s.config.Wrapper.Burst,
		Logger:            s.baseLogger,
		Metrics:           s.metrics,
	})
	if err != nil {
		return fmt.Errorf("failed to create wrapper client: %w", err)
	}
	s.client = client

	s.systemInfo = sysinfo.NewDetector(s.baseLogger).Detect()
	s.registry = registry.New(s.baseLogger)
	s.engine = reconcile.New(client, s.registry, reconcile.Config{
		VerifyAttempts: s.config.Verify.Attempts,
		VerifyInterval: s.config.Verify.Interval,
		NodeVersion:    s.config.NodeVersion,
		SystemInfo:     s.systemInfo,
		Logger:         s.baseLogger,
		Metrics:        s.metrics,
	})
	s.stats = stats.NewAggregator(client, s.baseLogger)
	s.users = users.NewService(client, s.registry, s.metrics, s.baseLogger)
	return nil
}

// initRouter creates the Gin engine and registers all routes.
func (s *service) initRouter() {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.Default()
	s.router.Use(otelgin.Middleware(s.config.Telemetry.ServiceName))

	routes.SetupRoutes(s.router, routes.Deps{
		Tunnel:   s.engine,
		Users:    s.users,
		Stats:    s.stats,
		Counter:  s.registry,
		Gatherer: s.metricsRegistry,
		Logger:   s.baseLogger,
	}, s.opts)
}

// startup probes the wrapper, optionally stops a stale tunnel, and logs
// the startup summary. Nothing here is fatal.
func (s *service) startup(ctx context.Context, addr string) {
	if s.client.Health(ctx) {
		s.logger.Info("Wrapper reachable", "wrapper_url", s.client.BaseURL())
	} else {
		s.logger.Warn("Wrapper not reachable, panel pushes will fail until it is",
			"wrapper_url", s.client.BaseURL())
	}

	if s.config.KillOnStart {
		s.engine.KillStale(ctx)
	}

	s.logger.Info("Node started",
		"addr", addr,
		"node_version", s.config.NodeVersion,
		"tunnel", datatypes.VersionLabel,
		"cpu_cores", s.systemInfo.CPUCores,
		"cpu_model", s.systemInfo.CPUModel,
		"memory_total", s.systemInfo.MemoryTotal,
	)
}

// cleanup flushes audit events and shuts down the tracer.
func (s *service) cleanup() {
	if s.opts.AuditLogger != nil {
		if err := s.opts.AuditLogger.Flush(context.Background()); err != nil {
			s.logger.Warn("Audit flush error", "error", err)
		}
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
		s.tracerCleanup = nil
	}
}
