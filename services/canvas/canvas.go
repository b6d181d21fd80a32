// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package canvas provides the shared canvas service.
//
// A Service is the one context object of a running process: it owns the
// board, the abuse gate, the session hub, the persistence service and the
// HTTP router, and hands them explicitly to every connection handler.
// There are no package-level singletons.
//
// # Usage
//
//	cfg, err := config.Load("canvas.yaml")
//	if err != nil {
//	    return err
//	}
//	svc, err := canvas.New(ctx, cfg, &canvas.Options{ConfigPath: "canvas.yaml"})
//	if err != nil {
//	    return err
//	}
//	return svc.Run(ctx)
package canvas

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/AleutianAI/AleutianCanvas/services/canvas/abuse"
	"github.com/AleutianAI/AleutianCanvas/services/canvas/board"
	"github.com/AleutianAI/AleutianCanvas/services/canvas/config"
	"github.com/AleutianAI/AleutianCanvas/services/canvas/handlers"
	"github.com/AleutianAI/AleutianCanvas/services/canvas/hub"
	"github.com/AleutianAI/AleutianCanvas/services/canvas/observability"
	"github.com/AleutianAI/AleutianCanvas/services/canvas/persistence"
	"github.com/AleutianAI/AleutianCanvas/services/canvas/routes"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// =============================================================================
// Options
// =============================================================================

// Options carries the optional collaborators of a Service.
//
// # Fields
//
//   - ConfigPath: YAML file to watch for abuse policy changes. Empty
//     disables hot reload.
//   - Registry: Prometheus registry for the service metrics. Nil creates a
//     fresh registry, so several services can coexist in one process.
//   - Store: Pre-opened store. Nil opens cfg.Persistence.Storage. The
//     service closes the store either way.
//   - Clock: Time source for paint timestamps and savedAt. Default: time.Now.
type Options struct {
	ConfigPath string
	Registry   *prometheus.Registry
	Store      persistence.Store
	Clock      func() time.Time
}

// =============================================================================
// Service
// =============================================================================

// Service wires the canvas components together.
//
// # Thread Safety
//
// Run must be called at most once. The accessors are safe for concurrent use.
type Service struct {
	cfg  config.Config
	opts Options

	registry *prometheus.Registry
	metrics  *observability.CanvasMetrics

	store   persistence.Store
	persist *persistence.Service
	board   *board.Board
	gate    *abuse.Gate
	hub     *hub.Hub
	router  *gin.Engine

	tracerCleanup func(context.Context)
}

// New builds a Service from a validated configuration.
//
// # Description
//
// New initializes, in order:
//  1. OpenTelemetry tracing (no-op when no endpoint is configured)
//  2. Prometheus metrics on the service registry
//  3. The persistence store and the board restored from it
//  4. The abuse gate and the session hub
//  5. The HTTP router
//
// # Outputs
//
//   - *Service: Ready to Run.
//   - error: Non-nil if the store cannot be opened or the persisted state
//     cannot be restored under the configured corrupt-state policy.
func New(ctx context.Context, cfg config.Config, opts *Options) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Service{cfg: cfg}
	if opts != nil {
		s.opts = *opts
	}
	if s.opts.Clock == nil {
		s.opts.Clock = time.Now
	}

	cleanup, err := observability.InitTracer(ctx, cfg.Observability.OTLPEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	s.registry = s.opts.Registry
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
		s.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	s.metrics = observability.NewCanvasMetrics(s.registry)

	if err := s.initBoard(ctx); err != nil {
		s.cleanup()
		return nil, err
	}

	s.gate = abuse.NewGate(cfg.AbusePolicy())
	s.hub = hub.New(s.board, s.gate, hub.Config{
		SendQueueSize: cfg.Server.SendQueueSize,
		MaxQueueBytes: cfg.Server.SendQueueBytes,
		Clock:         s.opts.Clock,
		Metrics:       s.metrics,
	})

	s.initRouter()
	return s, nil
}

// Run listens on the configured port and serves until ctx is cancelled.
//
// # Outputs
//
//   - error: Non-nil if the port cannot be bound or a component fails.
//     Cancellation is a clean stop and returns nil.
func (s *Service) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.cleanup()
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the service on an existing listener until ctx is cancelled.
//
// # Description
//
// The hub, the autosave scheduler, the config watcher and the HTTP server
// run under one errgroup; the first failure stops the others. Once they
// have all returned, no paint can be accepted anymore, and the final save
// runs bounded by the persistence shutdown timeout. The store and the
// tracer are released last.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	defer s.cleanup()

	server := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.hub.Run(gctx) })
	g.Go(func() error { return s.persist.RunAutosave(gctx, s.board) })

	if s.opts.ConfigPath != "" {
		watcher, err := config.NewWatcher(s.opts.ConfigPath, config.DefaultDebounce, s.applyConfig)
		if err != nil {
			slog.Warn("config hot reload disabled", "path", s.opts.ConfigPath, "error", err)
		} else {
			g.Go(func() error { return watcher.Run(gctx) })
		}
	}

	g.Go(func() error {
		slog.Info("canvas server listening",
			"addr", ln.Addr().String(),
			"width", s.board.Width(),
			"height", s.board.Height())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http server shutdown incomplete", "error", err)
		}
		return nil
	})

	runErr := g.Wait()
	slog.Info("canvas server stopped, saving final state")

	if err := s.persist.SaveOnShutdown(ctx, s.board); err != nil {
		slog.Error("final save failed", "error", err)
	}
	return runErr
}

// Router returns the configured Gin engine.
func (s *Service) Router() *gin.Engine {
	return s.router
}

// Board returns the live board.
func (s *Service) Board() *board.Board {
	return s.board
}

// Hub returns the session hub.
func (s *Service) Hub() *hub.Hub {
	return s.hub
}

// Gate returns the abuse gate.
func (s *Service) Gate() *abuse.Gate {
	return s.gate
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

func (s *Service) initBoard(ctx context.Context) error {
	store := s.opts.Store
	if store == nil {
		var err error
		store, err = persistence.OpenStore(ctx, s.cfg.Persistence.Storage, persistence.StoreOptions{
			CredentialsFile: s.cfg.Persistence.CredentialsFile,
		})
		if err != nil {
			return fmt.Errorf("failed to open storage %q: %w", s.cfg.Persistence.Storage, err)
		}
	}
	s.store = store

	s.persist = persistence.NewService(store, PersistenceConfig(s.cfg, s.opts.Clock, s.metrics))

	b, err := s.persist.InitializeBoard(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize board: %w", err)
	}
	s.board = b
	s.metrics.SetHistoryTotalChanges(b.Stats().TotalChanges)
	return nil
}

func (s *Service) initRouter() {
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(otelgin.Middleware(observability.ServiceName))

	routes.SetupRoutes(s.router, routes.Dependencies{
		Board:     s.board,
		Hub:       s.hub,
		WebSocket: WebSocketConfig(s.cfg, s.metrics),
		Gatherer:  s.registry,
	})
}

// applyConfig is the hot reload callback. Only the abuse policy is applied
// at runtime.
func (s *Service) applyConfig(cfg config.Config) {
	s.gate.SetPolicy(cfg.AbusePolicy())
	slog.Info("abuse policy updated",
		"cooldown", cfg.Abuse.Cooldown.String(),
		"bot_min_samples", cfg.Abuse.BotMinSamples,
		"bot_variance_threshold", cfg.Abuse.BotVarianceThreshold.String(),
		"window_size", cfg.Abuse.WindowSize)

	if cfg.Canvas != s.cfg.Canvas || cfg.Persistence != s.cfg.Persistence || cfg.Server != s.cfg.Server {
		slog.Warn("only the abuse section is reloaded at runtime; other changes need a restart")
	}
}

// cleanup releases the store and the tracer.
func (s *Service) cleanup() {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			slog.Warn("store close error", "store", s.store.String(), "error", err)
		}
		s.store = nil
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
		s.tracerCleanup = nil
	}
}

// =============================================================================
// Configuration Mapping
// =============================================================================

// PersistenceConfig maps the file configuration onto persistence.Config.
func PersistenceConfig(cfg config.Config, clock func() time.Time, metrics *observability.CanvasMetrics) persistence.Config {
	return persistence.Config{
		SessionName:      cfg.Persistence.SessionName,
		Width:            cfg.Canvas.Width,
		Height:           cfg.Canvas.Height,
		DefaultColor:     cfg.Canvas.DefaultColor,
		SnapshotInterval: cfg.Canvas.SnapshotInterval,
		AutosaveInterval: cfg.Persistence.AutosaveInterval,
		ShutdownTimeout:  cfg.Server.ShutdownTimeout,
		OnCorrupt:        persistence.CorruptPolicy(cfg.Persistence.OnCorrupt),
		Clock:            clock,
		Metrics:          metrics,
	}
}

// WebSocketConfig maps the file configuration onto the transport limits.
func WebSocketConfig(cfg config.Config, metrics *observability.CanvasMetrics) handlers.WebSocketConfig {
	ws := handlers.DefaultWebSocketConfig()
	ws.MaxMessageBytes = cfg.Server.MaxMessageBytes
	ws.FrameRate = rate.Limit(cfg.Server.FrameRate)
	ws.FrameBurst = cfg.Server.FrameBurst
	ws.Metrics = metrics
	return ws
}
