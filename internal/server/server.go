// ABOUTME: Composition root and HTTP server lifecycle for the orchestrator
// ABOUTME: Wires store, stages, pipeline, responder, memory, sessions, and router

package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"tailscale.com/tsnet"

	"github.com/aura-ml/aura-orchestrator/internal/auth"
	"github.com/aura-ml/aura-orchestrator/internal/config"
	"github.com/aura-ml/aura-orchestrator/internal/dedupe"
	"github.com/aura-ml/aura-orchestrator/internal/llm"
	"github.com/aura-ml/aura-orchestrator/internal/memory"
	"github.com/aura-ml/aura-orchestrator/internal/pipeline"
	"github.com/aura-ml/aura-orchestrator/internal/respond"
	"github.com/aura-ml/aura-orchestrator/internal/router"
	"github.com/aura-ml/aura-orchestrator/internal/session"
	"github.com/aura-ml/aura-orchestrator/internal/stage"
	"github.com/aura-ml/aura-orchestrator/internal/store"
)

// Server owns every component of the orchestrator and the HTTP surface
// in front of them. It is constructed once at process start and torn
// down on shutdown; there is no global state.
type Server struct {
	config    *config.Config
	logger    *slog.Logger
	store     store.Store
	registry  *session.Registry
	router    *router.Router
	stages    *stage.Set
	generator *llm.Client
	verifier  auth.TokenVerifier
	dedupe    *dedupe.Cache

	httpServer  *http.Server
	tsnetServer *tsnet.Server

	connMu sync.Mutex
	conns  map[*websocket.Conn]struct{}
}

// New creates a fully wired server from configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	stages := stage.FromConfig(cfg.Stages, cfg.Pipeline, logger)
	generator := llm.New(llm.Config{
		BaseURL:     cfg.Generator.URL,
		MaxTokens:   cfg.Generator.MaxTokens,
		Temperature: cfg.Generator.Temperature,
		Timeout:     cfg.Generator.Timeout,
		Logger:      logger,
	})

	registry := session.NewRegistry(logger)
	mem := memory.New(memory.Config{
		Store:     st,
		Generator: generator,
		Threshold: cfg.Memory.ConsolidationThreshold,
		Logger:    logger,
	})
	responder := respond.New(respond.Config{
		Store:        st,
		Memory:       mem,
		Generator:    generator,
		RecentWindow: cfg.Memory.RecentWindow,
		Logger:       logger,
	})
	orch := pipeline.New(stages, registry, logger)
	rtr := router.New(router.Config{
		Store:     st,
		Pipeline:  orch,
		Responder: responder,
		Memory:    mem,
		Registry:  registry,
		Logger:    logger,
	})

	var verifier auth.TokenVerifier
	if cfg.Auth.JWTSecret != "" {
		verifier = auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	}

	s := &Server{
		config:    cfg,
		logger:    logger.With("component", "server"),
		store:     st,
		registry:  registry,
		router:    rtr,
		stages:    stages,
		generator: generator,
		verifier:  verifier,
		dedupe:    dedupe.New(5*time.Minute, 100_000),
		conns:     make(map[*websocket.Conn]struct{}),
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// routes builds the HTTP mux. Health endpoints are always open; the
// socket and API endpoints go behind auth when a JWT secret is set.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/ready", s.handleReady)

	if s.verifier != nil {
		authMiddleware := auth.Middleware(s.verifier)
		mux.Handle("/ws", authMiddleware(http.HandlerFunc(s.handleSocket)))
		mux.Handle("/api/conversations", authMiddleware(http.HandlerFunc(s.handleConversations)))
		mux.Handle("/api/conversations/", authMiddleware(http.HandlerFunc(s.handleConversationRoutes)))
		s.logger.Info("HTTP auth middleware enabled")
	} else {
		mux.HandleFunc("/ws", s.handleSocket)
		mux.HandleFunc("/api/conversations", s.handleConversations)
		mux.HandleFunc("/api/conversations/", s.handleConversationRoutes)
		s.logger.Warn("HTTP auth disabled - no jwt_secret configured")
	}
	return mux
}

// Run starts the server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (s *Server) Run(ctx context.Context) error {
	ln, err := s.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		s.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := s.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() since the original context is already canceled.
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}

// Shutdown closes every component in dependency order: sockets first so
// hijacked connections release, then the HTTP server, then queued
// conversation work, then the network and store.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	var errs []error
	s.closeConns()
	errs = appendCloseError(errs, "HTTP shutdown", s.httpServer.Shutdown(ctx))

	s.router.Close()
	s.dedupe.Close()

	if s.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", s.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "store close", s.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// setupListener creates the listener based on configuration.
func (s *Server) setupListener(ctx context.Context) (net.Listener, error) {
	if s.config.Tailscale.Enabled {
		if s.config.Server.HTTPAddr != "" {
			s.logger.Warn("server.http_addr is ignored when tailscale is enabled",
				"http_addr", s.config.Server.HTTPAddr,
			)
		}
		return s.setupTailscaleListener(ctx)
	}

	ln, err := net.Listen("tcp", s.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// setupTailscaleListener starts a tsnet node and listens on it.
func (s *Server) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := s.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	s.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	s.logger.Info("starting tailscale node",
		"hostname", tsCfg.Hostname,
		"state_dir", stateDir,
		"ephemeral", tsCfg.Ephemeral,
	)
	status, err := s.tsnetServer.Up(ctx)
	if err != nil {
		_ = s.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	if len(status.TailscaleIPs) > 0 {
		s.logger.Info("tailscale node ready",
			"hostname", tsCfg.Hostname,
			"tailscale_ip", status.TailscaleIPs[0].String(),
		)
	} else {
		s.logger.Warn("tailscale node has no IP addresses assigned")
	}

	switch {
	case tsCfg.Funnel:
		s.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := s.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			_ = s.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale funnel port: %w", err)
		}
		return ln, nil
	case tsCfg.CertFile != "" && tsCfg.KeyFile != "":
		s.logger.Info("enabling HTTPS with configured certs on :443")
		cert, err := tls.LoadX509KeyPair(tsCfg.CertFile, tsCfg.KeyFile)
		if err != nil {
			_ = s.tsnetServer.Close()
			return nil, fmt.Errorf("loading TLS certificate: %w", err)
		}
		ln, err := s.tsnetServer.Listen("tcp", ":443")
		if err != nil {
			_ = s.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
		}
		return tls.NewListener(ln, &tls.Config{Certificates: []tls.Certificate{cert}}), nil
	default:
		ln, err := s.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			_ = s.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// resolveTailscaleStateDir returns the state directory, using a default
// under the user's data dir if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "aura-orchestrator", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// handleHealth returns 200 OK if the server is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK when the store is reachable and every
// required analysis capability answers its health probe. Unreachable
// optional stages degrade the response text but not the status.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprintf(w, "store unreachable: %v", err)
		return
	}

	var unready, degraded []string
	probe := func(name string, required bool, hc stage.HealthChecker) {
		if err := hc.Healthy(ctx); err != nil {
			if required {
				unready = append(unready, name)
			} else {
				degraded = append(degraded, name)
			}
		}
	}
	for _, st := range s.stages.All() {
		if st == nil {
			continue
		}
		if hc, ok := st.(stage.HealthChecker); ok {
			probe(st.Name(), st.Required(), hc)
		}
	}
	probe("generator", true, s.generator)

	if len(unready) > 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = fmt.Fprintf(w, "not ready: %v", unready)
		return
	}
	w.WriteHeader(http.StatusOK)
	if len(degraded) > 0 {
		_, _ = fmt.Fprintf(w, "ready (degraded: %v)", degraded)
		return
	}
	_, _ = fmt.Fprintf(w, "ready (%d sessions)", s.registry.Count())
}

func (s *Server) trackConn(conn *websocket.Conn) {
	s.connMu.Lock()
	s.conns[conn] = struct{}{}
	s.connMu.Unlock()
}

func (s *Server) untrackConn(conn *websocket.Conn) {
	s.connMu.Lock()
	delete(s.conns, conn)
	s.connMu.Unlock()
}

// closeConns closes all live sockets so their read loops end and the
// HTTP server can finish shutting down.
func (s *Server) closeConns() {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	for conn := range s.conns {
		_ = conn.Close()
		delete(s.conns, conn)
	}
}
