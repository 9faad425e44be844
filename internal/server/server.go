package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mihaisavezi/sider-gateway/internal/analyzer"
	"github.com/mihaisavezi/sider-gateway/internal/backends"
	"github.com/mihaisavezi/sider-gateway/internal/config"
	"github.com/mihaisavezi/sider-gateway/internal/gateway"
	"github.com/mihaisavezi/sider-gateway/internal/handlers"
	"github.com/mihaisavezi/sider-gateway/internal/middleware"
	"github.com/mihaisavezi/sider-gateway/internal/routing"
	"github.com/mihaisavezi/sider-gateway/internal/session"
	"github.com/mihaisavezi/sider-gateway/internal/translate"
	"github.com/mihaisavezi/sider-gateway/internal/types"
)

type Server struct {
	config  *config.Manager
	version string
	logger  *slog.Logger
	server  *http.Server

	sessions      *session.BackendStore
	conversations *session.ConversationStore
	engine        *routing.Engine
	registry      *backends.Registry
	anthropic     *backends.AnthropicClient
	gateway       *gateway.Orchestrator
}

// New builds every component from the loaded configuration. It fails with
// config.ErrNoBackend when neither backend has a credential.
func New(configManager *config.Manager, version string, logger *slog.Logger) (*Server, error) {
	cfg := configManager.Get()
	if err := cfg.Validate(logger); err != nil {
		return nil, err
	}

	sessions := session.NewBackendStore(session.WithLogger(logger))
	conversations := session.NewConversationStore(session.WithLogger(logger))

	engine := routing.NewEngine(routing.Policy{
		SiderEnabled:       cfg.SiderEnabled(),
		AnthropicEnabled:   cfg.AnthropicEnabled(),
		DefaultBackend:     types.Backend(cfg.Routing.DefaultBackend),
		PreferSiderForChat: cfg.Routing.PreferSiderForChat,
		AutoFallback:       cfg.Routing.AutoFallback,
	}, session.NewAffinity(), logger)

	sider := backends.NewSiderClient(backends.SiderConfig{
		URL:     cfg.Sider.APIURL,
		Token:   cfg.Sider.AuthToken,
		Timeout: cfg.RequestTimeout(),
	}, sessions, logger)
	history := backends.NewSiderHistoryClient(backends.HistoryConfig{
		URL:     cfg.Sider.ConversationURL,
		Limit:   cfg.Sider.HistoryLimit,
		Timeout: cfg.HistoryTimeout(),
	}, logger)
	anthropic := backends.NewAnthropicClient(backends.AnthropicConfig{
		BaseURL:  cfg.Anthropic.BaseURL,
		APIKey:   cfg.Anthropic.APIKey,
		Timeout:  cfg.RequestTimeout(),
		ModelMap: cfg.Anthropic.ModelMap,
	}, logger)

	registry := backends.NewRegistry()
	registry.Register(sider, cfg.SiderEnabled())
	registry.Register(anthropic, cfg.AnthropicEnabled())

	orchestrator := gateway.New(gateway.Deps{
		Analyzer:          analyzer.New(logger),
		Engine:            engine,
		Translator:        translate.NewRequestTranslator(sessions, history, logger),
		Sider:             sider,
		Anthropic:         anthropic,
		Sessions:          sessions,
		Conversations:     conversations,
		Debug:             cfg.Routing.DebugMode,
		PassthroughStream: cfg.Anthropic.PassthroughStream,
	}, logger)

	logger.Info("Backends configured",
		"sider", cfg.SiderEnabled(),
		"anthropic", cfg.AnthropicEnabled(),
		"default", cfg.Routing.DefaultBackend,
		"auto_fallback", cfg.Routing.AutoFallback,
	)

	return &Server{
		config:        configManager,
		version:       version,
		logger:        logger,
		sessions:      sessions,
		conversations: conversations,
		engine:        engine,
		registry:      registry,
		anthropic:     anthropic,
		gateway:       orchestrator,
	}, nil
}

func (s *Server) Start() error {
	cfg := s.config.Get()
	if cfg == nil {
		return fmt.Errorf("configuration not loaded")
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("Starting server", "address", addr)

	// Start server in goroutine
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Server error", "error", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	s.logger.Info("Server is shutting down...")

	// Create a deadline to wait for.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	s.logger.Info("Server exited")
	return nil
}

func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// Handler returns the routed and wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	messages := handlers.NewMessagesHandler(s.config, s.gateway, s.logger)
	admin := handlers.NewAdminHandler(s.config, handlers.AdminDeps{
		Sessions:      s.sessions,
		Conversations: s.conversations,
		Engine:        s.engine,
		Registry:      s.registry,
		Mapper:        s.anthropic.Mapper(),
	}, s.logger)
	modelsHandler := handlers.NewModelsHandler(s.logger)
	health := handlers.NewHealthHandler(s.version, s.logger)

	mw := middleware.NewMiddlewareSet(s.config, s.logger)
	authed := mw.DefaultChain()
	open := mw.HealthChain()

	mux.Handle("POST /v1/messages", authed.Handler(messages))
	mux.Handle("POST /v1/messages/count_tokens", authed.Handler(http.HandlerFunc(messages.CountTokens)))
	mux.Handle("GET /v1/messages/conversations", authed.Handler(http.HandlerFunc(admin.Conversations)))
	mux.Handle("POST /v1/messages/conversations/cleanup", authed.Handler(http.HandlerFunc(admin.CleanupConversations)))
	mux.Handle("GET /v1/messages/sider-sessions", authed.Handler(http.HandlerFunc(admin.SiderSessions)))
	mux.Handle("POST /v1/messages/sider-sessions/cleanup", authed.Handler(http.HandlerFunc(admin.CleanupSiderSessions)))
	mux.Handle("GET /v1/messages/backends/status", authed.Handler(http.HandlerFunc(admin.BackendsStatus)))
	mux.Handle("POST /v1/messages/backends/affinity/clear", authed.Handler(http.HandlerFunc(admin.ClearAffinity)))
	mux.Handle("POST /v1/messages/backends/model-cache/clear", authed.Handler(http.HandlerFunc(admin.ClearModelCache)))

	mux.Handle("GET /v1/models", open.Handler(http.HandlerFunc(modelsHandler.List)))
	mux.Handle("GET /v1/models/{id}", open.Handler(http.HandlerFunc(modelsHandler.Get)))
	mux.Handle("GET /health", open.Handler(health))
	mux.Handle("GET /metrics", mw.PublicChain().Handler(promhttp.Handler()))
	mux.Handle("GET /{$}", open.Handler(http.HandlerFunc(health.Root)))

	// Preflight requests and client telemetry land here too; the chain answers
	// both before NotFound runs.
	mux.Handle("/", open.Handler(http.HandlerFunc(health.NotFound)))

	return mux
}
