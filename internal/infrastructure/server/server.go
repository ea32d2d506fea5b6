package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/webmodder/internal/api/http"
	"github.com/GriffinCanCode/webmodder/internal/api/middleware"
	"github.com/GriffinCanCode/webmodder/internal/api/ws"
	"github.com/GriffinCanCode/webmodder/internal/domain/session"
	"github.com/GriffinCanCode/webmodder/internal/infrastructure/config"
	"github.com/GriffinCanCode/webmodder/internal/infrastructure/logging"
	"github.com/GriffinCanCode/webmodder/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/webmodder/internal/providers/browser/fetch"
	"github.com/GriffinCanCode/webmodder/internal/providers/browser/sandbox"
	"github.com/GriffinCanCode/webmodder/internal/providers/http/client"
	"github.com/GriffinCanCode/webmodder/internal/providers/modgen"
)

// maxRequestBody bounds API bodies; screenshots arrive base64-encoded.
const maxRequestBody = 16 << 20

const shutdownTimeout = 10 * time.Second

// Server wraps the HTTP server and dependencies
type Server struct {
	router   *gin.Engine
	sessions *session.Manager
	logger   *logging.Logger
	config   *config.Config
	metrics  *monitoring.Metrics
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config) (*Server, error) {
	// Initialize logger
	logger := logging.NewFromLevel(cfg.Logging.Level, cfg.Logging.Development)

	logger.Info("Initializing preview server",
		zap.String("port", cfg.Server.Port),
		zap.String("fetch_strategy", cfg.Fetch.Strategy),
		zap.Bool("generator", cfg.Generator.Enabled()),
	)

	// Initialize metrics first (needed by other components)
	metrics := monitoring.NewMetrics()

	fetcher, err := newFetcher(cfg, logger, metrics)
	if err != nil {
		return nil, err
	}
	logger.Info("Fetch providers ready", zap.Strings("providers", fetcher.Providers()))

	policy := sandbox.Policy{
		SameOriginHosts: cfg.Sandbox.SameOriginHosts,
		AllowForms:      cfg.Sandbox.AllowForms,
		AllowModals:     cfg.Sandbox.AllowModals,
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("sandbox policy: %w", err)
	}
	sandboxCfg := sandbox.DefaultConfig()
	sandboxCfg.Timeout = cfg.Sandbox.ScriptTimeout
	sandboxCfg.Policy = policy
	renderer := sandbox.NewRenderer(sandboxCfg,
		sandbox.WithLogger(logger.Component("sandbox")),
		sandbox.WithObserver(metrics),
	)

	sessions := session.NewManager(session.Options{
		Fetcher:      fetcher,
		Renderer:     renderer,
		BlockedHosts: cfg.Navigation.BlockedHosts,
		Logger:       logger.Component("session"),
		Metrics:      metrics,
	}).WithGauge(metrics)

	// Code generation is optional
	var generator modgen.Generator
	if cfg.Generator.Enabled() {
		gemini, err := modgen.NewGemini(context.Background(), modgen.GeminiConfig{
			APIKey:  cfg.Generator.APIKey,
			Model:   cfg.Generator.Model,
			Timeout: cfg.Generator.Timeout,
		}, logger.Component("modgen"))
		if err != nil {
			logger.Warn("Code generation unavailable", zap.Error(err))
		} else {
			generator = gemini
			logger.Info("Code generation enabled", zap.String("model", cfg.Generator.Model))
		}
	}

	// Create router
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// Add middleware
	httpLogger := logger.Component("http")
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(httpLogger))
	router.Use(middleware.Recovery(httpLogger))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	router.Use(middleware.MaxBody(maxRequestBody))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		rl := middleware.DefaultRateLimitConfig()
		rl.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
		rl.Burst = cfg.RateLimit.Burst
		router.Use(middleware.RateLimit(rl))
	}

	// Register routes
	handlers := apihttp.NewHandlers(apihttp.Deps{
		Sessions:  sessions,
		Generator: generator,
		Metrics:   metrics,
		Providers: fetcher.Providers(),
		Logger:    logger.Component("api"),
	})
	handlers.Register(router)

	wsHandler := ws.NewHandler(sessions, metrics, logger.Component("ws"))
	router.GET("/stream", wsHandler.HandleConnection)

	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	logger.Info("Server initialized successfully")

	return &Server{
		router:   router,
		sessions: sessions,
		logger:   logger,
		config:   cfg,
		metrics:  metrics,
	}, nil
}

func newFetcher(cfg *config.Config, logger *logging.Logger, metrics *monitoring.Metrics) (*fetch.Fetcher, error) {
	specs := fetch.DefaultSpecs()
	if cfg.Fetch.ProvidersFile != "" {
		loaded, err := fetch.LoadSpecs(cfg.Fetch.ProvidersFile)
		if err != nil {
			return nil, err
		}
		specs = loaded
	}

	opts := client.DefaultOptions()
	opts.Timeout = cfg.Fetch.Timeout
	opts.Retries = cfg.Fetch.Retries
	opts.RateLimit = cfg.Fetch.RateLimit
	if cfg.Fetch.MaxBodyBytes > 0 {
		opts.MaxBodyBytes = cfg.Fetch.MaxBodyBytes
	}

	providers, err := fetch.Build(specs, client.New(opts))
	if err != nil {
		return nil, fmt.Errorf("build fetch providers: %w", err)
	}
	return fetch.New(providers,
		fetch.WithStrategy(fetch.Strategy(cfg.Fetch.Strategy)),
		fetch.WithLogger(logger.Component("fetch")),
		fetch.WithObserver(metrics),
	)
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr is the listen address
func (s *Server) Addr() string {
	return net.JoinHostPort(s.config.Server.Host, s.config.Server.Port)
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Close releases every session and flushes the logger
func (s *Server) Close() error {
	s.logger.Info("Closing sessions", zap.Int("sessions", s.sessions.Count()))
	s.sessions.Close()

	// Sync logger before exit
	_ = s.logger.Sync()
	return nil
}
