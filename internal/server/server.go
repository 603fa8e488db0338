// Package server wires the chat room together and serves the HTTP API.
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/mbd888/agentchat/internal/challenge"
	"github.com/mbd888/agentchat/internal/chat"
	"github.com/mbd888/agentchat/internal/config"
	"github.com/mbd888/agentchat/internal/identity"
	"github.com/mbd888/agentchat/internal/logging"
	"github.com/mbd888/agentchat/internal/metrics"
	"github.com/mbd888/agentchat/internal/moderation"
	"github.com/mbd888/agentchat/internal/payment"
	"github.com/mbd888/agentchat/internal/ratelimit"
	"github.com/mbd888/agentchat/internal/realtime"
	"github.com/mbd888/agentchat/internal/security"
	"github.com/mbd888/agentchat/internal/validation"
)

// Rate limit policies. Key issuance and WebSocket connects are limited
// per IP; message posting is limited per key inside chat.Service.
const (
	agentKeyLimit  = 10 // per IP per hour
	humanKeyLimit  = 10 // per IP per hour
	messageLimit   = 15 // per key per minute
	wsConnectLimit = 20 // per IP per minute
)

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg *config.Config

	identity   *identity.Manager
	payments   *payment.Service
	moderation *moderation.Service
	chat       *chat.Service
	filter     *moderation.Policy
	hub        *realtime.Hub
	challenges *challenge.Registry

	agentKeyLimiter *ratelimit.Limiter
	humanKeyLimiter *ratelimit.Limiter
	messageLimiter  *ratelimit.Limiter
	wsConnLimiter   *ratelimit.Limiter

	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithPayments sets a custom payment service (for testing)
func WithPayments(p *payment.Service) Option {
	return func(s *Server) {
		s.payments = p
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	var accountStore identity.Store
	var messageStore chat.Store
	var banStore moderation.Store
	var ledgerStore payment.Store

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		accountStore = identity.NewPostgresStore(db)
		messageStore = chat.NewPostgresStore(db)
		banStore = moderation.NewPostgresStore(db)
		ledgerStore = payment.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		accountStore = identity.NewMemoryStore()
		messageStore = chat.NewMemoryStore()
		banStore = moderation.NewMemoryStore()
		ledgerStore = payment.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	s.identity = identity.NewManager(accountStore)
	s.moderation = moderation.NewService(banStore, accountStore)

	if s.payments == nil {
		s.payments = payment.NewService(
			payment.NewEVMVerifier(cfg.PaymentWallet, cfg.RPCOverrides),
			payment.NewBTCVerifier(cfg.BTCWallet, cfg.MempoolAPIURL),
			payment.NewLightningVerifier(),
			ledgerStore,
		)
	}

	s.agentKeyLimiter = ratelimit.New(ratelimit.Config{Window: time.Hour, Max: agentKeyLimit})
	s.humanKeyLimiter = ratelimit.New(ratelimit.Config{Window: time.Hour, Max: humanKeyLimit})
	s.messageLimiter = ratelimit.New(ratelimit.Config{Window: time.Minute, Max: messageLimit})
	s.wsConnLimiter = ratelimit.New(ratelimit.Config{Window: time.Minute, Max: wsConnectLimit})

	s.hub = realtime.NewHub(s.logger, messageStore, s.wsConnLimiter)
	s.filter = moderation.DefaultPolicy()
	s.chat = chat.NewService(messageStore, s.filter, s.moderation, s.messageLimiter, s.hub)

	if cfg.ChallengeRequired {
		s.challenges = challenge.NewRegistry()
		s.logger.Info("registration challenge enabled")
	}

	if err := s.bootstrap(ctx); err != nil {
		return nil, err
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware([]string{"*"}))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))
	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.hub.Run(runCtx)

	if s.db != nil {
		metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for background goroutines (hub, collectors)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	for _, l := range []*ratelimit.Limiter{s.agentKeyLimiter, s.humanKeyLimiter, s.messageLimiter, s.wsConnLimiter} {
		l.Stop()
	}
	if s.challenges != nil {
		s.challenges.Stop()
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
