package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nkiryanov/chronoflow/internal/db"
	"github.com/nkiryanov/chronoflow/internal/handlers"
	"github.com/nkiryanov/chronoflow/internal/handlers/middleware"
	"github.com/nkiryanov/chronoflow/internal/logger"
	"github.com/nkiryanov/chronoflow/internal/repository/postgres"
	"github.com/nkiryanov/chronoflow/internal/service/auth"
	"github.com/nkiryanov/chronoflow/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/chronoflow/internal/service/sweeper"
	"github.com/nkiryanov/chronoflow/internal/service/user"
)

const shutdownTimeout = 5 * time.Second

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler

	logger  logger.Logger
	pool    *pgxpool.Pool
	limiter *middleware.RateLimiter
	sweeper *sweeper.Sweeper
}

func NewServerApp(ctx context.Context, c *Config) (*ServerApp, error) {
	// Initialize logger
	log, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}

	app, err := newServerApp(c, pool, log)
	if err != nil {
		pool.Close()
		return nil, err
	}

	return app, nil
}

func newServerApp(c *Config, pool *pgxpool.Pool, log logger.Logger) (*ServerApp, error) {
	// Initialize repositories
	storage := postgres.NewStorage(pool)

	// Initialize services
	tokenManager, err := tokenmanager.New(tokenmanager.Config{
		AccessSecret:   c.JWTSecret,
		RefreshSecret:  c.JWTRefreshSecret,
		AccessTTL:      c.AccessTokenTTL,
		RefreshTTL:     c.RefreshTokenTTL,
		StrictRotation: c.StrictRotation,
	}, storage)
	if err != nil {
		return nil, fmt.Errorf("error while creating token manager. Err: %w", err)
	}

	userService := user.NewService(user.DefaultHasher, storage)
	authService, err := auth.NewService(auth.Config{QRCodeTTL: c.QRCodeTTL}, storage, userService, tokenManager, log)
	if err != nil {
		return nil, fmt.Errorf("error while creating auth service. Err: %w", err)
	}

	limiter, err := middleware.NewRateLimiter(middleware.RateLimitConfig{
		RPS:   float64(c.QRRateLimit) / 60,
		Burst: c.QRRateLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("error while creating rate limiter. Err: %w", err)
	}

	proxies, err := middleware.ParseTrustedProxies(c.TrustedProxies)
	if err != nil {
		limiter.Close()
		return nil, fmt.Errorf("error while parsing trusted proxies. Err: %w", err)
	}

	return &ServerApp{
		ListenAddr: c.ListenAddr,
		Handler:    handlers.NewRouter(authService, limiter.Middleware, proxies, log),
		logger:     log,
		pool:       pool,
		limiter:    limiter,
		sweeper:    sweeper.New(sweeper.Config{Interval: c.SweepInterval}, storage, log),
	}, nil
}

// Run starts http server and closes gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	defer s.close()

	httpServer := &http.Server{
		Addr:              s.ListenAddr,
		Handler:           s.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	idleConnsClosed := make(chan struct{})
	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	sweeperStopped := s.sweeper.Run(srvCtx)

	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); errors.Is(err, context.DeadlineExceeded) {
			s.logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		s.logger.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled; then close gracefully connections
	s.logger.Info("Starting server", "address", s.ListenAddr)
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed
	<-sweeperStopped

	return err
}

func (s *ServerApp) close() {
	s.limiter.Close()
	s.pool.Close()
}
