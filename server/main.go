package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/san-kum/driver-safety/server/cache"
	"github.com/san-kum/driver-safety/server/config"
	"github.com/san-kum/driver-safety/server/handlers"
	"github.com/san-kum/driver-safety/server/landmarks"
	"github.com/san-kum/driver-safety/server/middleware"
	"github.com/san-kum/driver-safety/server/processor"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Server struct {
	router         *gin.Engine
	logger         *zap.Logger
	frameProcessor *processor.FrameProcessor
	wsHandler      *handlers.WebSocketHandler
	streamHandler  *handlers.StreamHandler
	cache          cache.Cache
	rateLimiter    *middleware.RateLimiter
	config         *config.Config
}

func main() {
	// Load configuration
	cfg := config.LoadConfig()

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer logger.Sync()

	// Validate configuration before anything starts
	if err := cfg.ValidateConfig(logger); err != nil {
		logger.Fatal("Configuration validation failed", zap.Error(err))
	}

	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	server := NewServer(cfg, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      server.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("Starting server",
			zap.String("addr", addr),
			zap.String("environment", cfg.Server.Environment),
			zap.String("session_id", server.frameProcessor.SessionID()))

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	loopCtx, stopLoop := context.WithCancel(context.Background())
	commands := make(chan processor.Command, 4)
	loopDone := server.startSourceLoop(loopCtx, commands)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)

wait:
	for {
		select {
		case sig := <-signals:
			if sig != syscall.SIGUSR1 {
				break wait
			}
			// SIGUSR1 resets the session without restarting.
			if loopDone != nil {
				select {
				case commands <- processor.CommandReset:
				default:
					logger.Warn("Reset already pending")
				}
			} else {
				server.streamHandler.ResetSession()
			}
		case <-loopDone:
			logger.Info("Frame source finished, server keeps serving the API")
			loopDone = nil
		}
	}

	logger.Info("Shutting down server...")

	if loopDone != nil {
		select {
		case commands <- processor.CommandQuit:
		default:
		}
		select {
		case <-loopDone:
		case <-time.After(5 * time.Second):
			logger.Warn("Frame loop did not stop in time")
		}
	}
	stopLoop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	server.wsHandler.CloseAll()

	// Shutdown HTTP server first so no new frames arrive
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	if err := server.frameProcessor.Shutdown(); err != nil {
		logger.Error("Failed to shutdown frame processor", zap.Error(err))
	}

	server.rateLimiter.Shutdown()

	if err := server.cache.Close(); err != nil {
		logger.Error("Failed to close cache", zap.Error(err))
	}

	logger.Info("Server exited")
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var zapConfig zap.Config
	if cfg.Format == "json" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)

	return zapConfig.Build()
}

func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	cacheInstance := cache.NewMemoryCache(100, 5*time.Minute, logger)

	frameProcessor := processor.NewFrameProcessor(cfg, cacheInstance, time.Now, logger)

	rateLimiter := middleware.NewRateLimiter(
		cfg.Security.RateLimitRPS,
		cfg.Security.RateLimitBurst,
		logger,
	)

	authMiddleware := middleware.NewAuthMiddleware(cfg.Security.AuthSecret, cfg.Security.RequireAuth, logger)

	router := gin.New()

	router.Use(middleware.RequestLogger(logger))
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORS(cfg.Security.AllowedOrigins))
	router.Use(middleware.RequestSizeLimit(cfg.Security.MaxRequestSize))
	router.Use(middleware.JSONContentType())

	wsHandler := handlers.NewWebSocketHandler(frameProcessor, cfg.Security.AllowedOrigins, logger)
	streamHandler := handlers.NewStreamHandler(frameProcessor, wsHandler, cfg, logger)

	setupRoutes(router, wsHandler, streamHandler, authMiddleware, rateLimiter)

	return &Server{
		router:         router,
		logger:         logger,
		frameProcessor: frameProcessor,
		wsHandler:      wsHandler,
		streamHandler:  streamHandler,
		cache:          cacheInstance,
		rateLimiter:    rateLimiter,
		config:         cfg,
	}
}

// startSourceLoop runs the frame loop against the configured source. It
// returns nil when frames only arrive through the API.
func (s *Server) startSourceLoop(ctx context.Context, commands <-chan processor.Command) <-chan struct{} {
	var source processor.FrameSource

	switch {
	case s.config.Source.ReplayFile != "":
		replay, err := landmarks.OpenReplay(s.config.Source.ReplayFile, s.config.Source.TargetFPS, s.logger)
		if err != nil {
			s.logger.Fatal("Failed to open frame source", zap.Error(err))
		}
		source = replay
		go func() {
			<-ctx.Done()
			replay.Close()
		}()

	case s.config.Source.DetectorURL != "":
		client := landmarks.NewClient(s.config.Source.DetectorURL, s.config.Source, s.logger)
		if err := client.HealthCheck(ctx); err != nil {
			s.logger.Warn("Landmark service not available at startup", zap.Error(err))
		}
		go client.StartHealthChecker(ctx)
		source = client

	default:
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := s.frameProcessor.Run(ctx, source, s.wsHandler, commands); err != nil {
			s.logger.Error("Frame loop stopped with error", zap.Error(err))
		}
	}()

	return done
}

func setupRoutes(router *gin.Engine, wsHandler *handlers.WebSocketHandler, streamHandler *handlers.StreamHandler, auth *middleware.AuthMiddleware, rateLimiter *middleware.RateLimiter) {
	router.GET("/health", middleware.HealthCheck())

	router.GET("/ws", rateLimiter.RateLimit(), wsHandler.HandleWebSocket)

	api := router.Group("/api/v1")
	{
		api.GET("/health", middleware.HealthCheck())

		limited := api.Group("/")
		limited.Use(rateLimiter.RateLimit())
		{
			limited.POST("/frames", middleware.RequestTimeout(10*time.Second), streamHandler.ProcessFrame)
			limited.GET("/status", streamHandler.GetStatus)
			limited.GET("/stats", streamHandler.GetStats)
			limited.GET("/summary", streamHandler.GetSummary)
			limited.GET("/config", streamHandler.GetConfig)
		}

		control := api.Group("/")
		control.Use(rateLimiter.RateLimit(), auth.RequireRole(middleware.RoleOperator))
		{
			control.POST("/reset", streamHandler.Reset)
		}
	}
}
