package main

import (
	"context"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"playloop/internal/core/ports"
	"playloop/internal/core/services"
	httphandlers "playloop/internal/handlers/http"
	"playloop/internal/infrastructure/distributed"
	"playloop/internal/infrastructure/middleware"
	"playloop/internal/infrastructure/monitoring"
	"playloop/internal/infrastructure/repositories/memory"
	redisrepo "playloop/internal/infrastructure/repositories/redis"
	"playloop/internal/infrastructure/signal"
	webrtcinfra "playloop/internal/infrastructure/webrtc"
	"playloop/pkg/config"
	"playloop/pkg/logger"
	"playloop/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

const sessionLoopQueueSize = 256

func main() {
	configPaths := []string{
		os.Getenv("PLAYLOOP_CONFIG"),
		"configs/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error

	for _, path := range configPaths {
		if path == "" {
			continue
		}
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}

	if cfg == nil || err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()
	if err != nil {
		log.Warnw("could not load config, using defaults", "error", err)
	}

	tp, err := tracing.Init(tracingConfig(cfg))
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	instanceID := uuid.NewString()
	checker := monitoring.NewHealthChecker()

	// Command fan-out: the WebSocket hub always, Redis when enabled, and
	// per-session RTCP sinks attached by the WebRTC gateway.
	hub := signal.NewCommandHub(hubConfig(cfg), log.Named("signal"))
	shared := []ports.CommandSink{hub}

	repo := memory.NewMemorySessionRepository()
	checker.AddSessionRepositoryCheck(repo, time.Second)

	mirrorCtx, stopMirror := context.WithCancel(context.Background())
	defer stopMirror()
	var mirrorDone chan struct{}

	var bus *distributed.CommandBus
	if cfg.Redis.Enabled {
		connectCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		client, err := distributed.NewRedisClient(connectCtx, redisOptions(cfg), log)
		cancel()
		if err != nil {
			log.Fatalw("failed to connect to redis", "error", err)
		}
		defer client.Close()

		bus = distributed.NewCommandBus(client, cfg.Redis.ChannelPrefix, instanceID, log.Named("bus"))
		shared = append(shared, bus)
		checker.AddRedisCheck(client, 2*time.Second)

		if cfg.Redis.SnapshotInterval > 0 {
			if err := redisrepo.EnsureSchema(context.Background(), client, cfg.Redis.SnapshotPrefix, log); err != nil {
				log.Fatalw("snapshot schema check failed", "error", err)
			}
			store := redisrepo.NewSnapshotStore(client, cfg.Redis.SnapshotPrefix, cfg.Redis.SnapshotTTL)
			mirror := redisrepo.NewMirror(store, repo, instanceID, cfg.Redis.SnapshotInterval, log.Named("mirror"))
			mirrorDone = make(chan struct{})
			go func() {
				defer close(mirrorDone)
				mirror.Run(mirrorCtx)
			}()
		}
	}
	router := services.NewCommandRouter(shared...)

	var metrics ports.MetricsRecorder
	var gatherer prometheus.Gatherer
	if cfg.Monitoring.PrometheusEnabled {
		metrics = monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer)
		gatherer = prometheus.DefaultGatherer
	}

	authService := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.SessionTokenTTL)
	sessionService := services.NewSessionService(
		repo,
		authService,
		sessionConfig(cfg),
		router,
		metrics,
		hub,
		services.LoopSchedulers(sessionLoopQueueSize),
		log.Named("session"),
	)

	var gateway *webrtcinfra.Gateway
	var media httphandlers.MediaNegotiator
	if cfg.WebRTC.Enabled {
		gateway = webrtcinfra.NewGateway(gatewayConfig(cfg), router, log.Named("webrtc"))
		media = gateway
	}

	sessionHandler := httphandlers.NewSessionHandler(sessionService, authService, hub, media, log.Named("http"))
	healthHandler := httphandlers.NewHealthHandler(checker, sessionService, gatherer)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(
		middleware.RecoveryMiddleware(log),
		middleware.TracingMiddleware("/health", "/ready", "/metrics"),
		middleware.RequestLoggingMiddleware(logger.NewContextLogger(zapLogger)),
		middleware.ErrorHandlerMiddleware(log),
	)

	sessionHandler.SetupRoutes(engine, middleware.NewHTTPRateLimitMiddleware(cfg))
	healthHandler.SetupRoutes(engine)

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("starting playloop agent",
			"address", cfg.Server.Address,
			"instance_id", instanceID,
			"redis", cfg.Redis.Enabled,
			"webrtc", cfg.WebRTC.Enabled,
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	ossignal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("error force closing server", "error", closeErr)
		}
	}

	stopMirror()
	if mirrorDone != nil {
		<-mirrorDone
	}

	hub.CloseAll()
	if gateway != nil {
		gateway.CloseAll()
	}
	if err := sessionService.CloseAll(shutdownCtx); err != nil {
		log.Errorw("error closing sessions", "error", err)
	}
	if bus != nil {
		if err := bus.Close(); err != nil {
			log.Errorw("error closing command bus", "error", err)
		}
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error shutting down tracer provider", "error", err)
	}

	log.Info("playloop agent stopped")
}
