package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lessonlive/internal/core/domain"
	"lessonlive/internal/core/ports"
	"lessonlive/internal/core/services"
	httphandlers "lessonlive/internal/handlers/http"
	distinfra "lessonlive/internal/infrastructure/distributed"
	"lessonlive/internal/infrastructure/middleware"
	"lessonlive/internal/infrastructure/monitoring"
	"lessonlive/internal/infrastructure/reliability"
	repositories "lessonlive/internal/infrastructure/repositories"
	signalinfra "lessonlive/internal/infrastructure/signal"
	"lessonlive/pkg/config"
	"lessonlive/pkg/distributed"
	"lessonlive/pkg/logger"
	"lessonlive/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	startTime := time.Now()

	configPath := os.Getenv("LESSONLIVE_CONFIG")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		zap.NewExample().Sugar().Fatalw("failed to load config", "path", configPath, "error", err)
	}

	zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()

	if cfg.Distributed.InstanceID == "" {
		cfg.Distributed.InstanceID = uuid.NewString()
	}
	log := zapLogger.Sugar().With("instance_id", cfg.Distributed.InstanceID)

	tp, err := tracing.Init(cfg.Tracing)
	if err != nil {
		log.Fatalw("failed to init tracing", "error", err)
	}

	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()

	repoFactory, err := repositories.NewRepositoryFactory(rootCtx, cfg, log)
	if err != nil {
		log.Fatalw("failed to create repository factory", "error", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := monitoring.NewPrometheusCollector(registry)

	moderationGuard := reliability.NewGuard("moderation_store", cfg.Reliability.Retry, cfg.Reliability.CircuitBreaker, log)
	noteGuard := reliability.NewGuard("note_store", cfg.Reliability.Retry, cfg.Reliability.CircuitBreaker, log)
	collector.TrackBreaker(moderationGuard.Breaker())
	collector.TrackBreaker(noteGuard.Breaker())

	authService := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	wsServer := signalinfra.NewWebSocketServer(authService, signalinfra.OptionsFromConfig(cfg), collector, log)

	deps := services.CoordinatorDeps{
		Rooms:      repoFactory.RoomRepository(),
		Moderation: reliability.NewModerationStore(repoFactory.ModerationStore(), moderationGuard),
		Notes:      reliability.NewNoteStore(repoFactory.NoteStore(), noteGuard),
		Roles:      repoFactory.RoleStore(),
		Sink:       wsServer,
		Metrics:    collector,
		Logger:     log,
	}

	var bus *distinfra.EventBus
	if cfg.Distributed.Enabled {
		client := repoFactory.RedisClient()
		prefix := cfg.Storage.Redis.KeyPrefix
		bus = distinfra.NewEventBus(client, prefix, cfg.Distributed.InstanceID, log)
		locker := distributed.NewLocker(client, prefix+":lease:", cfg.Distributed.LeaseTTL)

		deps.Mirror = bus
		deps.Commands = bus
		deps.Leaser = distinfra.NewRoomLeaser(locker, cfg.Reliability.Retry, cfg.Distributed.InstanceID, log)
		log.Infow("distributed mode enabled",
			"events_channel", bus.EventsChannel(),
			"commands_channel", bus.CommandsChannel(),
			"lease_ttl", cfg.Distributed.LeaseTTL,
		)
	}

	coord := services.NewCoordinator(deps, coordinatorConfig(cfg))
	wsServer.Attach(coord)

	if bus != nil {
		go func() {
			if err := bus.SubscribeCommands(rootCtx, coord.ApplyRemoteCommand); err != nil && !errors.Is(err, context.Canceled) {
				log.Errorw("command subscription stopped", "error", err)
			}
		}()
	}

	health := monitoring.NewHealthChecker()
	health.AddRoomStoreCheck(deps.Rooms, 15*time.Second, 2*time.Second)
	if client := repoFactory.RedisClient(); client != nil {
		health.AddRedisCheck(client, 10*time.Second, 2*time.Second)
	}
	health.AddBreakerCheck(moderationGuard.Breaker(), 5*time.Second)
	health.AddBreakerCheck(noteGuard.Breaker(), 5*time.Second)
	health.StartBackgroundChecks(rootCtx)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.TracingMiddleware(),
		middleware.RequestLogger(logger.NewContextLogger(zapLogger)),
		middleware.NewHTTPRateLimitMiddleware(cfg),
		middleware.ErrorHandlerMiddleware(log),
	)

	router.GET(cfg.Signal.Path, gin.WrapF(wsServer.HandleWebSocket))

	api := router.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(authService))
	for _, h := range []ports.HTTPHandler{
		httphandlers.NewRoomHandler(coord),
		httphandlers.NewAuthHandler(authService, cfg.Auth.TokenTTL),
	} {
		h.RegisterRoutes(api)
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "healthy",
			"timestamp":   time.Now(),
			"uptime":      time.Since(startTime).String(),
			"connections": wsServer.ConnectionCount(),
			"checks":      health.LastStatus().Checks,
		})
	})

	router.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := repoFactory.HealthCheck(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":    "not_ready",
				"timestamp": time.Now(),
				"error":     err.Error(),
			})
			return
		}
		status := health.CheckAll(ctx)
		code := http.StatusOK
		if status.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})

	if cfg.Monitoring.PrometheusEnabled {
		router.GET(cfg.Monitoring.MetricsPath, gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
		log.Infow("prometheus metrics enabled", "path", cfg.Monitoring.MetricsPath)
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("starting lessonlive coordinator", "address", cfg.Server.Address, "storage", cfg.Storage.Driver)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Errorw("server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("error force closing server", "error", closeErr)
		}
	}

	wsServer.CloseAll("server shutting down")
	if err := coord.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error shutting down coordinator", "error", err)
	}

	stop()
	if bus != nil {
		if err := bus.Close(); err != nil {
			log.Warnw("error closing event bus", "error", err)
		}
	}
	if err := repoFactory.Close(); err != nil {
		log.Errorw("error closing repository factory", "error", err)
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Warnw("error flushing traces", "error", err)
	}

	log.Info("lessonlive coordinator stopped")
}

func coordinatorConfig(cfg *config.Config) services.CoordinatorConfig {
	cc := services.DefaultCoordinatorConfig()
	cc.AutoCreateRooms = cfg.Rooms.AutoCreate
	cc.DefaultRoomKind = domain.RoomKind(cfg.Rooms.DefaultKind)
	cc.DefaultParticipantLimit = cfg.Rooms.DefaultParticipantLimit
	cc.MailboxSize = cfg.Rooms.MailboxSize
	cc.StoreTimeout = cfg.Rooms.StoreTimeout
	cc.Policy = services.NewModerationPolicy(
		cfg.Moderation.ModeratorsCanKick,
		cfg.Moderation.ModeratorsCanBan,
		cfg.Moderation.ModeratorsCanMute,
	)
	for _, r := range cfg.Rooms.ScreenShareRoles {
		cc.ScreenShareRoles = append(cc.ScreenShareRoles, domain.Role(r))
	}
	cc.NoteMaxBytes = cfg.Notes.MaxBytes
	cc.ChatMaxLength = cfg.Chat.MaxLength
	cc.ChatHistorySize = cfg.Chat.HistorySize
	return cc
}
