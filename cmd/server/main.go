package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tullo/bazaar/config"
	"github.com/tullo/bazaar/internal/auth"
	"github.com/tullo/bazaar/internal/cache"
	"github.com/tullo/bazaar/internal/catalog"
	"github.com/tullo/bazaar/internal/database"
	"github.com/tullo/bazaar/internal/handlers"
	"github.com/tullo/bazaar/internal/media"
	"github.com/tullo/bazaar/internal/middleware"
	natsclient "github.com/tullo/bazaar/internal/nats"
	"github.com/tullo/bazaar/internal/outbox"
	"github.com/tullo/bazaar/internal/realtime"
	"github.com/tullo/bazaar/internal/repository"
	"github.com/tullo/bazaar/internal/service"
	"github.com/tullo/bazaar/internal/websocket"
	"github.com/tullo/bazaar/pkg/logger"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Global().Fatal("Failed to load config", zap.Error(err))
	}

	log, err := logger.ForEnv(cfg.Server.Env, cfg.Server.LogLevel)
	if err != nil {
		logger.Global().Fatal("Failed to build logger", zap.Error(err))
	}
	logger.SetGlobal(log)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("Server stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	// Event log store
	var (
		store       repository.Store
		listingRepo service.ListingCatalog
	)
	switch cfg.Database.Store {
	case "postgres":
		db, err := database.NewPostgresDB(cfg.GetDSN())
		if err != nil {
			return err
		}
		defer db.Close()

		log.Info("Running database migrations")
		if err := database.RunMigrations(db.DB, log); err != nil {
			return err
		}
		store = repository.NewPostgresStore(db)
		listingRepo = catalog.NewPostgres(db.DB)
	default:
		log.Warn("Using the in-memory store; state is lost on restart")
		store = repository.NewMemoryStore()
	}

	// Connect to Redis
	redis, err := cache.NewRedisClient(cfg.GetRedisAddr(), cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Warn("Running without Redis: presence, typing and shared rate limits are local only", zap.Error(err))
		redis = nil
	} else {
		defer redis.Close()
	}

	var (
		shared   middleware.SharedLimiter
		presence websocket.Presence
		typing   websocket.Typing
	)
	if redis != nil {
		shared, presence, typing = redis, redis, redis
		if listingRepo != nil {
			listingRepo = catalog.NewCached(listingRepo, redis, cfg.Market.ListingCacheTTL, log)
		}
	}

	broker, err := newBroker(ctx, cfg, redis, log)
	if err != nil {
		return err
	}
	defer broker.Close()

	var photos service.MediaStore
	if cfg.Media.GCSBucket != "" {
		client, err := media.NewGCSClient(ctx, cfg.Media.CredentialsFile)
		if err != nil {
			return err
		}
		gcs := media.NewGCSStore(client, cfg.Media.GCSBucket)
		defer gcs.Close()
		photos = gcs
	} else {
		log.Warn("GCS_BUCKET not set; photo uploads are disabled")
	}

	dispatcher := outbox.NewDispatcher(store, broker, log, outbox.Options{
		BatchSize:    cfg.Outbox.BatchSize,
		PollInterval: cfg.Outbox.PollInterval,
	})

	deps := service.Deps{
		Store:       store,
		Catalog:     listingRepo,
		Media:       photos,
		Waker:       dispatcher,
		Logger:      log,
		OfferExpiry: cfg.Market.OfferExpiry,
	}
	conversations := service.NewConversationService(deps)

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpiryHours)
	rateLimiter := middleware.NewRateLimiter(cfg.API.RateLimitMessagesPerSec, shared, log)

	hub := websocket.NewHub(broker, presence, log)
	wsHandler := websocket.NewHandler(hub, jwtService, conversations, rateLimiter, typing, cfg.CORS.AllowedOrigins, log)

	api := &handlers.API{
		Conversations: handlers.NewConversationHandler(conversations),
		Messages:      handlers.NewMessageHandler(conversations),
		Offers:        handlers.NewOfferHandler(service.NewOfferService(deps)),
		Appointments:  handlers.NewAppointmentHandler(service.NewAppointmentService(deps)),
		Notifications: handlers.NewNotificationHandler(service.NewNotificationService(deps)),
	}

	// Setup Gin router
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logging(log))
	router.Use(middleware.CORSMiddleware(cfg.CORS.AllowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", wsHandler.HandleWebSocket)

	v1 := router.Group("/api/v1")
	v1.Use(middleware.AuthMiddleware(jwtService))
	api.Register(v1, middleware.RateLimitMiddleware(rateLimiter, "send"))
	v1.GET("/online-users", wsHandler.GetOnlineUsers)

	// Background workers
	go func() {
		if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Outbox dispatcher stopped", zap.Error(err))
		}
	}()
	go func() {
		if err := hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("WebSocket hub stopped", zap.Error(err))
		}
	}()
	rateLimiter.Cleanup(ctx, time.Minute, 10*time.Minute)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting bazaar server", zap.String("addr", srv.Addr), zap.String("env", cfg.Server.Env))
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

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newBroker builds the fan-out broker selected by REALTIME_BROKER. The redis broker
// needs a Redis connection.
func newBroker(ctx context.Context, cfg *config.Config, redis *cache.RedisClient, log *logger.Logger) (realtime.Broker, error) {
	switch cfg.Realtime.Broker {
	case "redis":
		if redis == nil {
			log.Warn("REALTIME_BROKER=redis without Redis; falling back to the local broker")
			return realtime.NewLocalBroker(), nil
		}
		return realtime.NewRedisBroker(redis, log), nil
	case "nats":
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		client, err := natsclient.Connect(connectCtx, natsclient.Config{
			URL:   cfg.NATS.URL,
			Token: cfg.NATS.Token,
			Name:  "bazaar",
		}, log)
		if err != nil {
			return nil, err
		}
		return &natsBroker{NATSBroker: realtime.NewNATSBroker(client, log), client: client}, nil
	default:
		return realtime.NewLocalBroker(), nil
	}
}

// natsBroker closes the connection along with the broker.
type natsBroker struct {
	*realtime.NATSBroker
	client *natsclient.Client
}

func (b *natsBroker) Close() error {
	err := b.NATSBroker.Close()
	b.client.Close()
	return err
}
