package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	sessionapi "github.com/taskhive/taskhive/api/echo"
	"github.com/taskhive/taskhive/cache"
	"github.com/taskhive/taskhive/config"
	"github.com/taskhive/taskhive/fanout"
	"github.com/taskhive/taskhive/gateway"
	"github.com/taskhive/taskhive/internal/auth"
	"github.com/taskhive/taskhive/internal/metrics"
	"github.com/taskhive/taskhive/internal/server"
	"github.com/taskhive/taskhive/internal/sweeper"
	"github.com/taskhive/taskhive/log"
	"github.com/taskhive/taskhive/mongodb"
	"github.com/taskhive/taskhive/presence"
	"github.com/taskhive/taskhive/services"
	"github.com/taskhive/taskhive/store"
)

// The feature namespaces served over websocket. Each gets its own presence
// registry and fan-out channel.
var namespaces = []string{"chat", "notifications", "payments"}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		stdLog := zerolog.New(os.Stdout).With().Timestamp().Logger()
		stdLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logLevel, parseErr := zerolog.ParseLevel(cfg.LogLevel)
	if parseErr != nil {
		logLevel = zerolog.InfoLevel
	}
	appLogger := log.NewZerologAdapter(logLevel, cfg.LogPretty)
	appLogger.Info(context.Background(), "Starting taskhive session server...")
	appLogger.Info(context.Background(), "Configuration loaded successfully", map[string]interface{}{
		"http_port":     cfg.HTTPPort,
		"environment":   cfg.Environment,
		"mongo_db_name": cfg.MongoDBName,
		"redis_addr":    cfg.RedisAddr,
		"log_level":     cfg.LogLevel,
	})

	ctx := context.Background()
	if initErr := mongodb.InitMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName); initErr != nil {
		appLogger.Fatal(ctx, "Failed to initialize MongoDB connection", initErr)
	}
	db := mongodb.GetDB()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		appLogger.Fatal(ctx, "Failed to connect to Redis", err)
	}
	sharedStore := store.NewRedisStore(redisClient)

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.InitCustomMetrics(registry)

	// Repositories
	credRepo, err := mongodb.NewCredentialRepository(ctx, db)
	if err != nil {
		appLogger.Fatal(ctx, "Failed to initialize CredentialRepository", err)
	}
	userRepo, err := mongodb.NewUserRepository(ctx, db)
	if err != nil {
		appLogger.Fatal(ctx, "Failed to initialize UserRepository", err)
	}
	sharedCache := cache.New(sharedStore, time.Duration(cfg.CacheTTLSec)*time.Second)
	cachedUsers := services.NewCachedUserRepository(userRepo, sharedCache, cache.Policy{MinSearchLen: cfg.SearchCacheMinLen})

	// Services
	passwordHasher := auth.NewBcryptPasswordHasher(bcrypt.DefaultCost)
	tokenSigner := auth.NewTokenSigner(
		cfg.JWTSecretKey,
		time.Duration(cfg.AccessTokenTTLMin)*time.Minute,
		time.Duration(cfg.RefreshTokenTTLDays)*24*time.Hour,
	)
	sessionService := services.NewSessionService(cachedUsers, credRepo, passwordHasher, tokenSigner)
	verifier := services.NewPrincipalVerifier(cachedUsers, 5*time.Minute)
	defer verifier.Stop()

	// Websocket gateways, one per feature namespace.
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	var gateways []*gateway.Gateway
	for _, ns := range namespaces {
		presenceReg := presence.NewRegistry(sharedStore, ns)
		sender := gateway.NewLocalSender()
		fo := fanout.New(sharedStore, presenceReg, sender)
		gw := gateway.NewGateway(ns, verifier, presenceReg, fo, sender)
		if ns == "chat" {
			gateway.RegisterChatHandlers(gw)
		}
		gateways = append(gateways, gw)

		go func(ns string, fo *fanout.Fanout) {
			if err := fo.Run(runCtx); err != nil && runCtx.Err() == nil {
				appLogger.Error(runCtx, fmt.Sprintf("fanout loop for %s exited", ns), err)
			}
		}(ns, fo)
	}

	// Credential sweeper
	sw := sweeper.New(credRepo,
		time.Duration(cfg.SweepIntervalMin)*time.Minute,
		time.Duration(cfg.SweepRetentionDays)*24*time.Hour,
	)
	go func() {
		if err := sw.Run(runCtx); err != nil && runCtx.Err() == nil {
			appLogger.Error(runCtx, "credential sweeper exited", err)
		}
	}()

	// HTTP server
	api := sessionapi.NewSessionAPI(sessionService, cachedUsers, tokenSigner, gateways, cfg.IsProduction())
	httpServer := server.NewHTTPServer(cfg, appLogger, api, registry)
	go func() {
		appLogger.Info(context.Background(), fmt.Sprintf("HTTP server listening on port %s", cfg.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal(context.Background(), "Failed to start HTTP server", err)
		}
	}()

	appLogger.Info(ctx, "Server components initialized. Waiting for interrupt signal...")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	receivedSignal := <-quit

	appLogger.Info(ctx, fmt.Sprintf("Received signal: %v. Shutting down server...", receivedSignal))

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	cancelRun()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(shutdownCtx, "HTTP server shutdown error", err)
	}

	if err := redisClient.Close(); err != nil {
		appLogger.Error(shutdownCtx, "Redis client close error", err)
	}

	appLogger.Info(shutdownCtx, "Closing MongoDB connection...")
	mongodb.CloseMongoDB(shutdownCtx)

	appLogger.Info(shutdownCtx, "Server gracefully stopped.")
}
