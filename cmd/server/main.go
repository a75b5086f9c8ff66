package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"
	redis "github.com/redis/go-redis/v9"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.uber.org/zap"

	"nightfall-server/internal/config"
	"nightfall-server/internal/handler"
	"nightfall-server/internal/logger"
	"nightfall-server/internal/narrative"
	"nightfall-server/internal/realtime"
	"nightfall-server/internal/repository"
	"nightfall-server/internal/service"
	"nightfall-server/internal/worker"
)

func main() {
	// .env is optional; production deploys rely on real environment variables.
	if err := godotenv.Load(); err != nil {
		fmt.Printf("Warning: could not load .env file: %v\n", err)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:    cfg.LogLevel,
		Encoding: "json",
	})
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	zap.ReplaceGlobals(log)
	zap.L().Info("Logger initialized", zap.String("logLevel", cfg.LogLevel))

	// --- External Connections ---
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	redisClient, err := setupRedis(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	zap.L().Info("Connected to Redis", zap.String("addr", cfg.RedisAddr))

	var mqConn *amqp.Connection
	var feed *realtime.ContentFeedPublisher
	if cfg.RabbitMQURL != "" {
		mqConn, err = connectRabbitMQ(cfg.RabbitMQURL, log)
		if err != nil {
			zap.L().Fatal("Failed to connect to RabbitMQ", zap.Error(err))
		}
		defer mqConn.Close()
		feed, err = realtime.NewContentFeedPublisher(mqConn, log)
		if err != nil {
			zap.L().Fatal("Failed to initialize content feed publisher", zap.Error(err))
		}
		defer feed.Close()
		zap.L().Info("Connected to RabbitMQ, content feed enabled")
	} else {
		zap.L().Info("RABBITMQ_URL not set, content feed disabled")
	}

	// --- Narrative Graph ---
	graph, err := narrative.NewGraph(narrative.DefaultCatalogue())
	if err != nil {
		zap.L().Fatal("Invalid narrative catalogue", zap.Error(err))
	}
	zap.L().Info("Narrative graph loaded", zap.Int("branches", graph.BranchCount()))

	// --- Dependency Injection ---
	storyRepo := repository.NewRedisStoryRepository(redisClient, log)
	voteRepo := repository.NewRedisVoteRepository(redisClient, log)
	historyRepo := repository.NewRedisHistoryRepository(redisClient, log)

	fanout := realtime.NewFanout(realtime.NewRedisPublisher(redisClient, log), realtime.Options{
		ThrottleWindow: cfg.ThrottleWindow,
		ThrottleCap:    cfg.ThrottleCapacity,
		BatchMaxItems:  cfg.BatchMaxItems,
		BatchDelay:     cfg.BatchDelay,
		BatchCap:       cfg.BatchCapacity,
	}, log)
	defer fanout.Close()

	votingSvc := service.NewVotingService(voteRepo, storyRepo, fanout, service.VotingConfig{
		CacheTTL:     cfg.VoteCacheTTL,
		CacheEntries: cfg.VoteCacheEntries,
		TieBreakSeed: cfg.TieBreakSeed,
	}, log)

	progressionSvc := service.NewProgressionService(graph, storyRepo, voteRepo, historyRepo,
		votingSvc, fanout, feed, service.ProgressionConfig{
			VotingWindow:  cfg.VotingWindow,
			MaxPathLength: cfg.MaxPathLength,
		}, log)

	// Bootstrap the default instance so viewers always find a live story.
	bootCtx, bootCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if _, err := progressionSvc.StartStory(bootCtx, cfg.DefaultInstanceID); err != nil {
		bootCancel()
		zap.L().Fatal("Failed to bootstrap default story instance", zap.Error(err))
	}
	bootCancel()
	zap.L().Info("Default story instance ready", zap.String("instanceID", cfg.DefaultInstanceID))

	// --- Background Workers ---
	workerCtx, workerCancel := context.WithCancel(context.Background())
	scheduler := worker.NewScheduler(progressionSvc, votingSvc, voteRepo, worker.Config{
		ResolveInterval:     cfg.ResolveInterval,
		MaintenanceInterval: cfg.MaintenanceInterval,
		VoteRetentionTTL:    cfg.VoteRetentionTTL,
		VotingWindow:        cfg.VotingWindow,
	}, log)
	go scheduler.Run(workerCtx)

	// --- HTTP Server Setup (Gin) ---
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.RedirectTrailingSlash = true
	router.Use(gin.Recovery())

	p := ginprometheus.NewPrometheus("gin")

	corsConfig := cors.DefaultConfig()
	if len(cfg.CORSOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.CORSOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	healthHandler := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
	router.GET("/health", healthHandler)
	router.HEAD("/health", healthHandler)

	storyHandler := handler.NewStoryHandler(votingSvc, progressionSvc, log)
	storyHandler.RegisterRoutes(router, cfg.JWTSecret, log)

	wsManager := handler.NewConnectionManager(redisClient, log)
	wsHandler := handler.NewWebSocketHandler(wsManager, cfg.JWTSecret, log)
	router.GET("/ws/:instanceID", wsHandler.ServeWS)

	p.Use(router)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	zap.L().Info("Starting HTTP server", zap.String("port", cfg.Port))

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zap.L().Fatal("HTTP Server listen error", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zap.L().Info("Shutting down server...")

	workerCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zap.L().Error("HTTP Server forced to shutdown", zap.Error(err))
	}

	wsManager.Shutdown()

	zap.L().Info("Server exiting")
}

// setupRedis initializes the Redis client and verifies connectivity.
func setupRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// connectRabbitMQ dials RabbitMQ with a short retry loop, since the broker
// often comes up after the server in compose environments.
func connectRabbitMQ(url string, log *zap.Logger) (*amqp.Connection, error) {
	const maxRetries = 10
	const retryDelay = 3 * time.Second

	var conn *amqp.Connection
	var err error
	for i := 0; i < maxRetries; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			return conn, nil
		}
		log.Warn("RabbitMQ connection failed, retrying...",
			zap.Int("attempt", i+1),
			zap.Int("maxRetries", maxRetries),
			zap.Error(err))
		time.Sleep(retryDelay)
	}
	return nil, fmt.Errorf("unable to connect to RabbitMQ after %d attempts: %w", maxRetries, err)
}
