package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	awspkg "github.com/yashrajoria/resibuy-backend/pkg/aws"
	"github.com/yashrajoria/resibuy-backend/pkg/sessioncache"
	"github.com/yashrajoria/resibuy-backend/services/cart-service/config"
	"github.com/yashrajoria/resibuy-backend/services/cart-service/controllers"
	"github.com/yashrajoria/resibuy-backend/services/cart-service/database"
	"github.com/yashrajoria/resibuy-backend/services/cart-service/kafka"
	"github.com/yashrajoria/resibuy-backend/services/cart-service/routes"
	apperrors "github.com/yashrajoria/resibuy-backend/services/common/errors"
	"github.com/yashrajoria/resibuy-backend/services/common/logger"
	"github.com/yashrajoria/resibuy-backend/services/common/messaging"
	"github.com/yashrajoria/resibuy-backend/services/common/middleware"
)

const serviceName = "cart-service"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Must(os.Getenv("APP_ENV"), nil).Fatal("Config load failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var sink io.Writer
	var metricsClient *awspkg.MetricsClient
	if awsCfg, err := awspkg.LoadAWSConfig(ctx); err == nil {
		metricsClient = awspkg.NewMetricsClient(awsCfg, "", cfg.MetricsEnabled)
		if cfg.LogGroup != "" {
			if cw, err := awspkg.NewCloudWatchLogsClient(ctx, awsCfg, cfg.LogGroup, serviceName); err == nil {
				sink = cw
			}
		}
	}

	log := logger.Must(cfg.Env, sink)
	defer log.Sync()

	redisClient, err := database.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("Redis connection failed", zap.Error(err))
	}
	defer redisClient.Close()

	publisher, err := messaging.NewPublisher(ctx, cfg.Messaging, log)
	if err != nil {
		log.Fatal("Broker publisher init failed", zap.Error(err), zap.String("driver", cfg.Messaging.Driver))
	}
	producer := kafka.NewProducer(publisher, cfg.Topics, log)

	sessions := sessioncache.New()
	scheduler := sessioncache.NewScheduler(sessions, log)
	limiter := middleware.NewRateLimiter(cfg.CheckoutRate, cfg.CheckoutBurst, 10*time.Minute)

	var background sync.WaitGroup
	background.Add(2)
	go func() {
		defer background.Done()
		scheduler.Run(ctx)
	}()
	go func() {
		defer background.Done()
		limiter.RunCleanup(ctx)
	}()

	controller := controllers.NewCartController(
		producer,
		sessions,
		database.NewCartRepository(redisClient),
		scheduler,
		metricsClient,
		controllers.Options{SessionTTL: cfg.SessionTTL, IdempotencyTTL: cfg.IdempotencyTTL},
		log,
	)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(log))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORS(cfg.CORSOrigins))
	router.Use(middleware.Metrics(metricsClient, serviceName))
	router.Use(apperrors.ErrorMiddleware())

	routes.RegisterCartRoutes(router, controller, limiter)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Info("Cart service started",
			zap.String("port", cfg.Port),
			zap.String("broker", cfg.Messaging.Driver),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Shutdown error", zap.Error(err))
	}

	background.Wait()
	if err := producer.Close(); err != nil {
		log.Error("Producer close error", zap.Error(err))
	}
	log.Info("Server shutdown complete.", zap.Int("staged_sessions", sessions.Len()))
}
