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
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	awspkg "github.com/yashrajoria/resibuy-backend/pkg/aws"
	apperrors "github.com/yashrajoria/resibuy-backend/services/common/errors"
	"github.com/yashrajoria/resibuy-backend/services/common/logger"
	"github.com/yashrajoria/resibuy-backend/services/common/messaging"
	"github.com/yashrajoria/resibuy-backend/services/common/middleware"
	"github.com/yashrajoria/resibuy-backend/services/notification-service/hub"
	notifyrepo "github.com/yashrajoria/resibuy-backend/services/notification-service/repository"
	notifysvc "github.com/yashrajoria/resibuy-backend/services/notification-service/services"
	"github.com/yashrajoria/resibuy-backend/services/order-service/clients"
	"github.com/yashrajoria/resibuy-backend/services/order-service/controllers"
	db "github.com/yashrajoria/resibuy-backend/services/order-service/database"
	"github.com/yashrajoria/resibuy-backend/services/order-service/kafka"
	repositories "github.com/yashrajoria/resibuy-backend/services/order-service/repository"
	"github.com/yashrajoria/resibuy-backend/services/order-service/routes"
	"github.com/yashrajoria/resibuy-backend/services/order-service/services"
)

const serviceName = "order-service"

func main() {
	bootLogger := logger.Must(os.Getenv("APP_ENV"), nil)

	cfg, err := LoadConfig(bootLogger)
	if err != nil {
		bootLogger.Fatal("Config load failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var sink io.Writer
	var metricsClient *awspkg.MetricsClient
	if awsCfg, err := awspkg.LoadAWSConfig(ctx); err != nil {
		bootLogger.Warn("AWS config unavailable, CloudWatch disabled (non-fatal)", zap.Error(err))
	} else {
		metricsClient = awspkg.NewMetricsClient(awsCfg, "", cfg.MetricsEnabled)
		if cfg.LogGroup != "" {
			if cw, err := awspkg.NewCloudWatchLogsClient(ctx, awsCfg, cfg.LogGroup, serviceName); err != nil {
				bootLogger.Warn("CloudWatch Logs init failed (non-fatal)", zap.Error(err))
			} else {
				sink = cw
			}
		}
	}

	log := logger.Must(cfg.Env, sink)
	defer log.Sync()

	var gdb *gorm.DB
	if cfg.UsesPostgres() {
		gdb, err = db.Connect(cfg.Postgres, log, cfg.DownstreamMode == DownstreamDB, cfg.NotificationStore == "postgres")
		if err != nil {
			log.Fatal("DB connection failed", zap.Error(err))
		}
	}

	// orderRepo stays nil when another service owns the orders.
	var (
		orderRepo repositories.OrderRepository
		mutator   services.OrderMutator
	)
	switch cfg.DownstreamMode {
	case DownstreamDB:
		repo := repositories.NewGormOrderRepository(gdb)
		orderRepo, mutator = repo, repo
	case DownstreamMemory:
		log.Warn("Using in-memory orders, nothing survives a restart")
		repo := repositories.NewMemoryOrderRepository()
		orderRepo, mutator = repo, repo
	case DownstreamHTTP:
		mutator = clients.NewOrderClient(cfg.OrderServiceURL, cfg.HTTPTimeout, log)
	}

	var notifications notifyrepo.NotificationRepository
	if cfg.NotificationStore == "postgres" {
		notifications = notifyrepo.NewNotificationRepository(gdb)
	} else {
		notifications = notifyrepo.NewMemoryNotificationRepository()
	}

	var live notifysvc.LivePusher
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatal("Invalid REDIS_URL", zap.Error(err))
		}
		redisClient := redis.NewClient(opts)
		defer redisClient.Close()
		live = hub.NewRedisBackplane(redisClient, cfg.LiveChannel, log)
	} else {
		log.Warn("REDIS_URL not set, live events stay inside this process")
		live = hub.New(log)
	}
	dispatcher := notifysvc.NewDispatcher(notifications, live, log, cfg.NotificationTimeout)

	subscriber, err := messaging.NewSubscriber(ctx, cfg.Messaging, log)
	if err != nil {
		log.Fatal("Broker subscriber init failed", zap.Error(err), zap.String("driver", cfg.Messaging.Driver))
	}
	publisher, err := messaging.NewPublisher(ctx, cfg.Messaging, log)
	if err != nil {
		log.Fatal("Broker publisher init failed", zap.Error(err), zap.String("driver", cfg.Messaging.Driver))
	}
	deadLetters := kafka.NewDeadLetterProducer(publisher, log)

	consumer := services.NewCheckoutConsumer(subscriber, deadLetters, log,
		services.WithMaxAttempts(cfg.MaxDeliveryAttempts),
		services.WithMetrics(metricsClient),
	)
	handlers := services.NewOrderHandlers(
		mutator,
		clients.NewCartClient(cfg.CartServiceURL, cfg.HTTPTimeout, log),
		dispatcher,
		metricsClient,
		log,
	)
	handlers.Register(consumer, cfg.CheckoutTopic, cfg.ProcessTopic)

	var worker sync.WaitGroup
	worker.Add(1)
	go func() {
		defer worker.Done()
		if err := consumer.Run(ctx); err != nil {
			log.Error("Consumer stopped with error", zap.Error(err))
			stop()
		}
	}()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(log))
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(middleware.Metrics(metricsClient, serviceName))
	r.Use(apperrors.ErrorMiddleware())

	if orderRepo != nil {
		routes.RegisterOrderRoutes(r, controllers.NewOrderController(orderRepo, log))
	} else {
		routes.RegisterHealth(r)
	}

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		log.Info("Order service started",
			zap.String("port", cfg.Port),
			zap.String("broker", cfg.Messaging.Driver),
			zap.String("downstream", cfg.DownstreamMode),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown error", zap.Error(err))
	}

	worker.Wait()
	dispatcher.Wait()
	if err := deadLetters.Close(); err != nil {
		log.Error("Dead-letter producer close error", zap.Error(err))
	}
	if err := db.Close(gdb); err != nil {
		log.Error("Database close error", zap.Error(err))
	}
	log.Info("Order service stopped")
}
