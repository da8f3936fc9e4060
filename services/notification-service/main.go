package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	awspkg "github.com/yashrajoria/resibuy-backend/pkg/aws"
	"github.com/yashrajoria/resibuy-backend/services/common/database"
	apperrors "github.com/yashrajoria/resibuy-backend/services/common/errors"
	"github.com/yashrajoria/resibuy-backend/services/common/logger"
	"github.com/yashrajoria/resibuy-backend/services/common/middleware"
	"github.com/yashrajoria/resibuy-backend/services/notification-service/config"
	"github.com/yashrajoria/resibuy-backend/services/notification-service/controllers"
	"github.com/yashrajoria/resibuy-backend/services/notification-service/hub"
	"github.com/yashrajoria/resibuy-backend/services/notification-service/models"
	"github.com/yashrajoria/resibuy-backend/services/notification-service/repository"
	"github.com/yashrajoria/resibuy-backend/services/notification-service/routes"
	"github.com/yashrajoria/resibuy-backend/services/notification-service/services"
)

const serviceName = "notification-service"

func main() {
	bootLogger := logger.Must(os.Getenv("APP_ENV"), nil)

	cfg, err := config.Load(bootLogger)
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
			cwLogs, err := awspkg.NewCloudWatchLogsClient(ctx, awsCfg, cfg.LogGroup, serviceName)
			if err != nil {
				bootLogger.Warn("CloudWatch Logs init failed (non-fatal)", zap.Error(err))
			} else {
				sink = cwLogs
			}
		}
	}

	log := logger.Must(cfg.Env, sink)
	defer log.Sync()

	var (
		repo repository.NotificationRepository
		db   *gorm.DB
	)
	switch cfg.Store {
	case config.StorePostgres:
		db, err = database.ConnectPostgres(cfg.Postgres, log, &models.NotificationRecord{})
		if err != nil {
			log.Fatal("DB connection failed", zap.Error(err))
		}
		repo = repository.NewNotificationRepository(db)
	default:
		log.Warn("Using in-memory notification store, records are lost on restart")
		repo = repository.NewMemoryNotificationRepository()
	}

	liveHub := hub.New(log)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatal("Invalid REDIS_URL", zap.Error(err))
		}
		redisClient := redis.NewClient(opts)
		defer redisClient.Close()

		backplane := hub.NewRedisBackplane(redisClient, cfg.LiveChannel, log)
		go func() {
			if err := backplane.Relay(ctx, liveHub); err != nil {
				log.Error("Live backplane relay stopped", zap.Error(err))
			}
		}()
	} else {
		log.Info("REDIS_URL not set, live events are only delivered from this process")
	}

	notificationService := services.NewNotificationService(repo, log)
	notificationController := controllers.NewNotificationController(notificationService, liveHub, cfg.Heartbeat, log)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(log))
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(splitOrigins(os.Getenv("CORS_ORIGINS"))))
	r.Use(middleware.Metrics(metricsClient, serviceName))
	r.Use(apperrors.ErrorMiddleware())

	routes.RegisterRoutes(r, notificationController)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		log.Info("Notification service started", zap.String("port", cfg.Port), zap.String("store", cfg.Store))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("Initiating graceful shutdown...")

	// Open streams only end when their request context does, so Shutdown
	// gets a bounded window.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown error", zap.Error(err))
	}

	if err := database.Close(db); err != nil {
		log.Error("Database close error", zap.Error(err))
	}

	log.Info("Notification service stopped gracefully")
}

func splitOrigins(raw string) []string {
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
