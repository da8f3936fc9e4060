package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	awspkg "github.com/yashrajoria/resibuy-backend/pkg/aws"
	"github.com/yashrajoria/resibuy-backend/services/common/database"
	"github.com/yashrajoria/resibuy-backend/services/common/events"
	"github.com/yashrajoria/resibuy-backend/services/common/messaging"
	"github.com/yashrajoria/resibuy-backend/services/notification-service/hub"
	"github.com/yashrajoria/resibuy-backend/services/order-service/kafka"
	"github.com/yashrajoria/resibuy-backend/services/order-service/services"
)

// Where checkouts and status updates are applied.
const (
	DownstreamDB     = "db"
	DownstreamHTTP   = "http"
	DownstreamMemory = "memory"
)

type Config struct {
	Port          string
	Env           string
	Messaging     messaging.Config
	CheckoutTopic string
	ProcessTopic  string

	DownstreamMode    string
	Postgres          database.PostgresConfig
	NotificationStore string
	OrderServiceURL   string
	CartServiceURL    string
	HTTPTimeout       time.Duration

	MaxDeliveryAttempts int
	NotificationTimeout time.Duration
	RedisURL            string
	LiveChannel         string

	CORSOrigins    []string
	MetricsEnabled bool
	LogGroup       string
}

// UsesPostgres reports whether anything needs the database.
func (c *Config) UsesPostgres() bool {
	return c.DownstreamMode == DownstreamDB || c.NotificationStore == "postgres"
}

func LoadConfig(logger *zap.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file, using process environment")
	}

	mcfg, err := messaging.LoadConfig("order-service")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:              getEnv("PORT", "8083"),
		Env:               getEnv("APP_ENV", "development"),
		Messaging:         mcfg,
		CheckoutTopic:     getEnv("CHECKOUT_TOPIC", events.DefaultCheckoutTopic),
		ProcessTopic:      getEnv("PROCESS_TOPIC", events.DefaultProcessTopic),
		DownstreamMode:    strings.ToLower(getEnv("DOWNSTREAM_MODE", DownstreamDB)),
		NotificationStore: strings.ToLower(getEnv("NOTIFICATION_STORE", "postgres")),
		OrderServiceURL:   getEnv("ORDER_SERVICE_URL", "http://order-service:8083"),
		CartServiceURL:    getEnv("CART_SERVICE_URL", "http://cart-service:8086"),
		RedisURL:          os.Getenv("REDIS_URL"),
		LiveChannel:       getEnv("LIVE_CHANNEL", hub.DefaultChannel),
		Postgres: database.PostgresConfig{
			User:     os.Getenv("POSTGRES_USER"),
			Password: os.Getenv("POSTGRES_PASSWORD"),
			DB:       os.Getenv("POSTGRES_DB"),
			Host:     os.Getenv("POSTGRES_HOST"),
			Port:     getEnv("POSTGRES_PORT", "5432"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
			TimeZone: getEnv("POSTGRES_TIMEZONE", "UTC"),
		},
		CORSOrigins:    splitList(os.Getenv("CORS_ORIGINS")),
		MetricsEnabled: os.Getenv("CLOUDWATCH_METRICS") == "true",
		LogGroup:       os.Getenv("CLOUDWATCH_LOG_GROUP"),
	}

	var errs []error
	if cfg.MaxDeliveryAttempts, err = strconv.Atoi(getEnv("MAX_DELIVERY_ATTEMPTS", strconv.Itoa(services.DefaultMaxAttempts))); err != nil || cfg.MaxDeliveryAttempts < 0 {
		errs = append(errs, fmt.Errorf("MAX_DELIVERY_ATTEMPTS must be a non-negative integer"))
	}
	if cfg.NotificationTimeout, err = getDuration("NOTIFICATION_TIMEOUT", 30*time.Second); err != nil {
		errs = append(errs, err)
	}
	if cfg.HTTPTimeout, err = getDuration("DOWNSTREAM_TIMEOUT", 10*time.Second); err != nil {
		errs = append(errs, err)
	}

	if os.Getenv("AWS_USE_SECRETS") == "true" {
		if awsCfg, err := awspkg.LoadAWSConfig(context.Background()); err == nil {
			sm := awspkg.NewSecretsClient(awsCfg)
			if err := cfg.Postgres.ApplySecret(context.Background(), sm, getEnv("DB_SECRET_NAME", "order/DB_CREDENTIALS")); err != nil {
				logger.Warn("could not read database secret, keeping env values", zap.Error(err))
			}
		}
	}

	switch cfg.DownstreamMode {
	case DownstreamDB, DownstreamMemory:
	case DownstreamHTTP:
		if cfg.OrderServiceURL == "" {
			errs = append(errs, fmt.Errorf("ORDER_SERVICE_URL is required for DOWNSTREAM_MODE=http"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown DOWNSTREAM_MODE %q", cfg.DownstreamMode))
	}
	if cfg.NotificationStore != "postgres" && cfg.NotificationStore != "memory" {
		errs = append(errs, fmt.Errorf("unknown NOTIFICATION_STORE %q", cfg.NotificationStore))
	}
	// poison messages can only be parked when the dead letter topics resolve
	consumed := []string{cfg.CheckoutTopic, cfg.ProcessTopic}
	deadLetters := []string{kafka.DeadLetterTopic(cfg.CheckoutTopic), kafka.DeadLetterTopic(cfg.ProcessTopic)}
	if err := cfg.Messaging.RequireTopics(consumed, deadLetters); err != nil {
		errs = append(errs, err)
	}
	if cfg.UsesPostgres() {
		if err := cfg.Postgres.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return cfg, errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
