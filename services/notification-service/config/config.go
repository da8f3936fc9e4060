package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	awspkg "github.com/yashrajoria/resibuy-backend/pkg/aws"
	"github.com/yashrajoria/resibuy-backend/services/common/database"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

type Config struct {
	Port        string
	Env         string
	Store       string
	Postgres    database.PostgresConfig
	RedisURL    string
	LiveChannel string
	Heartbeat   time.Duration

	MetricsEnabled bool
	LogGroup       string
}

func Load(logger *zap.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file, using process environment")
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8089"),
		Env:         getEnv("APP_ENV", "development"),
		Store:       getEnv("NOTIFICATION_STORE", StorePostgres),
		RedisURL:    os.Getenv("REDIS_URL"),
		LiveChannel: getEnv("LIVE_CHANNEL", "resibuy:notifications:live"),
		Heartbeat:   getDuration("SSE_HEARTBEAT", 25*time.Second),
		Postgres: database.PostgresConfig{
			User:     os.Getenv("POSTGRES_USER"),
			Password: os.Getenv("POSTGRES_PASSWORD"),
			DB:       os.Getenv("POSTGRES_DB"),
			Host:     os.Getenv("POSTGRES_HOST"),
			Port:     getEnv("POSTGRES_PORT", "5432"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
			TimeZone: getEnv("POSTGRES_TIMEZONE", "UTC"),
		},
		MetricsEnabled: os.Getenv("CLOUDWATCH_METRICS") == "true",
		LogGroup:       os.Getenv("CLOUDWATCH_LOG_GROUP"),
	}

	if os.Getenv("AWS_USE_SECRETS") == "true" {
		awsCfg, err := awspkg.LoadAWSConfig(context.Background())
		if err != nil {
			return nil, err
		}
		sm := awspkg.NewSecretsClient(awsCfg)
		if err := cfg.Postgres.ApplySecret(context.Background(), sm, getEnv("DB_SECRET_NAME", "notification/DB_CREDENTIALS")); err != nil {
			logger.Warn("could not read database secret, keeping env values", zap.Error(err))
		}
	}

	switch cfg.Store {
	case StoreMemory:
	case StorePostgres:
		if err := cfg.Postgres.Validate(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown NOTIFICATION_STORE %q", cfg.Store)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
