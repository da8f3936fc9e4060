package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/time/rate"

	"github.com/yashrajoria/resibuy-backend/pkg/sessioncache"
	"github.com/yashrajoria/resibuy-backend/services/common/events"
	"github.com/yashrajoria/resibuy-backend/services/common/messaging"
)

type Config struct {
	Port           string
	Env            string
	RedisURL       string
	Messaging      messaging.Config
	Topics         map[string]string
	SessionTTL     time.Duration
	IdempotencyTTL time.Duration
	CheckoutRate   rate.Limit
	CheckoutBurst  int
	CORSOrigins    []string
	MetricsEnabled bool
	LogGroup       string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	mcfg, err := messaging.LoadConfig("cart-service")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:      getEnv("PORT", "8086"),
		Env:       getEnv("APP_ENV", "development"),
		RedisURL:  getEnv("REDIS_URL", "redis://redis:6379"),
		Messaging: mcfg,
		Topics: map[string]string{
			events.RouteCheckout: getEnv("CHECKOUT_TOPIC", events.DefaultCheckoutTopic),
			events.RouteProcess:  getEnv("PROCESS_TOPIC", events.DefaultProcessTopic),
		},
		CORSOrigins:    splitList(os.Getenv("CORS_ORIGINS")),
		MetricsEnabled: os.Getenv("CLOUDWATCH_METRICS") == "true",
		LogGroup:       os.Getenv("CLOUDWATCH_LOG_GROUP"),
	}

	var errs []error
	if cfg.SessionTTL, err = getDuration("SESSION_TTL", sessioncache.DefaultTTL); err != nil {
		errs = append(errs, err)
	}
	if cfg.IdempotencyTTL, err = getDuration("IDEMPOTENCY_TTL", 24*time.Hour); err != nil {
		errs = append(errs, err)
	}
	rps, err := strconv.ParseFloat(getEnv("CHECKOUT_RATE_PER_SEC", "2"), 64)
	if err != nil {
		errs = append(errs, fmt.Errorf("CHECKOUT_RATE_PER_SEC: %w", err))
	}
	cfg.CheckoutRate = rate.Limit(rps)
	if cfg.CheckoutBurst, err = strconv.Atoi(getEnv("CHECKOUT_BURST", "5")); err != nil {
		errs = append(errs, fmt.Errorf("CHECKOUT_BURST: %w", err))
	}
	if cfg.SessionTTL <= 0 {
		errs = append(errs, fmt.Errorf("SESSION_TTL must be positive"))
	}
	published := []string{cfg.Topics[events.RouteCheckout], cfg.Topics[events.RouteProcess]}
	if err := cfg.Messaging.RequireTopics(nil, published); err != nil {
		errs = append(errs, err)
	}
	return cfg, errors.Join(errs...)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultVal, nil
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
