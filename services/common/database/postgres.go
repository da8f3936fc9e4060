package database

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type PostgresConfig struct {
	User     string
	Password string
	DB       string
	Host     string
	Port     string
	SSLMode  string
	TimeZone string
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
		c.Host, c.User, c.Password, c.DB, c.Port, c.SSLMode, c.TimeZone,
	)
}

func (c PostgresConfig) Validate() error {
	if c.User == "" || c.Password == "" || c.DB == "" || c.Host == "" {
		return fmt.Errorf("database config incomplete: POSTGRES_USER, POSTGRES_PASSWORD, POSTGRES_DB and POSTGRES_HOST are required")
	}
	return nil
}

// SecretMapper reads a JSON object secret as flat strings.
type SecretMapper interface {
	GetSecretMap(ctx context.Context, name string) (map[string]string, error)
}

// secretKeys maps both the service's own key names and the RDS managed
// secret layout onto the connection fields.
var secretKeys = map[string][]string{
	"user":     {"POSTGRES_USER", "username"},
	"password": {"POSTGRES_PASSWORD", "password"},
	"db":       {"POSTGRES_DB", "dbname"},
	"host":     {"POSTGRES_HOST", "host"},
	"port":     {"POSTGRES_PORT", "port"},
}

// ApplySecret overrides the connection fields present in a Secrets Manager
// JSON secret.
func (c *PostgresConfig) ApplySecret(ctx context.Context, sm SecretMapper, name string) error {
	m, err := sm.GetSecretMap(ctx, name)
	if err != nil {
		return err
	}
	fields := map[string]*string{
		"user":     &c.User,
		"password": &c.Password,
		"db":       &c.DB,
		"host":     &c.Host,
		"port":     &c.Port,
	}
	for field, keys := range secretKeys {
		for _, k := range keys {
			if v := m[k]; v != "" {
				*fields[field] = v
				break
			}
		}
	}
	return nil
}

// ConnectPostgres opens the pool, retrying with a growing delay while the
// database comes up, and migrates models.
func ConnectPostgres(cfg PostgresConfig, logger *zap.Logger, models ...interface{}) (*gorm.DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var db *gorm.DB
	var err error
	for i := 0; i < 10; i++ {
		db, err = gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		})
		if err == nil {
			sqlDB, poolErr := db.DB()
			if poolErr == nil {
				sqlDB.SetMaxOpenConns(25)
				sqlDB.SetMaxIdleConns(5)
				sqlDB.SetConnMaxLifetime(5 * time.Minute)
			}
			logger.Info("Connected to PostgreSQL", zap.String("host", cfg.Host), zap.String("db", cfg.DB))

			if len(models) > 0 {
				if err := db.AutoMigrate(models...); err != nil {
					return nil, fmt.Errorf("AutoMigrate failed: %w", err)
				}
			}
			return db, nil
		}

		logger.Warn("DB connection failed, retrying", zap.Int("attempt", i+1), zap.Error(err))
		time.Sleep(time.Duration(i+1) * 2 * time.Second)
	}
	return nil, fmt.Errorf("failed to connect to PostgreSQL after retries: %w", err)
}

func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	return sqlDB.Close()
}
