package db

import (
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/yashrajoria/resibuy-backend/services/common/database"
	notifymodels "github.com/yashrajoria/resibuy-backend/services/notification-service/models"
	"github.com/yashrajoria/resibuy-backend/services/order-service/models"
)

// Connect opens the worker's database and migrates the tables it writes:
// orders when it applies checkouts itself, notifications when it records
// them.
func Connect(cfg database.PostgresConfig, logger *zap.Logger, orders, notifications bool) (*gorm.DB, error) {
	var tables []any
	if orders {
		tables = append(tables, models.AllModels()...)
	}
	if notifications {
		tables = append(tables, &notifymodels.NotificationRecord{})
	}
	return database.ConnectPostgres(cfg, logger, tables...)
}

func Close(db *gorm.DB) error {
	return database.Close(db)
}
