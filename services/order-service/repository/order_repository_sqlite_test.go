package repositories_test

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/yashrajoria/resibuy-backend/services/common/events"
	"github.com/yashrajoria/resibuy-backend/services/order-service/models"
	repositories "github.com/yashrajoria/resibuy-backend/services/order-service/repository"
)

func newSQLiteDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.AllModels()...))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func TestGormRepository_RedeliveredCheckoutAppliesOnce(t *testing.T) {
	db := newSQLiteDB(t)
	require.NoError(t, db.Create(&models.Store{ID: "S", OwnerID: "owner-s"}).Error)
	require.NoError(t, db.Create(&models.Voucher{ID: "v1", Code: "SALE", Quantity: 5, IsActive: true}).Error)
	repo := repositories.NewGormOrderRepository(db)
	voucher := "v1"
	msg := checkout(&voucher)

	first, err := repo.CreateOrders(context.Background(), msg)
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.Equal(t, []string{"owner-s"}, first.StoreOwnerIDs)

	second, err := repo.CreateOrders(context.Background(), msg)
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.OrderIDs, second.OrderIDs)

	var orders, items, usages int64
	db.Model(&models.Order{}).Count(&orders)
	db.Model(&models.OrderItem{}).Count(&items)
	db.Model(&models.VoucherUsage{}).Count(&usages)
	assert.Equal(t, int64(1), orders)
	assert.Equal(t, int64(1), items)
	assert.Equal(t, int64(1), usages)

	var v models.Voucher
	require.NoError(t, db.First(&v, "id = ?", "v1").Error)
	assert.Equal(t, 1, v.UsedCount)
}

func TestGormRepository_UsedUpVoucherLeavesNothing(t *testing.T) {
	db := newSQLiteDB(t)
	require.NoError(t, db.Create(&models.Voucher{ID: "v1", Code: "LAST", Quantity: 1, UsedCount: 1, IsActive: true}).Error)
	repo := repositories.NewGormOrderRepository(db)
	voucher := "v1"

	_, err := repo.CreateOrders(context.Background(), checkout(&voucher))
	assert.ErrorIs(t, err, repositories.ErrVoucherUnavailable)

	var orders int64
	db.Model(&models.Order{}).Count(&orders)
	assert.Zero(t, orders)
}

func TestGormRepository_StatusLifecycle(t *testing.T) {
	db := newSQLiteDB(t)
	repo := repositories.NewGormOrderRepository(db)
	res, err := repo.CreateOrders(context.Background(), checkout(nil))
	require.NoError(t, err)
	id := res.OrderIDs[0].String()

	shipped := events.StatusShipped
	shipper := "shipper-9"
	upd, err := repo.UpdateStatus(context.Background(), events.OrderStatusUpdate{UserID: "seller-1", OrderID: id, OrderStatus: &shipped, ShipperID: &shipper})
	require.NoError(t, err)
	assert.True(t, upd.Changed)
	assert.True(t, upd.ShipperAssigned)

	upd, err = repo.UpdateStatus(context.Background(), events.OrderStatusUpdate{UserID: "seller-1", OrderID: id, OrderStatus: &shipped, ShipperID: &shipper})
	require.NoError(t, err)
	assert.False(t, upd.Changed, "repeating an update changes nothing")

	delivered := events.StatusDelivered
	_, err = repo.UpdateStatus(context.Background(), events.OrderStatusUpdate{UserID: "shipper-9", OrderID: id, OrderStatus: &delivered})
	require.NoError(t, err)

	cancelled := events.StatusCancelled
	upd, err = repo.UpdateStatus(context.Background(), events.OrderStatusUpdate{UserID: "u1", OrderID: id, OrderStatus: &cancelled, Reason: "too late"})
	require.NoError(t, err)
	assert.False(t, upd.Changed)
	assert.Equal(t, events.StatusDelivered, upd.Status)

	orders, err := repo.FindByCheckout(context.Background(), "u1", "co-1")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, events.StatusDelivered, orders[0].Status)
	require.NotNil(t, orders[0].ShipperID)
	assert.Equal(t, "shipper-9", *orders[0].ShipperID)
	assert.Len(t, orders[0].OrderItems, 1)
}
