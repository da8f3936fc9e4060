package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yashrajoria/resibuy-backend/services/common/events"
	"github.com/yashrajoria/resibuy-backend/services/order-service/models"
)

var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrVoucherUnavailable = errors.New("voucher not found, inactive or used up")
)

// OrderRepository applies checkout and status changes. Every method may be
// called again with the same input and must leave the same state.
type OrderRepository interface {
	CreateOrders(ctx context.Context, msg events.CheckoutMessage) (models.CheckoutResult, error)
	UpdateStatus(ctx context.Context, update events.OrderStatusUpdate) (models.StatusResult, error)
	FindByCheckout(ctx context.Context, userID, checkoutID string) ([]models.Order, error)
}

type GormOrderRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db, now: time.Now}
}

// CreateOrders inserts one order per store in a single transaction. Rows that
// already exist are left untouched.
func (r *GormOrderRepository) CreateOrders(ctx context.Context, msg events.CheckoutMessage) (models.CheckoutResult, error) {
	orders := models.OrdersFromCheckout(msg, r.now().UTC())
	result := models.CheckoutResult{OrderIDs: make([]uuid.UUID, 0, len(orders))}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range orders {
			o := &orders[i]
			result.OrderIDs = append(result.OrderIDs, o.ID)

			res := tx.Omit(clause.Associations).
				Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
				Create(o)
			if res.Error != nil {
				return fmt.Errorf("insert order %s: %w", o.ID, res.Error)
			}
			if res.RowsAffected == 0 {
				continue
			}
			result.Created = true

			if len(o.OrderItems) > 0 {
				if err := tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
					Create(&o.OrderItems).Error; err != nil {
					return fmt.Errorf("insert items of order %s: %w", o.ID, err)
				}
			}
			if o.VoucherID != nil && *o.VoucherID != "" {
				if err := r.useVoucher(tx, *o.VoucherID, o); err != nil {
					return err
				}
			}
		}

		storeIDs := make([]string, 0, len(orders))
		for _, o := range orders {
			storeIDs = append(storeIDs, o.StoreID)
		}
		return tx.Model(&models.Store{}).
			Where("id IN ?", storeIDs).
			Distinct().
			Pluck("owner_id", &result.StoreOwnerIDs).Error
	})
	if err != nil {
		return models.CheckoutResult{}, err
	}
	return result, nil
}

func (r *GormOrderRepository) useVoucher(tx *gorm.DB, voucherID string, o *models.Order) error {
	usage := models.VoucherUsage{
		ID:        models.UsageIDFor(voucherID, o.ID),
		VoucherID: voucherID,
		OrderID:   o.ID,
		UserID:    o.UserID,
		CreatedAt: o.CreatedAt,
	}
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "voucher_id"}, {Name: "order_id"}},
		DoNothing: true,
	}).Create(&usage)
	if res.Error != nil {
		return fmt.Errorf("record voucher usage: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil
	}

	res = tx.Model(&models.Voucher{}).
		Where("id = ? AND is_active AND used_count < quantity", voucherID).
		UpdateColumn("used_count", gorm.Expr("used_count + ?", 1))
	if res.Error != nil {
		return fmt.Errorf("increment voucher %s: %w", voucherID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrVoucherUnavailable, voucherID)
	}
	return nil
}

// UpdateStatus overwrites status, reason and shipper. Terminal orders and
// updates that change nothing are left alone.
func (r *GormOrderRepository) UpdateStatus(ctx context.Context, update events.OrderStatusUpdate) (models.StatusResult, error) {
	orderID, err := uuid.Parse(update.OrderID)
	if err != nil {
		return models.StatusResult{}, fmt.Errorf("%w: %s", ErrOrderNotFound, update.OrderID)
	}

	var result models.StatusResult
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var order models.Order
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&order, "id = ?", orderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
			}
			return err
		}

		changes, res := statusChanges(&order, update)
		result = res
		if len(changes) == 0 {
			return nil
		}
		changes["updated_at"] = r.now().UTC()
		return tx.Model(&order).Updates(changes).Error
	})
	return result, err
}

// statusChanges computes the column updates for order and applies them to
// it in memory.
func statusChanges(order *models.Order, update events.OrderStatusUpdate) (map[string]any, models.StatusResult) {
	result := models.StatusResult{OrderID: order.ID, BuyerID: order.UserID, Status: order.Status}
	if order.ShipperID != nil {
		result.ShipperID = *order.ShipperID
	}
	if events.IsTerminalStatus(order.Status) {
		return nil, result
	}

	changes := map[string]any{}
	if update.OrderStatus != nil && *update.OrderStatus != order.Status {
		changes["status"] = *update.OrderStatus
		order.Status = *update.OrderStatus
		result.Status = order.Status
	}
	if update.ShipperID != nil && *update.ShipperID != result.ShipperID {
		changes["shipper_id"] = *update.ShipperID
		order.ShipperID = update.ShipperID
		result.ShipperID = *update.ShipperID
		result.ShipperAssigned = true
	}
	if len(changes) > 0 && update.Reason != order.Reason {
		changes["reason"] = update.Reason
		order.Reason = update.Reason
	}
	result.Changed = len(changes) > 0
	return changes, result
}

func (r *GormOrderRepository) FindByCheckout(ctx context.Context, userID, checkoutID string) ([]models.Order, error) {
	orders := []models.Order{}
	err := r.db.WithContext(ctx).
		Preload("OrderItems").
		Where("user_id = ? AND checkout_id = ?", userID, checkoutID).
		Order("created_at ASC").
		Find(&orders).Error
	return orders, err
}
