package repositories

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yashrajoria/resibuy-backend/services/common/events"
	"github.com/yashrajoria/resibuy-backend/services/order-service/models"
)

// MemoryOrderRepository follows the same idempotency rules as the gorm
// repository without a database.
type MemoryOrderRepository struct {
	mu       sync.Mutex
	orders   map[uuid.UUID]models.Order
	stores   map[string]string
	vouchers map[string]*models.Voucher
	usages   map[string]bool
	now      func() time.Time
}

func NewMemoryOrderRepository() *MemoryOrderRepository {
	return &MemoryOrderRepository{
		orders:   make(map[uuid.UUID]models.Order),
		stores:   make(map[string]string),
		vouchers: make(map[string]*models.Voucher),
		usages:   make(map[string]bool),
		now:      time.Now,
	}
}

func (r *MemoryOrderRepository) AddStore(storeID, ownerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stores[storeID] = ownerID
}

func (r *MemoryOrderRepository) AddVoucher(v models.Voucher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.vouchers[v.ID] = &v
}

func (r *MemoryOrderRepository) Voucher(id string) (models.Voucher, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.vouchers[id]
	if !ok {
		return models.Voucher{}, false
	}
	return *v, true
}

func (r *MemoryOrderRepository) CreateOrders(ctx context.Context, msg events.CheckoutMessage) (models.CheckoutResult, error) {
	orders := models.OrdersFromCheckout(msg, r.now().UTC())

	r.mu.Lock()
	defer r.mu.Unlock()

	// check vouchers first so a rejected checkout leaves nothing behind
	pending := map[string]int{}
	for _, o := range orders {
		if _, exists := r.orders[o.ID]; exists || o.VoucherID == nil || *o.VoucherID == "" {
			continue
		}
		if r.usages[usageKey(*o.VoucherID, o.ID)] {
			continue
		}
		v, ok := r.vouchers[*o.VoucherID]
		pending[*o.VoucherID]++
		if !ok || !v.IsActive || v.UsedCount+pending[*o.VoucherID] > v.Quantity {
			return models.CheckoutResult{}, fmt.Errorf("%w: %s", ErrVoucherUnavailable, *o.VoucherID)
		}
	}

	result := models.CheckoutResult{}
	owners := map[string]bool{}
	for _, o := range orders {
		result.OrderIDs = append(result.OrderIDs, o.ID)
		if owner, ok := r.stores[o.StoreID]; ok && !owners[owner] {
			owners[owner] = true
			result.StoreOwnerIDs = append(result.StoreOwnerIDs, owner)
		}
		if _, exists := r.orders[o.ID]; exists {
			continue
		}
		r.orders[o.ID] = o
		result.Created = true
		if o.VoucherID != nil && *o.VoucherID != "" && !r.usages[usageKey(*o.VoucherID, o.ID)] {
			r.usages[usageKey(*o.VoucherID, o.ID)] = true
			r.vouchers[*o.VoucherID].UsedCount++
		}
	}
	return result, nil
}

func usageKey(voucherID string, orderID uuid.UUID) string {
	return voucherID + "/" + orderID.String()
}

func (r *MemoryOrderRepository) UpdateStatus(ctx context.Context, update events.OrderStatusUpdate) (models.StatusResult, error) {
	id, err := uuid.Parse(update.OrderID)
	if err != nil {
		return models.StatusResult{}, fmt.Errorf("%w: %s", ErrOrderNotFound, update.OrderID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[id]
	if !ok {
		return models.StatusResult{}, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	changes, result := statusChanges(&order, update)
	if len(changes) > 0 {
		order.UpdatedAt = r.now().UTC()
		r.orders[id] = order
	}
	return result, nil
}

func (r *MemoryOrderRepository) FindByCheckout(ctx context.Context, userID, checkoutID string) ([]models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []models.Order{}
	for _, o := range r.orders {
		if o.UserID == userID && o.CheckoutID == checkoutID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StoreID < out[j].StoreID })
	return out, nil
}

// Orders returns a copy of every stored order.
func (r *MemoryOrderRepository) Orders() []models.Order {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Order, 0, len(r.orders))
	for _, o := range r.orders {
		out = append(out, o)
	}
	return out
}
