package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yashrajoria/resibuy-backend/services/common/events"
)

// orderNamespace seeds the name-based order ids. Changing it changes every
// derived id, so it is fixed.
var orderNamespace = uuid.MustParse("6f1c9b52-4a0e-4c1e-9d0b-2b7f3f0c8a11")

type Order struct {
	ID            uuid.UUID   `json:"id" gorm:"type:uuid;primaryKey"`
	CheckoutID    string      `json:"checkout_id" gorm:"type:varchar(64);not null;index"`
	UserID        string      `json:"user_id" gorm:"type:varchar(64);not null;index"`
	StoreID       string      `json:"store_id" gorm:"type:varchar(64);not null;index"`
	AddressID     string      `json:"address_id" gorm:"type:varchar(64);not null"`
	PaymentMethod string      `json:"payment_method" gorm:"type:varchar(20);not null"`
	VoucherID     *string     `json:"voucher_id,omitempty" gorm:"type:varchar(64)"`
	Note          string      `json:"note"`
	TotalPrice    float64     `json:"total_price" gorm:"type:numeric(14,2);not null"`
	Status        string      `json:"status" gorm:"type:varchar(20);not null"`
	Reason        string      `json:"reason,omitempty"`
	ShipperID     *string     `json:"shipper_id,omitempty" gorm:"type:varchar(64);index"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
	OrderItems    []OrderItem `json:"items" gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
}

type OrderItem struct {
	ID              uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	OrderID         uuid.UUID `json:"order_id" gorm:"type:uuid;not null;index"`
	ProductDetailID int64     `json:"product_detail_id" gorm:"not null"`
	Quantity        int       `json:"quantity" gorm:"not null"`
	Price           float64   `json:"price" gorm:"type:numeric(14,2);not null"`
}

// Store is read only here; it tells the worker who to notify about a new order.
type Store struct {
	ID      string `gorm:"type:varchar(64);primaryKey"`
	OwnerID string `gorm:"type:varchar(64);not null"`
}

type Voucher struct {
	ID        string `gorm:"type:varchar(64);primaryKey"`
	Code      string `gorm:"type:varchar(50);uniqueIndex"`
	Quantity  int    `gorm:"not null"`
	UsedCount int    `gorm:"not null"`
	IsActive  bool   `gorm:"not null"`
}

// VoucherUsage records that an order consumed a voucher. The unique pair
// keeps redelivered checkouts from counting twice.
type VoucherUsage struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	VoucherID string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_voucher_order"`
	OrderID   uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_voucher_order"`
	UserID    string    `gorm:"type:varchar(64);not null"`
	CreatedAt time.Time
}

// OrderIDFor is the order id for one store's part of a checkout. The same
// checkout always maps to the same ids.
func OrderIDFor(checkoutID, storeID string) uuid.UUID {
	return uuid.NewSHA1(orderNamespace, []byte(checkoutID+":"+storeID))
}

func itemID(orderID uuid.UUID, index int) uuid.UUID {
	return uuid.NewSHA1(orderID, []byte(fmt.Sprintf("item:%d", index)))
}

// UsageIDFor is the voucher usage row id for an order.
func UsageIDFor(voucherID string, orderID uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(orderID, []byte("voucher:"+voucherID))
}

// DeriveCheckoutID names a checkout that arrived without an id after the
// SHA-256 of its canonical JSON.
func DeriveCheckoutID(payload []byte) (string, error) {
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return "", err
	}
	canonical, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:16]), nil
}

// OrdersFromCheckout splits a checkout into one pending order per store.
func OrdersFromCheckout(msg events.CheckoutMessage, now time.Time) []Order {
	orders := make([]Order, 0, len(msg.Orders))
	for _, so := range msg.Orders {
		id := OrderIDFor(msg.CheckoutID, so.StoreID)
		items := make([]OrderItem, 0, len(so.Items))
		for i, it := range so.Items {
			items = append(items, OrderItem{
				ID:              itemID(id, i),
				OrderID:         id,
				ProductDetailID: it.ProductDetailID,
				Quantity:        it.Quantity,
				Price:           it.Price,
			})
		}
		orders = append(orders, Order{
			ID:            id,
			CheckoutID:    msg.CheckoutID,
			UserID:        msg.UserID,
			StoreID:       so.StoreID,
			AddressID:     msg.AddressID,
			PaymentMethod: msg.PaymentMethod,
			VoucherID:     so.VoucherID,
			Note:          so.Note,
			TotalPrice:    so.TotalPrice,
			Status:        events.StatusPending,
			CreatedAt:     now,
			UpdatedAt:     now,
			OrderItems:    items,
		})
	}
	return orders
}

// CheckoutResult is what applying a checkout produced.
type CheckoutResult struct {
	OrderIDs      []uuid.UUID `json:"order_ids"`
	StoreOwnerIDs []string    `json:"store_owner_ids"`
	// Created is false when every order already existed.
	Created bool `json:"created"`
}

type StatusResult struct {
	OrderID   uuid.UUID `json:"order_id"`
	BuyerID   string    `json:"buyer_id"`
	Status    string    `json:"status"`
	ShipperID string    `json:"shipper_id,omitempty"`
	// Changed is false for terminal orders and repeated updates.
	Changed bool `json:"changed"`
	// ShipperAssigned is true when this update set a new shipper.
	ShipperAssigned bool `json:"shipper_assigned"`
}

func AllModels() []any {
	return []any{&Order{}, &OrderItem{}, &Store{}, &Voucher{}, &VoucherUsage{}}
}
