// Package events holds the message contracts shared by the checkout producer
// and the order worker.
package events

import (
	"errors"
	"fmt"
	"strings"
)

// Routing keys understood by the checkout producer.
const (
	RouteCheckout = "checkout"
	RouteProcess  = "process"

	DefaultCheckoutTopic = "checkout-topic"
	DefaultProcessTopic  = "process-topic"
)

const (
	PaymentCOD     = "COD"
	PaymentBanking = "BANKING"
)

// Order statuses carried by OrderStatusUpdate.
const (
	StatusPending    = "Pending"
	StatusProcessing = "Processing"
	StatusShipped    = "Shipped"
	StatusDelivered  = "Delivered"
	StatusCancelled  = "Cancelled"
	StatusReported   = "Reported"
)

var validStatuses = map[string]bool{
	StatusPending:    true,
	StatusProcessing: true,
	StatusShipped:    true,
	StatusDelivered:  true,
	StatusCancelled:  true,
	StatusReported:   true,
}

func IsTerminalStatus(s string) bool {
	return s == StatusDelivered || s == StatusCancelled
}

type OrderItem struct {
	ProductDetailID int64   `json:"productDetailId" binding:"required,gt=0"`
	Quantity        int     `json:"quantity" binding:"required,min=1"`
	Price           float64 `json:"price" binding:"gte=0"`
}

type StoreOrder struct {
	StoreID    string      `json:"storeId" binding:"required"`
	VoucherID  *string     `json:"voucherId,omitempty"`
	Note       string      `json:"note"`
	TotalPrice float64     `json:"totalPrice" binding:"gte=0"`
	Items      []OrderItem `json:"items" binding:"required,min=1,dive"`
}

// CheckoutMessage is published once per checkout submission and may be
// consumed more than once.
type CheckoutMessage struct {
	CheckoutID    string       `json:"checkoutId,omitempty"`
	UserID        string       `json:"userId"`
	AddressID     string       `json:"addressId"`
	PaymentMethod string       `json:"paymentMethod"`
	GrandTotal    float64      `json:"grandTotal"`
	Orders        []StoreOrder `json:"orders"`
}

// PartitionKey keeps one user's messages on one partition.
func (m CheckoutMessage) PartitionKey() string {
	return m.UserID
}

// ErrInvalidMessage marks a payload that can never be processed.
var ErrInvalidMessage = errors.New("invalid message")

// Validate checks the shape of a checkout. Totals are taken as given:
// vouchers and shipping make them differ from the item sums.
func (m CheckoutMessage) Validate() error {
	var problems []string
	if m.UserID == "" {
		problems = append(problems, "userId is required")
	}
	if m.AddressID == "" {
		problems = append(problems, "addressId is required")
	}
	if m.PaymentMethod != PaymentCOD && m.PaymentMethod != PaymentBanking {
		problems = append(problems, fmt.Sprintf("paymentMethod %q is not supported", m.PaymentMethod))
	}
	if len(m.Orders) == 0 {
		problems = append(problems, "at least one order is required")
	}
	if m.GrandTotal < 0 {
		problems = append(problems, "grandTotal must not be negative")
	}
	// one order per store: order ids are derived from checkoutId and storeId
	seen := make(map[string]int, len(m.Orders))
	for i, o := range m.Orders {
		if o.StoreID == "" {
			problems = append(problems, fmt.Sprintf("orders[%d].storeId is required", i))
		} else if first, dup := seen[o.StoreID]; dup {
			problems = append(problems, fmt.Sprintf("orders[%d].storeId %q repeats orders[%d]", i, o.StoreID, first))
		} else {
			seen[o.StoreID] = i
		}
		if len(o.Items) == 0 {
			problems = append(problems, fmt.Sprintf("orders[%d] has no items", i))
		}
		if o.TotalPrice < 0 {
			problems = append(problems, fmt.Sprintf("orders[%d].totalPrice must not be negative", i))
		}
		for j, it := range o.Items {
			if it.Quantity < 1 {
				problems = append(problems, fmt.Sprintf("orders[%d].items[%d].quantity must be at least 1", i, j))
			}
			if it.Price < 0 {
				problems = append(problems, fmt.Sprintf("orders[%d].items[%d].price must not be negative", i, j))
			}
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidMessage, strings.Join(problems, "; "))
	}
	return nil
}

// OrderStatusUpdate travels on the process topic.
type OrderStatusUpdate struct {
	UserID      string  `json:"userId"`
	OrderID     string  `json:"orderId"`
	OrderStatus *string `json:"orderStatus,omitempty"`
	Reason      string  `json:"reason"`
	ShipperID   *string `json:"shipperId,omitempty"`
}

func (u OrderStatusUpdate) PartitionKey() string {
	return u.UserID
}

func (u OrderStatusUpdate) Validate() error {
	var problems []string
	if u.UserID == "" {
		problems = append(problems, "userId is required")
	}
	if u.OrderID == "" {
		problems = append(problems, "orderId is required")
	}
	if u.OrderStatus == nil && u.ShipperID == nil {
		problems = append(problems, "orderStatus or shipperId is required")
	}
	if u.OrderStatus != nil && !validStatuses[*u.OrderStatus] {
		problems = append(problems, fmt.Sprintf("orderStatus %q is unknown", *u.OrderStatus))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidMessage, strings.Join(problems, "; "))
	}
	return nil
}
