package models

import (
	"github.com/yashrajoria/resibuy-backend/services/common/events"
)

// CheckoutRequest is the body of POST /cart/checkout. The user id comes from
// the auth headers, never from the body.
type CheckoutRequest struct {
	AddressID     string              `json:"addressId" binding:"required"`
	PaymentMethod string              `json:"paymentMethod" binding:"required,oneof=COD BANKING"`
	GrandTotal    float64             `json:"grandTotal" binding:"gte=0"`
	Orders        []events.StoreOrder `json:"orders" binding:"required,min=1,dive"`
}

func (r CheckoutRequest) Message(checkoutID, userID string) events.CheckoutMessage {
	return events.CheckoutMessage{
		CheckoutID:    checkoutID,
		UserID:        userID,
		AddressID:     r.AddressID,
		PaymentMethod: r.PaymentMethod,
		GrandTotal:    r.GrandTotal,
		Orders:        r.Orders,
	}
}

type CheckoutAccepted struct {
	CheckoutID string `json:"checkout_id"`
	Status     string `json:"status"`
	Replayed   bool   `json:"replayed,omitempty"`
}

const CheckoutQueued = "QUEUED"

// StatusUpdateRequest is the body of PUT /orders/:id/status.
type StatusUpdateRequest struct {
	UserID      string  `json:"userId" binding:"required"`
	OrderStatus *string `json:"orderStatus"`
	Reason      string  `json:"reason"`
	ShipperID   *string `json:"shipperId"`
}

type ResetCartRequest struct {
	UserID string `json:"userId" binding:"required"`
}
