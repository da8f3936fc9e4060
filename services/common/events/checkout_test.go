package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validCheckout() CheckoutMessage {
	return CheckoutMessage{
		CheckoutID:    "co-1",
		UserID:        "u1",
		AddressID:     "addr-1",
		PaymentMethod: PaymentCOD,
		GrandTotal:    150000,
		Orders: []StoreOrder{{
			StoreID: "S",
			Items:   []OrderItem{{ProductDetailID: 7, Quantity: 2, Price: 50000}},
		}},
	}
}

func TestCheckoutMessage_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(m *CheckoutMessage)
		want   string
	}{
		{"valid", func(m *CheckoutMessage) {}, ""},
		{"totals differ from items", func(m *CheckoutMessage) { m.Orders[0].TotalPrice = 1 }, ""},
		{"missing user", func(m *CheckoutMessage) { m.UserID = "" }, "userId is required"},
		{"unknown payment", func(m *CheckoutMessage) { m.PaymentMethod = "CARD" }, `paymentMethod "CARD"`},
		{"no orders", func(m *CheckoutMessage) { m.Orders = nil }, "at least one order"},
		{"no items", func(m *CheckoutMessage) { m.Orders[0].Items = nil }, "orders[0] has no items"},
		{"zero quantity", func(m *CheckoutMessage) { m.Orders[0].Items[0].Quantity = 0 }, "quantity must be at least 1"},
		{"negative grand total", func(m *CheckoutMessage) { m.GrandTotal = -1 }, "grandTotal must not be negative"},
		{"duplicate store", func(m *CheckoutMessage) {
			m.Orders = append(m.Orders, StoreOrder{StoreID: "S", Items: []OrderItem{{ProductDetailID: 8, Quantity: 3, Price: 30000}}})
		}, `orders[1].storeId "S" repeats orders[0]`},
		{"two stores", func(m *CheckoutMessage) {
			m.Orders = append(m.Orders, StoreOrder{StoreID: "T", Items: []OrderItem{{ProductDetailID: 8, Quantity: 3, Price: 30000}}})
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := validCheckout()
			tt.mutate(&m)
			err := m.Validate()
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidMessage)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestOrderStatusUpdate_Validate(t *testing.T) {
	shipped := StatusShipped
	unknown := "Lost"
	shipper := "shipper-1"

	assert.NoError(t, OrderStatusUpdate{UserID: "u", OrderID: "o", OrderStatus: &shipped}.Validate())
	assert.NoError(t, OrderStatusUpdate{UserID: "u", OrderID: "o", ShipperID: &shipper}.Validate())
	assert.ErrorIs(t, OrderStatusUpdate{UserID: "u", OrderID: "o"}.Validate(), ErrInvalidMessage)
	assert.ErrorContains(t, OrderStatusUpdate{UserID: "u", OrderID: "o", OrderStatus: &unknown}.Validate(), `"Lost" is unknown`)
}

func TestIsTerminalStatus(t *testing.T) {
	assert.True(t, IsTerminalStatus(StatusDelivered))
	assert.True(t, IsTerminalStatus(StatusCancelled))
	assert.False(t, IsTerminalStatus(StatusShipped))
}

func TestPartitionKeyIsUser(t *testing.T) {
	assert.Equal(t, "u1", validCheckout().PartitionKey())
	assert.Equal(t, "u2", OrderStatusUpdate{UserID: "u2"}.PartitionKey())
}
