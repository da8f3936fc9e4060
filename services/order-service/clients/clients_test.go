package clients

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yashrajoria/resibuy-backend/services/common/events"
	"github.com/yashrajoria/resibuy-backend/services/order-service/models"
	repositories "github.com/yashrajoria/resibuy-backend/services/order-service/repository"
)

func checkout() events.CheckoutMessage {
	return events.CheckoutMessage{
		CheckoutID:    "co-1",
		UserID:        "u1",
		AddressID:     "addr-1",
		PaymentMethod: events.PaymentCOD,
		GrandTotal:    150000,
		Orders: []events.StoreOrder{{
			StoreID: "S",
			Items:   []events.OrderItem{{ProductDetailID: 7, Quantity: 2, Price: 50000}},
		}},
	}
}

func serve(t *testing.T, h http.HandlerFunc) string {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestOrderClient_CreateOrdersSendsIdempotencyKey(t *testing.T) {
	want := models.CheckoutResult{OrderIDs: []uuid.UUID{uuid.New()}, StoreOwnerIDs: []string{"owner-s"}, Created: true}
	url := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/orders/checkout", r.URL.Path)
		assert.Equal(t, "co-1", r.Header.Get("Idempotency-Key"))

		var got events.CheckoutMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, "u1", got.UserID)

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(want)
	})

	res, err := NewOrderClient(url, time.Second, zap.NewNop()).CreateOrders(context.Background(), checkout())
	require.NoError(t, err)
	assert.Equal(t, want, res)
}

func TestOrderClient_ConflictMeansAlreadyApplied(t *testing.T) {
	url := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})

	res, err := NewOrderClient(url, time.Second, zap.NewNop()).CreateOrders(context.Background(), checkout())
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, []uuid.UUID{models.OrderIDFor("co-1", "S")}, res.OrderIDs)
}

func TestOrderClient_StatusClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		rejected bool
		voucher  bool
	}{
		{"bad request is rejected", http.StatusBadRequest, true, false},
		{"voucher used up", http.StatusUnprocessableEntity, false, true},
		{"server error is retryable", http.StatusServiceUnavailable, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := serve(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":"nope"}`))
			})

			_, err := NewOrderClient(url, time.Second, zap.NewNop()).CreateOrders(context.Background(), checkout())
			require.Error(t, err)
			assert.Equal(t, tt.rejected, errors.Is(err, ErrRejected))
			assert.Equal(t, tt.voucher, errors.Is(err, repositories.ErrVoucherUnavailable))
			assert.Contains(t, err.Error(), "nope")
		})
	}
}

func TestOrderClient_UpdateStatus(t *testing.T) {
	id := uuid.New()
	url := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/orders/"+id.String()+"/status", r.URL.Path)
		_ = json.NewEncoder(w).Encode(models.StatusResult{OrderID: id, BuyerID: "u1", Status: events.StatusShipped, Changed: true})
	})

	status := events.StatusShipped
	res, err := NewOrderClient(url, time.Second, zap.NewNop()).UpdateStatus(context.Background(), events.OrderStatusUpdate{
		UserID: "seller-1", OrderID: id.String(), OrderStatus: &status,
	})
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, "u1", res.BuyerID)
}

func TestOrderClient_UpdateStatusUnknownOrder(t *testing.T) {
	url := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	status := events.StatusShipped
	_, err := NewOrderClient(url, time.Second, zap.NewNop()).UpdateStatus(context.Background(), events.OrderStatusUpdate{
		UserID: "seller-1", OrderID: uuid.NewString(), OrderStatus: &status,
	})
	assert.ErrorIs(t, err, repositories.ErrOrderNotFound)
}

func TestCartClient_ResetCart(t *testing.T) {
	url := serve(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/cart/reset", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "u1", body["userId"])
		w.WriteHeader(http.StatusOK)
	})

	assert.NoError(t, NewCartClient(url, time.Second, zap.NewNop()).ResetCart(context.Background(), "u1"))
}

func TestCartClient_ResetCartFailure(t *testing.T) {
	url := serve(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	err := NewCartClient(url, time.Second, zap.NewNop()).ResetCart(context.Background(), "u1")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrRejected))
}
