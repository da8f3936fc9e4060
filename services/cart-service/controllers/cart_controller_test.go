package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yashrajoria/resibuy-backend/pkg/sessioncache"
	"github.com/yashrajoria/resibuy-backend/services/cart-service/models"
	"github.com/yashrajoria/resibuy-backend/services/common/events"
	"github.com/yashrajoria/resibuy-backend/services/common/middleware"
)

// --- fakes ---

type published struct {
	topicKey string
	message  any
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (f *fakePublisher) Publish(ctx context.Context, topicKey string, message any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{topicKey: topicKey, message: message})
	return nil
}

type fakeCarts struct {
	mu     sync.Mutex
	idem   map[string]string
	resets []string
}

func newFakeCarts() *fakeCarts {
	return &fakeCarts{idem: map[string]string{}}
}

func (f *fakeCarts) ResetCart(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets = append(f.resets, userID)
	return nil
}

func (f *fakeCarts) ReserveIdempotency(ctx context.Context, userID, key, checkoutID string, ttl time.Duration) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := userID + ":" + key
	if owner, ok := f.idem[k]; ok {
		return owner, false, nil
	}
	f.idem[k] = checkoutID
	return checkoutID, true, nil
}

func (f *fakeCarts) ReleaseIdempotency(ctx context.Context, userID, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.idem, userID+":"+key)
	return nil
}

type fakeSweeper struct {
	busy    bool
	removed int
}

func (f *fakeSweeper) TriggerSweep() (bool, int, error) {
	if f.busy {
		return false, 0, nil
	}
	return true, f.removed, nil
}

// --- helpers ---

type testEnv struct {
	router   *gin.Engine
	pub      *fakePublisher
	sessions *sessioncache.Cache
	carts    *fakeCarts
	sweeper  *fakeSweeper
	now      time.Time
}

func setup(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := &testEnv{
		pub:     &fakePublisher{},
		carts:   newFakeCarts(),
		sweeper: &fakeSweeper{},
		now:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	env.sessions = sessioncache.New(sessioncache.WithClock(func() time.Time { return env.now }))

	ctrl := NewCartController(env.pub, env.sessions, env.carts, env.sweeper, nil, Options{}, zap.NewNop())

	r := gin.New()
	cart := r.Group("/cart", middleware.Auth())
	cart.POST("/checkout", ctrl.Checkout)
	cart.GET("/checkout/sessions/:id", ctrl.GetSession)
	cart.DELETE("/checkout/sessions/:id", ctrl.DeleteSession)
	r.POST("/cart/reset", ctrl.ResetCart)
	r.PUT("/orders/:id/status", middleware.Auth(), ctrl.UpdateOrderStatus)
	r.POST("/admin/sessions/sweep", ctrl.SweepSessions)
	env.router = r
	return env
}

func (e *testEnv) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", "u1")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func validCheckout() gin.H {
	return gin.H{
		"addressId":     "addr-1",
		"paymentMethod": events.PaymentCOD,
		"grandTotal":    150000,
		"orders": []gin.H{{
			"storeId":    "S",
			"note":       "leave at the door",
			"totalPrice": 100000,
			"items": []gin.H{{
				"productDetailId": 7,
				"quantity":        2,
				"price":           50000,
			}},
		}, {
			"storeId":    "T",
			"totalPrice": 50000,
			"items": []gin.H{{
				"productDetailId": 9,
				"quantity":        1,
				"price":           50000,
			}},
		}},
	}
}

func decodeAccepted(t *testing.T, w *httptest.ResponseRecorder) models.CheckoutAccepted {
	t.Helper()
	var out models.CheckoutAccepted
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

// --- tests ---

func TestCheckout_QueuesAndStagesSession(t *testing.T) {
	env := setup(t)

	w := env.do(http.MethodPost, "/cart/checkout", validCheckout(), nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	acc := decodeAccepted(t, w)
	assert.Equal(t, models.CheckoutQueued, acc.Status)
	require.NotEmpty(t, acc.CheckoutID)

	require.Len(t, env.pub.sent, 1)
	assert.Equal(t, events.RouteCheckout, env.pub.sent[0].topicKey)
	msg := env.pub.sent[0].message.(events.CheckoutMessage)
	assert.Equal(t, "u1", msg.UserID)
	assert.Equal(t, acc.CheckoutID, msg.CheckoutID)

	assert.True(t, env.sessions.IsValid(sessioncache.TempOrderKey("u1", acc.CheckoutID)))

	w = env.do(http.MethodGet, "/cart/checkout/sessions/"+acc.CheckoutID, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var session struct {
		Payload events.CheckoutMessage `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &session))
	assert.Equal(t, 150000.0, session.Payload.GrandTotal)
}

func TestCheckout_RejectsBadTotals(t *testing.T) {
	env := setup(t)
	body := validCheckout()
	body["grandTotal"] = -1

	w := env.do(http.MethodPost, "/cart/checkout", body, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, env.pub.sent)
	assert.Zero(t, env.sessions.Len())
}

func TestCheckout_RejectsUnknownPaymentMethod(t *testing.T) {
	env := setup(t)
	body := validCheckout()
	body["paymentMethod"] = "CRYPTO"

	w := env.do(http.MethodPost, "/cart/checkout", body, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, env.pub.sent)
}

func TestCheckout_RejectsSameStoreTwice(t *testing.T) {
	env := setup(t)
	body := validCheckout()
	orders := body["orders"].([]gin.H)
	orders[1]["storeId"] = "S"

	w := env.do(http.MethodPost, "/cart/checkout", body, map[string]string{"Idempotency-Key": "k-dup"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `orders[1].storeId`)
	assert.Empty(t, env.pub.sent)
	assert.Zero(t, env.sessions.Len())
	assert.Empty(t, env.carts.idem)
}

func TestCheckout_PublishFailureRemovesSession(t *testing.T) {
	env := setup(t)
	env.pub.err = errors.New("broker down")

	w := env.do(http.MethodPost, "/cart/checkout", validCheckout(), map[string]string{"Idempotency-Key": "k1"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "failed to submit checkout")
	assert.Zero(t, env.sessions.Len())
	assert.Empty(t, env.carts.idem)
}

func TestCheckout_IdempotencyKeyReplays(t *testing.T) {
	env := setup(t)
	headers := map[string]string{"Idempotency-Key": "k1"}

	first := decodeAccepted(t, env.do(http.MethodPost, "/cart/checkout", validCheckout(), headers))
	w := env.do(http.MethodPost, "/cart/checkout", validCheckout(), headers)
	require.Equal(t, http.StatusAccepted, w.Code)
	second := decodeAccepted(t, w)

	assert.Equal(t, first.CheckoutID, second.CheckoutID)
	assert.True(t, second.Replayed)
	assert.Len(t, env.pub.sent, 1)
}

func TestGetSession_ExpiredIsNotFound(t *testing.T) {
	env := setup(t)
	acc := decodeAccepted(t, env.do(http.MethodPost, "/cart/checkout", validCheckout(), nil))

	env.now = env.now.Add(31 * time.Minute)
	w := env.do(http.MethodGet, "/cart/checkout/sessions/"+acc.CheckoutID, nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetSession_OtherUserCannotRead(t *testing.T) {
	env := setup(t)
	acc := decodeAccepted(t, env.do(http.MethodPost, "/cart/checkout", validCheckout(), nil))

	w := env.do(http.MethodGet, "/cart/checkout/sessions/"+acc.CheckoutID, nil, map[string]string{"X-User-ID": "u2"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteSession_Idempotent(t *testing.T) {
	env := setup(t)
	acc := decodeAccepted(t, env.do(http.MethodPost, "/cart/checkout", validCheckout(), nil))

	assert.Equal(t, http.StatusNoContent, env.do(http.MethodDelete, "/cart/checkout/sessions/"+acc.CheckoutID, nil, nil).Code)
	assert.Equal(t, http.StatusNoContent, env.do(http.MethodDelete, "/cart/checkout/sessions/"+acc.CheckoutID, nil, nil).Code)
	assert.Zero(t, env.sessions.Len())
}

func TestResetCart(t *testing.T) {
	env := setup(t)
	w := env.do(http.MethodPost, "/cart/reset", gin.H{"userId": "u9"}, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"u9"}, env.carts.resets)
}

func TestUpdateOrderStatus_PublishesToProcess(t *testing.T) {
	env := setup(t)
	status := events.StatusShipped

	w := env.do(http.MethodPut, "/orders/o-1/status", gin.H{"userId": "buyer", "orderStatus": status}, nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	require.Len(t, env.pub.sent, 1)
	assert.Equal(t, events.RouteProcess, env.pub.sent[0].topicKey)
	update := env.pub.sent[0].message.(events.OrderStatusUpdate)
	assert.Equal(t, "o-1", update.OrderID)
	assert.Equal(t, status, *update.OrderStatus)

	w = env.do(http.MethodPut, "/orders/o-1/status", gin.H{"userId": "buyer", "orderStatus": "Teleported"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSweepSessions(t *testing.T) {
	env := setup(t)
	env.sweeper.removed = 4
	w := env.do(http.MethodPost, "/admin/sessions/sweep", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"removed":4}`, w.Body.String())

	env.sweeper.busy = true
	w = env.do(http.MethodPost, "/admin/sessions/sweep", nil, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}
