package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	awspkg "github.com/yashrajoria/resibuy-backend/pkg/aws"
	"github.com/yashrajoria/resibuy-backend/pkg/broker"
	"github.com/yashrajoria/resibuy-backend/services/common/events"
	notifymodels "github.com/yashrajoria/resibuy-backend/services/notification-service/models"
	"github.com/yashrajoria/resibuy-backend/services/order-service/clients"
	"github.com/yashrajoria/resibuy-backend/services/order-service/models"
	repositories "github.com/yashrajoria/resibuy-backend/services/order-service/repository"
)

// OrderMutator applies checkouts and status updates. Both calls must be safe
// to repeat with the same input.
type OrderMutator interface {
	CreateOrders(ctx context.Context, msg events.CheckoutMessage) (models.CheckoutResult, error)
	UpdateStatus(ctx context.Context, update events.OrderStatusUpdate) (models.StatusResult, error)
}

type CartResetter interface {
	ResetCart(ctx context.Context, userID string) error
}

// Notifier matches the notification dispatcher: fire and forget.
type Notifier interface {
	Send(eventName string, payload any, hubGroup string, userIDs []string) error
}

type OrderCreatedPayload struct {
	CheckoutID string      `json:"checkoutId"`
	OrderIDs   []uuid.UUID `json:"orderIds"`
	GrandTotal float64     `json:"grandTotal"`
}

type NewOrderPayload struct {
	CheckoutID string      `json:"checkoutId"`
	OrderIDs   []uuid.UUID `json:"orderIds"`
	BuyerID    string      `json:"buyerId"`
}

type StatusChangedPayload struct {
	OrderID   uuid.UUID `json:"orderId"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	ShipperID string    `json:"shipperId,omitempty"`
}

type CheckoutFailedPayload struct {
	CheckoutID string `json:"checkoutId"`
	Reason     string `json:"reason"`
}

// OrderHandlers turns checkout and status messages into order mutations and
// notifications.
type OrderHandlers struct {
	orders   OrderMutator
	carts    CartResetter
	notifier Notifier
	metrics  *awspkg.MetricsClient
	logger   *zap.Logger
}

func NewOrderHandlers(orders OrderMutator, carts CartResetter, notifier Notifier, metrics *awspkg.MetricsClient, logger *zap.Logger) *OrderHandlers {
	return &OrderHandlers{orders: orders, carts: carts, notifier: notifier, metrics: metrics, logger: logger}
}

// Register routes both topics of c to h.
func (h *OrderHandlers) Register(c *CheckoutConsumer, checkoutTopic, processTopic string) {
	c.Handle(checkoutTopic, h.HandleCheckout)
	c.Handle(processTopic, h.HandleStatusUpdate)
}

// HandleCheckout creates one order per store, clears the buyer's cart and
// tells everyone involved.
func (h *OrderHandlers) HandleCheckout(ctx context.Context, msg broker.Message) error {
	body, err := unwrapPayload(msg.Value)
	if err != nil {
		return Poison(err)
	}

	var checkout events.CheckoutMessage
	if err := json.Unmarshal(body, &checkout); err != nil {
		return Poison(fmt.Errorf("decode checkout: %w", err))
	}
	if checkout.CheckoutID == "" {
		if checkout.CheckoutID, err = models.DeriveCheckoutID(body); err != nil {
			return Poison(err)
		}
	}
	if err := checkout.Validate(); err != nil {
		return Poison(err)
	}

	log := h.logger.With(zap.String("checkout_id", checkout.CheckoutID), zap.String("user_id", checkout.UserID))

	result, err := h.orders.CreateOrders(ctx, checkout)
	if errors.Is(err, repositories.ErrVoucherUnavailable) {
		h.notify(log, notifymodels.EventCheckoutFailed,
			CheckoutFailedPayload{CheckoutID: checkout.CheckoutID, Reason: err.Error()}, "", checkout.UserID)
		return Poison(err)
	}
	if err != nil {
		return classify(fmt.Errorf("create orders: %w", err))
	}

	if err := h.carts.ResetCart(ctx, checkout.UserID); err != nil {
		return classify(fmt.Errorf("reset cart: %w", err))
	}

	if result.Created {
		_ = h.metrics.RecordTotal(ctx, awspkg.MetricOrdersCreated, len(result.OrderIDs), map[string]string{"PaymentMethod": checkout.PaymentMethod})
	}
	log.Info("checkout applied", zap.Int("orders", len(result.OrderIDs)), zap.Bool("created", result.Created))

	created := OrderCreatedPayload{CheckoutID: checkout.CheckoutID, OrderIDs: result.OrderIDs, GrandTotal: checkout.GrandTotal}
	h.notify(log, notifymodels.EventOrderCreated, created, "", checkout.UserID)
	if len(result.StoreOwnerIDs) > 0 {
		h.notify(log, notifymodels.EventNewOrder,
			NewOrderPayload{CheckoutID: checkout.CheckoutID, OrderIDs: result.OrderIDs, BuyerID: checkout.UserID},
			"", result.StoreOwnerIDs...)
	}
	h.notify(log, notifymodels.EventOrderCreated, created, notifymodels.GroupAdmins)
	return nil
}

// HandleStatusUpdate applies a status change. An order that does not exist
// yet is retried, its checkout may still be in flight.
func (h *OrderHandlers) HandleStatusUpdate(ctx context.Context, msg broker.Message) error {
	body, err := unwrapPayload(msg.Value)
	if err != nil {
		return Poison(err)
	}

	var update events.OrderStatusUpdate
	if err := json.Unmarshal(body, &update); err != nil {
		return Poison(fmt.Errorf("decode status update: %w", err))
	}
	if err := update.Validate(); err != nil {
		return Poison(err)
	}
	if _, err := uuid.Parse(update.OrderID); err != nil {
		return Poison(fmt.Errorf("orderId %q: %w", update.OrderID, err))
	}

	res, err := h.orders.UpdateStatus(ctx, update)
	if err != nil {
		return classify(fmt.Errorf("update order %s: %w", update.OrderID, err))
	}

	log := h.logger.With(zap.String("order_id", update.OrderID))
	if !res.Changed {
		log.Info("status update changed nothing", zap.String("status", res.Status))
		return nil
	}
	_ = h.metrics.RecordCount(ctx, awspkg.MetricOrderStatusUpdates, map[string]string{"Status": res.Status})
	log.Info("order status updated", zap.String("status", res.Status), zap.Bool("shipper_assigned", res.ShipperAssigned))

	changed := StatusChangedPayload{OrderID: res.OrderID, Status: res.Status, Reason: update.Reason, ShipperID: res.ShipperID}
	h.notify(log, notifymodels.EventOrderStatusChanged, changed, "", res.BuyerID)
	if res.ShipperAssigned && res.ShipperID != "" {
		h.notify(log, notifymodels.EventOrderAssigned, changed, "", res.ShipperID)
	}
	return nil
}

// classify turns downstream rejections into poison; everything else is
// retried.
func classify(err error) error {
	if errors.Is(err, clients.ErrRejected) {
		return Poison(err)
	}
	return err
}

func (h *OrderHandlers) notify(log *zap.Logger, event string, payload any, group string, userIDs ...string) {
	if err := h.notifier.Send(event, payload, group, userIDs); err != nil {
		log.Warn("notification not sent", zap.String("event", event), zap.Error(err))
	}
}

// unwrapPayload accepts a JSON object or a JSON string holding one, which is
// how text payloads leave the checkout producer.
func unwrapPayload(value []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(value)
	if len(trimmed) == 0 {
		return nil, errors.New("empty payload")
	}
	if trimmed[0] != '"' {
		return trimmed, nil
	}
	var inner string
	if err := json.Unmarshal(trimmed, &inner); err != nil {
		return nil, fmt.Errorf("decode text payload: %w", err)
	}
	return bytes.TrimSpace([]byte(inner)), nil
}
