package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	awspkg "github.com/yashrajoria/resibuy-backend/pkg/aws"
	"github.com/yashrajoria/resibuy-backend/pkg/sessioncache"
	"github.com/yashrajoria/resibuy-backend/services/cart-service/models"
	apperrors "github.com/yashrajoria/resibuy-backend/services/common/errors"
	"github.com/yashrajoria/resibuy-backend/services/common/events"
	"github.com/yashrajoria/resibuy-backend/services/common/middleware"
)

// Publisher is the checkout producer as seen by the handlers.
type Publisher interface {
	Publish(ctx context.Context, topicKey string, message any) error
}

// SessionStore stages submitted checkouts for later reads.
type SessionStore interface {
	Put(key string, payload []byte, ttl time.Duration)
	Record(key string) (sessioncache.Record, error)
	Remove(key string)
}

type CartStore interface {
	ResetCart(ctx context.Context, userID string) error
	ReserveIdempotency(ctx context.Context, userID, key, checkoutID string, ttl time.Duration) (string, bool, error)
	ReleaseIdempotency(ctx context.Context, userID, key string) error
}

// SweepTrigger runs one guarded session sweep.
type SweepTrigger interface {
	TriggerSweep() (ran bool, removed int, err error)
}

type Options struct {
	SessionTTL     time.Duration
	IdempotencyTTL time.Duration
}

type CartController struct {
	producer Publisher
	sessions SessionStore
	carts    CartStore
	sweeper  SweepTrigger
	metrics  *awspkg.MetricsClient
	opts     Options
	logger   *zap.Logger
}

func NewCartController(
	producer Publisher,
	sessions SessionStore,
	carts CartStore,
	sweeper SweepTrigger,
	metrics *awspkg.MetricsClient,
	opts Options,
	logger *zap.Logger,
) *CartController {
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = sessioncache.DefaultTTL
	}
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = 24 * time.Hour
	}
	return &CartController{
		producer: producer,
		sessions: sessions,
		carts:    carts,
		sweeper:  sweeper,
		metrics:  metrics,
		opts:     opts,
		logger:   logger,
	}
}

var errSubmitFailed = apperrors.New(http.StatusServiceUnavailable, "failed to submit checkout", nil)

// Checkout stages the request in the session cache, publishes it and answers
// 202 without waiting for the order to exist.
func (cc *CartController) Checkout(c *gin.Context) {
	userID := middleware.GetUserID(c)
	ctx := c.Request.Context()

	var req models.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		cc.reject(ctx, "bind")
		apperrors.Respond(c, apperrors.Wrap(apperrors.ErrValidation, err))
		return
	}

	checkoutID := uuid.NewString()
	msg := req.Message(checkoutID, userID)
	if err := msg.Validate(); err != nil {
		cc.reject(ctx, "validate")
		apperrors.Respond(c, apperrors.New(http.StatusBadRequest, err.Error(), err))
		return
	}

	idemKey := c.GetHeader("Idempotency-Key")
	if idemKey != "" {
		owner, claimed, err := cc.carts.ReserveIdempotency(ctx, userID, idemKey, checkoutID, cc.opts.IdempotencyTTL)
		if err != nil {
			cc.logger.Error("idempotency reservation failed", zap.String("user_id", userID), zap.Error(err))
			apperrors.Respond(c, apperrors.Wrap(apperrors.ErrServiceUnavailable, err))
			return
		}
		if !claimed {
			cc.logger.Info("checkout replayed", zap.String("user_id", userID), zap.String("checkout_id", owner))
			c.JSON(http.StatusAccepted, models.CheckoutAccepted{CheckoutID: owner, Status: models.CheckoutQueued, Replayed: true})
			return
		}
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		apperrors.Respond(c, apperrors.Wrap(apperrors.ErrInternalServer, err))
		return
	}

	sessionKey := sessioncache.TempOrderKey(userID, checkoutID)
	cc.sessions.Put(sessionKey, payload, cc.opts.SessionTTL)

	if err := cc.producer.Publish(ctx, events.RouteCheckout, msg); err != nil {
		cc.sessions.Remove(sessionKey)
		if idemKey != "" {
			if rerr := cc.carts.ReleaseIdempotency(context.WithoutCancel(ctx), userID, idemKey); rerr != nil {
				cc.logger.Warn("failed to release idempotency key", zap.Error(rerr))
			}
		}
		cc.reject(ctx, "publish")
		cc.logger.Error("checkout publish failed",
			zap.String("user_id", userID),
			zap.String("checkout_id", checkoutID),
			zap.Error(err),
		)
		apperrors.Respond(c, apperrors.Wrap(errSubmitFailed, err))
		return
	}

	_ = cc.metrics.RecordCount(ctx, awspkg.MetricCheckoutsSubmitted, map[string]string{"PaymentMethod": msg.PaymentMethod})
	cc.logger.Info("checkout queued",
		zap.String("user_id", userID),
		zap.String("checkout_id", checkoutID),
		zap.Int("orders", len(msg.Orders)),
	)
	c.JSON(http.StatusAccepted, models.CheckoutAccepted{CheckoutID: checkoutID, Status: models.CheckoutQueued})
}

func (cc *CartController) reject(ctx context.Context, stage string) {
	_ = cc.metrics.RecordCount(ctx, awspkg.MetricCheckoutsRejected, map[string]string{"Stage": stage})
}

// GetSession returns what the caller submitted while it is still staged.
func (cc *CartController) GetSession(c *gin.Context) {
	key := sessioncache.TempOrderKey(middleware.GetUserID(c), c.Param("id"))
	rec, err := cc.sessions.Record(key)
	if errors.Is(err, sessioncache.ErrNotFound) {
		apperrors.Respond(c, apperrors.Wrap(apperrors.ErrNotFound, err))
		return
	}
	if err != nil {
		apperrors.Respond(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"checkout_id": c.Param("id"),
		"payload":     json.RawMessage(rec.Payload),
		"created_at":  rec.CreatedAt,
		"expires_at":  rec.ExpiresAt,
	})
}

func (cc *CartController) DeleteSession(c *gin.Context) {
	cc.sessions.Remove(sessioncache.TempOrderKey(middleware.GetUserID(c), c.Param("id")))
	c.Status(http.StatusNoContent)
}

// ResetCart is called by the order worker once a checkout became orders.
func (cc *CartController) ResetCart(c *gin.Context) {
	var req models.ResetCartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.Respond(c, apperrors.Wrap(apperrors.ErrValidation, err))
		return
	}
	if err := cc.carts.ResetCart(c.Request.Context(), req.UserID); err != nil {
		cc.logger.Error("cart reset failed", zap.String("user_id", req.UserID), zap.Error(err))
		apperrors.Respond(c, apperrors.Wrap(apperrors.ErrServiceUnavailable, err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "cart reset"})
}

// UpdateOrderStatus queues a status change for the order worker.
func (cc *CartController) UpdateOrderStatus(c *gin.Context) {
	var req models.StatusUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperrors.Respond(c, apperrors.Wrap(apperrors.ErrValidation, err))
		return
	}

	update := events.OrderStatusUpdate{
		UserID:      req.UserID,
		OrderID:     c.Param("id"),
		OrderStatus: req.OrderStatus,
		Reason:      req.Reason,
		ShipperID:   req.ShipperID,
	}
	if err := update.Validate(); err != nil {
		apperrors.Respond(c, apperrors.New(http.StatusBadRequest, err.Error(), err))
		return
	}

	if err := cc.producer.Publish(c.Request.Context(), events.RouteProcess, update); err != nil {
		apperrors.Respond(c, apperrors.Wrap(apperrors.ErrServiceUnavailable, err))
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"order_id": update.OrderID, "status": models.CheckoutQueued})
}

// SweepSessions runs a session sweep now unless one is in progress.
func (cc *CartController) SweepSessions(c *gin.Context) {
	ran, removed, err := cc.sweeper.TriggerSweep()
	if !ran {
		apperrors.Respond(c, apperrors.New(http.StatusConflict, "a session sweep is already running", nil))
		return
	}
	if err != nil {
		apperrors.Respond(c, apperrors.Wrap(apperrors.ErrInternalServer, err))
		return
	}
	_ = cc.metrics.RecordTotal(c.Request.Context(), awspkg.MetricSessionsEvicted, removed, nil)
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}
