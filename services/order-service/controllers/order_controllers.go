package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/yashrajoria/resibuy-backend/services/common/errors"
	"github.com/yashrajoria/resibuy-backend/services/common/events"
	"github.com/yashrajoria/resibuy-backend/services/common/middleware"
	repositories "github.com/yashrajoria/resibuy-backend/services/order-service/repository"
)

type OrderController struct {
	orders repositories.OrderRepository
	logger *zap.Logger
}

func NewOrderController(orders repositories.OrderRepository, logger *zap.Logger) *OrderController {
	return &OrderController{orders: orders, logger: logger}
}

var errVoucherUnavailable = apperrors.New(http.StatusUnprocessableEntity, "voucher unavailable", nil)

// ApplyCheckout is the HTTP form of what the worker does with a checkout
// message. Repeating a request returns the orders of the first one.
func (oc *OrderController) ApplyCheckout(ctx *gin.Context) {
	var msg events.CheckoutMessage
	if err := ctx.ShouldBindJSON(&msg); err != nil {
		apperrors.Respond(ctx, apperrors.Wrap(apperrors.ErrValidation, err))
		return
	}
	if msg.CheckoutID == "" {
		msg.CheckoutID = ctx.GetHeader("Idempotency-Key")
	}
	if msg.CheckoutID == "" {
		apperrors.Respond(ctx, apperrors.New(http.StatusBadRequest, "checkoutId or Idempotency-Key is required", nil))
		return
	}
	if err := msg.Validate(); err != nil {
		apperrors.Respond(ctx, apperrors.New(http.StatusBadRequest, err.Error(), err))
		return
	}

	result, err := oc.orders.CreateOrders(ctx.Request.Context(), msg)
	if errors.Is(err, repositories.ErrVoucherUnavailable) {
		apperrors.Respond(ctx, apperrors.Wrap(errVoucherUnavailable, err))
		return
	}
	if err != nil {
		oc.logger.Error("checkout apply failed", zap.String("checkout_id", msg.CheckoutID), zap.Error(err))
		apperrors.Respond(ctx, apperrors.Wrap(apperrors.ErrServiceUnavailable, err))
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	ctx.JSON(status, result)
}

func (oc *OrderController) UpdateStatus(ctx *gin.Context) {
	if _, err := uuid.Parse(ctx.Param("id")); err != nil {
		apperrors.Respond(ctx, apperrors.New(http.StatusBadRequest, "invalid order id", err))
		return
	}

	var update events.OrderStatusUpdate
	if err := ctx.ShouldBindJSON(&update); err != nil {
		apperrors.Respond(ctx, apperrors.Wrap(apperrors.ErrValidation, err))
		return
	}
	update.OrderID = ctx.Param("id")
	if err := update.Validate(); err != nil {
		apperrors.Respond(ctx, apperrors.New(http.StatusBadRequest, err.Error(), err))
		return
	}

	result, err := oc.orders.UpdateStatus(ctx.Request.Context(), update)
	if errors.Is(err, repositories.ErrOrderNotFound) {
		apperrors.Respond(ctx, apperrors.Wrap(apperrors.ErrNotFound, err))
		return
	}
	if err != nil {
		apperrors.Respond(ctx, apperrors.Wrap(apperrors.ErrServiceUnavailable, err))
		return
	}
	ctx.JSON(http.StatusOK, result)
}

// GetCheckoutOrders returns the caller's orders of one checkout. An empty
// list means the worker has not got to it yet.
func (oc *OrderController) GetCheckoutOrders(ctx *gin.Context) {
	orders, err := oc.orders.FindByCheckout(ctx.Request.Context(), middleware.GetUserID(ctx), ctx.Param("checkoutId"))
	if err != nil {
		apperrors.Respond(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"checkout_id": ctx.Param("checkoutId"), "orders": orders})
}
