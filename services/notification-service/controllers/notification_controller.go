package controllers

import (
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/yashrajoria/resibuy-backend/services/common/errors"
	"github.com/yashrajoria/resibuy-backend/services/common/middleware"
	"github.com/yashrajoria/resibuy-backend/services/notification-service/hub"
	"github.com/yashrajoria/resibuy-backend/services/notification-service/models"
	"github.com/yashrajoria/resibuy-backend/services/notification-service/services"
)

type NotificationController struct {
	notificationService services.NotificationService
	hub                 *hub.Hub
	heartbeat           time.Duration
	logger              *zap.Logger
}

func NewNotificationController(svc services.NotificationService, h *hub.Hub, heartbeat time.Duration, logger *zap.Logger) *NotificationController {
	if heartbeat <= 0 {
		heartbeat = 25 * time.Second
	}
	return &NotificationController{notificationService: svc, hub: h, heartbeat: heartbeat, logger: logger}
}

const (
	maxPageSize     = 100
	defaultPage     = 1
	defaultPageSize = 10
)

func parsePaginationParams(ctx *gin.Context) (int, int) {
	page := defaultPage
	pageSize := defaultPageSize

	if p, err := strconv.Atoi(ctx.DefaultQuery("page", "1")); err == nil && p > 0 {
		page = p
	}
	if l, err := strconv.Atoi(ctx.DefaultQuery("page_size", "10")); err == nil && l > 0 {
		pageSize = min(l, maxPageSize)
	}
	return page, pageSize
}

// GetNotifications lists the caller's notifications, newest first.
func (nc *NotificationController) GetNotifications(ctx *gin.Context) {
	page, pageSize := parsePaginationParams(ctx)
	filter := models.NotificationFilter{
		UserID:     middleware.GetUserID(ctx),
		UnreadOnly: ctx.Query("unread") == "true",
		Page:       page,
		PageSize:   pageSize,
	}

	result, err := nc.notificationService.List(ctx.Request.Context(), filter)
	if err != nil {
		apperrors.Respond(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"data":        result.Items,
		"total":       result.Total,
		"page":        page,
		"page_size":   pageSize,
		"total_pages": int(math.Ceil(float64(result.Total) / float64(pageSize))),
	})
}

func (nc *NotificationController) GetUnreadCount(ctx *gin.Context) {
	n, err := nc.notificationService.UnreadCount(ctx.Request.Context(), middleware.GetUserID(ctx))
	if err != nil {
		apperrors.Respond(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"unread": n})
}

func (nc *NotificationController) MarkRead(ctx *gin.Context) {
	if err := nc.notificationService.MarkRead(ctx.Request.Context(), ctx.Param("id"), middleware.GetUserID(ctx)); err != nil {
		apperrors.Respond(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"message": "notification marked as read"})
}

func (nc *NotificationController) MarkAllRead(ctx *gin.Context) {
	n, err := nc.notificationService.MarkAllRead(ctx.Request.Context(), middleware.GetUserID(ctx))
	if err != nil {
		apperrors.Respond(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"updated": n})
}

// Stream opens the live channel as server-sent events. The caller joins its
// own group, the all-users group and the group of its authenticated role.
// A userId query parameter must name the authenticated user.
func (nc *NotificationController) Stream(ctx *gin.Context) {
	userID := middleware.GetUserID(ctx)
	if q := ctx.Query("userId"); q != "" && q != userID {
		nc.logger.Warn("live stream refused", zap.String("user_id", userID), zap.String("requested", q))
		apperrors.Respond(ctx, apperrors.ErrForbidden)
		return
	}

	var roles []string
	if role := middleware.GetRole(ctx); role != "" {
		roles = append(roles, role)
	}

	client := nc.hub.Join(userID, roles...)
	defer nc.hub.Leave(client)

	nc.logger.Info("live stream opened", zap.String("user_id", userID), zap.Strings("groups", client.Groups()))

	ctx.Header("Cache-Control", "no-cache")
	ctx.Header("Connection", "keep-alive")
	ctx.Header("X-Accel-Buffering", "no")

	heartbeat := time.NewTicker(nc.heartbeat)
	defer heartbeat.Stop()

	done := ctx.Request.Context().Done()
	ctx.Stream(func(w io.Writer) bool {
		select {
		case <-done:
			return false
		case evt, ok := <-client.Events:
			if !ok {
				return false
			}
			ctx.SSEvent(evt.Event, evt)
			return true
		case <-heartbeat.C:
			ctx.SSEvent("ping", gin.H{"at": time.Now().UTC()})
			return true
		}
	})

	nc.logger.Info("live stream closed", zap.String("user_id", userID))
}
