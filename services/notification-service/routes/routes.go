package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yashrajoria/resibuy-backend/services/common/middleware"
	"github.com/yashrajoria/resibuy-backend/services/notification-service/controllers"
)

func RegisterRoutes(router *gin.Engine, controller *controllers.NotificationController) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "OK", "service": "notification-service"})
	})

	api := router.Group("/notifications", middleware.Auth())
	{
		api.GET("", controller.GetNotifications)
		api.GET("/unread-count", controller.GetUnreadCount)
		api.PUT("/read-all", controller.MarkAllRead)
		api.PUT("/:id/read", controller.MarkRead)
		api.GET("/stream", controller.Stream)
	}
}
