package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yashrajoria/resibuy-backend/services/common/middleware"
	"github.com/yashrajoria/resibuy-backend/services/order-service/controllers"
)

func RegisterHealth(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "OK", "service": "order-service"})
	})
}

func RegisterOrderRoutes(r *gin.Engine, controller *controllers.OrderController) {
	RegisterHealth(r)

	api := r.Group("/api/orders")
	{
		// Service to service; the worker holds no user session.
		api.POST("/checkout", controller.ApplyCheckout)
		api.PUT("/:id/status", controller.UpdateStatus)

		api.GET("/checkout/:checkoutId", middleware.Auth(), controller.GetCheckoutOrders)
	}
}
