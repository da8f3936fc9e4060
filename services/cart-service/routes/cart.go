package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yashrajoria/resibuy-backend/services/cart-service/controllers"
	"github.com/yashrajoria/resibuy-backend/services/common/middleware"
)

func RegisterCartRoutes(r *gin.Engine, controller *controllers.CartController, limiter *middleware.RateLimiter) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "OK", "service": "cart-service"})
	})

	api := r.Group("/cart", middleware.Auth())
	{
		api.POST("/checkout", middleware.RateLimit(limiter), controller.Checkout)
		api.GET("/checkout/sessions/:id", controller.GetSession)
		api.DELETE("/checkout/sessions/:id", controller.DeleteSession)
	}

	// Called by the order worker, which holds no user session.
	r.POST("/cart/reset", controller.ResetCart)

	orders := r.Group("/orders", middleware.Auth(),
		middleware.RequireRole(middleware.RoleSeller, middleware.RoleShipper, middleware.RoleAdmin))
	{
		orders.PUT("/:id/status", controller.UpdateOrderStatus)
	}

	admin := r.Group("/admin", middleware.Auth(), middleware.RequireRole(middleware.RoleAdmin))
	{
		admin.POST("/sessions/sweep", controller.SweepSessions)
	}
}
