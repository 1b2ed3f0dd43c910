package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/yashrajoria/storefront/services/cart-service/controllers"
)

// RegisterCartRoutes sets up all cart routes behind auth.
func RegisterCartRoutes(r *gin.Engine, cc *controllers.CartController, auth gin.HandlerFunc) {
	cartRoutes := r.Group("/carts")
	cartRoutes.Use(auth)

	cartRoutes.POST("", cc.CreateCart)
	cartRoutes.GET("", cc.ListCarts)
	cartRoutes.GET("/:id", cc.GetCart)
	cartRoutes.POST("/:id/items", cc.AddItem)
	cartRoutes.PUT("/:id", cc.UpdateCart)
	cartRoutes.DELETE("/:id", cc.DeleteCart)
}
