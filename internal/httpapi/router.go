package httpapi

import (
	"github.com/labstack/echo/v4"
)

// RouterConfig bundles the handlers SetupRoutes wires onto e, mirroring
// the teacher's delivery/http.RouterConfig grouping convention.
type RouterConfig struct {
	CandleHandler       *CandleHandler
	SubscriptionHandler *SubscriptionHandler
	PositionHandler     *PositionHandler
}

// SetupRoutes registers every inbound HTTP endpoint named in spec.md §6.
func SetupRoutes(e *echo.Echo, cfg *RouterConfig) {
	api := e.Group("/api")

	api.POST("/candles", cfg.CandleHandler.Ingest)

	api.POST("/subscriptions", cfg.SubscriptionHandler.Create)
	api.DELETE("/subscriptions/:id", cfg.SubscriptionHandler.Delete)
	api.GET("/users/:userId/subscriptions", cfg.SubscriptionHandler.ListByUser)

	api.POST("/positions", cfg.PositionHandler.Open)
	api.PATCH("/positions/:id", cfg.PositionHandler.Adjust)
	api.POST("/positions/:id/close", cfg.PositionHandler.Close)
	api.GET("/users/:userId/positions", cfg.PositionHandler.GetByUser)
}
