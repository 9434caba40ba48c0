package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/tradeflow/brokerage/internal/orders"
)

// RegisterOrderRoutes wires the order lifecycle endpoints.
func RegisterOrderRoutes(r fiber.Router, svc *Services, admin fiber.Handler) {
	h := orders.NewHandler(svc.Orders)
	group := r.Group("/orders")
	group.Post("/", h.Create)
	group.Get("/", h.List)
	group.Get("/pending", admin, h.Pending)
	group.Post("/match", admin, h.Match)
	group.Get("/:orderId", h.Get)
	group.Delete("/:orderId", h.Cancel)
}
