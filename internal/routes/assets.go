package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/tradeflow/brokerage/internal/assets"
)

// RegisterAssetRoutes wires holdings and deposits.
func RegisterAssetRoutes(r fiber.Router, svc *Services, admin fiber.Handler) {
	h := assets.NewHandler(svc.Assets)
	group := r.Group("/assets")
	group.Get("/", h.List)
	group.Post("/deposit", admin, h.Deposit)
}
