package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/tradeflow/brokerage/internal/auth"
	"github.com/tradeflow/brokerage/internal/customer"
)

// RegisterAuthRoutes wires the public login endpoint.
func RegisterAuthRoutes(r fiber.Router, svc *Services, rateLimiter fiber.Handler) {
	h := auth.NewHandler(svc.Tokens)
	group := r.Group("/auth")
	if rateLimiter != nil {
		group.Post("/login", rateLimiter, h.Login)
	} else {
		group.Post("/login", h.Login)
	}
}

// RegisterCustomerRoutes wires customer onboarding for admins.
func RegisterCustomerRoutes(r fiber.Router, svc *Services, admin fiber.Handler) {
	h := customer.NewHandler(svc.Customers)
	r.Post("/customers", admin, h.Register)
}
