package auth

import "github.com/gofiber/fiber/v2"

const principalLocal = "principal"

// Principal is the authenticated caller of a request.
type Principal struct {
	CustomerID string
	Admin      bool
}

// SetPrincipal stores p on the request.
func SetPrincipal(c *fiber.Ctx, p Principal) {
	c.Locals(principalLocal, p)
}

// PrincipalFrom returns the caller stored by the JWT middleware.
func PrincipalFrom(c *fiber.Ctx) (Principal, bool) {
	p, ok := c.Locals(principalLocal).(Principal)
	return p, ok && p.CustomerID != ""
}
