package customer

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes customer administration endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a customer HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Admin    bool   `json:"is_admin"`
}

type customerResponse struct {
	ID        string    `json:"customer_id"`
	Username  string    `json:"username"`
	Admin     bool      `json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`
}

// Register onboards a customer. Mounted behind the admin guard.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	cust, err := h.service.Register(c.UserContext(), Registration{Username: req.Username, Password: req.Password, Admin: req.Admin})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			return fiber.NewError(http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrCustomerExists):
			return fiber.NewError(http.StatusConflict, err.Error())
		default:
			return err
		}
	}
	return c.Status(http.StatusCreated).JSON(customerResponse{
		ID:        cust.ID,
		Username:  cust.Username,
		Admin:     cust.Admin,
		CreatedAt: cust.CreatedAt,
	})
}
