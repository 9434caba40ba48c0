package assets

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/tradeflow/brokerage/internal/auth"
	"github.com/tradeflow/brokerage/internal/customer"
	"github.com/tradeflow/brokerage/internal/ledger"
)

// Handler exposes asset HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds an asset HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type depositRequest struct {
	CustomerID string          `json:"customer_id"`
	Asset      string          `json:"asset"`
	Amount     decimal.Decimal `json:"amount"`
}

// List returns the holdings of the caller. Admins must name the customer with
// ?customer_id=. An ?asset= filter narrows the result to one holding.
func (h *Handler) List(c *fiber.Ctx) error {
	p, ok := auth.PrincipalFrom(c)
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}
	customerID := p.CustomerID
	if p.Admin {
		customerID = c.Query("customer_id")
		if customerID == "" {
			return fiber.NewError(http.StatusBadRequest, "customer_id is required")
		}
	} else if q := c.Query("customer_id"); q != "" && q != p.CustomerID {
		return fiber.NewError(http.StatusForbidden, "cannot view another customer's assets")
	}

	if asset := c.Query("asset"); asset != "" {
		bal, err := h.service.Balance(c.UserContext(), customerID, asset)
		if err != nil {
			return mapError(err)
		}
		return c.JSON([]ledger.Balance{bal})
	}

	balances, err := h.service.Balances(c.UserContext(), customerID)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(balances)
}

// Deposit credits funds to a customer. Mounted behind the admin guard.
func (h *Handler) Deposit(c *fiber.Ctx) error {
	var req depositRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	bal, err := h.service.Deposit(c.UserContext(), DepositInput{
		CustomerID: req.CustomerID,
		Asset:      req.Asset,
		Amount:     req.Amount,
	})
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusOK).JSON(bal)
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidDeposit), errors.Is(err, ledger.ErrInvalidAmount):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, customer.ErrCustomerNotFound), errors.Is(err, ledger.ErrAssetNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	default:
		return err
	}
}
