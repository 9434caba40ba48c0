package orders

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/tradeflow/brokerage/internal/auth"
	"github.com/tradeflow/brokerage/internal/ledger"
	"github.com/tradeflow/brokerage/internal/txn"
)

// Handler exposes order HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds an order HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	CustomerID string          `json:"customer_id"`
	Asset      string          `json:"asset"`
	Side       string          `json:"side"`
	Size       decimal.Decimal `json:"size"`
	Price      decimal.Decimal `json:"price"`
}

type matchRequest struct {
	OrderID string `json:"order_id"`
}

// Create places an order. Customers trade for themselves; admins name the
// customer in the body.
func (h *Handler) Create(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	customerID, err := subject(p, req.CustomerID)
	if err != nil {
		return err
	}
	order, err := h.service.Create(c.UserContext(), CreateInput{
		CustomerID: customerID,
		Asset:      req.Asset,
		Side:       req.Side,
		Size:       req.Size,
		Price:      req.Price,
	})
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusCreated).JSON(order)
}

// List returns orders filtered by ?status=, ?start= and ?end= (RFC 3339).
// Admins may list any customer with ?customer_id= or omit it to list all.
func (h *Handler) List(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}

	f := Filter{
		Status: Status(strings.ToUpper(strings.TrimSpace(c.Query("status")))),
		Limit:  c.QueryInt("limit", 0),
		Offset: c.QueryInt("offset", 0),
	}
	if p.Admin {
		f.CustomerID = c.Query("customer_id")
	} else {
		if q := c.Query("customer_id"); q != "" && q != p.CustomerID {
			return fiber.NewError(http.StatusForbidden, ErrUnauthorizedAccess.Error())
		}
		f.CustomerID = p.CustomerID
	}
	if f.From, err = parseTime(c.Query("start")); err != nil {
		return fiber.NewError(http.StatusBadRequest, "start must be an RFC 3339 timestamp")
	}
	if f.To, err = parseTime(c.Query("end")); err != nil {
		return fiber.NewError(http.StatusBadRequest, "end must be an RFC 3339 timestamp")
	}

	list, err := h.service.List(c.UserContext(), f)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(list)
}

// Pending lists every order awaiting a match. Mounted behind the admin guard.
func (h *Handler) Pending(c *fiber.Ctx) error {
	list, err := h.service.Pending(c.UserContext())
	if err != nil {
		return mapError(err)
	}
	return c.JSON(list)
}

// Get returns one order to its owner or an admin.
func (h *Handler) Get(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	order, err := h.service.Get(c.UserContext(), c.Params("orderId"), p.CustomerID, p.Admin)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(order)
}

// Cancel cancels a pending order.
func (h *Handler) Cancel(c *fiber.Ctx) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	order, err := h.service.Cancel(c.UserContext(), c.Params("orderId"), p.CustomerID, p.Admin)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(order)
}

// Match settles a pending order. Mounted behind the admin guard.
func (h *Handler) Match(c *fiber.Ctx) error {
	var req matchRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.OrderID) == "" {
		return fiber.NewError(http.StatusBadRequest, "order_id is required")
	}
	order, err := h.service.Match(c.UserContext(), strings.TrimSpace(req.OrderID))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(order)
}

func principal(c *fiber.Ctx) (auth.Principal, error) {
	p, ok := auth.PrincipalFrom(c)
	if !ok {
		return auth.Principal{}, fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}
	return p, nil
}

// subject picks the customer an order is placed for.
func subject(p auth.Principal, requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	switch {
	case p.Admin && requested == "":
		return "", fiber.NewError(http.StatusBadRequest, "customer_id is required")
	case p.Admin:
		return requested, nil
	case requested != "" && requested != p.CustomerID:
		return "", fiber.NewError(http.StatusForbidden, ErrUnauthorizedAccess.Error())
	default:
		return p.CustomerID, nil
	}
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, v)
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidOrder), errors.Is(err, ErrInvalidAsset),
		errors.Is(err, ErrInvalidTransition), errors.Is(err, ledger.ErrInvalidAmount):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrUnauthorizedAccess):
		return fiber.NewError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrOrderNotFound), errors.Is(err, ledger.ErrAssetNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, txn.ErrStoreBusy):
		return fiber.NewError(http.StatusServiceUnavailable, err.Error())
	default:
		return err
	}
}
