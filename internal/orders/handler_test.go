package orders

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradeflow/brokerage/internal/auth"
)

const adminID = "00000000-0000-0000-0000-0000000000ad"

func newHandlerApp(f fixture) *fiber.App {
	h := NewHandler(f.svc)
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		id := c.Get("X-Customer")
		auth.SetPrincipal(c, auth.Principal{CustomerID: id, Admin: id == adminID})
		return c.Next()
	})
	app.Post("/orders", h.Create)
	app.Get("/orders", h.List)
	app.Get("/orders/pending", h.Pending)
	app.Post("/orders/match", h.Match)
	app.Get("/orders/:orderId", h.Get)
	app.Delete("/orders/:orderId", h.Cancel)
	return app
}

func call(t *testing.T, app *fiber.App, method, path, caller, body string) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if caller != "" {
		req.Header.Set("X-Customer", caller)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func TestHandlerOrderLifecycle(t *testing.T) {
	f := newFixture(t)
	app := newHandlerApp(f)
	alice := uuid.NewString()
	f.fund(t, alice, "TRY", "1000")

	status, body := call(t, app, fiber.MethodPost, "/orders", alice, `{"asset":"aapl","side":"buy","size":"2","price":"150.50"}`)
	require.Equal(t, fiber.StatusCreated, status, string(body))
	var created Order
	require.NoError(t, json.Unmarshal(body, &created))
	assert.Equal(t, alice, created.CustomerID)
	assert.Equal(t, StatusPending, created.Status)
	f.requireBalance(t, alice, "TRY", "1000", "699")

	status, body = call(t, app, fiber.MethodGet, "/orders/"+created.ID, alice, "")
	require.Equal(t, fiber.StatusOK, status, string(body))

	status, _ = call(t, app, fiber.MethodPost, "/orders/match", adminID, `{"order_id":"`+created.ID+`"}`)
	require.Equal(t, fiber.StatusOK, status)
	f.requireBalance(t, alice, "TRY", "699", "699")
	f.requireBalance(t, alice, "AAPL", "2", "2")

	status, _ = call(t, app, fiber.MethodDelete, "/orders/"+created.ID, alice, "")
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestHandlerCreateErrors(t *testing.T) {
	f := newFixture(t)
	app := newHandlerApp(f)
	alice := uuid.NewString()
	f.fund(t, alice, "TRY", "100")

	cases := []struct {
		name   string
		caller string
		body   string
		want   int
	}{
		{"insufficient balance", alice, `{"asset":"AAPL","side":"BUY","size":"1","price":"101"}`, fiber.StatusConflict},
		{"base currency", alice, `{"asset":"TRY","side":"BUY","size":"1","price":"1"}`, fiber.StatusBadRequest},
		{"bad side", alice, `{"asset":"AAPL","side":"HOLD","size":"1","price":"1"}`, fiber.StatusBadRequest},
		{"too precise", alice, `{"asset":"AAPL","side":"BUY","size":"0.001","price":"1"}`, fiber.StatusBadRequest},
		{"no holding", alice, `{"asset":"GOOGL","side":"SELL","size":"1","price":"1"}`, fiber.StatusNotFound},
		{"other customer", alice, `{"customer_id":"` + uuid.NewString() + `","asset":"AAPL","side":"BUY","size":"1","price":"1"}`, fiber.StatusForbidden},
		{"admin without customer", adminID, `{"asset":"AAPL","side":"BUY","size":"1","price":"1"}`, fiber.StatusBadRequest},
		{"malformed body", alice, `{"asset":`, fiber.StatusBadRequest},
		{"anonymous", "", `{"asset":"AAPL","side":"BUY","size":"1","price":"1"}`, fiber.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, body := call(t, app, fiber.MethodPost, "/orders", tc.caller, tc.body)
			assert.Equal(t, tc.want, status, string(body))
		})
	}
	f.requireBalance(t, alice, "TRY", "100", "100")
}

func TestHandlerAdminCreatesForCustomer(t *testing.T) {
	f := newFixture(t)
	app := newHandlerApp(f)
	bob := uuid.NewString()
	f.fund(t, bob, "AAPL", "5")

	status, body := call(t, app, fiber.MethodPost, "/orders", adminID,
		`{"customer_id":"`+bob+`","asset":"AAPL","side":"SELL","size":"5","price":"10"}`)
	require.Equal(t, fiber.StatusCreated, status, string(body))
	f.requireBalance(t, bob, "AAPL", "5", "0")
}

func TestHandlerCancelOwnership(t *testing.T) {
	f := newFixture(t)
	app := newHandlerApp(f)
	alice, mallory := uuid.NewString(), uuid.NewString()
	f.fund(t, alice, "TRY", "100")

	_, body := call(t, app, fiber.MethodPost, "/orders", alice, `{"asset":"AAPL","side":"BUY","size":"1","price":"10"}`)
	var o Order
	require.NoError(t, json.Unmarshal(body, &o))

	status, _ := call(t, app, fiber.MethodDelete, "/orders/"+o.ID, mallory, "")
	assert.Equal(t, fiber.StatusForbidden, status)
	status, _ = call(t, app, fiber.MethodGet, "/orders/"+o.ID, mallory, "")
	assert.Equal(t, fiber.StatusForbidden, status)
	status, _ = call(t, app, fiber.MethodDelete, "/orders/"+uuid.NewString(), alice, "")
	assert.Equal(t, fiber.StatusNotFound, status)

	status, body = call(t, app, fiber.MethodDelete, "/orders/"+o.ID, alice, "")
	require.Equal(t, fiber.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &o))
	assert.Equal(t, StatusCancelled, o.Status)
	f.requireBalance(t, alice, "TRY", "100", "100")
}

func TestHandlerListAndPending(t *testing.T) {
	f := newFixture(t)
	app := newHandlerApp(f)
	alice, bob := uuid.NewString(), uuid.NewString()
	f.fund(t, alice, "TRY", "100")
	f.fund(t, bob, "TRY", "100")

	for _, caller := range []string{alice, alice, bob} {
		status, _ := call(t, app, fiber.MethodPost, "/orders", caller, `{"asset":"AAPL","side":"BUY","size":"1","price":"10"}`)
		require.Equal(t, fiber.StatusCreated, status)
	}

	var list []Order
	status, body := call(t, app, fiber.MethodGet, "/orders", alice, "")
	require.Equal(t, fiber.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Len(t, list, 2)

	status, _ = call(t, app, fiber.MethodGet, "/orders?customer_id="+bob, alice, "")
	assert.Equal(t, fiber.StatusForbidden, status)

	status, body = call(t, app, fiber.MethodGet, "/orders?customer_id="+bob, adminID, "")
	require.Equal(t, fiber.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Len(t, list, 1)

	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	status, body = call(t, app, fiber.MethodGet, "/orders?start="+future, adminID, "")
	require.Equal(t, fiber.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Empty(t, list)

	status, _ = call(t, app, fiber.MethodGet, "/orders?start=yesterday", alice, "")
	assert.Equal(t, fiber.StatusBadRequest, status)
	status, _ = call(t, app, fiber.MethodGet, "/orders?status=open", alice, "")
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, body = call(t, app, fiber.MethodGet, "/orders/pending", adminID, "")
	require.Equal(t, fiber.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Len(t, list, 3)
}

func TestHandlerMatchRequiresOrderID(t *testing.T) {
	f := newFixture(t)
	app := newHandlerApp(f)

	status, _ := call(t, app, fiber.MethodPost, "/orders/match", adminID, `{}`)
	assert.Equal(t, fiber.StatusBadRequest, status)
	status, _ = call(t, app, fiber.MethodPost, "/orders/match", adminID, `{"order_id":"`+uuid.NewString()+`"}`)
	assert.Equal(t, fiber.StatusNotFound, status)
}
