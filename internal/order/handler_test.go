package order

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/congo_shop/internal/logging"
	"github.com/congo-pay/congo_shop/internal/requestctx"
	"github.com/congo-pay/congo_shop/internal/webhook"
)

func testApp(h harness, userID string) *fiber.App {
	handler := NewHandler(h.svc, "delivery-secret", logging.Discard())
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.SetUserContext(requestctx.WithIdentity(c.UserContext(), requestctx.Identity{UserID: userID, Role: requestctx.RoleCustomer}))
		return c.Next()
	})
	app.Post("/checkout", handler.Checkout)
	app.Post("/webhooks/delivery", handler.DeliveryWebhook)
	return app
}

func TestCheckoutAndDeliveryOverHTTP(t *testing.T) {
	h := newHarness(t)
	app := testApp(h, uuid.NewString())

	body := []byte(`{"items":[{"product_id":"rice","quantity":1}],"location_id":"lekki"}`)
	req := httptest.NewRequest(http.MethodPost, "/checkout", bytes.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	raw, _ := io.ReadAll(resp.Body)
	var created orderResponse
	require.NoError(t, json.Unmarshal(raw, &created))
	assert.Equal(t, "6337.50", created.Shipment.AmountToPay)
	ref := created.Shipment.Reference

	event := []byte(`{"reference":"` + ref + `","status":"processing"}`)
	req = httptest.NewRequest(http.MethodPost, "/webhooks/delivery", bytes.NewReader(event))
	req.Header.Set(webhook.SignatureHeader, webhook.Sign([]byte("delivery-secret"), event))
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	stored, ok := h.repo.Shipment(ref)
	require.True(t, ok)
	assert.Equal(t, ShipmentProcessing, stored.Status)

	req = httptest.NewRequest(http.MethodPost, "/webhooks/delivery", bytes.NewReader(event))
	req.Header.Set(webhook.SignatureHeader, "00")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCheckoutEmptyCartOverHTTP(t *testing.T) {
	h := newHarness(t)
	app := testApp(h, uuid.NewString())

	req := httptest.NewRequest(http.MethodPost, "/checkout", bytes.NewReader([]byte(`{"items":[],"location_id":"lekki"}`)))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	h.assertNothingPersisted(t)
}
