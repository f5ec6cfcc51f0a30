package server

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/congo_shop/internal/apperr"
	"github.com/congo-pay/congo_shop/internal/config"
	"github.com/congo-pay/congo_shop/internal/logging"
)

func TestErrorHandlerHidesUnclassifiedErrors(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: errorHandler})
	app.Get("/fiber", func(c *fiber.Ctx) error { return fiber.NewError(fiber.StatusTeapot, "short and stout") })
	app.Get("/kind", func(c *fiber.Ctx) error { return apperr.New(apperr.ErrNotFound, "order not found") })
	app.Get("/raw", func(c *fiber.Ctx) error { return errors.New("pq: connection refused") })

	cases := []struct {
		path string
		code int
		msg  string
	}{
		{"/fiber", fiber.StatusTeapot, "short and stout"},
		{"/kind", fiber.StatusNotFound, "order not found"},
		{"/raw", fiber.StatusInternalServerError, "internal error"},
	}
	for _, tc := range cases {
		resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, tc.path, nil))
		if err != nil {
			t.Fatalf("%s: %v", tc.path, err)
		}
		var body map[string]string
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("%s: decode: %v", tc.path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != tc.code || body["error"] != tc.msg {
			t.Fatalf("%s: got %d %q", tc.path, resp.StatusCode, body["error"])
		}
	}
}

func TestNewRejectsMissingInfrastructure(t *testing.T) {
	cfg := config.Config{AppEnv: "production", NotifyBackend: config.NotifyLog, Currency: "NGN"}
	if _, err := New(cfg, nil, nil, nil, logging.Discard()); err == nil {
		t.Fatal("expected error without postgres outside development")
	}
}
