package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/congo_shop/internal/logging"
	"github.com/congo-pay/congo_shop/internal/metrics"
	"github.com/congo-pay/congo_shop/internal/requestctx"
	"github.com/congo-pay/congo_shop/internal/session"
)

const testSecret = "jwt-secret"

func bearer(t *testing.T, claims map[string]any) string {
	t.Helper()
	token, err := session.SignHS256(claims, []byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return "Bearer " + token
}

func authApp() *fiber.App {
	app := fiber.New()
	app.Use(RequestID())
	app.Use(Authenticate(session.NewHS256Validator(testSecret)))
	app.Get("/me", func(c *fiber.Ctx) error {
		id, _ := requestctx.FromContext(c.UserContext())
		return c.SendString(id.UserID + "|" + id.RequestID)
	})
	app.Get("/admin", RequireAdmin(), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})
	return app
}

func TestAuthenticateRejectsMissingAndInvalidTokens(t *testing.T) {
	app := authApp()

	for _, authz := range []string{"", "Basic abc", "Bearer nope"} {
		req := httptest.NewRequest(fiber.MethodGet, "/me", nil)
		if authz != "" {
			req.Header.Set(fiber.HeaderAuthorization, authz)
		}
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		if resp.StatusCode != fiber.StatusUnauthorized {
			t.Fatalf("%q: expected 401 got %d", authz, resp.StatusCode)
		}
	}
}

func TestAuthenticateStoresIdentity(t *testing.T) {
	app := authApp()

	req := httptest.NewRequest(fiber.MethodGet, "/me", nil)
	req.Header.Set(fiber.HeaderAuthorization, bearer(t, map[string]any{"sub": "user-7"}))
	req.Header.Set(requestIDHeader, "req-1")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	buf := make([]byte, 64)
	n, _ := resp.Body.Read(buf)
	if got := string(buf[:n]); got != "user-7|req-1" {
		t.Fatalf("unexpected identity %q", got)
	}
}

func TestRequireAdmin(t *testing.T) {
	app := authApp()

	cases := map[string]int{
		"customer": fiber.StatusForbidden,
		"admin":    fiber.StatusNoContent,
	}
	for role, want := range cases {
		req := httptest.NewRequest(fiber.MethodGet, "/admin", nil)
		req.Header.Set(fiber.HeaderAuthorization, bearer(t, map[string]any{"sub": "u", "role": role}))
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		if resp.StatusCode != want {
			t.Fatalf("%s: expected %d got %d", role, want, resp.StatusCode)
		}
	}
}

func TestRateLimitPerCaller(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cache.Close()

	app := fiber.New()
	app.Use(Authenticate(session.NewHS256Validator(testSecret)))
	app.Post("/checkout", RateLimit(cache, "checkout", 2, time.Minute), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusCreated)
	})

	send := func(user string) int {
		req := httptest.NewRequest(fiber.MethodPost, "/checkout", nil)
		req.Header.Set(fiber.HeaderAuthorization, bearer(t, map[string]any{"sub": user}))
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		return resp.StatusCode
	}

	for i := 0; i < 2; i++ {
		if code := send("alice"); code != fiber.StatusCreated {
			t.Fatalf("request %d: expected 201 got %d", i, code)
		}
	}
	if code := send("alice"); code != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429 got %d", code)
	}
	if code := send("bob"); code != fiber.StatusCreated {
		t.Fatalf("other callers must not share the window, got %d", code)
	}

	mr.FastForward(time.Minute)
	if code := send("alice"); code != fiber.StatusCreated {
		t.Fatalf("expected window to reset, got %d", code)
	}
}

func TestAuditRecordsMetrics(t *testing.T) {
	m := metrics.New()
	app := fiber.New()
	app.Use(Audit(logging.Discard(), m))
	app.Get("/orders/:id", func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusNotFound, "missing")
	})

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/orders/42", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.StatusCode)
	}
	if got := testutil.ToFloat64(m.Requests.WithLabelValues("/orders/:id", "404")); got != 1 {
		t.Fatalf("expected one request counted, got %v", got)
	}
}
