package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/congo_shop/internal/logging"
	"github.com/congo-pay/congo_shop/internal/session"
)

type idempotencyApp struct {
	app   *fiber.App
	calls int
}

func newCache(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		cache.Close()
		mr.Close()
	})
	return cache
}

func setupIdempotencyApp(t *testing.T) *idempotencyApp {
	t.Helper()
	cache := newCache(t)

	ia := &idempotencyApp{app: fiber.New()}
	ia.app.Use(Authenticate(session.NewHS256Validator(testSecret)))
	ia.app.Use(Idempotency(cache, time.Minute, logging.Discard(), "/webhooks/"))
	ia.app.Post("/orders", func(c *fiber.Ctx) error {
		ia.calls++
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"call": ia.calls})
	})
	ia.app.Post("/fail", func(c *fiber.Ctx) error {
		ia.calls++
		return c.SendStatus(fiber.StatusServiceUnavailable)
	})
	return ia
}

func (ia *idempotencyApp) send(t *testing.T, path, user, key, body string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, path, strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if user != "" {
		req.Header.Set(fiber.HeaderAuthorization, bearer(t, map[string]any{"sub": user}))
	}
	if key != "" {
		req.Header.Set(idempotencyKeyHeader, key)
	}
	resp, err := ia.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	payload, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(payload)
}

func TestIdempotencyRequiresHeader(t *testing.T) {
	ia := setupIdempotencyApp(t)

	if code, _ := ia.send(t, "/orders", "alice", "", "{}"); code != fiber.StatusBadRequest {
		t.Fatalf("expected %d got %d", fiber.StatusBadRequest, code)
	}
}

func TestIdempotencyReplaysStoredResponse(t *testing.T) {
	ia := setupIdempotencyApp(t)

	code, first := ia.send(t, "/orders", "alice", "abc123", `{"qty":1}`)
	if code != fiber.StatusCreated {
		t.Fatalf("expected %d got %d", fiber.StatusCreated, code)
	}
	code, second := ia.send(t, "/orders", "alice", "abc123", `{"qty":1}`)
	if code != fiber.StatusCreated || second != first {
		t.Fatalf("expected replay of %s, got %d %s", first, code, second)
	}
	if ia.calls != 1 {
		t.Fatalf("handler ran %d times, want 1", ia.calls)
	}
}

func TestIdempotencyRejectsKeyReuseWithDifferentBody(t *testing.T) {
	ia := setupIdempotencyApp(t)

	ia.send(t, "/orders", "alice", "abc123", `{"qty":1}`)
	if code, _ := ia.send(t, "/orders", "alice", "abc123", `{"qty":2}`); code != fiber.StatusUnprocessableEntity {
		t.Fatalf("expected %d got %d", fiber.StatusUnprocessableEntity, code)
	}
}

func TestIdempotencyKeysAreScopedPerUser(t *testing.T) {
	ia := setupIdempotencyApp(t)

	ia.send(t, "/orders", "alice", "shared", `{}`)
	code, body := ia.send(t, "/orders", "bob", "shared", `{}`)
	if code != fiber.StatusCreated || !strings.Contains(body, `"call":2`) {
		t.Fatalf("expected bob's request to run, got %d %s", code, body)
	}
}

func TestIdempotencyForgetsServerErrors(t *testing.T) {
	ia := setupIdempotencyApp(t)

	for i := 0; i < 2; i++ {
		if code, _ := ia.send(t, "/fail", "alice", "retry-me", `{}`); code != http.StatusServiceUnavailable {
			t.Fatalf("attempt %d: expected 503 got %d", i, code)
		}
	}
	if ia.calls != 2 {
		t.Fatalf("expected 5xx responses to be retried, handler ran %d times", ia.calls)
	}
}

func TestIdempotencySkipsConfiguredPaths(t *testing.T) {
	app := fiber.New()
	app.Use(Idempotency(newCache(t), time.Minute, logging.Discard(), "/webhooks/"))
	app.Post("/webhooks/payments", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	app.Post("/orders", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusCreated)
	})

	resp, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/webhooks/payments", strings.NewReader("{}")))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected webhook to bypass idempotency, got %d", resp.StatusCode)
	}

	resp, err = app.Test(httptest.NewRequest(fiber.MethodPost, "/orders", strings.NewReader("{}")))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected other paths to require a key, got %d", resp.StatusCode)
	}
}
