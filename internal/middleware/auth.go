package middleware

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/congo_shop/internal/requestctx"
	"github.com/congo-pay/congo_shop/internal/session"
)

// Authenticate validates bearer tokens and stores the caller identity on the user context.
func Authenticate(v session.Validator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		id, err := v.Validate(strings.TrimSpace(authz[len("Bearer "):]))
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, "invalid token")
		}
		id.IP = c.IP()
		id.RequestID = RequestIDFrom(c)

		c.Locals("user_id", id.UserID)
		c.SetUserContext(requestctx.WithIdentity(c.UserContext(), id))
		return c.Next()
	}
}

// RequireAdmin rejects callers without the admin role. It must run after Authenticate.
func RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := requestctx.FromContext(c.UserContext())
		if !ok {
			return fiber.NewError(http.StatusUnauthorized, "unauthorized")
		}
		if !id.IsAdmin() {
			return fiber.NewError(http.StatusForbidden, "admin role required")
		}
		return c.Next()
	}
}
