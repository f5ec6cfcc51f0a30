package payments

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/congo_shop/internal/logging"
	"github.com/congo-pay/congo_shop/internal/webhook"
)

// Handler exposes the payment provider callback.
type Handler struct {
	reconciler *Reconciler
	secret     []byte
	logger     *slog.Logger
}

// NewHandler constructs a payment webhook handler.
func NewHandler(reconciler *Reconciler, secret string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Handler{reconciler: reconciler, secret: []byte(secret), logger: logger}
}

// Webhook verifies the provider signature and reconciles the deposit. Once the
// signature is valid the provider always gets a 200 so it stops retrying;
// reconciliation failures surface through logs, metrics and the sweeper.
func (h *Handler) Webhook(c *fiber.Ctx) error {
	body := c.Body()
	if !webhook.Verify(h.secret, body, c.Get(webhook.SignatureHeader)) {
		return fiber.NewError(http.StatusUnauthorized, "invalid signature")
	}

	var d Deposit
	if err := json.Unmarshal(body, &d); err != nil {
		logging.With(c.UserContext(), h.logger).Warn("undecodable provider deposit", slog.Any("error", err))
		return c.Status(http.StatusOK).JSON(fiber.Map{"received": true, "processed": false})
	}

	txn := h.reconciler.CreateDepositFromWebhook(c.UserContext(), d)
	if txn == nil {
		return c.Status(http.StatusOK).JSON(fiber.Map{"received": true, "processed": false})
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"received":  true,
		"processed": true,
		"reference": txn.Reference,
		"status":    txn.Status,
	})
}
