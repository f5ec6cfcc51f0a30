package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/congo_shop/internal/ledger"
	"github.com/congo-pay/congo_shop/internal/order"
	"github.com/congo-pay/congo_shop/internal/payments"
	"github.com/congo-pay/congo_shop/internal/wallet"
)

// RegisterWebhookRoutes wires signed provider callbacks.
func RegisterWebhookRoutes(r fiber.Router, p *payments.Handler, o *order.Handler) {
	r.Post("/webhooks/payments", p.Webhook)
	r.Post("/webhooks/delivery", o.DeliveryWebhook)
}

// RegisterWalletRoutes wires wallet-related endpoints.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler) {
	r.Post("/wallets", h.Create)
	r.Get("/wallet", h.Me)
}

func RegisterOrderRoutes(r fiber.Router, h *order.Handler, limit fiber.Handler) {
	r.Post("/checkout", limit, h.Checkout)
}

// RegisterAdminRoutes wires operator endpoints. r must already require the admin role.
func RegisterAdminRoutes(r fiber.Router, l *ledger.Handler, o *order.Handler) {
	r.Post("/wallets/:userId/adjustments", l.AdministrativeDebit)
	r.Post("/transactions/:reference/status", l.MarkStatus)
	r.Post("/shipments/:reference/cancel", o.CancelShipment)
}
