package order

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/congo_shop/internal/apperr"
	"github.com/congo-pay/congo_shop/internal/logging"
	"github.com/congo-pay/congo_shop/internal/requestctx"
	"github.com/congo-pay/congo_shop/internal/webhook"
)

// Handler exposes checkout and shipment endpoints.
type Handler struct {
	service        *Service
	deliverySecret []byte
	logger         *slog.Logger
}

// NewHandler builds an order handler. deliverySecret signs delivery provider callbacks.
func NewHandler(service *Service, deliverySecret string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Handler{service: service, deliverySecret: []byte(deliverySecret), logger: logger}
}

type lineRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type checkoutRequest struct {
	Items         []lineRequest `json:"items"`
	LocationID    string        `json:"location_id"`
	CouponCode    string        `json:"coupon_code"`
	PayFromWallet bool          `json:"pay_from_wallet"`
	Type          string        `json:"type"`
	Duration      int           `json:"duration"`
	DurationType  string        `json:"duration_type"`
}

type itemResponse struct {
	ID        string `json:"id"`
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
}

type shipmentResponse struct {
	ID                   string    `json:"id"`
	Reference            string    `json:"reference"`
	LocationID           string    `json:"location_id"`
	Status               string    `json:"status"`
	Amount               string    `json:"amount"`
	Discount             string    `json:"discount"`
	DiscountValueType    string    `json:"discount_value_type,omitempty"`
	CouponCode           string    `json:"coupon_code,omitempty"`
	DeliveryFee          string    `json:"delivery_fee"`
	Tax                  string    `json:"tax"`
	AmountToPay          string    `json:"amount_to_pay"`
	AmountPaid           string    `json:"amount_paid"`
	Paid                 bool      `json:"paid"`
	PaymentReference     string    `json:"payment_reference,omitempty"`
	ExpectedDeliveryDate time.Time `json:"expected_delivery_date"`
}

type orderResponse struct {
	ID               string           `json:"id"`
	UserID           string           `json:"user_id"`
	Type             string           `json:"type"`
	Status           string           `json:"status"`
	Duration         int              `json:"duration,omitempty"`
	DurationType     string           `json:"duration_type,omitempty"`
	NextShipmentDate *time.Time       `json:"next_shipment_date,omitempty"`
	Items            []itemResponse   `json:"items"`
	Shipment         shipmentResponse `json:"shipment"`
	CreatedAt        time.Time        `json:"created_at"`
}

func toShipmentResponse(s Shipment) shipmentResponse {
	return shipmentResponse{
		ID:                   s.ID,
		Reference:            s.Reference,
		LocationID:           s.LocationID,
		Status:               string(s.Status),
		Amount:               s.Amount.StringFixed(2),
		Discount:             s.Discount.StringFixed(2),
		DiscountValueType:    s.DiscountValueType,
		CouponCode:           s.CouponCode,
		DeliveryFee:          s.DeliveryFee.StringFixed(2),
		Tax:                  s.Tax.StringFixed(2),
		AmountToPay:          s.AmountToPay.StringFixed(2),
		AmountPaid:           s.AmountPaid.StringFixed(2),
		Paid:                 s.Paid,
		PaymentReference:     s.PaymentReference,
		ExpectedDeliveryDate: s.ExpectedDeliveryDate,
	}
}

func toResponse(o Order) orderResponse {
	items := make([]itemResponse, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, itemResponse{
			ID:        it.ID,
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice.StringFixed(2),
		})
	}
	return orderResponse{
		ID:               o.ID,
		UserID:           o.UserID,
		Type:             string(o.Type),
		Status:           string(o.Status),
		Duration:         o.Duration,
		DurationType:     string(o.DurationType),
		NextShipmentDate: o.NextShipmentDate,
		Items:            items,
		Shipment:         toShipmentResponse(o.Shipment),
		CreatedAt:        o.CreatedAt,
	}
}

// Checkout settles the caller's cart.
func (h *Handler) Checkout(c *fiber.Ctx) error {
	id, ok := requestctx.FromContext(c.UserContext())
	if !ok || id.UserID == "" {
		return fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}
	var req checkoutRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	lines := make([]Line, 0, len(req.Items))
	for _, it := range req.Items {
		lines = append(lines, Line{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	o, err := h.service.Checkout(c.UserContext(), CheckoutInput{
		UserID:        id.UserID,
		Lines:         lines,
		LocationID:    req.LocationID,
		CouponCode:    req.CouponCode,
		PayFromWallet: req.PayFromWallet,
		Type:          Type(req.Type),
		Duration:      req.Duration,
		DurationType:  DurationType(req.DurationType),
	})
	if err != nil {
		return fiber.NewError(apperr.HTTPStatus(err), apperr.PublicMessage(err))
	}
	return c.Status(http.StatusCreated).JSON(toResponse(o))
}

// CancelShipment cancels a shipment on behalf of an administrator.
func (h *Handler) CancelShipment(c *fiber.Ctx) error {
	s, err := h.service.AdvanceShipment(c.UserContext(), c.Params("reference"), ShipmentCanceled)
	if err != nil {
		return fiber.NewError(apperr.HTTPStatus(err), apperr.PublicMessage(err))
	}
	return c.Status(http.StatusOK).JSON(toShipmentResponse(s))
}

type deliveryEvent struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

// DeliveryWebhook applies a signed status update from the delivery provider.
// Unknown shipments and invalid transitions are acknowledged and logged.
func (h *Handler) DeliveryWebhook(c *fiber.Ctx) error {
	body := c.Body()
	if !webhook.Verify(h.deliverySecret, body, c.Get(webhook.SignatureHeader)) {
		return fiber.NewError(http.StatusUnauthorized, "invalid signature")
	}
	var ev deliveryEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	status, ok := ParseShipmentStatus(ev.Status)
	if !ok {
		return fiber.NewError(http.StatusBadRequest, "unknown shipment status")
	}

	log := logging.With(c.UserContext(), h.logger)
	s, err := h.service.AdvanceShipment(c.UserContext(), ev.Reference, status)
	if err != nil {
		if apperr.HTTPStatus(err) >= http.StatusInternalServerError {
			log.Error("delivery update failed", slog.String("reference", ev.Reference), slog.Any("error", err))
			return fiber.NewError(http.StatusInternalServerError, "internal error")
		}
		log.Warn("delivery update ignored", slog.String("reference", ev.Reference), slog.String("status", ev.Status), slog.Any("error", err))
		return c.Status(http.StatusOK).JSON(fiber.Map{"received": true, "applied": false})
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"received": true, "applied": true, "status": s.Status})
}
