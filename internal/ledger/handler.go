package ledger

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/congo_shop/internal/apperr"
	"github.com/congo-pay/congo_shop/internal/requestctx"
)

// Handler exposes administrative ledger endpoints.
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type adjustmentRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type transactionResponse struct {
	ID                string     `json:"id"`
	Reference         string     `json:"reference"`
	ProviderReference string     `json:"provider_reference,omitempty"`
	UserID            string     `json:"user_id"`
	Currency          string     `json:"currency"`
	Type              string     `json:"type"`
	Purpose           string     `json:"purpose"`
	Status            string     `json:"status"`
	Amount            string     `json:"amount"`
	BalanceBefore     string     `json:"balance_before"`
	BalanceAfter      string     `json:"balance_after"`
	Narration         string     `json:"narration,omitempty"`
	ApprovedBy        string     `json:"approved_by,omitempty"`
	SettledAt         *time.Time `json:"settled_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

func toResponse(t Transaction) transactionResponse {
	return transactionResponse{
		ID:                t.ID,
		Reference:         t.Reference,
		ProviderReference: t.ProviderReference,
		UserID:            t.UserID,
		Currency:          t.Currency,
		Type:              string(t.Type),
		Purpose:           string(t.Purpose),
		Status:            string(t.Status),
		Amount:            t.Amount.StringFixed(2),
		BalanceBefore:     t.BalanceBefore.StringFixed(2),
		BalanceAfter:      t.BalanceAfter.StringFixed(2),
		Narration:         t.Narration,
		ApprovedBy:        t.ApprovedBy,
		SettledAt:         t.SettledAt,
		CreatedAt:         t.CreatedAt,
	}
}

// AdministrativeDebit debits a wallet on behalf of the calling administrator,
// who is recorded as the approver.
func (h *Handler) AdministrativeDebit(c *fiber.Ctx) error {
	var req adjustmentRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	id, _ := requestctx.FromContext(c.UserContext())
	res, err := h.service.AdministrativeDebit(c.UserContext(), nil, Adjustment{
		UserID:     c.Params("userId"),
		Amount:     req.Amount,
		ApprovedBy: id.UserID,
		Reason:     req.Reason,
	})
	if err != nil {
		return fiber.NewError(apperr.HTTPStatus(err), apperr.PublicMessage(err))
	}
	return c.Status(http.StatusCreated).JSON(toResponse(res.Transaction))
}

// MarkStatus finalizes a queued or pending transaction.
func (h *Handler) MarkStatus(c *fiber.Ctx) error {
	var req statusRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	next, ok := ParseStatus(req.Status)
	if !ok {
		return fiber.NewError(http.StatusBadRequest, "unknown transaction status")
	}
	t, err := h.service.MarkStatus(c.UserContext(), c.Params("reference"), next)
	if err != nil {
		return fiber.NewError(apperr.HTTPStatus(err), apperr.PublicMessage(err))
	}
	return c.Status(http.StatusOK).JSON(toResponse(t))
}
