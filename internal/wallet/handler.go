package wallet

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/congo_shop/internal/apperr"
	"github.com/congo-pay/congo_shop/internal/requestctx"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	UserID   string `json:"user_id"`
	Currency string `json:"currency"`
}

type walletResponse struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	Currency string `json:"currency"`
	Balance  string `json:"balance"`
	Points   int64  `json:"points"`
	Status   string `json:"status"`
}

func toResponse(w Wallet) walletResponse {
	return walletResponse{
		ID:       w.ID,
		UserID:   w.UserID,
		Currency: w.Currency,
		Balance:  w.Balance.StringFixed(2),
		Points:   w.Points,
		Status:   w.Status,
	}
}

// Create provisions a wallet. Customers may only provision their own.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	id, _ := requestctx.FromContext(c.UserContext())
	if req.UserID == "" {
		req.UserID = id.UserID
	}
	if req.UserID != id.UserID && !id.IsAdmin() {
		return fiber.NewError(http.StatusForbidden, "cannot provision a wallet for another user")
	}
	wallet, err := h.service.Create(c.UserContext(), CreateInput{UserID: req.UserID, Currency: req.Currency})
	if err != nil {
		return fiber.NewError(apperr.HTTPStatus(err), apperr.PublicMessage(err))
	}
	return c.Status(http.StatusCreated).JSON(toResponse(wallet))
}

// Me returns the caller's wallet.
func (h *Handler) Me(c *fiber.Ctx) error {
	id, ok := requestctx.FromContext(c.UserContext())
	if !ok || id.UserID == "" {
		return fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}
	wallet, err := h.service.GetByUser(c.UserContext(), id.UserID)
	if err != nil {
		return fiber.NewError(apperr.HTTPStatus(err), apperr.PublicMessage(err))
	}
	return c.Status(http.StatusOK).JSON(toResponse(wallet))
}
