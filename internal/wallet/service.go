package wallet

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/congo_shop/internal/apperr"
)

// Service provisions and reads wallets. Balance changes go through the ledger.
type Service struct {
	repo     Repository
	currency string
}

// NewService builds a wallet service instance for the shop currency.
func NewService(repo Repository, currency string) *Service {
	return &Service{repo: repo, currency: strings.ToUpper(currency)}
}

// Currency is the single currency wallets are held in.
func (s *Service) Currency() string {
	return s.currency
}

// CreateInput captures data required to create a wallet.
type CreateInput struct {
	UserID   string
	Currency string
}

// Create provisions an empty wallet for a user.
func (s *Service) Create(ctx context.Context, input CreateInput) (Wallet, error) {
	if _, err := uuid.Parse(input.UserID); err != nil {
		return Wallet{}, apperr.Validation("user id must be a uuid")
	}

	currency := strings.ToUpper(input.Currency)
	if currency == "" {
		currency = s.currency
	}
	if currency != s.currency {
		return Wallet{}, apperr.Validation("unsupported currency %s", currency)
	}

	now := time.Now().UTC()
	wallet := Wallet{
		ID:        uuid.NewString(),
		UserID:    input.UserID,
		Currency:  currency,
		Balance:   decimal.Zero,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.Create(ctx, wallet); err != nil {
		return Wallet{}, err
	}

	return wallet, nil
}

// GetByUser retrieves the committed wallet for a user.
func (s *Service) GetByUser(ctx context.Context, userID string) (Wallet, error) {
	return s.repo.GetByUser(ctx, userID, s.currency)
}
