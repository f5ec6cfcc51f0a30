package wallet

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/congo_shop/internal/apperr"
)

const (
	StatusActive = "active"
	StatusFrozen = "frozen"
)

var (
	// ErrWalletNotFound is returned when a user has no wallet in the requested currency.
	ErrWalletNotFound = apperr.New(apperr.ErrNotFound, "wallet not found")
	// ErrWalletExists is returned when provisioning a wallet that already exists.
	ErrWalletExists = apperr.New(apperr.ErrConflict, "wallet already exists")
)

// Wallet is a per-user single-currency balance. Balance is only ever changed
// by the ledger while it holds the row lock.
type Wallet struct {
	ID        string
	UserID    string
	Currency  string
	Balance   decimal.Decimal
	Points    int64
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}
