package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/congo_shop/internal/apperr"
)

var (
	// ErrInsufficientFunds occurs when a strict debit would take the wallet below zero.
	ErrInsufficientFunds = apperr.New(apperr.ErrInsufficientFunds, "insufficient funds")

	// ErrDuplicateTransaction indicates the reference or provider reference of
	// a transaction already exists.
	ErrDuplicateTransaction = apperr.New(apperr.ErrConflict, "duplicate transaction")

	ErrTransactionNotFound = apperr.New(apperr.ErrNotFound, "transaction not found")
	ErrInvalidAmount       = apperr.New(apperr.ErrValidation, "amount must be positive with at most two decimal places")
	ErrInvalidTransition   = apperr.New(apperr.ErrConflict, "invalid transaction status transition")

	// ErrAdjustmentNotApproved is returned for administrative debits without an approver or reason.
	ErrAdjustmentNotApproved = apperr.New(apperr.ErrValidation, "administrative adjustment requires an approver and a reason")
)

type Type string

const (
	TypeDeposit    Type = "deposit"
	TypeWithdrawal Type = "withdrawal"
)

type Purpose string

const (
	PurposeDeposit      Purpose = "deposit"
	PurposeWithdrawal   Purpose = "withdrawal"
	PurposeReversal     Purpose = "reversal"
	PurposeOrderPayment Purpose = "order-payment"
	PurposeAdjustment   Purpose = "adjustment"
)

type Status string

const (
	StatusQueued  Status = "queued"
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusBlocked Status = "blocked"
)

var transitions = map[Status][]Status{
	StatusQueued:  {StatusPending},
	StatusPending: {StatusSuccess, StatusFailed, StatusBlocked},
}

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	_, ok := transitions[s]
	return !ok
}

// CanTransition reports whether a transaction may move from s to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ParseStatus validates a status string.
func ParseStatus(v string) (Status, bool) {
	switch s := Status(v); s {
	case StatusQueued, StatusPending, StatusSuccess, StatusFailed, StatusBlocked:
		return s, true
	}
	return "", false
}

// Transaction is one immutable record of a wallet balance mutation. Only
// Status and SettledAt change after it is written, plus the balance snapshots
// of a CreditOnSettle deposit when it settles.
type Transaction struct {
	ID                string
	UserID            string
	Currency          string
	Type              Type
	Purpose           Purpose
	Status            Status
	Amount            decimal.Decimal
	AmountCharged     decimal.Decimal
	AmountSettled     decimal.Decimal
	Fee               decimal.Decimal
	ProviderFee       decimal.Decimal
	Reference         string
	ProviderReference string
	BalanceBefore     decimal.Decimal
	BalanceAfter      decimal.Decimal
	Narration         string
	ApprovedBy        string
	// CreditOnSettle marks an open deposit whose Amount is credited to the
	// wallet when it moves to success.
	CreditOnSettle    bool
	SettledAt         *time.Time
	CreatedAt         time.Time
}

// Result is the outcome of a balance mutation.
type Result struct {
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
	Transaction   Transaction
}

// Adjustment describes an administrative debit that may leave the wallet negative.
type Adjustment struct {
	UserID     string
	Amount     decimal.Decimal
	ApprovedBy string
	Reason     string
}
