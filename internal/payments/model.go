package payments

import (
	"github.com/shopspring/decimal"

	"github.com/congo-pay/congo_shop/internal/ledger"
)

// Deposit is a payment-provider callback describing funds received for a user.
type Deposit struct {
	ProviderReference string          `json:"provider_reference"`
	UserID            string          `json:"user_id"`
	Amount            decimal.Decimal `json:"amount"`
	Fee               decimal.Decimal `json:"fee"`
	ProviderFee       decimal.Decimal `json:"provider_fee"`
	Status            string          `json:"status"`
	Currency          string          `json:"currency"`
	Purpose           string          `json:"purpose"`
	Credit            bool            `json:"credit"`
}

// Charge is an internal debit against a wallet, such as paying an order.
type Charge struct {
	UserID    string
	Amount    decimal.Decimal
	Purpose   ledger.Purpose
	Narration string
}
