package coupon

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/congo_shop/internal/apperr"
)

var (
	ErrCouponNotFound     = apperr.New(apperr.ErrNotFound, "coupon not found")
	ErrCouponInactive     = apperr.New(apperr.ErrInvalidCoupon, "coupon is inactive")
	ErrCouponExpired      = apperr.New(apperr.ErrInvalidCoupon, "coupon has expired")
	ErrCouponNotYetActive = apperr.New(apperr.ErrInvalidCoupon, "coupon is not yet active")
)

// ValueType says how a coupon value is interpreted.
type ValueType string

const (
	ValueFlat       ValueType = "flat"
	ValuePercentage ValueType = "percentage"
)

// Coupon is a discount code valid between StartDate and EndDate inclusive.
type Coupon struct {
	Code      string
	Value     decimal.Decimal
	ValueType ValueType
	StartDate time.Time
	EndDate   time.Time
	Active    bool
}
