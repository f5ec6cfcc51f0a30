package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/congo_shop/internal/apperr"
)

var hundred = decimal.NewFromInt(100)

// Validator resolves coupons and computes their discount. It holds no state
// beyond its repository and clock.
type Validator struct {
	repo Repository
	now  func() time.Time
}

// NewValidator builds a validator using the wall clock.
func NewValidator(repo Repository) *Validator {
	return &Validator{repo: repo, now: time.Now}
}

// WithClock replaces the clock, for tests.
func (v *Validator) WithClock(now func() time.Time) *Validator {
	v.now = now
	return v
}

// Resolve returns the coupon for code if it can be applied right now.
func (v *Validator) Resolve(ctx context.Context, code string) (Coupon, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return Coupon{}, ErrCouponNotFound
	}
	c, err := v.repo.GetByCode(ctx, code)
	if err != nil {
		return Coupon{}, apperr.Wrap("get coupon", err)
	}

	now := v.now()
	switch {
	case !c.Active:
		return Coupon{}, ErrCouponInactive
	case now.After(c.EndDate):
		return Coupon{}, ErrCouponExpired
	case now.Before(c.StartDate):
		return Coupon{}, ErrCouponNotYetActive
	}
	return c, nil
}

// Apply returns the discount the coupon grants on amount, within [0, amount].
func (v *Validator) Apply(c Coupon, amount decimal.Decimal) decimal.Decimal {
	return Discount(c, amount)
}

// Discount computes the discount of c on amount.
func Discount(c Coupon, amount decimal.Decimal) decimal.Decimal {
	if !amount.IsPositive() {
		return decimal.Zero
	}
	var d decimal.Decimal
	switch c.ValueType {
	case ValuePercentage:
		d = amount.Mul(c.Value).Div(hundred)
	default:
		d = c.Value
	}
	if d.IsNegative() {
		d = decimal.Zero
	}
	if d.GreaterThan(amount) {
		d = amount
	}
	return d.Round(2)
}
