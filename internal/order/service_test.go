package order

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/congo_shop/internal/apperr"
	"github.com/congo-pay/congo_shop/internal/catalog"
	"github.com/congo-pay/congo_shop/internal/coupon"
	"github.com/congo-pay/congo_shop/internal/ledger"
	"github.com/congo-pay/congo_shop/internal/logging"
	"github.com/congo-pay/congo_shop/internal/payments"
	"github.com/congo-pay/congo_shop/internal/uow"
	"github.com/congo-pay/congo_shop/internal/wallet"
)

var clock = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

type harness struct {
	svc     *Service
	repo    *MemoryRepository
	source  *catalog.Static
	coupons *coupon.MemoryRepository
	wallets *wallet.MemoryRepository
	txns    *ledger.MemoryRepository
}

func newHarness(t *testing.T) harness {
	t.Helper()
	runner := uow.NewRunner(uow.NewMemory(), 2*time.Second)
	wallets := wallet.NewMemoryRepository()
	txns := ledger.NewMemoryRepository()
	led := ledger.NewService(runner, wallets, txns, "NGN", nil)
	reconciler := payments.NewReconciler(led, nil, logging.Discard(), nil)

	source := catalog.NewStatic().
		PutProduct(catalog.Product{ID: "rice", Price: dec("4500"), Available: true}).
		PutProduct(catalog.Product{ID: "oil", Price: dec("1250.50"), Available: true}).
		PutLocation("lekki", catalog.Band{ID: "a", DeliveryFee: dec("1500"), MarkupRate: dec("0"), TaxRate: dec("7.5"), DeliveryDays: 3})

	coupons := coupon.NewMemoryRepository(
		coupon.Coupon{Code: "TENOFF", Value: dec("10"), ValueType: coupon.ValuePercentage,
			StartDate: clock.AddDate(0, -1, 0), EndDate: clock.AddDate(0, 1, 0), Active: true},
		coupon.Coupon{Code: "BYGONE", Value: dec("500"), ValueType: coupon.ValueFlat,
			StartDate: clock.AddDate(0, -2, 0), EndDate: clock.AddDate(0, 0, -1), Active: true},
	)
	validator := coupon.NewValidator(coupons).WithClock(func() time.Time { return clock })

	repo := NewMemoryRepository()
	svc := NewService(Deps{
		Runner:  runner,
		Repo:    repo,
		Pricing: catalog.New(source),
		Coupons: validator,
		Charger: reconciler,
		Logger:  logging.Discard(),
	})
	svc.now = func() time.Time { return clock }
	return harness{svc: svc, repo: repo, source: source, coupons: coupons, wallets: wallets, txns: txns}
}

func (h harness) user(t *testing.T, balance string) string {
	t.Helper()
	userID := uuid.NewString()
	w, err := wallet.NewService(h.wallets, "NGN").Create(context.Background(), wallet.CreateInput{UserID: userID})
	require.NoError(t, err)
	wallet.SeedBalance(h.wallets, w.ID, dec(balance))
	return userID
}

func (h harness) balance(t *testing.T, userID string) decimal.Decimal {
	t.Helper()
	w, err := h.wallets.GetByUser(context.Background(), userID, "NGN")
	require.NoError(t, err)
	return w.Balance
}

func (h harness) assertNothingPersisted(t *testing.T) {
	t.Helper()
	orders, items, shipments := h.repo.Counts()
	assert.Zero(t, orders, "orders")
	assert.Zero(t, items, "items")
	assert.Zero(t, shipments, "shipments")
}

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func assertDec(t *testing.T, want string, got decimal.Decimal, msg string) {
	t.Helper()
	assert.True(t, got.Equal(dec(want)), "%s: want %s got %s", msg, want, got)
}

func TestCheckoutEmptyCart(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Checkout(context.Background(), CheckoutInput{UserID: uuid.NewString(), LocationID: "lekki"})
	require.ErrorIs(t, err, ErrEmptyCart)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	h.assertNothingPersisted(t)
}

func TestCheckoutRejectsNonPositiveQuantity(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Checkout(context.Background(), CheckoutInput{
		UserID: uuid.NewString(), LocationID: "lekki",
		Lines: []Line{{ProductID: "rice", Quantity: 0}},
	})
	require.ErrorIs(t, err, ErrInvalidQuantity)
	h.assertNothingPersisted(t)
}

func TestCheckoutBuildsOrderItemsAndShipment(t *testing.T) {
	h := newHarness(t)
	user := uuid.NewString()

	o, err := h.svc.Checkout(context.Background(), CheckoutInput{
		UserID:     user,
		LocationID: "lekki",
		CouponCode: "tenoff",
		Lines:      []Line{{ProductID: "rice", Quantity: 2}, {ProductID: "oil", Quantity: 1}},
	})
	require.NoError(t, err)

	require.Len(t, o.Items, 2)
	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, TypeOneTime, o.Type)
	assert.Nil(t, o.NextShipmentDate)

	s := o.Shipment
	assertDec(t, "10250.50", s.Amount, "amount")
	assertDec(t, "1025.05", s.Discount, "discount")
	assertDec(t, "1500", s.DeliveryFee, "delivery fee")
	assertDec(t, "768.79", s.Tax, "tax")
	assertDec(t, "11494.24", s.AmountToPay, "amount to pay")
	assert.Equal(t, "TENOFF", s.CouponCode)
	assert.Equal(t, string(coupon.ValuePercentage), s.DiscountValueType)
	assert.Equal(t, "SHP-2026-000001", s.Reference)
	assert.Equal(t, ShipmentPending, s.Status)
	assert.False(t, s.Paid)
	assert.Equal(t, clock.AddDate(0, 0, 3), s.ExpectedDeliveryDate)

	orders, items, shipments := h.repo.Counts()
	assert.Equal(t, []int{1, 2, 1}, []int{orders, items, shipments})
	stored, ok := h.repo.Order(o.ID)
	require.True(t, ok)
	assert.Len(t, stored.Items, 2)
}

func TestCheckoutAmountToPayAlwaysBalances(t *testing.T) {
	h := newHarness(t)
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 200; i++ {
		product := fmt.Sprintf("p-%d", i)
		location := fmt.Sprintf("loc-%d", i)
		h.source.PutProduct(catalog.Product{ID: product, Price: decimal.New(rng.Int63n(500000), -2), Available: true})
		h.source.PutLocation(location, catalog.Band{
			DeliveryFee: decimal.New(rng.Int63n(300000), -2),
			MarkupRate:  decimal.New(rng.Int63n(500), -2),
			TaxRate:     decimal.New(rng.Int63n(2000), -2),
		})

		code := ""
		switch rng.Intn(3) {
		case 1:
			code = fmt.Sprintf("FLAT%d", i)
			h.coupons.Put(coupon.Coupon{Code: code, Value: decimal.New(rng.Int63n(2000000), -2), ValueType: coupon.ValueFlat,
				StartDate: clock.Add(-time.Hour), EndDate: clock.Add(time.Hour), Active: true})
		case 2:
			code = fmt.Sprintf("PCT%d", i)
			h.coupons.Put(coupon.Coupon{Code: code, Value: decimal.NewFromInt(rng.Int63n(120)), ValueType: coupon.ValuePercentage,
				StartDate: clock.Add(-time.Hour), EndDate: clock.Add(time.Hour), Active: true})
		}

		o, err := h.svc.Checkout(context.Background(), CheckoutInput{
			UserID:     uuid.NewString(),
			LocationID: location,
			CouponCode: code,
			Lines:      []Line{{ProductID: product, Quantity: 1 + rng.Intn(5)}},
		})
		require.NoError(t, err)

		s := o.Shipment
		want := AmountToPay(s.Amount, s.Discount, s.DeliveryFee, s.Tax)
		assert.True(t, s.AmountToPay.Equal(want), "iteration %d: %s != %s", i, s.AmountToPay, want)
		assert.False(t, s.AmountToPay.IsNegative())
		assert.True(t, s.Discount.LessThanOrEqual(s.Amount))
		if code == "" {
			assert.True(t, s.Discount.IsZero())
		}
		stored, ok := h.repo.Shipment(s.Reference)
		require.True(t, ok)
		assert.True(t, stored.AmountToPay.Equal(s.AmountToPay))
	}
}

func TestAmountToPayClampsAtZero(t *testing.T) {
	assertDec(t, "0", AmountToPay(dec("10"), dec("50"), dec("1"), dec("1")), "clamped")
	assertDec(t, "12.5", AmountToPay(dec("10"), dec("0"), dec("2"), dec("0.5")), "plain")
}

func TestCheckoutExpiredCouponPersistsNothing(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Checkout(context.Background(), CheckoutInput{
		UserID: uuid.NewString(), LocationID: "lekki", CouponCode: "BYGONE",
		Lines: []Line{{ProductID: "rice", Quantity: 1}},
	})
	require.ErrorIs(t, err, coupon.ErrCouponExpired)
	assert.ErrorIs(t, err, apperr.ErrInvalidCoupon)
	h.assertNothingPersisted(t)
}

func TestCheckoutUnknownProductPersistsNothing(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Checkout(context.Background(), CheckoutInput{
		UserID: uuid.NewString(), LocationID: "lekki",
		Lines: []Line{{ProductID: "rice", Quantity: 1}, {ProductID: "ghost", Quantity: 1}},
	})
	require.ErrorIs(t, err, catalog.ErrProductNotFound)
	h.assertNothingPersisted(t)
}

func TestCheckoutPaysFromWallet(t *testing.T) {
	h := newHarness(t)
	user := h.user(t, "10000")

	o, err := h.svc.Checkout(context.Background(), CheckoutInput{
		UserID: user, LocationID: "lekki", PayFromWallet: true,
		Lines: []Line{{ProductID: "rice", Quantity: 1}},
	})
	require.NoError(t, err)

	s := o.Shipment
	assertDec(t, "6337.50", s.AmountToPay, "amount to pay")
	assert.True(t, s.Paid)
	assertDec(t, "6337.50", s.AmountPaid, "amount paid")
	assertDec(t, "3662.50", h.balance(t, user), "wallet")

	txns := h.txns.ForUser(user)
	require.Len(t, txns, 1)
	assert.Equal(t, s.PaymentReference, txns[0].Reference)
	assert.Equal(t, ledger.PurposeOrderPayment, txns[0].Purpose)
}

func TestCheckoutInsufficientFundsRollsBackEverything(t *testing.T) {
	h := newHarness(t)
	user := h.user(t, "100")

	_, err := h.svc.Checkout(context.Background(), CheckoutInput{
		UserID: user, LocationID: "lekki", PayFromWallet: true,
		Lines: []Line{{ProductID: "rice", Quantity: 1}},
	})
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	h.assertNothingPersisted(t)
	assertDec(t, "100", h.balance(t, user), "wallet")
	assert.Zero(t, h.txns.Len())
}

func TestCheckoutRecurringSchedulesNextShipment(t *testing.T) {
	h := newHarness(t)

	o, err := h.svc.Checkout(context.Background(), CheckoutInput{
		UserID: uuid.NewString(), LocationID: "lekki",
		Type: TypeRecurring, Duration: 2, DurationType: DurationWeek,
		Lines: []Line{{ProductID: "oil", Quantity: 3}},
	})
	require.NoError(t, err)
	require.NotNil(t, o.NextShipmentDate)
	assert.Equal(t, clock.AddDate(0, 0, 14), *o.NextShipmentDate)

	_, err = h.svc.Checkout(context.Background(), CheckoutInput{
		UserID: uuid.NewString(), LocationID: "lekki", Type: TypeRecurring,
		Lines: []Line{{ProductID: "oil", Quantity: 3}},
	})
	assert.ErrorIs(t, err, ErrInvalidRecurrence)
}

func TestConcurrentCheckoutsGetDistinctReferences(t *testing.T) {
	h := newHarness(t)

	const n = 20
	refs := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			o, err := h.svc.Checkout(context.Background(), CheckoutInput{
				UserID: uuid.NewString(), LocationID: "lekki",
				Lines: []Line{{ProductID: "rice", Quantity: 1}},
			})
			if err != nil {
				t.Errorf("checkout %d: %v", i, err)
				return
			}
			refs[i] = o.Shipment.Reference
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	for _, ref := range refs {
		assert.False(t, seen[ref], "duplicate reference %s", ref)
		seen[ref] = true
	}
	_, _, shipments := h.repo.Counts()
	assert.Equal(t, n, shipments)
}

func TestAdvanceShipmentThroughDelivery(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	o, err := h.svc.Checkout(ctx, CheckoutInput{
		UserID: uuid.NewString(), LocationID: "lekki",
		Lines: []Line{{ProductID: "rice", Quantity: 1}},
	})
	require.NoError(t, err)
	ref := o.Shipment.Reference

	_, err = h.svc.AdvanceShipment(ctx, ref, ShipmentDelivered)
	require.ErrorIs(t, err, ErrInvalidTransition)

	for _, next := range []ShipmentStatus{ShipmentProcessing, ShipmentInTransit, ShipmentDelivered} {
		s, err := h.svc.AdvanceShipment(ctx, ref, next)
		require.NoError(t, err)
		assert.Equal(t, next, s.Status)
	}

	_, err = h.svc.AdvanceShipment(ctx, ref, ShipmentCanceled)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, 409, apperr.HTTPStatus(err))

	stored, ok := h.repo.Order(o.ID)
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, stored.Status)

	_, err = h.svc.AdvanceShipment(ctx, "SHP-0000-000000", ShipmentProcessing)
	assert.ErrorIs(t, err, ErrShipmentNotFound)
}

func TestCancelingPaidShipmentRefundsWallet(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := h.user(t, "10000")

	o, err := h.svc.Checkout(ctx, CheckoutInput{
		UserID: user, LocationID: "lekki", PayFromWallet: true,
		Lines: []Line{{ProductID: "rice", Quantity: 1}},
	})
	require.NoError(t, err)

	s, err := h.svc.AdvanceShipment(ctx, o.Shipment.Reference, ShipmentCanceled)
	require.NoError(t, err)
	assert.Equal(t, ShipmentCanceled, s.Status)
	assertDec(t, "10000", h.balance(t, user), "wallet after refund")

	txns := h.txns.ForUser(user)
	require.Len(t, txns, 2)
	assert.Equal(t, ledger.PurposeReversal, txns[1].Purpose)

	stored, _ := h.repo.Order(o.ID)
	assert.Equal(t, StatusCanceled, stored.Status)
}
