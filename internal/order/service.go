package order

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/congo_shop/internal/apperr"
	"github.com/congo-pay/congo_shop/internal/catalog"
	"github.com/congo-pay/congo_shop/internal/coupon"
	"github.com/congo-pay/congo_shop/internal/ledger"
	"github.com/congo-pay/congo_shop/internal/logging"
	"github.com/congo-pay/congo_shop/internal/metrics"
	"github.com/congo-pay/congo_shop/internal/notification"
	"github.com/congo-pay/congo_shop/internal/payments"
	"github.com/congo-pay/congo_shop/internal/uow"
)

// CouponResolver resolves and applies discount codes.
type CouponResolver interface {
	Resolve(ctx context.Context, code string) (coupon.Coupon, error)
	Apply(c coupon.Coupon, amount decimal.Decimal) decimal.Decimal
}

// WalletCharger moves money between the shopper's wallet and the shop inside
// the caller's unit of work.
type WalletCharger interface {
	ChargeWallet(ctx context.Context, tx uow.Tx, c payments.Charge) (ledger.Transaction, error)
	RefundWallet(ctx context.Context, tx uow.Tx, c payments.Charge) (ledger.Transaction, error)
}

// Line is one cart entry.
type Line struct {
	ProductID string
	Quantity  int
}

// CheckoutInput is everything needed to turn a cart into an order.
type CheckoutInput struct {
	UserID        string
	Lines         []Line
	LocationID    string
	CouponCode    string
	PayFromWallet bool
	Type          Type
	Duration      int
	DurationType  DurationType
}

// Service settles carts into orders and moves shipments through their lifecycle.
type Service struct {
	runner   *uow.Runner
	repo     Repository
	pricing  catalog.Pricing
	coupons  CouponResolver
	charger  WalletCharger
	notifier notification.Notifier
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// Deps groups the collaborators of the order service.
type Deps struct {
	Runner   *uow.Runner
	Repo     Repository
	Pricing  catalog.Pricing
	Coupons  CouponResolver
	Charger  WalletCharger
	Notifier notification.Notifier
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

func NewService(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{
		runner:   d.Runner,
		repo:     d.Repo,
		pricing:  d.Pricing,
		coupons:  d.Coupons,
		charger:  d.Charger,
		notifier: d.Notifier,
		logger:   logger,
		metrics:  d.Metrics,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Checkout creates the order, its items and its shipment in one unit of
// work, charging the wallet in the same transaction when asked to. Nothing
// persists unless every step succeeds.
func (s *Service) Checkout(ctx context.Context, in CheckoutInput) (Order, error) {
	o, payment, err := s.checkout(ctx, in)
	if s.metrics != nil {
		s.metrics.Checkouts.WithLabelValues(checkoutOutcome(err)).Inc()
	}
	if err != nil {
		return Order{}, err
	}

	logging.With(ctx, s.logger).Info("order placed",
		slog.String("order_id", o.ID),
		slog.String("shipment_reference", o.Shipment.Reference),
		slog.String("amount_to_pay", o.Shipment.AmountToPay.StringFixed(2)))

	s.notify(ctx, notification.Message{
		Kind:        notification.KindOrderPlaced,
		Destination: o.UserID,
		Reference:   o.Shipment.Reference,
		Body:        fmt.Sprintf("Order %s placed, %s to pay", o.Shipment.Reference, o.Shipment.AmountToPay.StringFixed(2)),
	})
	if payment != nil {
		s.notify(ctx, payments.ChargedMessage(*payment))
	}
	return o, nil
}

func (s *Service) checkout(ctx context.Context, in CheckoutInput) (Order, *ledger.Transaction, error) {
	if err := validate(&in); err != nil {
		return Order{}, nil, err
	}

	type result struct {
		order   Order
		payment *ledger.Transaction
	}
	res, err := uow.Run(ctx, s.runner, func(ctx context.Context, tx uow.Tx) (result, error) {
		now := s.now()
		o := Order{
			ID:           uuid.NewString(),
			UserID:       in.UserID,
			Type:         in.Type,
			Status:       StatusPending,
			Duration:     in.Duration,
			DurationType: in.DurationType,
			CreatedAt:    now,
		}
		if o.Type == TypeRecurring {
			next, _ := o.DurationType.Next(now, o.Duration)
			o.NextShipmentDate = &next
		}
		if err := s.repo.CreateOrder(ctx, tx, o); err != nil {
			return result{}, apperr.Wrap("create order", err)
		}

		amount := decimal.Zero
		for _, line := range in.Lines {
			price, err := s.pricing.UnitPrice(ctx, line.ProductID)
			if err != nil {
				return result{}, err
			}
			item := Item{
				ID:        uuid.NewString(),
				OrderID:   o.ID,
				ProductID: line.ProductID,
				Quantity:  line.Quantity,
				UnitPrice: price,
			}
			if err := s.repo.CreateItem(ctx, tx, item); err != nil {
				return result{}, apperr.Wrap("create order item", err)
			}
			o.Items = append(o.Items, item)
			amount = amount.Add(item.Total())
		}
		amount = amount.Round(2)

		charges, err := s.pricing.ShipmentCharges(ctx, in.LocationID, amount)
		if err != nil {
			return result{}, err
		}

		shipment := Shipment{
			ID:                   uuid.NewString(),
			OrderID:              o.ID,
			LocationID:           in.LocationID,
			Amount:               amount,
			DeliveryFee:          charges.DeliveryFee,
			Tax:                  charges.Tax,
			Status:               ShipmentPending,
			ExpectedDeliveryDate: now.AddDate(0, 0, charges.DeliveryDays),
			CreatedAt:            now,
			UpdatedAt:            now,
		}
		if in.CouponCode != "" {
			c, err := s.coupons.Resolve(ctx, in.CouponCode)
			if err != nil {
				return result{}, err
			}
			shipment.CouponCode = c.Code
			shipment.DiscountValueType = string(c.ValueType)
			shipment.Discount = s.coupons.Apply(c, amount)
		}
		shipment.AmountToPay = AmountToPay(shipment.Amount, shipment.Discount, shipment.DeliveryFee, shipment.Tax)

		seq, err := s.repo.NextShipmentSequence(ctx, tx)
		if err != nil {
			return result{}, apperr.Wrap("next shipment reference", err)
		}
		shipment.Reference = FormatReference(now, seq)

		var payment *ledger.Transaction
		if in.PayFromWallet {
			if shipment.AmountToPay.IsPositive() {
				txn, err := s.charger.ChargeWallet(ctx, tx, payments.Charge{
					UserID:    in.UserID,
					Amount:    shipment.AmountToPay,
					Purpose:   ledger.PurposeOrderPayment,
					Narration: "payment for " + shipment.Reference,
				})
				if err != nil {
					return result{}, err
				}
				shipment.PaymentReference = txn.Reference
				payment = &txn
			}
			shipment.Paid = true
			shipment.AmountPaid = shipment.AmountToPay
		}

		if err := s.repo.CreateShipment(ctx, tx, shipment); err != nil {
			return result{}, apperr.Wrap("create shipment", err)
		}
		o.Shipment = shipment
		return result{order: o, payment: payment}, nil
	})
	return res.order, res.payment, err
}

func validate(in *CheckoutInput) error {
	if len(in.Lines) == 0 {
		return ErrEmptyCart
	}
	for _, line := range in.Lines {
		if line.Quantity <= 0 {
			return ErrInvalidQuantity
		}
		if strings.TrimSpace(line.ProductID) == "" {
			return apperr.Validation("product id is required")
		}
	}
	if strings.TrimSpace(in.UserID) == "" {
		return apperr.Validation("user id is required")
	}
	if strings.TrimSpace(in.LocationID) == "" {
		return ErrMissingLocation
	}
	in.CouponCode = strings.TrimSpace(in.CouponCode)

	switch in.Type {
	case "", TypeOneTime:
		in.Type = TypeOneTime
		in.Duration, in.DurationType = 0, ""
	case TypeRecurring:
		if in.Duration <= 0 {
			return ErrInvalidRecurrence
		}
		if _, ok := in.DurationType.Next(time.Time{}, in.Duration); !ok {
			return ErrInvalidRecurrence
		}
	default:
		return apperr.Validation("unknown order type %q", in.Type)
	}
	return nil
}

func checkoutOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case apperr.HTTPStatus(err) < 500:
		return "rejected"
	}
	return "error"
}

// AdvanceShipment moves a shipment to next. Delivery completes a one-time
// order; canceling a paid shipment refunds the wallet and cancels the order.
func (s *Service) AdvanceShipment(ctx context.Context, reference string, next ShipmentStatus) (Shipment, error) {
	type result struct {
		shipment Shipment
		userID   string
		refund   *ledger.Transaction
	}
	res, err := uow.Run(ctx, s.runner, func(ctx context.Context, tx uow.Tx) (result, error) {
		sh, err := s.repo.LockShipmentByReference(ctx, tx, reference)
		if err != nil {
			return result{}, apperr.Wrap("lock shipment", err)
		}
		if !sh.Status.CanTransition(next) {
			return result{}, ErrInvalidTransition
		}
		if err := s.repo.UpdateShipmentStatus(ctx, tx, sh.ID, next); err != nil {
			return result{}, apperr.Wrap("update shipment", err)
		}
		sh.Status = next

		o, err := s.repo.GetOrder(ctx, tx, sh.OrderID)
		if err != nil {
			return result{}, apperr.Wrap("get order", err)
		}

		var refund *ledger.Transaction
		switch next {
		case ShipmentDelivered:
			if o.Type == TypeOneTime {
				err = s.repo.UpdateOrderStatus(ctx, tx, o.ID, StatusCompleted)
			}
		case ShipmentCanceled:
			if sh.Paid && sh.AmountPaid.IsPositive() && sh.PaymentReference != "" {
				txn, refundErr := s.charger.RefundWallet(ctx, tx, payments.Charge{
					UserID:    o.UserID,
					Amount:    sh.AmountPaid,
					Purpose:   ledger.PurposeReversal,
					Narration: "refund for " + sh.Reference,
				})
				if refundErr != nil {
					return result{}, refundErr
				}
				refund = &txn
			}
			err = s.repo.UpdateOrderStatus(ctx, tx, o.ID, StatusCanceled)
		}
		if err != nil {
			return result{}, apperr.Wrap("update order", err)
		}
		return result{shipment: sh, userID: o.UserID, refund: refund}, nil
	})
	if err != nil {
		return Shipment{}, err
	}

	s.notify(ctx, notification.Message{
		Kind:        notification.KindShipmentUpdated,
		Destination: res.userID,
		Reference:   res.shipment.Reference,
		Body:        fmt.Sprintf("Shipment %s is now %s", res.shipment.Reference, res.shipment.Status),
	})
	if res.refund != nil {
		s.notify(ctx, payments.RefundedMessage(*res.refund))
	}
	return res.shipment, nil
}

func (s *Service) notify(ctx context.Context, msg notification.Message) {
	if s.notifier == nil {
		return
	}
	_ = s.notifier.Send(ctx, msg)
}
