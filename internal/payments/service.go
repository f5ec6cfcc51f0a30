package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/congo_shop/internal/ledger"
	"github.com/congo-pay/congo_shop/internal/logging"
	"github.com/congo-pay/congo_shop/internal/metrics"
	"github.com/congo-pay/congo_shop/internal/notification"
	"github.com/congo-pay/congo_shop/internal/uow"
)

// Reconciler turns provider callbacks and internal charges into ledger mutations.
type Reconciler struct {
	ledger   *ledger.Service
	notifier notification.Notifier
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewReconciler constructs a reconciler. notifier and m may be nil.
func NewReconciler(l *ledger.Service, notifier notification.Notifier, logger *slog.Logger, m *metrics.Metrics) *Reconciler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Reconciler{
		ledger:   l,
		notifier: notifier,
		logger:   logger,
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateDepositFromWebhook books a provider deposit at most once per provider
// reference. A repeated callback returns the transaction recorded the first
// time, unchanged. A creditable deposit first seen as queued or pending is
// recorded with CreditOnSettle and reaches the wallet when ledger MarkStatus
// settles it. Failures are logged and counted and yield nil so the callback
// can still be acknowledged; the sweeper and logs are the follow-up path.
func (r *Reconciler) CreateDepositFromWebhook(ctx context.Context, d Deposit) *ledger.Transaction {
	log := logging.With(ctx, r.logger).With(slog.String("provider_reference", d.ProviderReference))

	if err := r.validate(d); err != nil {
		log.Warn("rejecting provider deposit", slog.Any("error", err))
		r.count("invalid")
		return nil
	}

	existing, err := r.ledger.FindByProviderReference(ctx, d.ProviderReference)
	switch {
	case err == nil:
		r.count("duplicate")
		return &existing
	case !errors.Is(err, ledger.ErrTransactionNotFound):
		log.Error("provider deposit lookup failed", slog.Any("error", err))
		r.count("error")
		return nil
	}

	draft, creditable := r.draft(d)
	var txn ledger.Transaction
	if creditable {
		var res ledger.Result
		res, err = r.ledger.Credit(ctx, nil, d.UserID, creditAmount(d), &draft)
		txn = res.Transaction
	} else {
		txn, err = r.ledger.Record(ctx, nil, d.UserID, draft)
	}

	if errors.Is(err, ledger.ErrDuplicateTransaction) {
		// A concurrent callback for the same reference committed first.
		existing, lookupErr := r.ledger.FindByProviderReference(ctx, d.ProviderReference)
		if lookupErr == nil {
			r.count("duplicate")
			return &existing
		}
		err = lookupErr
	}
	if err != nil {
		log.Error("provider deposit reconciliation failed", slog.String("user_id", d.UserID), slog.Any("error", err))
		r.count("error")
		return nil
	}

	switch {
	case creditable:
		r.count("credited")
		r.notify(ctx, depositMessage(txn))
	case draft.CreditOnSettle:
		r.count("pending")
	default:
		r.count("recorded")
	}
	return &txn
}

func depositMessage(t ledger.Transaction) notification.Message {
	return notification.Message{
		Kind:        notification.KindDepositReceived,
		Destination: t.UserID,
		Reference:   t.Reference,
		Body:        fmt.Sprintf("Your wallet was credited with %s %s", t.Amount.StringFixed(2), t.Currency),
	}
}

func (r *Reconciler) validate(d Deposit) error {
	switch {
	case strings.TrimSpace(d.ProviderReference) == "":
		return errors.New("missing provider reference")
	case d.UserID == "":
		return errors.New("missing user id")
	case !d.Amount.IsPositive() || !cents(d.Amount) || !cents(d.Fee):
		return ledger.ErrInvalidAmount
	case d.Fee.IsNegative() || d.ProviderFee.IsNegative():
		return errors.New("negative fee")
	case d.Currency != "" && !strings.EqualFold(d.Currency, r.ledger.Currency()):
		return fmt.Errorf("unsupported currency %s", d.Currency)
	}
	if _, ok := parseStatus(d.Status); !ok {
		return fmt.Errorf("unknown status %q", d.Status)
	}
	return nil
}

func parseStatus(v string) (ledger.Status, bool) {
	if v == "" {
		return ledger.StatusSuccess, true
	}
	return ledger.ParseStatus(strings.ToLower(v))
}

func parsePurpose(v string) ledger.Purpose {
	switch p := ledger.Purpose(strings.ToLower(v)); p {
	case ledger.PurposeDeposit, ledger.PurposeWithdrawal, ledger.PurposeReversal, ledger.PurposeOrderPayment:
		return p
	}
	return ledger.PurposeDeposit
}

func cents(v decimal.Decimal) bool {
	return v.Equal(v.Round(2))
}

// creditAmount is what reaches the wallet after the platform fee.
func creditAmount(d Deposit) decimal.Decimal {
	return d.Amount.Sub(d.Fee)
}

func (r *Reconciler) draft(d Deposit) (ledger.Transaction, bool) {
	status, _ := parseStatus(d.Status)
	now := r.now()
	settled := d.Amount.Sub(d.ProviderFee)
	if settled.IsNegative() {
		settled = decimal.Zero
	}
	draft := ledger.Transaction{
		Type:              ledger.TypeDeposit,
		Purpose:           parsePurpose(d.Purpose),
		Status:            status,
		Amount:            d.Amount,
		AmountCharged:     d.Amount,
		AmountSettled:     settled,
		Fee:               d.Fee,
		ProviderFee:       d.ProviderFee,
		ProviderReference: d.ProviderReference,
		Narration:         "provider deposit",
		SettledAt:         &now,
	}
	if !d.Credit || !creditAmount(d).IsPositive() {
		return draft, false
	}
	switch status {
	case ledger.StatusSuccess:
		return draft, true
	case ledger.StatusQueued, ledger.StatusPending:
		draft.Amount = creditAmount(d)
		draft.CreditOnSettle = true
	}
	return draft, false
}

// ChargeWallet debits the user's wallet for an internal purpose. With a non-nil
// tx the debit joins the caller's unit of work and the caller notifies after commit.
func (r *Reconciler) ChargeWallet(ctx context.Context, tx uow.Tx, c Charge) (ledger.Transaction, error) {
	purpose := c.Purpose
	if purpose == "" {
		purpose = ledger.PurposeOrderPayment
	}
	draft := &ledger.Transaction{
		Type:      ledger.TypeWithdrawal,
		Purpose:   purpose,
		Narration: c.Narration,
	}
	res, err := r.ledger.Debit(ctx, tx, c.UserID, c.Amount, draft)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if tx == nil {
		r.notify(ctx, ChargedMessage(res.Transaction))
	}
	return res.Transaction, nil
}

// RefundWallet credits back a previous charge as a reversal.
func (r *Reconciler) RefundWallet(ctx context.Context, tx uow.Tx, c Charge) (ledger.Transaction, error) {
	draft := &ledger.Transaction{
		Type:      ledger.TypeDeposit,
		Purpose:   ledger.PurposeReversal,
		Narration: c.Narration,
	}
	res, err := r.ledger.Credit(ctx, tx, c.UserID, c.Amount, draft)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if tx == nil {
		r.notify(ctx, RefundedMessage(res.Transaction))
	}
	return res.Transaction, nil
}

// ChargedMessage is the notification sent after a committed wallet charge.
func ChargedMessage(t ledger.Transaction) notification.Message {
	return notification.Message{
		Kind:        notification.KindWalletCharged,
		Destination: t.UserID,
		Reference:   t.Reference,
		Body:        fmt.Sprintf("%s %s was debited from your wallet", t.Amount.StringFixed(2), t.Currency),
	}
}

// RefundedMessage is the notification sent after a committed refund.
func RefundedMessage(t ledger.Transaction) notification.Message {
	return notification.Message{
		Kind:        notification.KindWalletRefunded,
		Destination: t.UserID,
		Reference:   t.Reference,
		Body:        fmt.Sprintf("%s %s was refunded to your wallet", t.Amount.StringFixed(2), t.Currency),
	}
}

func (r *Reconciler) notify(ctx context.Context, msg notification.Message) {
	if r.notifier == nil {
		return
	}
	_ = r.notifier.Send(ctx, msg)
}

func (r *Reconciler) count(outcome string) {
	if r.metrics != nil {
		r.metrics.WebhookDeposits.WithLabelValues(outcome).Inc()
	}
}
