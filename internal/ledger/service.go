package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/congo_shop/internal/apperr"
	"github.com/congo-pay/congo_shop/internal/metrics"
	"github.com/congo-pay/congo_shop/internal/uow"
	"github.com/congo-pay/congo_shop/internal/wallet"
)

// ErrWalletNotFound is returned when the user holds no wallet in the shop currency.
var ErrWalletNotFound = wallet.ErrWalletNotFound

const referencePrefix = "TRX-"

// Service is the only writer of wallet balances. Every mutation locks the
// wallet row, updates the balance and appends one transaction record inside
// the same unit of work.
type Service struct {
	runner   *uow.Runner
	wallets  wallet.Repository
	repo     Repository
	currency string
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewService builds a ledger service. m may be nil.
func NewService(runner *uow.Runner, wallets wallet.Repository, repo Repository, currency string, m *metrics.Metrics) *Service {
	return &Service{
		runner:   runner,
		wallets:  wallets,
		repo:     repo,
		currency: strings.ToUpper(currency),
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Currency is the currency every wallet mutation is booked in.
func (s *Service) Currency() string {
	return s.currency
}

// Runner exposes the unit-of-work runner so collaborators can compose with the ledger.
func (s *Service) Runner() *uow.Runner {
	return s.runner
}

// Credit adds amount to the user's wallet. A nil tx runs the mutation in its
// own unit of work; otherwise it joins the caller's transaction.
func (s *Service) Credit(ctx context.Context, tx uow.Tx, userID string, amount decimal.Decimal, draft *Transaction) (Result, error) {
	res, err := s.mutate(ctx, tx, userID, amount, draft, TypeDeposit, PurposeDeposit,
		func(before, amount decimal.Decimal) (decimal.Decimal, error) {
			return before.Add(amount), nil
		})
	s.count("credit", err)
	return res, err
}

// Debit removes amount from the user's wallet and fails with
// ErrInsufficientFunds when the balance would go negative.
func (s *Service) Debit(ctx context.Context, tx uow.Tx, userID string, amount decimal.Decimal, draft *Transaction) (Result, error) {
	res, err := s.mutate(ctx, tx, userID, amount, draft, TypeWithdrawal, PurposeWithdrawal,
		func(before, amount decimal.Decimal) (decimal.Decimal, error) {
			after := before.Sub(amount)
			if after.IsNegative() {
				return decimal.Zero, ErrInsufficientFunds
			}
			return after, nil
		})
	s.count("debit", err)
	return res, err
}

// AdministrativeDebit removes funds on behalf of an approver. It is the only
// mutation allowed to leave a wallet with a negative balance.
func (s *Service) AdministrativeDebit(ctx context.Context, tx uow.Tx, adj Adjustment) (Result, error) {
	approver := strings.TrimSpace(adj.ApprovedBy)
	reason := strings.TrimSpace(adj.Reason)
	if approver == "" || reason == "" {
		s.count("adjustment", ErrAdjustmentNotApproved)
		return Result{}, ErrAdjustmentNotApproved
	}
	draft := &Transaction{
		Purpose:    PurposeAdjustment,
		Narration:  reason,
		ApprovedBy: approver,
	}
	res, err := s.mutate(ctx, tx, adj.UserID, adj.Amount, draft, TypeWithdrawal, PurposeAdjustment,
		func(before, amount decimal.Decimal) (decimal.Decimal, error) {
			return before.Sub(amount), nil
		})
	s.count("adjustment", err)
	return res, err
}

type applyFunc func(before, amount decimal.Decimal) (decimal.Decimal, error)

func (s *Service) mutate(ctx context.Context, tx uow.Tx, userID string, amount decimal.Decimal, draft *Transaction, kind Type, purpose Purpose, apply applyFunc) (Result, error) {
	if !validAmount(amount) {
		return Result{}, ErrInvalidAmount
	}

	return uow.RunWithin(ctx, s.runner, tx, func(ctx context.Context, tx uow.Tx) (Result, error) {
		w, err := s.wallets.LockByUser(ctx, tx, userID, s.currency)
		if err != nil {
			return Result{}, apperr.Wrap("lock wallet", err)
		}

		before := w.Balance
		after, err := apply(before, amount)
		if err != nil {
			return Result{}, err
		}
		after = after.Round(2)

		if err := s.wallets.UpdateBalance(ctx, tx, w.ID, after); err != nil {
			return Result{}, apperr.Wrap("update balance", err)
		}

		t := s.stamp(draft, w, amount, before, after, kind, purpose)
		if err := s.repo.Insert(ctx, tx, t); err != nil {
			return Result{}, apperr.Wrap("insert transaction", err)
		}
		return Result{BalanceBefore: before, BalanceAfter: after, Transaction: t}, nil
	})
}

// stamp fills the fields of draft the caller left empty.
func (s *Service) stamp(draft *Transaction, w wallet.Wallet, amount, before, after decimal.Decimal, kind Type, purpose Purpose) Transaction {
	var t Transaction
	if draft != nil {
		t = *draft
	}
	now := s.now()

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Reference == "" {
		t.Reference = NewReference()
	}
	if t.Type == "" {
		t.Type = kind
	}
	if t.Purpose == "" {
		t.Purpose = purpose
	}
	if t.Status == "" {
		t.Status = StatusSuccess
	}
	if t.AmountCharged.IsZero() {
		t.AmountCharged = amount
	}
	if t.AmountSettled.IsZero() {
		t.AmountSettled = amount
	}
	if t.Status == StatusSuccess && t.SettledAt == nil {
		t.SettledAt = &now
	}
	t.UserID = w.UserID
	t.Currency = w.Currency
	t.Amount = amount
	t.BalanceBefore = before
	t.BalanceAfter = after
	t.CreatedAt = now
	return t
}

// Record appends a transaction that does not move any balance, such as a
// failed or pending provider deposit. Both balance snapshots carry the
// wallet's current balance, read under the row lock. An open draft with
// CreditOnSettle is credited later by MarkStatus.
func (s *Service) Record(ctx context.Context, tx uow.Tx, userID string, draft Transaction) (Transaction, error) {
	if !validAmount(draft.Amount) {
		s.count("record", ErrInvalidAmount)
		return Transaction{}, ErrInvalidAmount
	}
	if draft.CreditOnSettle && (draft.Status != StatusQueued && draft.Status != StatusPending) {
		s.count("record", ErrInvalidTransition)
		return Transaction{}, ErrInvalidTransition
	}
	t, err := uow.RunWithin(ctx, s.runner, tx, func(ctx context.Context, tx uow.Tx) (Transaction, error) {
		w, err := s.wallets.LockByUser(ctx, tx, userID, s.currency)
		if err != nil {
			return Transaction{}, apperr.Wrap("lock wallet", err)
		}
		t := s.stamp(&draft, w, draft.Amount, w.Balance, w.Balance, TypeDeposit, PurposeDeposit)
		if err := s.repo.Insert(ctx, tx, t); err != nil {
			return Transaction{}, apperr.Wrap("insert transaction", err)
		}
		return t, nil
	})
	s.count("record", err)
	return t, err
}

// MarkStatus finalizes a queued or pending transaction. Moving a
// CreditOnSettle deposit to success credits its Amount in the same unit of
// work; every other transition leaves balances untouched.
func (s *Service) MarkStatus(ctx context.Context, reference string, next Status) (Transaction, error) {
	t, err := uow.Run(ctx, s.runner, func(ctx context.Context, tx uow.Tx) (Transaction, error) {
		t, err := s.repo.FindByReference(ctx, tx, reference)
		if err != nil {
			return Transaction{}, apperr.Wrap("find transaction", err)
		}
		if !t.Status.CanTransition(next) {
			return Transaction{}, ErrInvalidTransition
		}

		var settledAt *time.Time
		if next == StatusSuccess {
			now := s.now()
			settledAt = &now
		}
		if err := s.repo.UpdateStatus(ctx, tx, t.ID, t.Status, next, settledAt); err != nil {
			return Transaction{}, apperr.Wrap("update transaction status", err)
		}

		t.Status = next
		if settledAt != nil {
			t.SettledAt = settledAt
		}
		if next == StatusSuccess && t.CreditOnSettle {
			return s.settle(ctx, tx, t)
		}
		return t, nil
	})
	s.count("mark_status", err)
	return t, err
}

// settle credits a deposit that was recorded while still open. The status
// update above already claimed the row, so the credit happens once.
func (s *Service) settle(ctx context.Context, tx uow.Tx, t Transaction) (Transaction, error) {
	w, err := s.wallets.LockByUser(ctx, tx, t.UserID, t.Currency)
	if err != nil {
		return Transaction{}, apperr.Wrap("lock wallet", err)
	}
	before := w.Balance
	after := before.Add(t.Amount)
	if err := s.wallets.UpdateBalance(ctx, tx, w.ID, after); err != nil {
		return Transaction{}, apperr.Wrap("update balance", err)
	}
	if err := s.repo.Settle(ctx, tx, t.ID, before, after); err != nil {
		return Transaction{}, apperr.Wrap("settle transaction", err)
	}
	t.BalanceBefore = before
	t.BalanceAfter = after
	t.CreditOnSettle = false
	return t, nil
}

// validAmount reports whether amount is positive and carries no more than
// two decimal places.
func validAmount(amount decimal.Decimal) bool {
	return amount.IsPositive() && amount.Equal(amount.Round(2))
}

// FindByProviderReference reads a committed transaction by its provider reference.
func (s *Service) FindByProviderReference(ctx context.Context, providerReference string) (Transaction, error) {
	return s.repo.FindByProviderReference(ctx, nil, providerReference)
}

// FindByReference reads a committed transaction by its internal reference.
func (s *Service) FindByReference(ctx context.Context, reference string) (Transaction, error) {
	return s.repo.FindByReference(ctx, nil, reference)
}

// Stale lists queued or pending transactions created before olderThan.
func (s *Service) Stale(ctx context.Context, olderThan time.Time, limit int) ([]Transaction, error) {
	return s.repo.ListStale(ctx, []Status{StatusQueued, StatusPending}, olderThan, limit)
}

func (s *Service) count(operation string, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.LedgerMutations.WithLabelValues(operation, metrics.Outcome(err)).Inc()
}

// NewReference generates an internal transaction reference. ULIDs sort by
// creation time.
func NewReference() string {
	return referencePrefix + ulid.Make().String()
}
