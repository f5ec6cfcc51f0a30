package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/congo_shop/internal/uow"
)

// Repository persists ledger transactions. Lookups accept a nil tx to read
// committed state outside any unit of work.
type Repository interface {
	Insert(ctx context.Context, tx uow.Tx, t Transaction) error
	FindByReference(ctx context.Context, tx uow.Tx, reference string) (Transaction, error)
	FindByProviderReference(ctx context.Context, tx uow.Tx, providerReference string) (Transaction, error)
	UpdateStatus(ctx context.Context, tx uow.Tx, id string, from, to Status, settledAt *time.Time) error
	// Settle rewrites the balance snapshots of a CreditOnSettle transaction
	// and clears the flag. Callers must have moved it with UpdateStatus in tx.
	Settle(ctx context.Context, tx uow.Tx, id string, before, after decimal.Decimal) error
	ListStale(ctx context.Context, statuses []Status, olderThan time.Time, limit int) ([]Transaction, error)
}

// PostgresRepository stores transactions in PostgreSQL. The unique indexes on
// reference and provider_reference back the idempotency guarantees.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a Postgres-backed transaction repository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectTransaction = `SELECT id, user_id, currency, type, purpose, status, amount, amount_charged,
        amount_settled, fee, provider_fee, reference, COALESCE(provider_reference, ''), balance_before,
        balance_after, narration, approved_by, credit_on_settle, settled_at, created_at
        FROM transactions`

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *PostgresRepository) querier(tx uow.Tx) (querier, error) {
	if tx == nil {
		return r.db, nil
	}
	return uow.AsPgx(tx)
}

// Insert writes a new transaction inside tx.
func (r *PostgresRepository) Insert(ctx context.Context, tx uow.Tx, t Transaction) error {
	ptx, err := uow.AsPgx(tx)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(t.ID)
	if err != nil {
		return err
	}
	userID, err := uuid.Parse(t.UserID)
	if err != nil {
		return err
	}
	var providerRef *string
	if t.ProviderReference != "" {
		providerRef = &t.ProviderReference
	}
	_, err = ptx.Exec(ctx, `INSERT INTO transactions (id, user_id, currency, type, purpose, status, amount,
        amount_charged, amount_settled, fee, provider_fee, reference, provider_reference, balance_before,
        balance_after, narration, approved_by, credit_on_settle, settled_at, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		id, userID, t.Currency, string(t.Type), string(t.Purpose), string(t.Status), t.Amount,
		t.AmountCharged, t.AmountSettled, t.Fee, t.ProviderFee, t.Reference, providerRef, t.BalanceBefore,
		t.BalanceAfter, t.Narration, t.ApprovedBy, t.CreditOnSettle, t.SettledAt, t.CreatedAt.UTC())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateTransaction
	}
	return err
}

// FindByReference fetches a transaction by its internal reference.
func (r *PostgresRepository) FindByReference(ctx context.Context, tx uow.Tx, reference string) (Transaction, error) {
	q, err := r.querier(tx)
	if err != nil {
		return Transaction{}, err
	}
	return scanTransaction(q.QueryRow(ctx, selectTransaction+` WHERE reference = $1`, reference))
}

// FindByProviderReference fetches a transaction by the payment provider reference.
func (r *PostgresRepository) FindByProviderReference(ctx context.Context, tx uow.Tx, providerReference string) (Transaction, error) {
	q, err := r.querier(tx)
	if err != nil {
		return Transaction{}, err
	}
	return scanTransaction(q.QueryRow(ctx, selectTransaction+` WHERE provider_reference = $1`, providerReference))
}

// UpdateStatus moves a transaction from one status to another. It fails with
// ErrInvalidTransition when the row is no longer in the expected status.
func (r *PostgresRepository) UpdateStatus(ctx context.Context, tx uow.Tx, id string, from, to Status, settledAt *time.Time) error {
	ptx, err := uow.AsPgx(tx)
	if err != nil {
		return err
	}
	txID, err := uuid.Parse(id)
	if err != nil {
		return ErrTransactionNotFound
	}
	cmd, err := ptx.Exec(ctx, `UPDATE transactions SET status = $1, settled_at = COALESCE($2, settled_at)
        WHERE id = $3 AND status = $4`, string(to), settledAt, txID, string(from))
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// Settle stores the balance snapshots of a deposit credited on settlement.
func (r *PostgresRepository) Settle(ctx context.Context, tx uow.Tx, id string, before, after decimal.Decimal) error {
	ptx, err := uow.AsPgx(tx)
	if err != nil {
		return err
	}
	txID, err := uuid.Parse(id)
	if err != nil {
		return ErrTransactionNotFound
	}
	cmd, err := ptx.Exec(ctx, `UPDATE transactions SET balance_before = $1, balance_after = $2, credit_on_settle = false
        WHERE id = $3 AND credit_on_settle`, before, after, txID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// ListStale returns transactions still in one of statuses created before olderThan.
func (r *PostgresRepository) ListStale(ctx context.Context, statuses []Status, olderThan time.Time, limit int) ([]Transaction, error) {
	values := make([]string, 0, len(statuses))
	for _, s := range statuses {
		values = append(values, string(s))
	}
	rows, err := r.db.Query(ctx, selectTransaction+` WHERE status = ANY($1) AND created_at < $2
        ORDER BY created_at LIMIT $3`, values, olderThan.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var (
		t                 Transaction
		id, userID        uuid.UUID
		kind, purpose, st string
		settledAt         *time.Time
		createdAt         time.Time
	)
	err := row.Scan(&id, &userID, &t.Currency, &kind, &purpose, &st, &t.Amount, &t.AmountCharged,
		&t.AmountSettled, &t.Fee, &t.ProviderFee, &t.Reference, &t.ProviderReference, &t.BalanceBefore,
		&t.BalanceAfter, &t.Narration, &t.ApprovedBy, &t.CreditOnSettle, &settledAt, &createdAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrTransactionNotFound
		}
		return Transaction{}, err
	}
	t.ID = id.String()
	t.UserID = userID.String()
	t.Type = Type(kind)
	t.Purpose = Purpose(purpose)
	t.Status = Status(st)
	if settledAt != nil {
		utc := settledAt.UTC()
		t.SettledAt = &utc
	}
	t.CreatedAt = createdAt.UTC()
	return t, nil
}
