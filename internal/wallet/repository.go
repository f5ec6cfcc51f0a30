package wallet

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

// Repository persists wallets. LockByUser and UpdateBalance only run inside a
// unit of work; the lock is held until that transaction ends.
type Repository interface {
	Create(ctx context.Context, wallet Wallet) error
	GetByUser(ctx context.Context, userID, currency string) (Wallet, error)
	LockByUser(ctx context.Context, tx uow.Tx, userID, currency string) (Wallet, error)
	UpdateBalance(ctx context.Context, tx uow.Tx, walletID string, balance decimal.Decimal) error
}

// PostgresRepository stores wallets in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectWallet = `SELECT id, user_id, currency, balance, points, status, created_at, updated_at FROM wallets`

// Create inserts a wallet record.
func (r *PostgresRepository) Create(ctx context.Context, wallet Wallet) error {
	walletID, err := uuid.Parse(wallet.ID)
	if err != nil {
		return err
	}
	userID, err := uuid.Parse(wallet.UserID)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO wallets (id, user_id, currency, balance, points, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`, walletID, userID, wallet.Currency, wallet.Balance, wallet.Points, wallet.Status, wallet.CreatedAt.UTC())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrWalletExists
	}
	return err
}

// GetByUser reads the committed wallet for a user without locking it.
func (r *PostgresRepository) GetByUser(ctx context.Context, userID, currency string) (Wallet, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return Wallet{}, ErrWalletNotFound
	}
	return scanWallet(r.db.QueryRow(ctx, selectWallet+` WHERE user_id = $1 AND currency = $2`, uid, currency))
}

// LockByUser reads the wallet and takes an exclusive row lock on it.
func (r *PostgresRepository) LockByUser(ctx context.Context, tx uow.Tx, userID, currency string) (Wallet, error) {
	ptx, err := uow.AsPgx(tx)
	if err != nil {
		return Wallet{}, err
	}
	uid, err := uuid.Parse(userID)
	if err != nil {
		return Wallet{}, ErrWalletNotFound
	}
	return scanWallet(ptx.QueryRow(ctx, selectWallet+` WHERE user_id = $1 AND currency = $2 FOR UPDATE`, uid, currency))
}

// UpdateBalance writes a new balance for a wallet locked by tx.
func (r *PostgresRepository) UpdateBalance(ctx context.Context, tx uow.Tx, walletID string, balance decimal.Decimal) error {
	ptx, err := uow.AsPgx(tx)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(walletID)
	if err != nil {
		return ErrWalletNotFound
	}
	cmd, err := ptx.Exec(ctx, `UPDATE wallets SET balance = $1, updated_at = $2 WHERE id = $3`, balance, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrWalletNotFound
	}
	return nil
}

func scanWallet(row pgx.Row) (Wallet, error) {
	var (
		w                    Wallet
		id, userID           uuid.UUID
		createdAt, updatedAt time.Time
	)
	if err := row.Scan(&id, &userID, &w.Currency, &w.Balance, &w.Points, &w.Status, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{}, ErrWalletNotFound
		}
		return Wallet{}, err
	}
	w.ID = id.String()
	w.UserID = userID.String()
	w.CreatedAt = createdAt.UTC()
	w.UpdatedAt = updatedAt.UTC()
	return w, nil
}
