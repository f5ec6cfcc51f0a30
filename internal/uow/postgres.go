package uow

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres opens read-committed transactions on a pgx pool. Row locks taken
// with SELECT ... FOR UPDATE are held until the transaction ends.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps a connection pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

type pgTx struct {
	pgx.Tx
}

// Begin starts a transaction on a pooled connection. The connection returns
// to the pool on commit or rollback.
func (p *Postgres) Begin(ctx context.Context) (Tx, error) {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, err
	}
	return &pgTx{Tx: tx}, nil
}

// AsPgx exposes the pgx transaction behind tx for Postgres repositories.
func AsPgx(tx Tx) (pgx.Tx, error) {
	p, ok := tx.(*pgTx)
	if !ok || p == nil {
		return nil, fmt.Errorf("uow: %T is not a postgres transaction", tx)
	}
	return p.Tx, nil
}
