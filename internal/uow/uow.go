// Package uow runs operations inside a single database transaction.
//
// Services never open transactions themselves: they receive a Tx from Run (or
// from a caller already inside one through RunWithin) and hand it to the
// repositories they call. Commit happens once, at the outermost scope.
package uow

import (
	"context"
	"errors"
	"time"

	"github.com/congo-pay/congo_shop/internal/apperr"
)

const rollbackTimeout = 5 * time.Second

// ErrTxClosed is returned when a finished transaction is used again.
var ErrTxClosed = errors.New("tx is closed")

// Tx is the transaction-scoped handle passed to operations.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Beginner opens transactions on a backing store.
type Beginner interface {
	Begin(ctx context.Context) (Tx, error)
}

// Runner opens, commits and rolls back units of work.
type Runner struct {
	db      Beginner
	timeout time.Duration
}

// NewRunner builds a runner. A positive timeout bounds every unit of work,
// including time spent waiting on row locks.
func NewRunner(db Beginner, timeout time.Duration) *Runner {
	return &Runner{db: db, timeout: timeout}
}

// Run executes fn inside a new transaction. The transaction commits when fn
// returns nil and rolls back on error, panic or deadline. Errors from fn are
// returned unchanged; begin and commit failures are wrapped as internal.
func Run[T any](ctx context.Context, r *Runner, fn func(ctx context.Context, tx Tx) (T, error)) (T, error) {
	var zero T
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return zero, apperr.Internal("begin transaction", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		// The request context may already be canceled; the rollback still has
		// to reach the store so locks are released.
		rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
		defer cancel()
		_ = tx.Rollback(rbCtx) // nolint:errcheck
	}()

	out, err := fn(ctx, tx)
	if err != nil {
		return zero, err
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	if err := tx.Commit(ctx); err != nil {
		return zero, apperr.Internal("commit transaction", err)
	}
	committed = true
	return out, nil
}

// RunWithin composes fn into existing when it is non-nil, so the caller's
// transaction owns commit and rollback. With a nil existing it behaves like Run.
func RunWithin[T any](ctx context.Context, r *Runner, existing Tx, fn func(ctx context.Context, tx Tx) (T, error)) (T, error) {
	if existing == nil {
		return Run(ctx, r, fn)
	}
	return fn(ctx, existing)
}

// Do is Run for operations without a result.
func Do(ctx context.Context, r *Runner, fn func(ctx context.Context, tx Tx) error) error {
	_, err := Run(ctx, r, func(ctx context.Context, tx Tx) (struct{}, error) {
		return struct{}{}, fn(ctx, tx)
	})
	return err
}
