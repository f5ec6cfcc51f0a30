//go:build integration

package ledger

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/congo-pay/congo_shop/internal/uow"
	"github.com/congo-pay/congo_shop/internal/wallet"
)

// Run with: TEST_DATABASE_URL=postgres://... go test -tags integration ./internal/ledger/
func integrationPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	schema, err := os.ReadFile("../../migrations/0001_init.sql")
	require.NoError(t, err)
	_, err = pool.Exec(ctx, string(schema))
	require.NoError(t, err)
	return pool
}

type pgFixture struct {
	svc     *Service
	wallets *wallet.PostgresRepository
}

func newPgFixture(t *testing.T) pgFixture {
	t.Helper()
	pool := integrationPool(t)
	wallets := wallet.NewPostgresRepository(pool)
	runner := uow.NewRunner(uow.NewPostgres(pool), 5*time.Second)
	return pgFixture{
		svc:     NewService(runner, wallets, NewPostgresRepository(pool), "NGN", nil),
		wallets: wallets,
	}
}

func (f pgFixture) walletWith(t *testing.T, balance string) string {
	t.Helper()
	userID := uuid.NewString()
	require.NoError(t, f.wallets.Create(context.Background(), wallet.Wallet{
		ID:        uuid.NewString(),
		UserID:    userID,
		Currency:  "NGN",
		Balance:   dec(balance),
		Status:    wallet.StatusActive,
		CreatedAt: time.Now(),
	}))
	return userID
}

func (f pgFixture) balance(t *testing.T, userID string) string {
	t.Helper()
	w, err := f.wallets.GetByUser(context.Background(), userID, "NGN")
	require.NoError(t, err)
	return w.Balance.StringFixed(2)
}

func TestPostgresProviderReferenceRaceBooksOnce(t *testing.T) {
	f := newPgFixture(t)
	user := f.walletWith(t, "0")
	ref := "prov-" + uuid.NewString()

	const writers = 8
	errs := make([]error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Credit(context.Background(), nil, user, dec("40.00"), &Transaction{ProviderReference: ref})
		}(i)
	}
	wg.Wait()

	booked := 0
	for _, err := range errs {
		switch {
		case err == nil:
			booked++
		case errors.Is(err, ErrDuplicateTransaction):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, booked)
	assert.Equal(t, "40.00", f.balance(t, user))

	stored, err := f.svc.FindByProviderReference(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, "0.00", stored.BalanceBefore.StringFixed(2))
	assert.Equal(t, "40.00", stored.BalanceAfter.StringFixed(2))
}

func TestPostgresConcurrentDebitsNeverOverdraw(t *testing.T) {
	f := newPgFixture(t)
	user := f.walletWith(t, "100.00")

	const debits = 10
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		ok   int
		fail int
	)
	for i := 0; i < debits; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Debit(context.Background(), nil, user, dec("15.00"), nil)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrInsufficientFunds):
				fail++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 6, ok)
	assert.Equal(t, 4, fail)
	assert.Equal(t, "10.00", f.balance(t, user))
}

func TestPostgresSettlementCreditsOnce(t *testing.T) {
	f := newPgFixture(t)
	user := f.walletWith(t, "5.00")
	ctx := context.Background()

	open, err := f.svc.Record(ctx, nil, user, Transaction{
		Status:            StatusPending,
		Amount:            dec("20.00"),
		ProviderReference: "prov-" + uuid.NewString(),
		CreditOnSettle:    true,
	})
	require.NoError(t, err)

	const callbacks = 4
	errs := make([]error, callbacks)
	var wg sync.WaitGroup
	for i := 0; i < callbacks; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.MarkStatus(ctx, open.Reference, StatusSuccess)
		}(i)
	}
	wg.Wait()

	settled := 0
	for _, err := range errs {
		if err == nil {
			settled++
			continue
		}
		require.ErrorIs(t, err, ErrInvalidTransition)
	}
	assert.Equal(t, 1, settled)
	assert.Equal(t, "25.00", f.balance(t, user))

	stored, err := f.svc.FindByReference(ctx, open.Reference)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, stored.Status)
	assert.False(t, stored.CreditOnSettle)
	assert.Equal(t, "25.00", stored.BalanceAfter.StringFixed(2))
}
