package wallet

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/congo_shop/internal/uow"
)

// MemoryRepository is an in-memory wallet store with row-lock semantics.
type MemoryRepository struct {
	mu     sync.RWMutex
	byID   map[string]Wallet
	byUser map[string]string
	locks  *uow.KeyLocks
}

type balanceStage struct {
	hooked   bool
	balances map[string]decimal.Decimal
}

// NewMemoryRepository constructs an in-memory repository for tests.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:   make(map[string]Wallet),
		byUser: make(map[string]string),
		locks:  uow.NewKeyLocks(),
	}
}

func userKey(userID, currency string) string {
	return userID + "|" + currency
}

func (r *MemoryRepository) Create(_ context.Context, wallet Wallet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := userKey(wallet.UserID, wallet.Currency)
	if _, exists := r.byUser[key]; exists {
		return ErrWalletExists
	}
	if _, exists := r.byID[wallet.ID]; exists {
		return ErrWalletExists
	}
	r.byID[wallet.ID] = wallet
	r.byUser[key] = wallet.ID
	return nil
}

func (r *MemoryRepository) GetByUser(_ context.Context, userID, currency string) (Wallet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byUser[userKey(userID, currency)]
	if !ok {
		return Wallet{}, ErrWalletNotFound
	}
	return r.byID[id], nil
}

func (r *MemoryRepository) LockByUser(ctx context.Context, tx uow.Tx, userID, currency string) (Wallet, error) {
	mem, err := uow.AsMemory(tx)
	if err != nil {
		return Wallet{}, err
	}
	w, err := r.GetByUser(ctx, userID, currency)
	if err != nil {
		return Wallet{}, err
	}
	if err := r.locks.Acquire(ctx, mem, w.ID); err != nil {
		return Wallet{}, err
	}

	// Re-read after the lock so we see the last committed balance.
	r.mu.RLock()
	w = r.byID[w.ID]
	r.mu.RUnlock()
	if staged, ok := r.stage(mem).balances[w.ID]; ok {
		w.Balance = staged
	}
	return w, nil
}

func (r *MemoryRepository) UpdateBalance(ctx context.Context, tx uow.Tx, walletID string, balance decimal.Decimal) error {
	mem, err := uow.AsMemory(tx)
	if err != nil {
		return err
	}
	r.mu.RLock()
	_, ok := r.byID[walletID]
	r.mu.RUnlock()
	if !ok {
		return ErrWalletNotFound
	}
	if err := r.locks.Acquire(ctx, mem, walletID); err != nil {
		return err
	}

	st := r.stage(mem)
	st.balances[walletID] = balance
	if !st.hooked {
		st.hooked = true
		mem.OnCommit(func() { r.apply(st) })
	}
	return nil
}

func (r *MemoryRepository) stage(tx *uow.MemoryTx) *balanceStage {
	return tx.State(r, func() any {
		return &balanceStage{balances: make(map[string]decimal.Decimal)}
	}).(*balanceStage)
}

func (r *MemoryRepository) apply(st *balanceStage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	for id, balance := range st.balances {
		w := r.byID[id]
		w.Balance = balance
		w.UpdatedAt = now
		r.byID[id] = w
	}
}
