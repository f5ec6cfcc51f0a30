package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/congo_shop/internal/uow"
)

// MemoryRepository keeps transactions in process. Reference and provider
// reference uniqueness behaves like the Postgres unique indexes: a second
// writer waits for the first transaction to finish and then fails with
// ErrDuplicateTransaction if that transaction committed.
type MemoryRepository struct {
	mu         sync.Mutex
	byID       map[string]Transaction
	byRef      map[string]string
	byProvider map[string]string
	committed  []string
	reserved   map[string]*txnStage
	locks      *uow.KeyLocks
}

type txnStage struct {
	hooked  bool
	done    chan struct{}
	rows    map[string]Transaction
	order   []string
	keys    []string
	updates map[string]Transaction
}

// NewMemoryRepository creates an empty in-memory transaction store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:       make(map[string]Transaction),
		byRef:      make(map[string]string),
		byProvider: make(map[string]string),
		reserved:   make(map[string]*txnStage),
		locks:      uow.NewKeyLocks(),
	}
}

func refKey(reference string) string { return "ref:" + reference }

func providerKey(reference string) string { return "provider:" + reference }

func (r *MemoryRepository) stage(tx *uow.MemoryTx) *txnStage {
	st := tx.State(r, func() any {
		return &txnStage{
			done:    make(chan struct{}),
			rows:    make(map[string]Transaction),
			updates: make(map[string]Transaction),
		}
	}).(*txnStage)
	if !st.hooked {
		st.hooked = true
		tx.OnCommit(func() { r.publish(st) })
		tx.OnRollback(func() { r.release(st) })
		tx.OnFinish(func() { close(st.done) })
	}
	return st
}

func (r *MemoryRepository) Insert(ctx context.Context, tx uow.Tx, t Transaction) error {
	mem, err := uow.AsMemory(tx)
	if err != nil {
		return err
	}
	st := r.stage(mem)

	keys := []string{refKey(t.Reference)}
	if t.ProviderReference != "" {
		keys = append(keys, providerKey(t.ProviderReference))
	}

	for {
		r.mu.Lock()
		wait := r.conflict(st, keys)
		if wait == nil {
			if r.duplicate(st, t) {
				r.mu.Unlock()
				return ErrDuplicateTransaction
			}
			for _, k := range keys {
				r.reserved[k] = st
			}
			st.keys = append(st.keys, keys...)
			st.rows[t.ID] = t
			st.order = append(st.order, t.ID)
			r.mu.Unlock()
			return nil
		}
		r.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// conflict returns the done channel of another in-flight transaction that
// reserved one of keys.
func (r *MemoryRepository) conflict(st *txnStage, keys []string) chan struct{} {
	for _, k := range keys {
		if owner, ok := r.reserved[k]; ok && owner != st {
			return owner.done
		}
	}
	return nil
}

func (r *MemoryRepository) duplicate(st *txnStage, t Transaction) bool {
	if _, ok := r.byID[t.ID]; ok {
		return true
	}
	if _, ok := st.rows[t.ID]; ok {
		return true
	}
	if _, ok := r.byRef[t.Reference]; ok {
		return true
	}
	if owner, ok := r.reserved[refKey(t.Reference)]; ok && owner == st {
		return true
	}
	if t.ProviderReference == "" {
		return false
	}
	if _, ok := r.byProvider[t.ProviderReference]; ok {
		return true
	}
	owner, ok := r.reserved[providerKey(t.ProviderReference)]
	return ok && owner == st
}

func (r *MemoryRepository) publish(st *txnStage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range st.order {
		t := st.rows[id]
		if u, ok := st.updates[id]; ok {
			t = u
		}
		r.byID[id] = t
		r.byRef[t.Reference] = id
		if t.ProviderReference != "" {
			r.byProvider[t.ProviderReference] = id
		}
		r.committed = append(r.committed, id)
	}
	for id, u := range st.updates {
		if _, staged := st.rows[id]; staged {
			continue
		}
		r.byID[id] = u
	}
	r.dropReservations(st)
}

func (r *MemoryRepository) release(st *txnStage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropReservations(st)
}

func (r *MemoryRepository) dropReservations(st *txnStage) {
	for _, k := range st.keys {
		if r.reserved[k] == st {
			delete(r.reserved, k)
		}
	}
}

func (r *MemoryRepository) FindByReference(_ context.Context, tx uow.Tx, reference string) (Transaction, error) {
	return r.find(tx, func(t Transaction) bool { return t.Reference == reference }, func() (string, bool) {
		id, ok := r.byRef[reference]
		return id, ok
	})
}

func (r *MemoryRepository) FindByProviderReference(_ context.Context, tx uow.Tx, providerReference string) (Transaction, error) {
	if providerReference == "" {
		return Transaction{}, ErrTransactionNotFound
	}
	return r.find(tx, func(t Transaction) bool { return t.ProviderReference == providerReference }, func() (string, bool) {
		id, ok := r.byProvider[providerReference]
		return id, ok
	})
}

func (r *MemoryRepository) find(tx uow.Tx, match func(Transaction) bool, committed func() (string, bool)) (Transaction, error) {
	var st *txnStage
	if tx != nil {
		mem, err := uow.AsMemory(tx)
		if err != nil {
			return Transaction{}, err
		}
		st = r.stage(mem)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if st != nil {
		for _, id := range st.order {
			t := st.rows[id]
			if u, ok := st.updates[id]; ok {
				t = u
			}
			if match(t) {
				return t, nil
			}
		}
	}
	id, ok := committed()
	if !ok {
		return Transaction{}, ErrTransactionNotFound
	}
	if st != nil {
		if u, ok := st.updates[id]; ok {
			return u, nil
		}
	}
	return r.byID[id], nil
}

func (r *MemoryRepository) UpdateStatus(ctx context.Context, tx uow.Tx, id string, from, to Status, settledAt *time.Time) error {
	mem, err := uow.AsMemory(tx)
	if err != nil {
		return err
	}
	st := r.stage(mem)
	if err := r.locks.Acquire(ctx, mem, id); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := st.updates[id]
	if !ok {
		if t, ok = st.rows[id]; !ok {
			if t, ok = r.byID[id]; !ok {
				return ErrTransactionNotFound
			}
		}
	}
	if t.Status != from {
		return ErrInvalidTransition
	}
	t.Status = to
	if settledAt != nil {
		at := *settledAt
		t.SettledAt = &at
	}
	st.updates[id] = t
	return nil
}

func (r *MemoryRepository) Settle(ctx context.Context, tx uow.Tx, id string, before, after decimal.Decimal) error {
	mem, err := uow.AsMemory(tx)
	if err != nil {
		return err
	}
	st := r.stage(mem)
	if err := r.locks.Acquire(ctx, mem, id); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := st.updates[id]
	if !ok {
		if t, ok = st.rows[id]; !ok {
			if t, ok = r.byID[id]; !ok {
				return ErrTransactionNotFound
			}
		}
	}
	if !t.CreditOnSettle {
		return ErrInvalidTransition
	}
	t.BalanceBefore = before
	t.BalanceAfter = after
	t.CreditOnSettle = false
	st.updates[id] = t
	return nil
}

func (r *MemoryRepository) ListStale(_ context.Context, statuses []Status, olderThan time.Time, limit int) ([]Transaction, error) {
	want := make(map[Status]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}

	r.mu.Lock()
	var out []Transaction
	for _, id := range r.committed {
		t := r.byID[id]
		if want[t.Status] && t.CreatedAt.Before(olderThan) {
			out = append(out, t)
		}
	}
	r.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ForUser returns the committed transactions of a user in commit order.
func (r *MemoryRepository) ForUser(userID string) []Transaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Transaction
	for _, id := range r.committed {
		if t := r.byID[id]; t.UserID == userID {
			out = append(out, t)
		}
	}
	return out
}

// Len reports how many transactions have been committed.
func (r *MemoryRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}
