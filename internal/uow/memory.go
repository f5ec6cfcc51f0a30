package uow

import (
	"context"
	"fmt"
	"sync"
)

// MemoryDB is an in-process transaction coordinator used by tests and by
// development mode. Repositories stage writes on the MemoryTx and register
// commit hooks; nothing becomes visible to other transactions before Commit.
type MemoryDB struct {
	mu         sync.Mutex
	failCommit error
}

// NewMemory creates an in-memory transaction coordinator.
func NewMemory() *MemoryDB {
	return &MemoryDB{}
}

// FailNextCommit makes the next Commit fail with err and roll back instead.
func (m *MemoryDB) FailNextCommit(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failCommit = err
}

func (m *MemoryDB) takeFailure() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	err := m.failCommit
	m.failCommit = nil
	return err
}

// Begin starts a new in-memory transaction.
func (m *MemoryDB) Begin(ctx context.Context) (Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &MemoryTx{db: m, state: make(map[any]any), held: make(map[string]bool)}, nil
}

// MemoryTx records staged state and the hooks that publish or discard it.
type MemoryTx struct {
	db *MemoryDB

	mu        sync.Mutex
	closed    bool
	state     map[any]any
	held      map[string]bool
	commits   []func()
	rollbacks []func()
	finishers []func()
}

// AsMemory exposes the in-memory transaction behind tx.
func AsMemory(tx Tx) (*MemoryTx, error) {
	m, ok := tx.(*MemoryTx)
	if !ok || m == nil {
		return nil, fmt.Errorf("uow: %T is not a memory transaction", tx)
	}
	if m.isClosed() {
		return nil, ErrTxClosed
	}
	return m, nil
}

func (t *MemoryTx) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// State returns the value stored under key, creating it with init on first use.
func (t *MemoryTx) State(key any, init func() any) any {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.state[key]
	if !ok {
		v = init()
		t.state[key] = v
	}
	return v
}

// OnCommit registers fn to publish staged writes.
func (t *MemoryTx) OnCommit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.commits = append(t.commits, fn)
}

// OnRollback registers fn to undo reservations made by the transaction.
func (t *MemoryTx) OnRollback(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollbacks = append(t.rollbacks, fn)
}

// OnFinish registers fn to run after commit or rollback, in reverse order.
func (t *MemoryTx) OnFinish(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.finishers = append(t.finishers, fn)
}

// Commit publishes staged writes and releases locks.
func (t *MemoryTx) Commit(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTxClosed
	}
	t.closed = true
	t.mu.Unlock()

	if err := t.db.takeFailure(); err != nil {
		t.abort()
		return err
	}
	if err := ctx.Err(); err != nil {
		t.abort()
		return err
	}

	t.db.mu.Lock()
	for _, fn := range t.commits {
		fn()
	}
	t.db.mu.Unlock()
	t.finish()
	return nil
}

// Rollback discards staged writes and releases locks.
func (t *MemoryTx) Rollback(_ context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTxClosed
	}
	t.closed = true
	t.mu.Unlock()

	t.abort()
	return nil
}

func (t *MemoryTx) abort() {
	for i := len(t.rollbacks) - 1; i >= 0; i-- {
		t.rollbacks[i]()
	}
	t.finish()
}

func (t *MemoryTx) finish() {
	for i := len(t.finishers) - 1; i >= 0; i-- {
		t.finishers[i]()
	}
}

// KeyLocks emulates row-level write locks for the in-memory backends. A lock
// is held by one transaction until it commits or rolls back.
type KeyLocks struct {
	mu   sync.Mutex
	sems map[string]chan struct{}
}

// NewKeyLocks creates an empty lock table.
func NewKeyLocks() *KeyLocks {
	return &KeyLocks{sems: make(map[string]chan struct{})}
}

func (l *KeyLocks) sem(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.sems[key]
	if !ok {
		s = make(chan struct{}, 1)
		l.sems[key] = s
	}
	return s
}

// Acquire blocks until tx holds the lock for key or ctx is done. Acquiring a
// lock the transaction already holds returns immediately.
func (l *KeyLocks) Acquire(ctx context.Context, tx *MemoryTx, key string) error {
	tx.mu.Lock()
	if tx.held[key] {
		tx.mu.Unlock()
		return nil
	}
	tx.mu.Unlock()

	s := l.sem(key)
	select {
	case s <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	tx.mu.Lock()
	tx.held[key] = true
	tx.mu.Unlock()
	tx.OnFinish(func() { <-s })
	return nil
}
