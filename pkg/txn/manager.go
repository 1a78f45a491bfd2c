package txn

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tinydb-go/tinydb/pkg/tinyerr"
)

// Manager tracks every open transaction for one database. It holds a
// single coarse lock over its own bookkeeping, mirroring the
// process-wide header lock the engine takes for catalog changes;
// per-collection locking during Commit replay is the caller's
// responsibility (the engine serializes writes per collection).
type Manager struct {
	mu             sync.Mutex
	store          Store
	transactions   map[string]*Transaction
	maxTransactions int
	timeout        time.Duration
}

func NewManager(store Store, maxTransactions int, timeout time.Duration) *Manager {
	return &Manager{
		store:           store,
		transactions:    make(map[string]*Transaction),
		maxTransactions: maxTransactions,
		timeout:         timeout,
	}
}

// Begin starts a new transaction, failing if maxTransactions active
// transactions are already open.
func (m *Manager) Begin() (*Transaction, error) {
	const op = "txn.Manager.Begin"
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.maxTransactions > 0 && len(m.transactions) >= m.maxTransactions {
		return nil, tinyerr.New(tinyerr.KindTooLarge, op, "too many open transactions")
	}
	t := newTransaction(uuid.NewString(), m.store, m.timeout)
	m.transactions[t.id] = t
	return t, nil
}

// Get returns the transaction with the given id, if still tracked.
func (m *Manager) Get(id string) (*Transaction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transactions[id]
	return t, ok
}

// Forget drops a finished transaction (Committed or RolledBack) from the
// tracked set. Commit/Rollback callers should call this once they are
// done inspecting the final state.
func (m *Manager) Forget(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.transactions, id)
}

// ReapExpired marks every Active transaction whose deadline has passed as
// Failed and returns their ids, for the caller
// (Engine.ReapExpiredTransactions) to Forget. It never calls Rollback
// itself: only an Active transaction can expire, and an Active transaction
// has applied nothing to the store, so there is nothing to undo.
func (m *Manager) ReapExpired() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var expired []string
	for id, t := range m.transactions {
		if t.expired(now) {
			t.mu.Lock()
			t.state = Failed
			t.mu.Unlock()
			expired = append(expired, id)
		}
	}
	return expired
}

// Active returns the count of transactions this manager is tracking,
// regardless of state, for Engine.Statistics.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.transactions)
}
