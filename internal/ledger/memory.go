package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/zombor/recycle-rewards/internal/reward"
)

// versionedAccount pairs an account with the version counter used for
// the optimistic concurrency check.
type versionedAccount struct {
	account Account
	version uint64
}

// MemoryStore implements the Store interface with an in-memory map and an
// optimistic check-and-set: a credit reads a snapshot, recomputes, and only
// commits if no other writer bumped the account version in between. This is
// the same shape a remote document store's conditional update takes, so the
// conflict path the orchestrator retries against is real here.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]versionedAccount
	credits  map[string]CreditResult
}

// NewMemoryStore creates a new MemoryStore instance
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]versionedAccount),
		credits:  make(map[string]CreditResult),
	}
}

// snapshot reads the current account state and version under the lock
func (m *MemoryStore) snapshot(userID string) versionedAccount {
	m.mu.Lock()
	defer m.mu.Unlock()
	va, ok := m.accounts[userID]
	if !ok {
		va = versionedAccount{account: Account{UserID: userID}}
	}
	return va
}

// Credit applies a reward decision to a user's account exactly once per submission
func (m *MemoryStore) Credit(ctx context.Context, userID, submissionID string, decision reward.Decision) (CreditResult, error) {
	if err := ctx.Err(); err != nil {
		return CreditResult{}, err
	}

	key := userID + "/" + submissionID

	m.mu.Lock()
	if stored, ok := m.credits[key]; ok {
		m.mu.Unlock()
		stored.Replayed = true
		return stored, nil
	}
	m.mu.Unlock()

	snap := m.snapshot(userID)

	if decision.Category == reward.CategoryNone {
		return CreditResult{Balance: snap.account.Balance, ScannedCount: snap.account.ScannedCount}, nil
	}

	next := snap.account
	next.Balance += decision.Amount
	next.ScannedCount++

	// Conditional commit: fail if a concurrent writer got there first
	m.mu.Lock()
	defer m.mu.Unlock()

	if stored, ok := m.credits[key]; ok {
		stored.Replayed = true
		return stored, nil
	}

	current, ok := m.accounts[userID]
	if ok && current.version != snap.version {
		return CreditResult{}, fmt.Errorf("account %s version changed: %w", userID, ErrConflict)
	}
	if !ok && snap.version != 0 {
		return CreditResult{}, fmt.Errorf("account %s version changed: %w", userID, ErrConflict)
	}

	m.accounts[userID] = versionedAccount{account: next, version: snap.version + 1}
	result := CreditResult{Balance: next.Balance, ScannedCount: next.ScannedCount}
	m.credits[key] = result
	return result, nil
}

// Account returns a user's current ledger record
func (m *MemoryStore) Account(ctx context.Context, userID string) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	return m.snapshot(userID).account, nil
}

// Leaderboard returns up to limit accounts ordered by balance, highest first
func (m *MemoryStore) Leaderboard(ctx context.Context, limit int) ([]Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	accounts := make([]Account, 0, len(m.accounts))
	for _, va := range m.accounts {
		accounts = append(accounts, va.account)
	}
	m.mu.Unlock()

	sort.Slice(accounts, func(i, j int) bool {
		if accounts[i].Balance != accounts[j].Balance {
			return accounts[i].Balance > accounts[j].Balance
		}
		return accounts[i].UserID < accounts[j].UserID
	})
	if limit > 0 && len(accounts) > limit {
		accounts = accounts[:limit]
	}
	return accounts, nil
}

// Close closes the store (no-op for the in-memory implementation)
func (m *MemoryStore) Close() error {
	return nil
}
