// Package ledger owns the per-user balance and scan count. All mutation
// goes through Credit, which is atomic and idempotent per submission.
package ledger

import (
	"context"
	"errors"

	"github.com/zombor/recycle-rewards/internal/reward"
)

// Account is the durable per-user ledger record
type Account struct {
	UserID string `json:"user_id"`
	// Balance in cents, never negative
	Balance int64 `json:"balance"`
	// ScannedCount is the number of rewarded submissions, monotonically non-decreasing
	ScannedCount int64 `json:"scanned_count"`
}

// CreditResult reports the ledger state after a credit was applied (or replayed)
type CreditResult struct {
	Balance      int64 `json:"balance"`
	ScannedCount int64 `json:"scanned_count"`
	// Replayed is true when the submission had already been credited and
	// the stored result was returned untouched
	Replayed bool `json:"replayed"`
}

// ErrConflict means a concurrent writer invalidated the transaction's read
// snapshot; the caller retries the whole credit.
var ErrConflict = errors.New("ledger conflict")

// Store defines the interface for ledger operations
type Store interface {
	// Credit applies a reward decision to a user's account exactly once
	// per submission. Replays return the originally stored result. A
	// CategoryNone decision touches nothing and reports current state.
	Credit(ctx context.Context, userID, submissionID string, decision reward.Decision) (CreditResult, error)

	// Account returns a user's current ledger record. Users that were
	// never credited read as a zero-valued account.
	Account(ctx context.Context, userID string) (Account, error)

	// Leaderboard returns up to limit accounts ordered by balance, highest first
	Leaderboard(ctx context.Context, limit int) ([]Account, error)

	// Close closes the store
	Close() error
}
