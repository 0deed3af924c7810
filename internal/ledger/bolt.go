package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/zombor/recycle-rewards/internal/reward"
)

const (
	accountBucketName = "accounts"
	creditBucketName  = "credits"
)

// BoltStore implements the Store interface using BoltDB. Credits run inside
// a single bbolt Update transaction, so balance, scan count, and the
// credited-submission record always commit together.
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore creates a new BoltStore instance
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	// Create buckets if they don't exist
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(accountBucketName)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(creditBucketName)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// creditKey namespaces a submission record under its user
func creditKey(userID, submissionID string) []byte {
	return []byte(userID + "/" + submissionID)
}

// Credit applies a reward decision to a user's account exactly once per submission
func (b *BoltStore) Credit(ctx context.Context, userID, submissionID string, decision reward.Decision) (CreditResult, error) {
	if err := ctx.Err(); err != nil {
		return CreditResult{}, err
	}

	var result CreditResult
	err := b.db.Update(func(tx *bbolt.Tx) error {
		credits := tx.Bucket([]byte(creditBucketName))
		accounts := tx.Bucket([]byte(accountBucketName))

		// Replay check: a submission credited before returns its stored result
		if data := credits.Get(creditKey(userID, submissionID)); data != nil {
			if err := json.Unmarshal(data, &result); err != nil {
				return fmt.Errorf("unmarshaling credit record: %w", err)
			}
			result.Replayed = true
			return nil
		}

		account := Account{UserID: userID}
		if data := accounts.Get([]byte(userID)); data != nil {
			if err := json.Unmarshal(data, &account); err != nil {
				return fmt.Errorf("unmarshaling account: %w", err)
			}
		}

		// No recyclable recognized: report current state, record nothing
		if decision.Category == reward.CategoryNone {
			result = CreditResult{Balance: account.Balance, ScannedCount: account.ScannedCount}
			return nil
		}

		account.Balance += decision.Amount
		account.ScannedCount++
		result = CreditResult{Balance: account.Balance, ScannedCount: account.ScannedCount}

		accountData, err := json.Marshal(account)
		if err != nil {
			return fmt.Errorf("marshaling account: %w", err)
		}
		if err := accounts.Put([]byte(userID), accountData); err != nil {
			return err
		}

		creditData, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("marshaling credit record: %w", err)
		}
		return credits.Put(creditKey(userID, submissionID), creditData)
	})
	if err != nil {
		return CreditResult{}, err
	}
	return result, nil
}

// Account returns a user's current ledger record
func (b *BoltStore) Account(ctx context.Context, userID string) (Account, error) {
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}

	account := Account{UserID: userID}
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(accountBucketName))
		data := bucket.Get([]byte(userID))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &account)
	})
	if err != nil {
		return Account{}, err
	}
	return account, nil
}

// Leaderboard returns up to limit accounts ordered by balance, highest first
func (b *BoltStore) Leaderboard(ctx context.Context, limit int) ([]Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	accounts := make([]Account, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(accountBucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var account Account
			if err := json.Unmarshal(v, &account); err != nil {
				return fmt.Errorf("unmarshaling account: %w", err)
			}
			accounts = append(accounts, account)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

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

// Close closes the database connection
func (b *BoltStore) Close() error {
	return b.db.Close()
}
