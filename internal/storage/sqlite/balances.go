package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mmynk/pointsledger/internal/models"
	"github.com/mmynk/pointsledger/internal/storage"
)

// GetCachedBalance retrieves the cache row for an account.
func (s *SQLiteStore) GetCachedBalance(ctx context.Context, accountID string) (*models.BalanceCache, error) {
	b := &models.BalanceCache{}
	err := s.q.QueryRowContext(ctx,
		"SELECT account_id, amount, updated_at FROM balance_cache WHERE account_id = ?",
		accountID,
	).Scan(&b.AccountID, &b.Amount, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("balance cache %s: %w", accountID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cached balance: %w", err)
	}
	return b, nil
}

// UpsertCachedBalance overwrites the cache row; the last writer wins.
func (s *SQLiteStore) UpsertCachedBalance(ctx context.Context, b *models.BalanceCache) error {
	if b.UpdatedAt == 0 {
		b.UpdatedAt = time.Now().Unix()
	}

	_, err := s.q.ExecContext(ctx,
		`INSERT INTO balance_cache (account_id, amount, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(account_id) DO UPDATE SET amount = excluded.amount, updated_at = excluded.updated_at`,
		b.AccountID, b.Amount, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert cached balance: %w", err)
	}
	return nil
}
