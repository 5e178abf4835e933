package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mmynk/pointsledger/internal/models"
	"github.com/mmynk/pointsledger/internal/storage"
)

// GetCachedBalance returns the cache row for an account.
func (s *PostgresStore) GetCachedBalance(ctx context.Context, accountID string) (*models.BalanceCache, error) {
	var rec balanceRecord
	err := s.db.WithContext(ctx).First(&rec, "account_id = ?", accountID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("balance for %s: %w", accountID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cached balance: %w", err)
	}
	return &models.BalanceCache{AccountID: rec.AccountID, Amount: rec.Amount, UpdatedAt: rec.UpdatedAt}, nil
}

// UpsertCachedBalance overwrites the cache row for an account.
func (s *PostgresStore) UpsertCachedBalance(ctx context.Context, b *models.BalanceCache) error {
	if b.UpdatedAt == 0 {
		b.UpdatedAt = time.Now().Unix()
	}

	rec := balanceRecord{AccountID: b.AccountID, Amount: b.Amount, UpdatedAt: b.UpdatedAt}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"amount", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("failed to upsert cached balance: %w", err)
	}
	return nil
}
