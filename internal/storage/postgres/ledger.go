package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mmynk/pointsledger/internal/models"
	"github.com/mmynk/pointsledger/internal/storage"
)

// AppendTransaction inserts a new ledger row.
func (s *PostgresStore) AppendTransaction(ctx context.Context, tx *models.Transaction) error {
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	if tx.CreatedAt == 0 {
		tx.CreatedAt = time.Now().Unix()
	}

	rec := transactionRecord{
		ID:          tx.ID,
		AccountID:   tx.AccountID,
		Amount:      tx.Amount,
		Sign:        string(tx.Sign),
		CategoryID:  tx.CategoryID,
		Description: tx.Description,
		CreatedBy:   tx.CreatedBy,
		CreatedAt:   tx.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

// ListTransactions retrieves all ledger rows for an account.
func (s *PostgresStore) ListTransactions(ctx context.Context, accountID string) ([]*models.Transaction, error) {
	// Transactions are never updated, so ctid breaks ties in insert order.
	var recs []transactionRecord
	if err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at ASC, ctid ASC").
		Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	txs := make([]*models.Transaction, 0, len(recs))
	for _, rec := range recs {
		txs = append(txs, rec.toModel())
	}
	return txs, nil
}

// SumTransactions computes the signed total in the database.
func (s *PostgresStore) SumTransactions(ctx context.Context, accountID string) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(CASE WHEN sign = 'credit' THEN amount ELSE -amount END), 0)
		 FROM transactions WHERE account_id = ?`,
		accountID,
	).Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("failed to sum transactions: %w", err)
	}
	return total, nil
}

// ProcedureBalance calls the points_balance SQL function.
func (s *PostgresStore) ProcedureBalance(ctx context.Context, accountID string) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).Raw("SELECT points_balance(?)", accountID).Scan(&total).Error
	if isUndefinedFunction(err) {
		return 0, fmt.Errorf("points_balance: %w", storage.ErrUnsupported)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to call points_balance: %w", err)
	}
	return total, nil
}

// ListAccounts returns every account that has ledger rows or a cache row.
func (s *PostgresStore) ListAccounts(ctx context.Context) ([]string, error) {
	var rows []struct{ AccountID string }
	err := s.db.WithContext(ctx).Raw(
		`SELECT account_id FROM transactions
		 UNION
		 SELECT account_id FROM balance_cache
		 ORDER BY account_id`,
	).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	accounts := make([]string, 0, len(rows))
	for _, r := range rows {
		accounts = append(accounts, r.AccountID)
	}
	return accounts, nil
}

// AppendRecharge inserts a new recharge row.
func (s *PostgresStore) AppendRecharge(ctx context.Context, r *models.Recharge) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt == 0 {
		r.CreatedAt = time.Now().Unix()
	}

	rec := rechargeRecord{
		ID:            r.ID,
		AccountID:     r.AccountID,
		Amount:        r.Amount,
		Note:          r.Note,
		TransactionID: r.TransactionID,
		CreatedAt:     r.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("failed to insert recharge: %w", err)
	}
	return nil
}

// SumUnpostedRecharges totals recharges that have no matching ledger credit.
func (s *PostgresStore) SumUnpostedRecharges(ctx context.Context, accountID string) (int64, error) {
	var total int64
	err := s.db.WithContext(ctx).Table("recharges AS r").
		Select("COALESCE(SUM(r.amount), 0)").
		Joins("LEFT JOIN transactions t ON t.id = r.transaction_id").
		Where("r.account_id = ? AND t.id IS NULL", accountID).
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("failed to sum recharges: %w", err)
	}
	return total, nil
}
