package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mmynk/pointsledger/internal/models"
)

// AppendTransaction inserts a new ledger row.
func (s *SQLiteStore) AppendTransaction(ctx context.Context, tx *models.Transaction) error {
	// Generate ID if not set
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	if tx.CreatedAt == 0 {
		tx.CreatedAt = time.Now().Unix()
	}

	_, err := s.q.ExecContext(ctx,
		`INSERT INTO transactions (id, account_id, amount, sign, category_id, description, created_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.AccountID, tx.Amount, string(tx.Sign), nullString(tx.CategoryID),
		tx.Description, tx.CreatedBy, tx.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}

	return nil
}

// ListTransactions retrieves all ledger rows for an account.
func (s *SQLiteStore) ListTransactions(ctx context.Context, accountID string) ([]*models.Transaction, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, account_id, amount, sign, category_id, description, created_by, created_at
		 FROM transactions WHERE account_id = ? ORDER BY created_at ASC, rowid ASC`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txs []*models.Transaction
	for rows.Next() {
		tx := &models.Transaction{}
		var sign string
		var categoryID sql.NullString

		if err := rows.Scan(&tx.ID, &tx.AccountID, &tx.Amount, &sign, &categoryID,
			&tx.Description, &tx.CreatedBy, &tx.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		tx.Sign = models.Sign(sign)
		tx.CategoryID = stringPtr(categoryID)

		txs = append(txs, tx)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}

	return txs, nil
}

// SumTransactions computes the signed total in the database.
func (s *SQLiteStore) SumTransactions(ctx context.Context, accountID string) (int64, error) {
	var total int64
	err := s.q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(CASE WHEN sign = 'credit' THEN amount ELSE -amount END), 0)
		 FROM transactions WHERE account_id = ?`,
		accountID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum transactions: %w", err)
	}
	return total, nil
}

// ProcedureBalance reads the account_balances view.
func (s *SQLiteStore) ProcedureBalance(ctx context.Context, accountID string) (int64, error) {
	var balance int64
	err := s.q.QueryRowContext(ctx,
		"SELECT balance FROM account_balances WHERE account_id = ?",
		accountID,
	).Scan(&balance)
	if err == sql.ErrNoRows {
		// No ledger rows yet.
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read account_balances: %w", err)
	}
	return balance, nil
}

// ListAccounts returns every account that has ledger rows or a cache row.
func (s *SQLiteStore) ListAccounts(ctx context.Context) ([]string, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT account_id FROM transactions
		 UNION
		 SELECT account_id FROM balance_cache
		 ORDER BY account_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []string
	for rows.Next() {
		var accountID string
		if err := rows.Scan(&accountID); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, accountID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate accounts: %w", err)
	}

	return accounts, nil
}

// AppendRecharge inserts a new recharge row.
func (s *SQLiteStore) AppendRecharge(ctx context.Context, r *models.Recharge) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt == 0 {
		r.CreatedAt = time.Now().Unix()
	}

	_, err := s.q.ExecContext(ctx,
		"INSERT INTO recharges (id, account_id, amount, note, transaction_id, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		r.ID, r.AccountID, r.Amount, r.Note, r.TransactionID, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert recharge: %w", err)
	}
	return nil
}

// SumUnpostedRecharges totals recharges that have no matching ledger credit.
func (s *SQLiteStore) SumUnpostedRecharges(ctx context.Context, accountID string) (int64, error) {
	var total int64
	err := s.q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(r.amount), 0)
		FROM recharges r
		LEFT JOIN transactions t ON t.id = r.transaction_id
		WHERE r.account_id = ? AND t.id IS NULL`,
		accountID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to sum recharges: %w", err)
	}
	return total, nil
}
