package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mmynk/pointsledger/internal/models"
	"github.com/mmynk/pointsledger/internal/storage"
)

// entryColumns selects a negative entry with its mandatory flag resolved.
// An entry without a (known) category is mandatory.
const entryColumns = `
	e.id, e.account_id, e.amount, e.reason, e.status, e.category_id,
	COALESCE(c.mandatory, 1), e.auto_processed, e.split_from_id, e.created_at, e.paid_at
	FROM negative_entries e
	LEFT JOIN categories c ON c.id = e.category_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*models.NegativeEntry, error) {
	e := &models.NegativeEntry{}
	var status string
	var categoryID, splitFromID sql.NullString
	var paidAt sql.NullInt64

	if err := row.Scan(&e.ID, &e.AccountID, &e.Amount, &e.Reason, &status, &categoryID,
		&e.Mandatory, &e.AutoProcessed, &splitFromID, &e.CreatedAt, &paidAt); err != nil {
		return nil, err
	}

	e.Status = models.EntryStatus(status)
	e.CategoryID = stringPtr(categoryID)
	e.SplitFromID = stringPtr(splitFromID)
	if paidAt.Valid {
		v := paidAt.Int64
		e.PaidAt = &v
	}
	return e, nil
}

// CreateCategory persists a new category.
func (s *SQLiteStore) CreateCategory(ctx context.Context, c *models.Category) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt == 0 {
		c.CreatedAt = time.Now().Unix()
	}

	_, err := s.q.ExecContext(ctx,
		"INSERT INTO categories (id, name, mandatory, created_at) VALUES (?, ?, ?, ?)",
		c.ID, c.Name, boolToInt(c.Mandatory), c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert category: %w", err)
	}
	return nil
}

// GetCategory retrieves a category by ID.
func (s *SQLiteStore) GetCategory(ctx context.Context, categoryID string) (*models.Category, error) {
	c := &models.Category{}
	err := s.q.QueryRowContext(ctx,
		"SELECT id, name, mandatory, created_at FROM categories WHERE id = ?",
		categoryID,
	).Scan(&c.ID, &c.Name, &c.Mandatory, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("category %s: %w", categoryID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get category: %w", err)
	}
	return c, nil
}

// CreateNegativeEntry persists a new negative entry.
func (s *SQLiteStore) CreateNegativeEntry(ctx context.Context, e *models.NegativeEntry) error {
	// Generate ID if not set
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt == 0 {
		e.CreatedAt = time.Now().Unix()
	}
	if e.Status == "" {
		e.Status = models.StatusPending
	}

	var paidAt any
	if e.PaidAt != nil {
		paidAt = *e.PaidAt
	}

	_, err := s.q.ExecContext(ctx,
		`INSERT INTO negative_entries
		 (id, account_id, amount, reason, status, category_id, auto_processed, split_from_id, created_at, paid_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.AccountID, e.Amount, e.Reason, string(e.Status), nullString(e.CategoryID),
		boolToInt(e.AutoProcessed), nullString(e.SplitFromID), e.CreatedAt, paidAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert negative entry: %w", err)
	}

	return nil
}

// GetNegativeEntry retrieves an entry by ID.
func (s *SQLiteStore) GetNegativeEntry(ctx context.Context, entryID string) (*models.NegativeEntry, error) {
	e, err := scanEntry(s.q.QueryRowContext(ctx,
		"SELECT"+entryColumns+" WHERE e.id = ?",
		entryID,
	))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("negative entry %s: %w", entryID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get negative entry: %w", err)
	}
	return e, nil
}

// ListNegativeEntries retrieves an account's entries, optionally by status.
func (s *SQLiteStore) ListNegativeEntries(ctx context.Context, accountID string, status models.EntryStatus) ([]*models.NegativeEntry, error) {
	query := "SELECT" + entryColumns + " WHERE e.account_id = ?"
	args := []any{accountID}
	if status != "" {
		query += " AND e.status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY e.created_at ASC, e.rowid ASC"

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list negative entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.NegativeEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan negative entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate negative entries: %w", err)
	}

	return entries, nil
}

// MarkEntryPaid flips a pending entry to paid.
func (s *SQLiteStore) MarkEntryPaid(ctx context.Context, entryID string, paidAt int64, autoProcessed bool) error {
	query := "UPDATE negative_entries SET status = 'paid', paid_at = ? WHERE id = ? AND status = 'pending'"
	if autoProcessed {
		query = `UPDATE negative_entries SET status = 'paid', paid_at = ?, auto_processed = 1
		         WHERE id = ? AND status = 'pending' AND auto_processed = 0`
	}

	res, err := s.q.ExecContext(ctx, query, paidAt, entryID)
	if err != nil {
		return fmt.Errorf("failed to mark negative entry paid: %w", err)
	}
	return affected(res, "mark negative entry "+entryID+" paid")
}

// ReduceEntry lowers the remaining amount of a pending entry.
func (s *SQLiteStore) ReduceEntry(ctx context.Context, entryID string, expectedAmount, by int64) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE negative_entries SET amount = amount - ?
		 WHERE id = ? AND status = 'pending' AND amount = ? AND amount > ?`,
		by, entryID, expectedAmount, by,
	)
	if err != nil {
		return fmt.Errorf("failed to reduce negative entry: %w", err)
	}
	return affected(res, "reduce negative entry "+entryID)
}

// CancelEntry flips a pending entry to cancelled.
func (s *SQLiteStore) CancelEntry(ctx context.Context, entryID string) error {
	res, err := s.q.ExecContext(ctx,
		"UPDATE negative_entries SET status = 'cancelled' WHERE id = ? AND status = 'pending'",
		entryID,
	)
	if err != nil {
		return fmt.Errorf("failed to cancel negative entry: %w", err)
	}
	return affected(res, "cancel negative entry "+entryID)
}
