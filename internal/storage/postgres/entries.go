package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mmynk/pointsledger/internal/models"
	"github.com/mmynk/pointsledger/internal/storage"
)

// entrySelect resolves the mandatory flag from the category. An entry
// without a (known) category is mandatory.
const entrySelect = `
SELECT e.id, e.account_id, e.amount, e.reason, e.status, e.category_id,
       COALESCE(c.mandatory, TRUE) AS mandatory,
       e.auto_processed, e.split_from_id, e.created_at, e.paid_at
FROM negative_entries e
LEFT JOIN categories c ON c.id = e.category_id`

// CreateCategory persists a new category.
func (s *PostgresStore) CreateCategory(ctx context.Context, c *models.Category) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt == 0 {
		c.CreatedAt = time.Now().Unix()
	}

	rec := categoryRecord{ID: c.ID, Name: c.Name, Mandatory: c.Mandatory, CreatedAt: c.CreatedAt}
	// Select all columns so Mandatory=false is not replaced by the default.
	if err := s.db.WithContext(ctx).Select("*").Create(&rec).Error; err != nil {
		return fmt.Errorf("failed to insert category: %w", err)
	}
	return nil
}

// GetCategory retrieves a category by ID.
func (s *PostgresStore) GetCategory(ctx context.Context, categoryID string) (*models.Category, error) {
	var rec categoryRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", categoryID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("category %s: %w", categoryID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get category: %w", err)
	}
	return &models.Category{ID: rec.ID, Name: rec.Name, Mandatory: rec.Mandatory, CreatedAt: rec.CreatedAt}, nil
}

// CreateNegativeEntry persists a new negative entry.
func (s *PostgresStore) CreateNegativeEntry(ctx context.Context, e *models.NegativeEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt == 0 {
		e.CreatedAt = time.Now().Unix()
	}
	if e.Status == "" {
		e.Status = models.StatusPending
	}

	rec := negativeEntryRecord{
		ID:            e.ID,
		AccountID:     e.AccountID,
		Amount:        e.Amount,
		Reason:        e.Reason,
		Status:        string(e.Status),
		CategoryID:    e.CategoryID,
		AutoProcessed: e.AutoProcessed,
		SplitFromID:   e.SplitFromID,
		CreatedAt:     e.CreatedAt,
		PaidAt:        e.PaidAt,
	}
	if err := s.db.WithContext(ctx).Omit("Category").Create(&rec).Error; err != nil {
		return fmt.Errorf("failed to insert negative entry: %w", err)
	}
	return nil
}

// GetNegativeEntry retrieves an entry by ID.
func (s *PostgresStore) GetNegativeEntry(ctx context.Context, entryID string) (*models.NegativeEntry, error) {
	var rows []entryRow
	if err := s.db.WithContext(ctx).Raw(entrySelect+" WHERE e.id = ?", entryID).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to get negative entry: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("negative entry %s: %w", entryID, storage.ErrNotFound)
	}
	return rows[0].toModel(), nil
}

// ListNegativeEntries retrieves an account's entries, optionally by status.
func (s *PostgresStore) ListNegativeEntries(ctx context.Context, accountID string, status models.EntryStatus) ([]*models.NegativeEntry, error) {
	query := entrySelect + " WHERE e.account_id = ?"
	args := []any{accountID}
	if status != "" {
		query += " AND e.status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY e.created_at ASC, e.id ASC"

	var rows []entryRow
	if err := s.db.WithContext(ctx).Raw(query, args...).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list negative entries: %w", err)
	}

	entries := make([]*models.NegativeEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, r.toModel())
	}
	return entries, nil
}

// MarkEntryPaid flips a pending entry to paid.
func (s *PostgresStore) MarkEntryPaid(ctx context.Context, entryID string, paidAt int64, autoProcessed bool) error {
	q := s.db.WithContext(ctx).Model(&negativeEntryRecord{}).
		Where("id = ? AND status = ?", entryID, string(models.StatusPending))
	updates := map[string]any{
		"status":  string(models.StatusPaid),
		"paid_at": paidAt,
	}
	if autoProcessed {
		q = q.Where("auto_processed = ?", false)
		updates["auto_processed"] = true
	}

	return conflict(q.Updates(updates), "mark negative entry "+entryID+" paid")
}

// ReduceEntry lowers the remaining amount of a pending entry.
func (s *PostgresStore) ReduceEntry(ctx context.Context, entryID string, expectedAmount, by int64) error {
	res := s.db.WithContext(ctx).Model(&negativeEntryRecord{}).
		Where("id = ? AND status = ? AND amount = ? AND amount > ?",
			entryID, string(models.StatusPending), expectedAmount, by).
		Update("amount", gorm.Expr("amount - ?", by))
	return conflict(res, "reduce negative entry "+entryID)
}

// CancelEntry flips a pending entry to cancelled.
func (s *PostgresStore) CancelEntry(ctx context.Context, entryID string) error {
	res := s.db.WithContext(ctx).Model(&negativeEntryRecord{}).
		Where("id = ? AND status = ?", entryID, string(models.StatusPending)).
		Update("status", string(models.StatusCancelled))
	return conflict(res, "cancel negative entry "+entryID)
}
