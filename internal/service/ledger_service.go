package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mmynk/pointsledger/internal/middleware"
	"github.com/mmynk/pointsledger/internal/models"
	"github.com/mmynk/pointsledger/internal/reconcile"
	"github.com/mmynk/pointsledger/internal/storage"
)

// PostingResult describes a ledger write.
type PostingResult struct {
	TransactionID string `json:"transaction_id"`
	NewBalance    int64  `json:"new_balance"`
}

// LedgerService records credits, debits, recharges and new debts.
type LedgerService struct {
	store  storage.Store
	engine *reconcile.Engine
	options
}

// NewLedgerService creates a LedgerService.
func NewLedgerService(store storage.Store, engine *reconcile.Engine, opts ...Option) *LedgerService {
	return &LedgerService{
		store:   store,
		engine:  engine,
		options: newOptions(opts),
	}
}

// Credit adds points to the account.
func (s *LedgerService) Credit(ctx context.Context, accountID string, amount int64, description string) (*PostingResult, error) {
	return s.post(ctx, accountID, amount, models.SignCredit, description)
}

// Debit removes points from the account. Debits are not funds-checked.
func (s *LedgerService) Debit(ctx context.Context, accountID string, amount int64, description string) (*PostingResult, error) {
	return s.post(ctx, accountID, amount, models.SignDebit, description)
}

func (s *LedgerService) post(ctx context.Context, accountID string, amount int64, sign models.Sign, description string) (*PostingResult, error) {
	if err := validatePosting(accountID, amount); err != nil {
		return nil, err
	}

	tx := &models.Transaction{
		AccountID:   accountID,
		Amount:      amount,
		Sign:        sign,
		Description: description,
		CreatedBy:   middleware.ActorFromContext(ctx),
		CreatedAt:   s.now().Unix(),
	}
	if err := s.store.AppendTransaction(ctx, tx); err != nil {
		s.logger.Error("Failed to append transaction", "account_id", accountID, "sign", sign, "error", err)
		return nil, fmt.Errorf("failed to record %s: %w", sign, err)
	}

	s.logger.Info("Transaction recorded",
		"account_id", accountID,
		"transaction_id", tx.ID,
		"sign", sign,
		"amount", amount,
	)

	return &PostingResult{TransactionID: tx.ID, NewBalance: s.balanceAfterWrite(ctx, accountID)}, nil
}

// Recharge records points bought or granted outside the grading flow. The
// ledger credit and the recharge row linked to it are written in one unit
// of work.
func (s *LedgerService) Recharge(ctx context.Context, accountID string, amount int64, note string) (*PostingResult, error) {
	if err := validatePosting(accountID, amount); err != nil {
		return nil, err
	}

	now := s.now().Unix()
	credit := &models.Transaction{
		AccountID:   accountID,
		Amount:      amount,
		Sign:        models.SignCredit,
		Description: "Recharge: " + note,
		CreatedBy:   middleware.ActorFromContext(ctx),
		CreatedAt:   now,
	}
	recharge := &models.Recharge{
		AccountID: accountID,
		Amount:    amount,
		Note:      note,
		CreatedAt: now,
	}
	err := s.store.InTx(ctx, func(tx storage.Store) error {
		if err := tx.AppendTransaction(ctx, credit); err != nil {
			return err
		}
		recharge.TransactionID = &credit.ID
		return tx.AppendRecharge(ctx, recharge)
	})
	if err != nil {
		s.logger.Error("Failed to record recharge", "account_id", accountID, "error", err)
		return nil, fmt.Errorf("failed to record recharge: %w", err)
	}

	s.logger.Info("Recharge recorded",
		"account_id", accountID,
		"recharge_id", recharge.ID,
		"transaction_id", credit.ID,
		"amount", amount,
	)

	return &PostingResult{TransactionID: credit.ID, NewBalance: s.balanceAfterWrite(ctx, accountID)}, nil
}

// CreateNegativeEntry records a new pending debt. A nil categoryID makes the
// entry mandatory.
func (s *LedgerService) CreateNegativeEntry(ctx context.Context, accountID string, amount int64, reason string, categoryID *string) (*models.NegativeEntry, error) {
	if accountID == "" {
		return nil, fmt.Errorf("%w: account ID is required", ErrValidation)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive, got %d", ErrInvalidAmount, amount)
	}
	if categoryID != nil {
		if _, err := s.store.GetCategory(ctx, *categoryID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, fmt.Errorf("%w: category %s", ErrNotFound, *categoryID)
			}
			return nil, fmt.Errorf("failed to get category: %w", err)
		}
	}

	entry := &models.NegativeEntry{
		AccountID:  accountID,
		Amount:     amount,
		Reason:     reason,
		Status:     models.StatusPending,
		CategoryID: categoryID,
		CreatedAt:  s.now().Unix(),
	}
	if err := s.store.CreateNegativeEntry(ctx, entry); err != nil {
		s.logger.Error("Failed to create negative entry", "account_id", accountID, "error", err)
		return nil, fmt.Errorf("failed to create negative entry: %w", err)
	}

	// Re-read so Mandatory reflects the category.
	created, err := s.store.GetNegativeEntry(ctx, entry.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read negative entry: %w", err)
	}

	s.logger.Info("Negative entry created",
		"entry_id", created.ID,
		"account_id", accountID,
		"amount", amount,
		"mandatory", created.Mandatory,
	)
	return created, nil
}

// CreateCategory creates a negative entry category.
func (s *LedgerService) CreateCategory(ctx context.Context, name string, mandatory bool) (*models.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: category name is required", ErrValidation)
	}

	c := &models.Category{Name: name, Mandatory: mandatory, CreatedAt: s.now().Unix()}
	if err := s.store.CreateCategory(ctx, c); err != nil {
		return nil, fmt.Errorf("failed to create category: %w", err)
	}
	return c, nil
}

// balanceAfterWrite recomputes the balance after a committed write. A failed
// recompute is logged and the ledger aggregate is returned instead.
func (s *LedgerService) balanceAfterWrite(ctx context.Context, accountID string) int64 {
	res, err := s.engine.Recompute(ctx, accountID, false)
	if err == nil {
		return res.Amount
	}
	s.logger.Warn("Recompute after write failed", "account_id", accountID, "error", err)
	total, err := s.store.SumTransactions(ctx, accountID)
	if err != nil {
		s.logger.Error("Failed to read ledger", "account_id", accountID, "error", err)
	}
	return total
}

func validatePosting(accountID string, amount int64) error {
	if accountID == "" {
		return fmt.Errorf("%w: account ID is required", ErrValidation)
	}
	if amount <= 0 {
		return fmt.Errorf("%w: amount must be positive, got %d", ErrInvalidAmount, amount)
	}
	return nil
}
