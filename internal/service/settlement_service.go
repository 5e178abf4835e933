package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmynk/pointsledger/internal/calculator"
	"github.com/mmynk/pointsledger/internal/middleware"
	"github.com/mmynk/pointsledger/internal/models"
	"github.com/mmynk/pointsledger/internal/reconcile"
	"github.com/mmynk/pointsledger/internal/storage"
)

const paidSliceSuffix = " (paid slice)"

// SettlementResult describes a completed settlement.
type SettlementResult struct {
	EntryID       string `json:"entry_id"`
	TransactionID string `json:"transaction_id"`

	// PaidSliceID is the paid entry recorded by a partial settlement.
	PaidSliceID string `json:"paid_slice_id,omitempty"`

	Paid       int64 `json:"paid"`
	Remaining  int64 `json:"remaining"`
	NewBalance int64 `json:"new_balance"`
	Partial    bool  `json:"partial"`

	// BalanceEstimated is set when the post-settlement recompute failed and
	// NewBalance was derived from the pre-settlement balance instead.
	BalanceEstimated bool `json:"balance_estimated,omitempty"`
}

// BatchResult describes one run of the mandatory auto-settlement job.
type BatchResult struct {
	ProcessedCount int      `json:"processed_count"`
	TotalDeducted  int64    `json:"total_deducted"`
	NewBalance     int64    `json:"new_balance"`
	EntryIDs       []string `json:"entry_ids"`
}

// PendingDebts lists what an account still owes.
type PendingDebts struct {
	Entries        []*models.NegativeEntry `json:"entries"`
	MandatoryTotal int64                   `json:"mandatory_total"`
	OptionalTotal  int64                   `json:"optional_total"`
	Balance        int64                   `json:"balance"`
}

// SettlementService pays off negative entries against the ledger.
type SettlementService struct {
	store  storage.Store
	engine *reconcile.Engine
	options
}

// NewSettlementService creates a SettlementService. Balances are always
// obtained through engine.
func NewSettlementService(store storage.Store, engine *reconcile.Engine, opts ...Option) *SettlementService {
	return &SettlementService{
		store:   store,
		engine:  engine,
		options: newOptions(opts),
	}
}

// Settle pays entryID fully, or partially when partial is set.
//
// Failures are checked in order: ErrNotFound, ErrAlreadySettled,
// ErrInvalidAmount, ErrInsufficientFunds. The entry update and the debit are
// written in one unit of work; the entry update is conditional on the entry
// still being pending, so of two concurrent calls only one succeeds.
func (s *SettlementService) Settle(ctx context.Context, entryID, accountID string, partial *int64) (*SettlementResult, error) {
	res, err := s.settle(ctx, entryID, accountID, partial)
	s.metrics.Settlement(outcomeLabel(err))
	s.logResult("Settle", err, "entry_id", entryID, "account_id", accountID)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *SettlementService) settle(ctx context.Context, entryID, accountID string, partial *int64) (*SettlementResult, error) {
	entry, err := s.ownedEntry(ctx, entryID, accountID)
	if err != nil {
		return nil, err
	}
	if entry.Status != models.StatusPending {
		return nil, fmt.Errorf("%w: entry %s is %s", ErrAlreadySettled, entryID, entry.Status)
	}

	plan, err := calculator.PlanSettlement(entry, partial)
	if err != nil {
		return nil, err
	}

	current, err := s.engine.Recompute(ctx, accountID, false)
	if err != nil {
		return nil, fmt.Errorf("failed to compute balance: %w", err)
	}
	if current.Amount < plan.Pay {
		return nil, fmt.Errorf("%w: balance %d, need %d", ErrInsufficientFunds, current.Amount, plan.Pay)
	}

	now := s.now().Unix()
	debit := &models.Transaction{
		AccountID:   accountID,
		Amount:      plan.Pay,
		Sign:        models.SignDebit,
		CategoryID:  entry.CategoryID,
		Description: "Paid: " + entry.Reason,
		CreatedBy:   middleware.ActorFromContext(ctx),
		CreatedAt:   now,
	}
	var slice *models.NegativeEntry

	err = s.store.InTx(ctx, func(tx storage.Store) error {
		if plan.Split {
			if err := tx.ReduceEntry(ctx, entry.ID, entry.Amount, plan.Pay); err != nil {
				return err
			}
			slice = &models.NegativeEntry{
				AccountID:   accountID,
				Amount:      plan.Pay,
				Reason:      entry.Reason + paidSliceSuffix,
				Status:      models.StatusPaid,
				CategoryID:  entry.CategoryID,
				SplitFromID: &entry.ID,
				CreatedAt:   now,
				PaidAt:      &now,
			}
			if err := tx.CreateNegativeEntry(ctx, slice); err != nil {
				return err
			}
		} else if err := tx.MarkEntryPaid(ctx, entry.ID, now, false); err != nil {
			return err
		}
		return tx.AppendTransaction(ctx, debit)
	})
	if errors.Is(err, storage.ErrConflict) {
		return nil, fmt.Errorf("%w: entry %s changed concurrently", ErrAlreadySettled, entryID)
	}
	if err != nil {
		s.heal(ctx, accountID)
		return nil, fmt.Errorf("failed to apply settlement: %w", err)
	}

	s.metrics.Deducted("manual", plan.Pay)

	res := &SettlementResult{
		EntryID:       entry.ID,
		TransactionID: debit.ID,
		Paid:          plan.Pay,
		Remaining:     plan.Remaining,
		Partial:       plan.Split,
	}
	if slice != nil {
		res.PaidSliceID = slice.ID
	}

	after, err := s.engine.Recompute(ctx, accountID, false)
	if err != nil {
		// The settlement is committed; the next recompute repairs the cache.
		s.logger.Error("Recompute after settlement failed", "account_id", accountID, "error", err)
		res.NewBalance = current.Amount - plan.Pay
		res.BalanceEstimated = true
		return res, nil
	}
	res.NewBalance = after.Amount

	return res, nil
}

// SettleAllMandatory debits every pending mandatory entry of the account that
// the job has not processed yet. No funds check is made; the balance may go
// negative. Each entry is settled in its own unit of work, so a second run
// finds nothing to do.
//
// Per-entry failures do not stop the batch. They are joined into the returned
// error, which may accompany a non-nil result.
func (s *SettlementService) SettleAllMandatory(ctx context.Context, accountID string) (*BatchResult, error) {
	if accountID == "" {
		return nil, fmt.Errorf("%w: account ID is required", ErrValidation)
	}

	entries, err := s.store.ListNegativeEntries(ctx, accountID, models.StatusPending)
	if err != nil {
		s.logger.Error("SettleAllMandatory: failed to list entries", "account_id", accountID, "error", err)
		return nil, fmt.Errorf("failed to list pending entries: %w", err)
	}

	actor := middleware.ActorFromContext(ctx)
	res := &BatchResult{EntryIDs: []string{}}
	var errs []error

	for _, entry := range entries {
		if !entry.Mandatory || entry.AutoProcessed {
			continue
		}

		now := s.now().Unix()
		err := s.store.InTx(ctx, func(tx storage.Store) error {
			if err := tx.MarkEntryPaid(ctx, entry.ID, now, true); err != nil {
				return err
			}
			return tx.AppendTransaction(ctx, &models.Transaction{
				AccountID:   accountID,
				Amount:      entry.Amount,
				Sign:        models.SignDebit,
				CategoryID:  entry.CategoryID,
				Description: "Auto-deducted: " + entry.Reason,
				CreatedBy:   actor,
				CreatedAt:   now,
			})
		})
		if errors.Is(err, storage.ErrConflict) {
			s.logger.Debug("Mandatory entry already processed", "entry_id", entry.ID, "account_id", accountID)
			continue
		}
		if err != nil {
			s.logger.Error("Failed to auto-settle entry", "entry_id", entry.ID, "account_id", accountID, "error", err)
			errs = append(errs, fmt.Errorf("entry %s: %w", entry.ID, err))
			continue
		}

		res.ProcessedCount++
		res.TotalDeducted += entry.Amount
		res.EntryIDs = append(res.EntryIDs, entry.ID)
	}

	s.metrics.Deducted("auto", res.TotalDeducted)

	after, err := s.engine.Recompute(ctx, accountID, false)
	if err != nil {
		s.logger.Error("Recompute after mandatory batch failed", "account_id", accountID, "error", err)
		errs = append(errs, fmt.Errorf("failed to recompute balance: %w", err))
	} else {
		res.NewBalance = after.Amount
	}

	s.logger.Info("Mandatory entries settled",
		"account_id", accountID,
		"processed", res.ProcessedCount,
		"total_deducted", res.TotalDeducted,
		"new_balance", res.NewBalance,
	)

	return res, errors.Join(errs...)
}

// Cancel moves a pending entry to cancelled. Nothing is written to the ledger.
func (s *SettlementService) Cancel(ctx context.Context, entryID, accountID string) error {
	err := s.cancel(ctx, entryID, accountID)
	s.logResult("Cancel", err, "entry_id", entryID, "account_id", accountID)
	return err
}

func (s *SettlementService) cancel(ctx context.Context, entryID, accountID string) error {
	entry, err := s.ownedEntry(ctx, entryID, accountID)
	if err != nil {
		return err
	}
	if entry.Status != models.StatusPending {
		return fmt.Errorf("%w: entry %s is %s", ErrAlreadySettled, entryID, entry.Status)
	}

	err = s.store.CancelEntry(ctx, entryID)
	if errors.Is(err, storage.ErrConflict) {
		return fmt.Errorf("%w: entry %s changed concurrently", ErrAlreadySettled, entryID)
	}
	if err != nil {
		return fmt.Errorf("failed to cancel entry: %w", err)
	}
	return nil
}

// GetPendingDebts lists the account's pending entries with their totals.
// When the cached balance is missing or disagrees with the ledger, the
// balance is recomputed and the cache repaired.
func (s *SettlementService) GetPendingDebts(ctx context.Context, accountID string) (*PendingDebts, error) {
	if accountID == "" {
		return nil, fmt.Errorf("%w: account ID is required", ErrValidation)
	}

	entries, err := s.store.ListNegativeEntries(ctx, accountID, models.StatusPending)
	if err != nil {
		s.logger.Error("GetPendingDebts: failed to list entries", "account_id", accountID, "error", err)
		return nil, fmt.Errorf("failed to list pending entries: %w", err)
	}
	if entries == nil {
		entries = []*models.NegativeEntry{}
	}

	mandatory, optional := calculator.PendingTotals(entries)
	debts := &PendingDebts{
		Entries:        entries,
		MandatoryTotal: mandatory,
		OptionalTotal:  optional,
	}

	balance, err := s.cachedBalance(ctx, accountID)
	if err != nil {
		s.logger.Error("GetPendingDebts: failed to read balance", "account_id", accountID, "error", err)
		return nil, err
	}
	debts.Balance = balance

	return debts, nil
}

// cachedBalance returns the cached balance, repairing the cache first when
// it is missing or disagrees with what the engine computes.
func (s *SettlementService) cachedBalance(ctx context.Context, accountID string) (int64, error) {
	want, err := s.engine.Peek(ctx, accountID)
	if err != nil {
		s.logger.Warn("Balance computation failed, using ledger aggregate", "account_id", accountID, "error", err)
		ledger, err := s.store.SumTransactions(ctx, accountID)
		if err != nil {
			return 0, fmt.Errorf("failed to read ledger: %w", err)
		}
		return ledger, nil
	}

	cached, err := s.store.GetCachedBalance(ctx, accountID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return 0, fmt.Errorf("failed to read cached balance: %w", err)
	}
	if err == nil && cached.Amount == want.Amount {
		return cached.Amount, nil
	}

	s.metrics.CacheRepaired()
	s.logger.Info("Repairing balance cache",
		"account_id", accountID,
		"amount", want.Amount,
		"method", want.Method,
	)

	res, err := s.engine.Recompute(ctx, accountID, false)
	if err != nil {
		s.logger.Warn("Cache repair failed", "account_id", accountID, "error", err)
		return want.Amount, nil
	}
	return res.Amount, nil
}

// RecomputeBalance re-derives the balance and overwrites the cache.
func (s *SettlementService) RecomputeBalance(ctx context.Context, accountID string, forceRefresh bool) (reconcile.Result, error) {
	if accountID == "" {
		return reconcile.Result{}, fmt.Errorf("%w: account ID is required", ErrValidation)
	}

	res, err := s.engine.Recompute(ctx, accountID, forceRefresh)
	if err != nil {
		s.logger.Error("RecomputeBalance failed", "account_id", accountID, "error", err)
		return reconcile.Result{}, fmt.Errorf("failed to recompute balance: %w", err)
	}
	return res, nil
}

// ownedEntry loads an entry and hides entries of other accounts.
func (s *SettlementService) ownedEntry(ctx context.Context, entryID, accountID string) (*models.NegativeEntry, error) {
	if entryID == "" || accountID == "" {
		return nil, fmt.Errorf("%w: entry ID and account ID are required", ErrValidation)
	}

	entry, err := s.store.GetNegativeEntry(ctx, entryID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: entry %s", ErrNotFound, entryID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entry: %w", err)
	}
	if entry.AccountID != accountID {
		return nil, fmt.Errorf("%w: entry %s", ErrNotFound, entryID)
	}
	return entry, nil
}

// heal recomputes the balance after a failed write so the cache reflects
// whatever was committed.
func (s *SettlementService) heal(ctx context.Context, accountID string) {
	if _, err := s.engine.Recompute(ctx, accountID, false); err != nil {
		s.logger.Warn("Recompute after failed settlement failed", "account_id", accountID, "error", err)
	}
}

// logResult logs system errors at error level and expected failures at info.
func (s *SettlementService) logResult(op string, err error, attrs ...any) {
	if err == nil {
		s.logger.Debug(op+" ok", attrs...)
		return
	}
	kind := KindOf(err)
	attrs = append(attrs, "kind", kind, "error", err)
	if kind.Expected() {
		s.logger.Info(op+" rejected", attrs...)
		return
	}
	s.logger.Error(op+" failed", attrs...)
}
