// Package storage provides abstractions for persistent data storage.
package storage

import (
	"context"
	"errors"

	"github.com/mmynk/pointsledger/internal/models"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("storage: not found")

	// ErrConflict is returned when a conditional update matched no rows
	// because the row was not in the expected state.
	ErrConflict = errors.New("storage: conflict")

	// ErrUnsupported is returned when the backend lacks an optional capability.
	ErrUnsupported = errors.New("storage: unsupported")
)

// Store defines the interface for ledger storage operations.
// This abstraction allows swapping storage backends (SQLite, PostgreSQL, etc.)
// without changing the service layer.
type Store interface {
	// AppendTransaction inserts a ledger row. ID and CreatedAt are populated
	// by the store when empty. Transactions are never updated afterwards.
	AppendTransaction(ctx context.Context, tx *models.Transaction) error

	// ListTransactions returns every ledger row for the account, oldest first.
	ListTransactions(ctx context.Context, accountID string) ([]*models.Transaction, error)

	// SumTransactions computes sum(credits) - sum(debits) with an aggregate query.
	SumTransactions(ctx context.Context, accountID string) (int64, error)

	// ProcedureBalance reads the balance from a precomputed aggregate
	// (view or stored function). Returns ErrUnsupported when absent.
	ProcedureBalance(ctx context.Context, accountID string) (int64, error)

	// ListAccounts returns every account ID that has ledger rows or a cached
	// balance, so stale cache rows can be repaired too.
	ListAccounts(ctx context.Context) ([]string, error)

	// AppendRecharge inserts a row into the recharge ledger.
	AppendRecharge(ctx context.Context, r *models.Recharge) error

	// SumUnpostedRecharges returns the total of the account's recharges
	// whose ledger credit is absent from the transactions table.
	SumUnpostedRecharges(ctx context.Context, accountID string) (int64, error)

	// CreateCategory persists a new category.
	CreateCategory(ctx context.Context, c *models.Category) error

	// GetCategory retrieves a category by ID. Returns ErrNotFound if absent.
	GetCategory(ctx context.Context, categoryID string) (*models.Category, error)

	// CreateNegativeEntry persists a new negative entry.
	CreateNegativeEntry(ctx context.Context, e *models.NegativeEntry) error

	// GetNegativeEntry retrieves an entry by ID with Mandatory resolved.
	// Returns ErrNotFound if absent.
	GetNegativeEntry(ctx context.Context, entryID string) (*models.NegativeEntry, error)

	// ListNegativeEntries returns the account's entries in the given status,
	// oldest first. An empty status lists every entry.
	ListNegativeEntries(ctx context.Context, accountID string, status models.EntryStatus) ([]*models.NegativeEntry, error)

	// MarkEntryPaid flips a pending entry to paid in one conditional update.
	// When autoProcessed is true the update also requires auto_processed to be
	// unset and sets it. Returns ErrConflict when no row matched.
	MarkEntryPaid(ctx context.Context, entryID string, paidAt int64, autoProcessed bool) error

	// ReduceEntry lowers a pending entry's amount by `by` in one conditional
	// update that also requires the amount to still equal expectedAmount.
	// Returns ErrConflict when no row matched.
	ReduceEntry(ctx context.Context, entryID string, expectedAmount, by int64) error

	// CancelEntry flips a pending entry to cancelled. Returns ErrConflict when
	// no row matched.
	CancelEntry(ctx context.Context, entryID string) error

	// GetCachedBalance returns the cache row for the account.
	// Returns ErrNotFound if the account has never been reconciled.
	GetCachedBalance(ctx context.Context, accountID string) (*models.BalanceCache, error)

	// UpsertCachedBalance overwrites the cache row for the account.
	UpsertCachedBalance(ctx context.Context, b *models.BalanceCache) error

	// InTx runs fn inside a single database transaction. The Store passed to
	// fn must be used for every write that belongs to the unit of work.
	InTx(ctx context.Context, fn func(Store) error) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}
