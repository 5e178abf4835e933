// Package postgres provides a PostgreSQL-backed implementation of the
// storage.Store interface using GORM.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mmynk/pointsledger/internal/storage"
)

// Ensure PostgresStore implements storage.Store
var _ storage.Store = (*PostgresStore)(nil)

// undefinedFunction is the SQLSTATE for a missing function.
const undefinedFunction = "42883"

// balanceFunction is the precomputed aggregate read by ProcedureBalance.
const balanceFunction = `
CREATE OR REPLACE FUNCTION points_balance(p_account text) RETURNS bigint AS $$
    SELECT COALESCE(SUM(CASE WHEN sign = 'credit' THEN amount ELSE -amount END), 0)::bigint
    FROM transactions
    WHERE account_id = p_account
$$ LANGUAGE sql STABLE`

// PostgresStore implements storage.Store using PostgreSQL.
type PostgresStore struct {
	db *gorm.DB

	// inTx is true for the store handed to an InTx callback.
	inTx bool
}

// New connects to dsn and migrates the schema.
func New(dsn string) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

// migrate creates tables and the balance function. categories must be
// migrated before negative_entries for the foreign key.
func (s *PostgresStore) migrate() error {
	if err := s.db.AutoMigrate(
		&categoryRecord{},
		&transactionRecord{},
		&negativeEntryRecord{},
		&rechargeRecord{},
		&balanceRecord{},
	); err != nil {
		return err
	}
	return s.db.Exec(balanceFunction).Error
}

// InTx runs fn inside a database transaction. Nested calls reuse the
// enclosing transaction.
func (s *PostgresStore) InTx(ctx context.Context, fn func(storage.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&PostgresStore{db: tx, inTx: true})
	})
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	if s.inTx {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// conflict reports a guarded update that matched nothing.
func conflict(res *gorm.DB, what string) error {
	if res.Error != nil {
		return fmt.Errorf("failed to %s: %w", what, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%s: %w", what, storage.ErrConflict)
	}
	return nil
}

func isUndefinedFunction(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == undefinedFunction
}
