package sqlite

import (
	"database/sql"
	"fmt"
)

// schema contains the SQL statements to set up the database schema.
// These run on startup to ensure tables exist.
// IMPORTANT: categories must be created BEFORE negative_entries due to foreign key constraint.
const schema = `
CREATE TABLE IF NOT EXISTS categories (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    mandatory INTEGER NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    account_id TEXT NOT NULL,
    amount INTEGER NOT NULL CHECK (amount > 0),
    sign TEXT NOT NULL CHECK (sign IN ('credit', 'debit')),
    category_id TEXT,
    description TEXT NOT NULL DEFAULT '',
    created_by TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS negative_entries (
    id TEXT PRIMARY KEY,
    account_id TEXT NOT NULL,
    amount INTEGER NOT NULL CHECK (amount > 0),
    reason TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'paid', 'cancelled')),
    category_id TEXT,
    auto_processed INTEGER NOT NULL DEFAULT 0,
    split_from_id TEXT,
    created_at INTEGER NOT NULL,
    paid_at INTEGER,
    FOREIGN KEY (category_id) REFERENCES categories(id) ON DELETE SET NULL,
    FOREIGN KEY (split_from_id) REFERENCES negative_entries(id) ON DELETE SET NULL
);

CREATE TABLE IF NOT EXISTS recharges (
    id TEXT PRIMARY KEY,
    account_id TEXT NOT NULL,
    amount INTEGER NOT NULL CHECK (amount > 0),
    note TEXT NOT NULL DEFAULT '',
    transaction_id TEXT,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS balance_cache (
    account_id TEXT PRIMARY KEY,
    amount INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE VIEW IF NOT EXISTS account_balances AS
    SELECT account_id,
           SUM(CASE WHEN sign = 'credit' THEN amount ELSE -amount END) AS balance
    FROM transactions
    GROUP BY account_id;

CREATE INDEX IF NOT EXISTS idx_transactions_account_id ON transactions(account_id);
CREATE INDEX IF NOT EXISTS idx_negative_entries_account_status ON negative_entries(account_id, status);
CREATE INDEX IF NOT EXISTS idx_recharges_account_id ON recharges(account_id);
`

// addedColumns lists columns introduced after a table was first created.
// CREATE TABLE IF NOT EXISTS leaves older tables without them.
var addedColumns = []struct {
	table, column, decl string
}{
	{"recharges", "transaction_id", "TEXT"},
}

// runMigrations executes the schema setup.
func runMigrations(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return err
	}
	for _, c := range addedColumns {
		if err := addColumnIfMissing(db, c.table, c.column, c.decl); err != nil {
			return err
		}
	}
	return nil
}

func addColumnIfMissing(db *sql.DB, table, column, decl string) error {
	var n int
	err := db.QueryRow(
		"SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?", table, column,
	).Scan(&n)
	if err != nil {
		return fmt.Errorf("failed to inspect %s: %w", table, err)
	}
	if n > 0 {
		return nil
	}
	if _, err := db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, decl)); err != nil {
		return fmt.Errorf("failed to add %s.%s: %w", table, column, err)
	}
	return nil
}
