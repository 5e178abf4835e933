// Package models defines the core domain models for the points ledger.
//
// # Models
//
//   - Transaction: one signed, immutable row of the append-only ledger
//   - NegativeEntry: a points debt with a pending/paid/cancelled lifecycle
//   - Category: classifies negative entries as mandatory or optional
//   - BalanceCache: the denormalized current balance of one account
//   - Recharge: a row of the separate recharge ledger
//
// # Design Principles
//
// 1. **Ledger is the truth**: balances are always re-derivable as
// sum(credits) - sum(debits) over Transactions; BalanceCache is a cache.
// 2. **Typed rows**: statuses and signs are enums, amounts are int64 points.
// 3. **Avoid circular references**: use ID strings instead of pointers for relationships.
// 4. **Unix timestamps**: CreatedAt/PaidAt/UpdatedAt are Unix seconds.
package models
