package calculator

import "github.com/mmynk/pointsledger/internal/models"

// SumTransactions computes an account balance from its ledger rows.
//
// Algorithm:
// - credits add their amount, debits subtract it
// - rows with an unknown sign are ignored
func SumTransactions(txs []*models.Transaction) int64 {
	var total int64
	for _, tx := range txs {
		if tx == nil || !tx.Sign.Valid() {
			continue
		}
		total += tx.Signed()
	}
	return total
}

// PendingTotals splits the outstanding amount of pending entries into
// mandatory and optional totals. Non-pending entries are skipped.
func PendingTotals(entries []*models.NegativeEntry) (mandatory, optional int64) {
	for _, e := range entries {
		if e == nil || e.Status != models.StatusPending {
			continue
		}
		if e.Mandatory {
			mandatory += e.Amount
		} else {
			optional += e.Amount
		}
	}
	return mandatory, optional
}
