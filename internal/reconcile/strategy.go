package reconcile

import (
	"context"
	"errors"

	"github.com/mmynk/pointsledger/internal/calculator"
	"github.com/mmynk/pointsledger/internal/storage"
)

// Strategy names, also used as the reported reconciliation method.
const (
	MethodAggregate = "aggregate"
	MethodProcedure = "procedure"
	MethodManual    = "manual"
	MethodRecharge  = "recharge"
)

// BalanceStrategy computes an account balance from one source.
//
// ok is false when the source has nothing to say about the account (for
// example the backend lacks the capability); err reports a failed attempt.
type BalanceStrategy interface {
	Name() string
	Compute(ctx context.Context, accountID string) (amount int64, ok bool, err error)
}

// FallbackOnly is implemented by strategies that are only consulted after
// every strategy before them produced zero.
type FallbackOnly interface {
	FallbackOnly() bool
}

func isFallbackOnly(s BalanceStrategy) bool {
	f, ok := s.(FallbackOnly)
	return ok && f.FallbackOnly()
}

// DefaultStrategies returns the standard strategies in priority order.
func DefaultStrategies(store storage.Store) []BalanceStrategy {
	return []BalanceStrategy{
		AggregateStrategy{Store: store},
		ProcedureStrategy{Store: store},
		ManualStrategy{Store: store},
		RechargeStrategy{Store: store},
	}
}

// AggregateStrategy pushes sum(credits) - sum(debits) down to the database.
type AggregateStrategy struct {
	Store storage.Store
}

func (AggregateStrategy) Name() string { return MethodAggregate }

func (s AggregateStrategy) Compute(ctx context.Context, accountID string) (int64, bool, error) {
	total, err := s.Store.SumTransactions(ctx, accountID)
	if err != nil {
		return 0, false, err
	}
	return total, true, nil
}

// ProcedureStrategy reads a precomputed aggregate (view or stored function).
type ProcedureStrategy struct {
	Store storage.Store
}

func (ProcedureStrategy) Name() string { return MethodProcedure }

func (s ProcedureStrategy) Compute(ctx context.Context, accountID string) (int64, bool, error) {
	total, err := s.Store.ProcedureBalance(ctx, accountID)
	if errors.Is(err, storage.ErrUnsupported) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return total, true, nil
}

// ManualStrategy fetches every ledger row and sums in process.
type ManualStrategy struct {
	Store storage.Store
}

func (ManualStrategy) Name() string { return MethodManual }

func (s ManualStrategy) Compute(ctx context.Context, accountID string) (int64, bool, error) {
	txs, err := s.Store.ListTransactions(ctx, accountID)
	if err != nil {
		return 0, false, err
	}
	return calculator.SumTransactions(txs), true, nil
}

// RechargeStrategy cross-checks against the recharge ledger: the ledger
// aggregate plus every recharge whose ledger credit is missing. It yields
// nothing when all recharges are posted, so it never disagrees with a
// complete ledger.
type RechargeStrategy struct {
	Store storage.Store
}

func (RechargeStrategy) Name() string { return MethodRecharge }

func (RechargeStrategy) FallbackOnly() bool { return true }

func (s RechargeStrategy) Compute(ctx context.Context, accountID string) (int64, bool, error) {
	unposted, err := s.Store.SumUnpostedRecharges(ctx, accountID)
	if err != nil {
		return 0, false, err
	}
	if unposted == 0 {
		return 0, false, nil
	}

	total, err := s.Store.SumTransactions(ctx, accountID)
	if err != nil {
		return 0, false, err
	}
	return total + unposted, true, nil
}

// StrategyFunc adapts a function to BalanceStrategy.
type StrategyFunc struct {
	Label    string
	Fallback bool
	Fn       func(ctx context.Context, accountID string) (int64, bool, error)
}

func (f StrategyFunc) Name() string { return f.Label }

func (f StrategyFunc) FallbackOnly() bool { return f.Fallback }

func (f StrategyFunc) Compute(ctx context.Context, accountID string) (int64, bool, error) {
	return f.Fn(ctx, accountID)
}
