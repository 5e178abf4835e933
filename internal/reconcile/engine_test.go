package reconcile

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/pointsledger/internal/metrics"
	"github.com/mmynk/pointsledger/internal/models"
	"github.com/mmynk/pointsledger/internal/storage"
	"github.com/mmynk/pointsledger/internal/storage/sqlite"
)

func newTestStore(t *testing.T) *sqlite.SQLiteStore {
	t.Helper()

	store, err := sqlite.New(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err, "failed to create store")
	t.Cleanup(func() { store.Close() })
	return store
}

func credit(t *testing.T, store storage.Store, accountID string, amount int64) {
	t.Helper()
	require.NoError(t, store.AppendTransaction(context.Background(),
		&models.Transaction{AccountID: accountID, Amount: amount, Sign: models.SignCredit}))
}

func debit(t *testing.T, store storage.Store, accountID string, amount int64) {
	t.Helper()
	require.NoError(t, store.AppendTransaction(context.Background(),
		&models.Transaction{AccountID: accountID, Amount: amount, Sign: models.SignDebit}))
}

func fixed(name string, amount int64) StrategyFunc {
	return StrategyFunc{Label: name, Fn: func(context.Context, string) (int64, bool, error) {
		return amount, true, nil
	}}
}

func failing(name string) StrategyFunc {
	return StrategyFunc{Label: name, Fn: func(context.Context, string) (int64, bool, error) {
		return 0, false, errors.New(name + " unavailable")
	}}
}

func TestRecompute_MatchesLedger(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	credit(t, store, "acct-1", 100)
	debit(t, store, "acct-1", 30)
	credit(t, store, "acct-1", 5)
	debit(t, store, "acct-2", 12)

	engine := New(store, WithMetrics(metrics.New(prometheus.NewRegistry())))

	res, err := engine.Recompute(ctx, "acct-1", false)
	require.NoError(t, err)
	assert.Equal(t, int64(75), res.Amount)
	assert.Equal(t, MethodAggregate, res.Method)
	assert.False(t, res.LowConfidence)

	res, err = engine.Recompute(ctx, "acct-2", false)
	require.NoError(t, err)
	assert.Equal(t, int64(-12), res.Amount, "negative balances are valid")

	cached, err := store.GetCachedBalance(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(75), cached.Amount)
}

func TestRecompute_RepairsCorruptCache(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	credit(t, store, "acct-1", 100)
	debit(t, store, "acct-1", 30)
	require.NoError(t, store.UpsertCachedBalance(ctx, &models.BalanceCache{AccountID: "acct-1", Amount: 9999}))

	_, err := New(store).Recompute(ctx, "acct-1", false)
	require.NoError(t, err)

	cached, err := store.GetCachedBalance(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(70), cached.Amount)
}

func TestRecompute_StrategyOrdering(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		strategies  []BalanceStrategy
		zeroProbing bool
		wantAmount  int64
		wantMethod  string
		wantLowConf bool
		wantErr     bool
	}{
		{
			name:        "first non-zero wins",
			strategies:  []BalanceStrategy{fixed("a", 40), fixed("b", 90)},
			zeroProbing: true,
			wantAmount:  40,
			wantMethod:  "a",
		},
		{
			name:        "zero keeps probing for a non-zero result",
			strategies:  []BalanceStrategy{fixed("a", 0), fixed("b", 0), fixed("c", 15)},
			zeroProbing: true,
			wantAmount:  15,
			wantMethod:  "c",
		},
		{
			name:        "all zero reports the first zero source",
			strategies:  []BalanceStrategy{fixed("a", 0), fixed("b", 0)},
			zeroProbing: true,
			wantAmount:  0,
			wantMethod:  "a",
		},
		{
			name:        "failures are skipped",
			strategies:  []BalanceStrategy{failing("a"), fixed("b", 8)},
			zeroProbing: true,
			wantAmount:  8,
			wantMethod:  "b",
		},
		{
			name:        "zero probing disabled stops at zero",
			strategies:  []BalanceStrategy{fixed("a", 0), fixed("b", 15)},
			zeroProbing: false,
			wantAmount:  0,
			wantMethod:  "a",
		},
		{
			name: "fallback only consulted after zero",
			strategies: []BalanceStrategy{
				fixed("a", 0),
				StrategyFunc{Label: "alt", Fallback: true, Fn: fixed("", 33).Fn},
			},
			zeroProbing: true,
			wantAmount:  33,
			wantMethod:  "alt",
			wantLowConf: true,
		},
		{
			name: "fallback skipped when nothing produced zero",
			strategies: []BalanceStrategy{
				failing("a"),
				StrategyFunc{Label: "alt", Fallback: true, Fn: fixed("", 33).Fn},
			},
			zeroProbing: true,
			wantErr:     true,
		},
		{
			name:        "all strategies fail",
			strategies:  []BalanceStrategy{failing("a"), failing("b")},
			zeroProbing: true,
			wantErr:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore(t)
			require.NoError(t, store.UpsertCachedBalance(ctx, &models.BalanceCache{AccountID: "acct-1", Amount: 777}))

			engine := New(store, WithStrategies(tt.strategies...), WithZeroProbing(tt.zeroProbing))
			res, err := engine.Recompute(ctx, "acct-1", false)

			cached, cacheErr := store.GetCachedBalance(ctx, "acct-1")
			require.NoError(t, cacheErr)

			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrNoResult))
				assert.Equal(t, int64(777), cached.Amount, "cache must not change when nothing was computed")
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantAmount, res.Amount)
			assert.Equal(t, tt.wantMethod, res.Method)
			assert.Equal(t, tt.wantLowConf, res.LowConfidence)
			assert.Equal(t, tt.wantAmount, cached.Amount)
		})
	}
}

func TestRecompute_FallbackNotCalledForNonZero(t *testing.T) {
	store := newTestStore(t)
	calls := 0
	alt := StrategyFunc{Label: "alt", Fallback: true, Fn: func(context.Context, string) (int64, bool, error) {
		calls++
		return 1, true, nil
	}}

	_, err := New(store, WithStrategies(fixed("a", 50), alt)).Recompute(context.Background(), "acct-1", false)
	require.NoError(t, err)
	assert.Zero(t, calls)
}

func TestRecompute_RechargeCrossCheck(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Recharge recorded without its ledger credit: the ledger under-counts.
	require.NoError(t, store.AppendRecharge(ctx, &models.Recharge{AccountID: "acct-1", Amount: 50}))
	debit(t, store, "acct-1", 20)
	credit(t, store, "acct-1", 20)

	res, err := New(store).Recompute(ctx, "acct-1", false)
	require.NoError(t, err)
	assert.Equal(t, int64(50), res.Amount)
	assert.Equal(t, MethodRecharge, res.Method)
	assert.True(t, res.LowConfidence)
}

// postedRecharge writes a recharge together with its ledger credit.
func postedRecharge(t *testing.T, store storage.Store, accountID string, amount int64) {
	t.Helper()
	ctx := context.Background()
	tx := &models.Transaction{AccountID: accountID, Amount: amount, Sign: models.SignCredit}
	require.NoError(t, store.AppendTransaction(ctx, tx))
	require.NoError(t, store.AppendRecharge(ctx, &models.Recharge{AccountID: accountID, Amount: amount, TransactionID: &tx.ID}))
}

func TestRecompute_RechargeWithMixedCredits(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(t *testing.T, store storage.Store)
		wantAmount  int64
		wantMethod  string
		wantLowConf bool
	}{
		{
			name: "posted recharge and grading credit net to zero",
			setup: func(t *testing.T, store storage.Store) {
				credit(t, store, "acct-1", 20)
				postedRecharge(t, store, "acct-1", 10)
				debit(t, store, "acct-1", 30)
			},
			wantAmount: 0,
			wantMethod: MethodAggregate,
		},
		{
			name: "only the missing credit is added",
			setup: func(t *testing.T, store storage.Store) {
				credit(t, store, "acct-1", 20)
				postedRecharge(t, store, "acct-1", 10)
				debit(t, store, "acct-1", 30)
				require.NoError(t, store.AppendRecharge(context.Background(),
					&models.Recharge{AccountID: "acct-1", Amount: 15}))
			},
			wantAmount:  15,
			wantMethod:  MethodRecharge,
			wantLowConf: true,
		},
		{
			name: "dangling transaction reference counts as missing",
			setup: func(t *testing.T, store storage.Store) {
				credit(t, store, "acct-1", 5)
				debit(t, store, "acct-1", 5)
				gone := "no-such-transaction"
				require.NoError(t, store.AppendRecharge(context.Background(),
					&models.Recharge{AccountID: "acct-1", Amount: 8, TransactionID: &gone}))
			},
			wantAmount:  8,
			wantMethod:  MethodRecharge,
			wantLowConf: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore(t)
			tt.setup(t, store)

			res, err := New(store).Recompute(context.Background(), "acct-1", false)
			require.NoError(t, err)
			assert.Equal(t, tt.wantAmount, res.Amount)
			assert.Equal(t, tt.wantMethod, res.Method)
			assert.Equal(t, tt.wantLowConf, res.LowConfidence)
		})
	}
}

func TestRecompute_ZeroBalanceWithoutRecharges(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	credit(t, store, "acct-1", 20)
	debit(t, store, "acct-1", 20)

	res, err := New(store).Recompute(ctx, "acct-1", false)
	require.NoError(t, err)
	assert.Zero(t, res.Amount)
	assert.Equal(t, MethodAggregate, res.Method)
	assert.False(t, res.LowConfidence)
}

func TestRecompute_ForceRefreshInvalidates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	credit(t, store, "acct-1", 10)

	var invalidated []string
	inv := InvalidatorFunc(func(_ context.Context, accountID string) error {
		invalidated = append(invalidated, accountID)
		return nil
	})
	broken := InvalidatorFunc(func(context.Context, string) error {
		return errors.New("view refresh failed")
	})
	engine := New(store, WithInvalidators(inv, broken))

	_, err := engine.Recompute(ctx, "acct-1", false)
	require.NoError(t, err)
	assert.Empty(t, invalidated)

	_, err = engine.Recompute(ctx, "acct-1", true)
	require.NoError(t, err, "invalidator failures are not fatal")
	assert.Equal(t, []string{"acct-1"}, invalidated)
}

func TestRecomputeAll(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	credit(t, store, "acct-1", 10)
	credit(t, store, "acct-2", 20)
	// A cache row with no ledger rows is stale and gets reset to zero.
	require.NoError(t, store.UpsertCachedBalance(ctx, &models.BalanceCache{AccountID: "ghost", Amount: 5}))

	results, err := New(store).RecomputeAll(ctx)
	require.NoError(t, err)
	require.Len(t, results, 3)

	byAccount := map[string]int64{}
	for _, r := range results {
		byAccount[r.AccountID] = r.Amount
	}
	assert.Equal(t, map[string]int64{"acct-1": 10, "acct-2": 20, "ghost": 0}, byAccount)
}

func TestRecompute_Concurrent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	engine := New(store)

	credit(t, store, "acct-1", 100)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Recompute(ctx, "acct-1", false)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	cached, err := store.GetCachedBalance(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), cached.Amount)
}

func TestPeek_DoesNotWriteCache(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	credit(t, store, "acct-1", 10)

	res, err := New(store).Peek(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.Amount)

	_, err = store.GetCachedBalance(ctx, "acct-1")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}
