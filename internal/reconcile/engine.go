// Package reconcile recomputes account balances from the ledger and repairs
// the balance cache.
//
// The engine walks an ordered list of BalanceStrategy values. The first
// non-zero result wins. A zero result is remembered and probing continues,
// because a zero from one source is indistinguishable from an under-count;
// zero is reported only when no later source disagrees. Strategies marked
// FallbackOnly are consulted only after an earlier strategy produced zero.
//
// Every successful computation is written to the balance cache
// unconditionally, so the cache heals from whatever state it was in.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mmynk/pointsledger/internal/metrics"
	"github.com/mmynk/pointsledger/internal/models"
	"github.com/mmynk/pointsledger/internal/storage"
)

// ErrNoResult is returned when no strategy could compute a balance.
var ErrNoResult = errors.New("reconcile: no strategy produced a balance")

// Result is the outcome of one recomputation.
type Result struct {
	AccountID string `json:"account_id"`
	Amount    int64  `json:"amount"`

	// Method names the strategy that produced Amount.
	Method string `json:"method"`

	// LowConfidence is set when Amount came from a fallback-only source
	// after the ledger strategies agreed on zero.
	LowConfidence bool `json:"low_confidence"`
}

// Invalidator is notified when a forced refresh asks dependent caches or
// views to drop what they hold for an account.
type Invalidator interface {
	Invalidate(ctx context.Context, accountID string) error
}

// InvalidatorFunc adapts a function to Invalidator.
type InvalidatorFunc func(ctx context.Context, accountID string) error

func (f InvalidatorFunc) Invalidate(ctx context.Context, accountID string) error {
	return f(ctx, accountID)
}

// Engine is the reconciliation engine.
type Engine struct {
	store        storage.Store
	strategies   []BalanceStrategy
	invalidators []Invalidator
	logger       *slog.Logger
	metrics      *metrics.Recorder
	zeroProbing  bool
	now          func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithStrategies replaces the default strategies.
func WithStrategies(strategies ...BalanceStrategy) Option {
	return func(e *Engine) {
		e.strategies = strategies
	}
}

// WithInvalidators registers invalidators called on forced refreshes.
func WithInvalidators(invalidators ...Invalidator) Option {
	return func(e *Engine) {
		e.invalidators = append(e.invalidators, invalidators...)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Recorder) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithZeroProbing controls whether a zero result keeps probing later
// strategies. Enabled by default.
func WithZeroProbing(enabled bool) Option {
	return func(e *Engine) {
		e.zeroProbing = enabled
	}
}

// WithClock overrides the time source used for cache timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// New creates an Engine over store using DefaultStrategies unless overridden.
func New(store storage.Store, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		strategies:  DefaultStrategies(store),
		logger:      slog.Default(),
		zeroProbing: true,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Recompute derives the account balance and overwrites the cache with it.
// With forceRefresh, registered invalidators are notified afterwards.
// When no strategy succeeds the cache is left untouched.
func (e *Engine) Recompute(ctx context.Context, accountID string, forceRefresh bool) (Result, error) {
	start := time.Now()

	res, err := e.compute(ctx, accountID)
	if err != nil {
		return Result{}, err
	}

	if err := e.store.UpsertCachedBalance(ctx, &models.BalanceCache{
		AccountID: accountID,
		Amount:    res.Amount,
		UpdatedAt: e.now().Unix(),
	}); err != nil {
		return Result{}, fmt.Errorf("failed to store recomputed balance: %w", err)
	}

	e.metrics.Reconciled(res.Method, time.Since(start))

	if forceRefresh {
		for _, inv := range e.invalidators {
			if err := inv.Invalidate(ctx, accountID); err != nil {
				e.logger.Warn("Invalidator failed", "account_id", accountID, "error", err)
			}
		}
	}

	e.logger.Debug("Balance recomputed",
		"account_id", accountID,
		"amount", res.Amount,
		"method", res.Method,
		"low_confidence", res.LowConfidence,
		"force_refresh", forceRefresh,
	)

	return res, nil
}

// RecomputeAll reconciles every known account. It keeps going past
// per-account failures and returns them joined.
func (e *Engine) RecomputeAll(ctx context.Context) ([]Result, error) {
	accounts, err := e.store.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	results := make([]Result, 0, len(accounts))
	var errs []error
	for _, accountID := range accounts {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		res, err := e.Recompute(ctx, accountID, false)
		if err != nil {
			errs = append(errs, fmt.Errorf("account %s: %w", accountID, err))
			continue
		}
		results = append(results, res)
	}

	return results, errors.Join(errs...)
}

// Peek computes the balance without touching the cache.
func (e *Engine) Peek(ctx context.Context, accountID string) (Result, error) {
	return e.compute(ctx, accountID)
}

func (e *Engine) compute(ctx context.Context, accountID string) (Result, error) {
	var zero *Result
	var errs []error

	for _, s := range e.strategies {
		fallback := isFallbackOnly(s)
		if fallback && zero == nil {
			continue
		}

		amount, ok, err := s.Compute(ctx, accountID)
		if err != nil {
			e.logger.Debug("Balance strategy failed",
				"account_id", accountID,
				"strategy", s.Name(),
				"error", err,
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		if !ok {
			continue
		}

		if amount != 0 {
			return Result{
				AccountID:     accountID,
				Amount:        amount,
				Method:        s.Name(),
				LowConfidence: fallback,
			}, nil
		}

		if zero == nil {
			zero = &Result{AccountID: accountID, Method: s.Name()}
		}
		if !e.zeroProbing {
			break
		}
	}

	if zero != nil {
		return *zero, nil
	}
	if len(errs) == 0 {
		return Result{}, fmt.Errorf("%w for account %s", ErrNoResult, accountID)
	}
	return Result{}, fmt.Errorf("%w for account %s: %w", ErrNoResult, accountID, errors.Join(errs...))
}
