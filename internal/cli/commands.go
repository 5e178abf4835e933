package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mmynk/pointsledger/internal/api"
	"github.com/mmynk/pointsledger/internal/middleware"
	"github.com/mmynk/pointsledger/internal/reconcile"
)

// withApp opens the engine, runs fn and closes the engine.
func withApp(opts *RootOptions, fn func(*app) error) error {
	a, err := openApp(opts)
	if err != nil {
		return &ExitError{Code: ExitCommandError, Err: err}
	}
	defer a.Close()
	return fn(a)
}

func newFormatter(cmd *cobra.Command, opts *RootOptions) *OutputFormatter {
	return &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
}

func actorContext(cmd *cobra.Command, opts *RootOptions) context.Context {
	return middleware.WithActor(cmd.Context(), opts.Actor)
}

func parseAmount(s string) (int64, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return v, nil
}

// NewServeCommand creates the serve command.
func NewServeCommand(opts *RootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:           "serve",
		Short:         "Serve the JSON API",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(a *app) error {
				if addr == "" {
					addr = a.cfg.Server.Addr
				}
				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()

				srv := api.NewServer(a.settlement, a.ledger, a.store,
					api.WithGatherer(a.registry),
					api.WithLogger(a.logger),
				)
				return srv.ListenAndServe(ctx, addr)
			})
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	return cmd
}

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(opts *RootOptions) *cobra.Command {
	var all, force bool

	cmd := &cobra.Command{
		Use:   "reconcile [account]",
		Short: "Recompute balances from the ledger and repair the cache",
		Long: `Recompute balances from the ledger and overwrite the balance cache.

Examples:
  pointsd reconcile acct-1 --force
  pointsd reconcile --all`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return fmt.Errorf("give exactly one of an account or --all")
			}
			out := newFormatter(cmd, opts)

			return withApp(opts, func(a *app) error {
				ctx := actorContext(cmd, opts)
				if all {
					results, err := a.engine.RecomputeAll(ctx)
					if err != nil {
						return out.Fail(err)
					}
					return out.Success(results, formatResults(results))
				}

				res, err := a.settlement.RecomputeBalance(ctx, args[0], force)
				if err != nil {
					return out.Fail(err)
				}
				return out.Success(res, formatResults([]reconcile.Result{res}))
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "reconcile every known account")
	cmd.Flags().BoolVar(&force, "force", false, "also invalidate dependent caches")
	return cmd
}

func formatResults(results []reconcile.Result) string {
	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s: %d (%s", r.AccountID, r.Amount, r.Method)
		if r.LowConfidence {
			b.WriteString(", low confidence")
		}
		b.WriteByte(')')
	}
	if len(results) == 0 {
		return "no accounts"
	}
	return b.String()
}

// NewSettleCommand creates the settle command.
func NewSettleCommand(opts *RootOptions) *cobra.Command {
	var partial int64

	cmd := &cobra.Command{
		Use:           "settle <account> <entry>",
		Short:         "Pay off a negative entry, fully or partially",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var p *int64
			if cmd.Flags().Changed("partial") {
				p = &partial
			}
			out := newFormatter(cmd, opts)

			return withApp(opts, func(a *app) error {
				res, err := a.settlement.Settle(actorContext(cmd, opts), args[1], args[0], p)
				if err != nil {
					return out.Fail(err)
				}
				return out.Success(res, fmt.Sprintf("paid %d, remaining %d, balance %d",
					res.Paid, res.Remaining, res.NewBalance))
			})
		},
	}

	cmd.Flags().Int64Var(&partial, "partial", 0, "pay only this many points")
	return cmd
}

// NewSettleMandatoryCommand creates the settle-mandatory command.
func NewSettleMandatoryCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "settle-mandatory <account>",
		Short:         "Deduct every pending mandatory entry",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(cmd, opts)

			return withApp(opts, func(a *app) error {
				res, err := a.settlement.SettleAllMandatory(actorContext(cmd, opts), args[0])
				if err != nil {
					return out.Fail(err)
				}
				return out.Success(res, fmt.Sprintf("processed %d, deducted %d, balance %d",
					res.ProcessedCount, res.TotalDeducted, res.NewBalance))
			})
		},
	}
}

// NewDebtsCommand creates the debts command.
func NewDebtsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "debts <account>",
		Short:         "List pending negative entries",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newFormatter(cmd, opts)

			return withApp(opts, func(a *app) error {
				debts, err := a.settlement.GetPendingDebts(cmd.Context(), args[0])
				if err != nil {
					return out.Fail(err)
				}

				var b strings.Builder
				for _, e := range debts.Entries {
					kind := "optional"
					if e.Mandatory {
						kind = "mandatory"
					}
					fmt.Fprintf(&b, "%s  %d  %s  %s\n", e.ID, e.Amount, kind, e.Reason)
				}
				fmt.Fprintf(&b, "mandatory %d, optional %d, balance %d",
					debts.MandatoryTotal, debts.OptionalTotal, debts.Balance)
				return out.Success(debts, b.String())
			})
		},
	}
}

// NewCreditCommand creates the credit command.
func NewCreditCommand(opts *RootOptions) *cobra.Command {
	var description string
	var recharge bool

	cmd := &cobra.Command{
		Use:           "credit <account> <amount>",
		Short:         "Add points to an account",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			out := newFormatter(cmd, opts)

			return withApp(opts, func(a *app) error {
				ctx := actorContext(cmd, opts)
				post := a.ledger.Credit
				if recharge {
					post = a.ledger.Recharge
				}
				res, err := post(ctx, args[0], amount, description)
				if err != nil {
					return out.Fail(err)
				}
				return out.Success(res, fmt.Sprintf("balance %d", res.NewBalance))
			})
		},
	}

	cmd.Flags().StringVarP(&description, "description", "d", "", "note recorded with the credit")
	cmd.Flags().BoolVar(&recharge, "recharge", false, "record as a recharge")
	return cmd
}

// NewAddEntryCommand creates the add-entry command.
func NewAddEntryCommand(opts *RootOptions) *cobra.Command {
	var reason, category string

	cmd := &cobra.Command{
		Use:           "add-entry <account> <amount>",
		Short:         "Record a negative entry",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			var categoryID *string
			if category != "" {
				categoryID = &category
			}
			out := newFormatter(cmd, opts)

			return withApp(opts, func(a *app) error {
				e, err := a.ledger.CreateNegativeEntry(cmd.Context(), args[0], amount, reason, categoryID)
				if err != nil {
					return out.Fail(err)
				}
				return out.Success(e, e.ID)
			})
		},
	}

	cmd.Flags().StringVarP(&reason, "reason", "r", "", "why the points are owed")
	cmd.Flags().StringVar(&category, "category", "", "category ID (omit for mandatory)")
	return cmd
}
