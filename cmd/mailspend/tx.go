package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ArionMiles/mailspend/internal/app"
	"github.com/ArionMiles/mailspend/pkg/api"
	"github.com/ArionMiles/mailspend/pkg/categorizer"
	"github.com/ArionMiles/mailspend/pkg/report"
)

// filterFlags binds the transaction filter flags shared by tx list and export.
type filterFlags struct {
	from, to   string
	category   string
	providerID int64
	limit      int
}

func (f *filterFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.from, "from", "", "earliest date, inclusive (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.to, "to", "", "latest date, exclusive (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.category, "category", "", "only this category")
	cmd.Flags().Int64Var(&f.providerID, "provider", 0, "only this provider id")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "maximum number of transactions (0 means all)")
}

func (f *filterFlags) filter() (api.TransactionFilter, error) {
	from, err := parseDate("from", f.from)
	if err != nil {
		return api.TransactionFilter{}, err
	}
	to, err := parseDate("to", f.to)
	if err != nil {
		return api.TransactionFilter{}, err
	}
	return api.TransactionFilter{
		From:       from,
		To:         to,
		Category:   f.category,
		ProviderID: f.providerID,
		Limit:      f.limit,
	}, nil
}

func parseDate(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s %q: want YYYY-MM-DD", name, value)
	}
	return t, nil
}

func (c *cli) txCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "tx",
		Aliases: []string{"transactions"},
		Short:   "List and add transactions",
	}

	var ff filterFlags
	list := &cobra.Command{
		Use:   "list",
		Short: "List stored transactions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := ff.filter()
			if err != nil {
				return err
			}
			return c.withStore(cmd.Context(), func(store api.Store) error {
				txs, err := store.ListTransactions(cmd.Context(), f)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "DATE\tMERCHANT\tAMOUNT\tCURRENCY\tCATEGORY\tTYPE\tSOURCE")
				for _, t := range txs {
					fmt.Fprintf(tw, "%s\t%s\t%.2f\t%s\t%s\t%s\t%s\n",
						t.Date.Format(time.DateOnly), t.Merchant, t.Amount, t.Currency, t.Category, t.Type, t.Source)
				}
				return tw.Flush()
			})
		},
	}
	ff.bind(list)

	var (
		in   api.Transaction
		date string
		kind string
	)
	add := &cobra.Command{
		Use:   "add",
		Short: "Record a transaction that did not arrive by email",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in.Merchant = strings.TrimSpace(in.Merchant)
			if in.Merchant == "" {
				return fmt.Errorf("--merchant is required")
			}
			if in.Amount <= 0 {
				return fmt.Errorf("--amount must be positive")
			}
			switch in.Type = api.TransactionType(kind); in.Type {
			case api.Income, api.Expense:
			default:
				return fmt.Errorf("--type must be income or expense, got %q", kind)
			}
			d, err := parseDate("date", date)
			if err != nil {
				return err
			}
			in.Date = d
			in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))

			return c.withStore(cmd.Context(), func(store api.Store) error {
				if in.Category == "" {
					engine := categorizer.New(store, c.logger)
					if err := engine.Init(cmd.Context()); err != nil {
						return err
					}
					in.Category = engine.Categorize(in.Merchant)
				}

				t := api.NewManualTransaction(in)
				if err := store.InsertTransaction(cmd.Context(), t); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "added %s: %s %.2f %s (%s)\n", t.EmailID, t.Merchant, t.Amount, t.Currency, t.Category)
				return nil
			})
		},
	}
	add.Flags().StringVar(&in.Merchant, "merchant", "", "merchant name")
	add.Flags().Float64Var(&in.Amount, "amount", 0, "amount, positive")
	add.Flags().StringVar(&in.Currency, "currency", api.DefaultCurrency, "ISO currency code")
	add.Flags().StringVar(&date, "date", "", "transaction date (YYYY-MM-DD, default today)")
	add.Flags().StringVar(&in.Category, "category", "", "category (default: categorized from the merchant)")
	add.Flags().StringVar(&kind, "type", string(api.Expense), "income or expense")
	add.Flags().StringVar(&in.Notes, "notes", "", "free-form notes")
	_ = add.MarkFlagRequired("merchant")
	_ = add.MarkFlagRequired("amount")

	cmd.AddCommand(list, add)
	return cmd
}

func (c *cli) exportCmd() *cobra.Command {
	var (
		ff     filterFlags
		writer string
		out    string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export stored transactions with a writer plugin (csv, json, sheets)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := ff.filter()
			if err != nil {
				return err
			}
			if writer == "" {
				writer = c.app.Config.Writer
			}
			if writer == "" {
				writer = app.DefaultWriter
			}

			ctx, cancel := signalContext(c.logger)
			defer cancel()

			return c.withStore(ctx, func(store api.Store) error {
				txs, err := store.ListTransactions(ctx, f)
				if err != nil {
					return err
				}

				w, err := c.app.Writer(ctx, writer, out)
				if err != nil {
					return err
				}

				ch := make(chan *api.Transaction)
				done := make(chan error, 1)
				go func() {
					done <- w.Write(ctx, ch)
				}()

			feed:
				for i := range txs {
					select {
					case ch <- &txs[i]:
					case <-ctx.Done():
						break feed
					}
				}
				close(ch)

				if err := <-done; err != nil {
					return fmt.Errorf("%s writer: %w", writer, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "exported %d transactions with the %s writer\n", len(txs), writer)
				return nil
			})
		},
	}

	ff.bind(cmd)
	cmd.Flags().StringVar(&writer, "writer", "", "writer plugin (default MAILSPEND_WRITER or csv)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file for the csv and json writers")
	return cmd
}

func (c *cli) reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize stored transactions",
	}

	var year int
	cashflow := &cobra.Command{
		Use:   "cashflow",
		Short: "Monthly income and expenses for a year",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if year == 0 {
				year = time.Now().UTC().Year()
			}
			from := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)

			return c.withStore(cmd.Context(), func(store api.Store) error {
				txs, err := store.ListTransactions(cmd.Context(), api.TransactionFilter{From: from, To: from.AddDate(1, 0, 0)})
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', tabwriter.AlignRight)
				fmt.Fprintln(tw, "MONTH\tINCOME\tEXPENSE\tNET\t")
				for _, m := range report.MonthlyCashFlow(txs, year) {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t\n", m.Month, m.Income.StringFixed(2), m.Expense.StringFixed(2), m.Net().StringFixed(2))
				}
				return tw.Flush()
			})
		},
	}
	cashflow.Flags().IntVar(&year, "year", 0, "calendar year (default: current)")

	var from, to string
	categories := &cobra.Command{
		Use:   "categories",
		Short: "Expense totals per category",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			start, err := parseDate("from", from)
			if err != nil {
				return err
			}
			end, err := parseDate("to", to)
			if err != nil {
				return err
			}
			if !start.IsZero() && !end.IsZero() && !start.Before(end) {
				return fmt.Errorf("--from must be before --to")
			}

			return c.withStore(cmd.Context(), func(store api.Store) error {
				txs, err := store.ListTransactions(cmd.Context(), api.TransactionFilter{From: start, To: end})
				if err != nil {
					return err
				}
				cats, err := store.ListCategories(cmd.Context())
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "CATEGORY\tAMOUNT")
				for _, s := range report.CategorySpending(txs, cats, start, end) {
					fmt.Fprintf(tw, "%s\t%s\n", s.Name, s.Amount.StringFixed(2))
				}
				return tw.Flush()
			})
		},
	}
	categories.Flags().StringVar(&from, "from", "", "earliest date, inclusive (YYYY-MM-DD)")
	categories.Flags().StringVar(&to, "to", "", "latest date, exclusive (YYYY-MM-DD)")

	cmd.AddCommand(cashflow, categories)
	return cmd
}
