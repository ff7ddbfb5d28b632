package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"tradecore/internal/dashboard"
	"tradecore/internal/domain"
	"tradecore/internal/store"
)

func newJournalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Query the SQLite trade journal",
	}
	cmd.AddCommand(newJournalOrdersCmd())
	cmd.AddCommand(newJournalFillsCmd())
	cmd.AddCommand(newJournalSignalsCmd())
	cmd.AddCommand(newJournalEquityCmd())
	return cmd
}

// openJournal opens the journal named by the configuration.
func openJournal(cmd *cobra.Command) (*store.SQLiteStore, error) {
	cfg, err := readConfig(cmd)
	if err != nil {
		return nil, err
	}
	return store.NewSQLiteStore(cfg.Storage.SQLitePath)
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func newJournalOrdersCmd() *cobra.Command {
	var (
		status string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "List recent orders, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openJournal(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			orders, err := db.ListOrders(cmd.Context(), domain.OrderStatus(status), limit)
			if err != nil {
				return err
			}
			w := newTable(cmd.OutOrStdout())
			fmt.Fprintln(w, "ID\tSYMBOL\tSIDE\tEFFECT\tQTY\tFILLED\tAVG\tSTATUS\tCREATED\tREASON")
			for _, o := range orders {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					o.ID, o.Symbol, o.Side, o.Effect,
					dashboard.FormatQty(o.Qty), dashboard.FormatQty(o.FilledQty),
					dashboard.FormatPrice(o.FilledAvgPrice), o.Status, stamp(o.CreatedAt), o.Reason)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only orders in this status")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	return cmd
}

func newJournalFillsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fills ORDER_ID",
		Short: "List the fills of one order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openJournal(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			if _, err := db.GetOrder(cmd.Context(), args[0]); err != nil {
				return err
			}
			fills, err := db.ListFills(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			w := newTable(cmd.OutOrStdout())
			fmt.Fprintln(w, "FILL\tSYMBOL\tSIDE\tQTY\tPRICE\tCOMMISSION\tTIME")
			for _, f := range fills {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					f.ID, f.Symbol, f.Side, dashboard.FormatQty(f.Qty), dashboard.FormatPrice(f.Price),
					dashboard.FormatMoney(f.Commission), stamp(f.Timestamp))
			}
			return w.Flush()
		},
	}
}

func newJournalSignalsCmd() *cobra.Command {
	var (
		symbol string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "signals",
		Short: "List recent signals, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openJournal(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			sigs, err := db.ListSignals(cmd.Context(), symbol, limit)
			if err != nil {
				return err
			}
			w := newTable(cmd.OutOrStdout())
			fmt.Fprintln(w, "ID\tMARKET\tDIR\tENTRY\tSTOP\tTARGET\tCONF\tZONE\tCREATED")
			for _, s := range sigs {
				zone := s.KillZone
				if zone == "" {
					zone = "-"
				}
				fmt.Fprintf(w, "%s\t%s/%s\t%s\t%s\t%s\t%s\t%.2f\t%s\t%s\n",
					s.ID, s.Symbol, s.Timeframe, s.Direction,
					dashboard.FormatPrice(s.Entry), dashboard.FormatPrice(s.StopLoss), dashboard.FormatPrice(s.TakeProfit),
					s.Confidence, zone, stamp(s.CreatedAt))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&symbol, "symbol", "", "only signals for this symbol")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	return cmd
}

func newJournalEquityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "equity",
		Short: "Show the latest recorded portfolio snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openJournal(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			snap, err := db.LatestSnapshot(cmd.Context())
			if errors.Is(err, store.ErrNotFound) {
				fmt.Fprintln(cmd.OutOrStdout(), "no snapshots recorded")
				return nil
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "as of %s: equity %s  cash %s  realized %s  unrealized %s  drawdown %s  trades today %d\n\n",
				stamp(snap.Timestamp), dashboard.FormatMoney(snap.Equity), dashboard.FormatMoney(snap.Cash),
				dashboard.FormatPnL(snap.RealizedPnL), dashboard.FormatPnL(snap.UnrealizedPnL),
				dashboard.FormatPct(-snap.Drawdown), snap.DailyTrades)

			w := newTable(out)
			fmt.Fprintln(w, "SYMBOL\tSIDE\tQTY\tENTRY\tMARK\tUNREALIZED")
			for _, p := range snap.Positions {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", p.Symbol, p.Side, dashboard.FormatQty(p.Qty),
					dashboard.FormatPrice(p.EntryPrice), dashboard.FormatPrice(p.MarkPrice), dashboard.FormatPnL(p.UnrealizedPnL))
			}
			return w.Flush()
		},
	}
}
