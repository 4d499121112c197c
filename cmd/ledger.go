// cmd/ledger.go
package cmd

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/aceteam-ai/nosana-monitor/internal/ledger"
)

var ledgerLimit int

var ledgerCmd = &cobra.Command{
	Use:   "ledger <address>",
	Short: "Show a node's job ledger and earnings",
	Long: `Reads the node's ledger file and prints its job records and totals.
The ledger is only read; the monitor daemon remains its single writer.`,
	Example: `  nosana-monitor ledger 4DbQqT8Vm2bqAnGXbzDzRDNDWhqjDyMhUiFTF9zSzgXq
  nosana-monitor ledger 4DbQqT8Vm2bqAnGXbzDzRDNDWhqjDyMhUiFTF9zSzgXq --limit 50`,
	Args: cobra.ExactArgs(1),
	RunE: runLedger,
}

func init() {
	ledgerCmd.Flags().IntVarP(&ledgerLimit, "limit", "n", 20, "Number of records to show (0 for all)")
	rootCmd.AddCommand(ledgerCmd)
}

func runLedger(cmd *cobra.Command, args []string) error {
	address := args[0]
	dir := ledgerDirFlag
	if dir == "" {
		cfg, err := loadConfigFile()
		if err != nil {
			return err
		}
		dir = cfg.LedgerDir
	}

	store := ledger.NewStore(dir)
	l, err := store.Load(address)
	switch {
	case errors.Is(err, ledger.ErrStorageCorrupt):
		warnColor.Fprintf(os.Stderr, "⚠️ %v\n", err)
	case err != nil:
		return err
	}
	if !l.Known() {
		path, _ := store.Path(address)
		fmt.Printf("No ledger data for %s (%s)\n", address, path)
		return nil
	}

	view := ledger.Aggregate(l, nil, time.Now())
	records := l.Records()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	headerColor.Fprintf(w, "--- Ledger %s ---\n", address)
	fmt.Fprintf(w, "  %s:\t%s\n", labelColor.Sprint("Refreshed"), l.RefreshedAt.Local().Format(time.RFC3339))
	fmt.Fprintf(w, "  %s:\t%d\n", labelColor.Sprint("Records"), len(records))
	fmt.Fprintf(w, "  %s:\t%s\n", labelColor.Sprint("Finalized Earnings"), goodColor.Sprintf("$%.4f", view.EarningsUSDFinalized))
	if l.PrunedEarningsUSD > 0 {
		fmt.Fprintf(w, "  %s:\t$%.4f\n", labelColor.Sprint("Pruned Earnings"), l.PrunedEarningsUSD)
	}
	if view.RunningJobID != "" {
		fmt.Fprintf(w, "  %s:\t%s\n", labelColor.Sprint("Running Job"), view.RunningJobID)
	}
	if b := view.LatestBenchmark; b != nil {
		fmt.Fprintf(w, "  %s:\t%.2f tok/s %s\n", labelColor.Sprint("Latest Benchmark"), b.TokensPerSecond, b.ModelID)
	}

	headerColor.Fprintln(w, "\nJOBS")
	fmt.Fprintln(w, "  JOB\tSTARTED\tRUNTIME\tRATE\tEARNED\tSTATE")
	if ledgerLimit > 0 && len(records) > ledgerLimit {
		records = records[:ledgerLimit]
	}
	for _, r := range records {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\t%s\n",
			r.JobID,
			formatUnix(r.TimeStart),
			(time.Duration(r.RuntimeSeconds) * time.Second).String(),
			formatRate(r.USDRewardPerHour),
			fmt.Sprintf("$%.4f", r.EarnedUSD),
			recordState(r),
		)
	}
	return nil
}

func formatUnix(ts int64) string {
	if ts <= 0 {
		return "-"
	}
	return time.Unix(ts, 0).Local().Format("2006-01-02 15:04")
}

func formatRate(rate *float64) string {
	if rate == nil {
		return "-"
	}
	return fmt.Sprintf("$%.3f/h", *rate)
}

func recordState(r ledger.JobRecord) string {
	switch {
	case r.Finalized:
		return goodColor.Sprint("finalized")
	case r.TimeEnd > 0:
		return warnColor.Sprint("unpriced")
	default:
		return "running"
	}
}
