// cmd/history.go
package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/aceteam-ai/nosana-monitor/internal/history"
)

var historyRecent string
var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show archived job totals per node",
	Long: `Reads the SQLite job history (history.path in the config file) and prints
per-node totals. With --node-jobs, lists the most recent archived jobs of one node.`,
	Example: `  nosana-monitor history
  nosana-monitor history --node-jobs 4DbQqT8Vm2bqAnGXbzDzRDNDWhqjDyMhUiFTF9zSzgXq`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyRecent, "node-jobs", "", "List recent archived jobs of this node")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of jobs to list with --node-jobs")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigFile()
	if err != nil {
		return err
	}
	if cfg.History.Path == "" {
		return fmt.Errorf("history is not configured (set history.path in the config file)")
	}

	store, err := history.OpenStore(cfg.History.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	if historyRecent != "" {
		records, err := store.Recent(historyRecent, historyLimit)
		if err != nil {
			return err
		}
		headerColor.Fprintf(w, "--- Recent jobs %s ---\n", historyRecent)
		fmt.Fprintln(w, "  JOB\tENDED\tRUNTIME\tEARNED\tBENCHMARK\tSYNCED")
		for _, r := range records {
			bench := "-"
			if r.TokensPerSecond > 0 {
				bench = fmt.Sprintf("%.2f tok/s", r.TokensPerSecond)
			}
			fmt.Fprintf(w, "  %s\t%s\t%s\t$%.4f\t%s\t%v\n",
				r.JobID,
				r.EndedAt.Local().Format("2006-01-02 15:04"),
				(time.Duration(r.RuntimeSeconds) * time.Second).String(),
				r.EarnedUSD,
				bench,
				r.Synced,
			)
		}
		return nil
	}

	totals, err := store.Totals()
	if err != nil {
		return err
	}
	if len(totals) == 0 {
		fmt.Println("No archived jobs yet.")
		return nil
	}

	headerColor.Fprintln(w, "--- Job history ---")
	fmt.Fprintln(w, "  NODE\tJOBS\tRUNTIME\tEARNED\tFIRST\tLAST")
	for _, t := range totals {
		fmt.Fprintf(w, "  %s\t%d\t%s\t%s\t%s\t%s\n",
			t.Address,
			t.Jobs,
			(time.Duration(t.RuntimeSeconds) * time.Second).String(),
			goodColor.Sprintf("$%.4f", t.EarnedUSD),
			t.FirstJobAt.Local().Format("2006-01-02"),
			t.LastJobAt.Local().Format("2006-01-02"),
		)
	}
	return nil
}
