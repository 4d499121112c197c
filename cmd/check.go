// cmd/check.go
package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aceteam-ai/nosana-monitor/internal/status"
)

var (
	headerColor = color.New(color.FgCyan, color.Bold)
	goodColor   = color.New(color.FgGreen)
	warnColor   = color.New(color.FgYellow)
	badColor    = color.New(color.FgRed)
	labelColor  = color.New(color.Bold)
)

var checkCmd = &cobra.Command{
	Use:   "check [address...]",
	Short: "Poll nodes once and print their snapshot",
	Long: `Runs a single poll cycle for each node and prints the resulting snapshot.
Use it to verify an address before adding it to the config file.

The command exits non-zero when any node is offline.`,
	Example: `  # Check a node before adding it
  nosana-monitor check 4DbQqT8Vm2bqAnGXbzDzRDNDWhqjDyMhUiFTF9zSzgXq

  # Check every configured node
  nosana-monitor check`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	nodeFlags = append(nodeFlags, args...)
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if len(args) > 0 {
		keep := cfg.Nodes[:0]
		for _, n := range cfg.Nodes {
			for _, a := range args {
				if n.Address == a {
					keep = append(keep, n)
					break
				}
			}
		}
		cfg.Nodes = keep
	}

	logger := newLogger()
	if !debugMode {
		logger = zap.NewNop()
	}
	defer logger.Sync()

	m, err := buildMonitor(context.Background(), cfg, logger, false)
	if err != nil {
		return err
	}
	defer m.Close()

	// info, specs and markets run in parallel; jobs and queue follow
	ctx, cancel := context.WithTimeout(context.Background(), 4*m.client.Timeout())
	defer cancel()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	offline := 0
	for _, c := range m.manager.Coordinators() {
		snap := c.Tick(ctx)
		printSnapshot(w, snap)
		if snap.Status == status.StatusOffline {
			offline++
		}
	}
	w.Flush()

	if offline > 0 {
		return fmt.Errorf("%d node(s) offline", offline)
	}
	return nil
}

func printSnapshot(w *tabwriter.Writer, snap *status.NodeSnapshot) {
	headerColor.Fprintf(w, "\n--- %s ---\n", snap.Name)
	fmt.Fprintf(w, "  %s:\t%s\n", labelColor.Sprint("Address"), snap.Address)
	fmt.Fprintf(w, "  %s:\t%s\n", labelColor.Sprint("Status"), statusColor(snap.Status).Sprint(snap.Status))
	printField(w, "Version", snap.Version)
	printField(w, "Model", snap.Model)
	printField(w, "Country", snap.Country)
	if snap.UptimeSeconds != nil {
		fmt.Fprintf(w, "  %s:\t%s\n", labelColor.Sprint("Uptime"), (time.Duration(*snap.UptimeSeconds) * time.Second).String())
	}
	printFloat(w, "Ping", snap.PingMs, "ms")
	printFloat(w, "Download", snap.DownloadMbps, "Mbps")
	printFloat(w, "Upload", snap.UploadMbps, "Mbps")

	if hw := snap.Hardware; hw != nil {
		printField(w, "GPU", hw.GPUModel)
		printFloat(w, "GPU Memory", hw.GPUMemoryMB, "MB")
		printField(w, "CPU", hw.CPU)
		printFloat(w, "RAM", hw.RAMMB, "MB")
		printFloat(w, "Disk", hw.DiskGB, "GB")
	}
	if mk := snap.Market; mk != nil {
		name := mk.Address
		if mk.Name != nil {
			name = *mk.Name + " (" + mk.Address + ")"
		}
		fmt.Fprintf(w, "  %s:\t%s\n", labelColor.Sprint("Market"), name)
		printFloat(w, "Market Rate", mk.USDRewardPerHour, "USD/h")
	}
	if snap.QueuePosition != nil {
		fmt.Fprintf(w, "  %s:\t%d\n", labelColor.Sprint("Queue Position"), *snap.QueuePosition)
	}
	printFloat(w, "Earnings", snap.EarningsUSDTotal, "USD")
	printFloat(w, "Finalized", snap.EarningsUSDFinalized, "USD")
	printField(w, "Running Job", snap.RunningJobID)
	if b := snap.Benchmark; b != nil {
		fmt.Fprintf(w, "  %s:\t%.2f tok/s %s\n", labelColor.Sprint("Benchmark"), b.TokensPerSecond, b.ModelID)
	}

	if len(snap.Errors) > 0 {
		sources := make([]string, 0, len(snap.Errors))
		for src := range snap.Errors {
			sources = append(sources, src)
		}
		sort.Strings(sources)
		for _, src := range sources {
			fmt.Fprintf(w, "  %s:\t%s\n", warnColor.Sprint("⚠️ "+src), snap.Errors[src])
		}
	}
}

func printField(w *tabwriter.Writer, label string, v *string) {
	if v == nil {
		return
	}
	fmt.Fprintf(w, "  %s:\t%s\n", labelColor.Sprint(label), *v)
}

func printFloat(w *tabwriter.Writer, label string, v *float64, unit string) {
	if v == nil {
		return
	}
	fmt.Fprintf(w, "  %s:\t%s %s\n", labelColor.Sprint(label), strconv.FormatFloat(*v, 'f', -1, 64), unit)
}

func statusColor(s status.Status) *color.Color {
	switch s {
	case status.StatusRunning:
		return goodColor
	case status.StatusQueued:
		return warnColor
	default:
		return badColor
	}
}
