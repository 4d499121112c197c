// cmd/run.go
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aceteam-ai/nosana-monitor/internal/history"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the monitor daemon",
	Long: `Polls every configured node on a fixed interval and publishes one snapshot
per node per tick.

Snapshots are served over HTTP (/nodes, /nodes/{address}, /health) and streamed
over WebSocket (/ws). When configured, snapshots and status transitions are also
published to Redis and posted to a webhook, and finalized jobs are archived to
a local SQLite history that is synced to a Redis stream.`,
	Example: `  # Monitor the nodes listed in the config file
  nosana-monitor run

  # Monitor a node without a config file
  nosana-monitor run --node 4DbQqT8Vm2bqAnGXbzDzRDNDWhqjDyMhUiFTF9zSzgXq

  # Verbose, human-readable logs
  nosana-monitor run --debug`,
	Args: cobra.NoArgs,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := newLogger()
	defer logger.Sync()

	// Handle graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutting down")
		cancel()
	}()

	m, err := buildMonitor(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer m.Close()

	logger.Info("monitor starting",
		zap.String("version", Version),
		zap.Int("nodes", len(cfg.Nodes)),
		zap.Duration("poll_interval", cfg.PollInterval),
		zap.String("ledger_dir", cfg.LedgerDir),
		zap.Bool("queue_position", m.queue.Enabled()),
	)

	var wg sync.WaitGroup
	if m.server != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Info("status server listening", zap.Int("port", m.server.Port()))
			if err := m.server.Start(ctx); err != nil {
				logger.Error("status server stopped", zap.Error(err))
			}
		}()
	}

	if m.history != nil && m.redis != nil {
		syncer := history.NewSyncer(history.SyncerConfig{
			Store:     m.history,
			PublishFn: m.redis.PublishJobs,
			Interval:  cfg.History.SyncInterval,
			LogFn:     logFn(logger, "history"),
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			syncer.Start(ctx)
		}()
	}

	err = m.manager.Run(ctx)
	cancel()
	wg.Wait()
	if err != nil {
		return fmt.Errorf("monitor stopped: %w", err)
	}
	return nil
}
