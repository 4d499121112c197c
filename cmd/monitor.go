// cmd/monitor.go
package cmd

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aceteam-ai/nosana-monitor/internal/chain"
	"github.com/aceteam-ai/nosana-monitor/internal/config"
	"github.com/aceteam-ai/nosana-monitor/internal/coordinator"
	"github.com/aceteam-ai/nosana-monitor/internal/history"
	"github.com/aceteam-ai/nosana-monitor/internal/ledger"
	"github.com/aceteam-ai/nosana-monitor/internal/markets"
	"github.com/aceteam-ai/nosana-monitor/internal/nosana"
	"github.com/aceteam-ai/nosana-monitor/internal/publish"
	"github.com/aceteam-ai/nosana-monitor/internal/status"
)

// monitor is the wired set of components behind the run and check commands.
type monitor struct {
	client  *nosana.Client
	manager *coordinator.Manager
	server  *status.Server
	redis   *publish.RedisPublisher
	history *history.Store
	queue   *chain.QueueClient
}

// buildMonitor wires clients, caches, stores and publishers for every
// configured node. Outputs (server, Redis, webhook, history) are only
// attached when withOutputs is set.
func buildMonitor(ctx context.Context, cfg *config.Config, logger *zap.Logger, withOutputs bool) (*monitor, error) {
	m := &monitor{}

	m.client = nosana.NewClient(nosana.ClientConfig{
		NodeURLTemplate: cfg.NodeURLTemplate,
		DashboardURL:    cfg.DashboardURL,
		Timeout:         cfg.RequestTimeout,
		JobsLimit:       cfg.JobsLimit,
		UserAgent:       "nosana-monitor/" + Version,
	})
	cache := markets.NewCache(markets.CacheConfig{
		TTL:   cfg.MarketsTTL,
		LogFn: logFn(logger, "markets"),
	}, m.client)
	m.queue = chain.NewQueueClient(chain.QueueConfig{
		RPCURL:  cfg.RPCURL,
		Timeout: cfg.RequestTimeout,
		Decoder: chain.MarketQueueDecoder{},
		LogFn:   logFn(logger, "chain"),
	})
	store := ledger.NewStore(cfg.LedgerDir)

	manager, err := coordinator.NewManager()
	if err != nil {
		return nil, err
	}
	m.manager = manager

	var publishers []coordinator.Publisher
	var recorder coordinator.HistoryRecorder
	if withOutputs {
		if cfg.Server.IsEnabled() {
			m.server = status.NewServer(status.ServerConfig{
				Port:    cfg.Server.Port,
				Version: Version,
				LogFn:   logFn(logger, "server"),
			}, manager)
			publishers = append(publishers, m.server)
		}

		if cfg.Redis.URL != "" {
			m.redis, err = publish.NewRedisPublisher(publish.RedisPublisherConfig{
				RedisURL:      cfg.Redis.URL,
				RedisPassword: cfg.Redis.Password,
				Prefix:        cfg.Redis.Prefix,
				DebugFunc:     debugFn(logger, "redis"),
			})
			if err != nil {
				m.Close()
				return nil, err
			}
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := m.redis.Ping(pingCtx); err != nil {
				logger.Warn("Redis not reachable yet, publishing will retry each tick", zap.Error(err))
			}
			cancel()
			publishers = append(publishers, m.redis)
		}

		if cfg.Webhook.URL != "" {
			hook, err := publish.NewWebhookPublisher(publish.WebhookConfig{
				URL:        cfg.Webhook.URL,
				Token:      cfg.Webhook.Token,
				EventsOnly: cfg.Webhook.EventsOnly,
				Timeout:    cfg.RequestTimeout,
				UserAgent:  "nosana-monitor/" + Version,
				LogFn:      logFn(logger, "webhook"),
			})
			if err != nil {
				m.Close()
				return nil, err
			}
			publishers = append(publishers, hook)
		}

		if cfg.History.Path != "" {
			m.history, err = history.OpenStore(cfg.History.Path)
			if err != nil {
				m.Close()
				return nil, fmt.Errorf("failed to open history: %w", err)
			}
			recorder = m.history
		}
	}

	for _, node := range cfg.Nodes {
		c, err := coordinator.New(coordinator.Config{
			Address:      node.Address,
			Name:         node.DisplayName(),
			PollInterval: cfg.PollInterval,
			LedgerTTL:    cfg.LedgerTTL,
			MaxRecords:   cfg.MaxRecords,
			Upstream:     m.client,
			Markets:      cache,
			Ledger:       store,
			Queue:        m.queue,
			History:      recorder,
			Publishers:   publishers,
			LogFn:        logFn(logger.With(zap.String("node", node.UniqueID())), "coordinator"),
		})
		if err == nil {
			err = manager.Add(c)
		}
		if err != nil {
			m.Close()
			return nil, err
		}
	}
	return m, nil
}

// Close releases connections and database handles.
func (m *monitor) Close() {
	if m.queue != nil {
		m.queue.Close()
	}
	if m.redis != nil {
		m.redis.Close()
	}
	if m.history != nil {
		m.history.Close()
	}
}
