// Package publish fans node snapshots and status transitions out to external
// consumers.
//
// This file implements Redis publishing for real-time consumers and reliable
// processing via Redis Streams.
//
// Architecture:
//
//	nosana-monitor                                     Redis
//	┌─────────────┐    PUBLISH nosana:node:<addr>         ┌─────────────┐
//	│   Redis     │ ─────────────────────────────────▶    │  Pub/Sub    │ → dashboards
//	│  Publisher  │    PUBLISH nosana:node:<addr>:events  │             │ → automations
//	│             │                                       └─────────────┘
//	│             │    XADD nosana:node:stream            ┌─────────────┐
//	│             │ ─────────────────────────────────▶    │  Streams    │ → workers
//	│             │    XADD nosana:node:jobs              │             │ → accounting
//	└─────────────┘                                       └─────────────┘
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/aceteam-ai/nosana-monitor/internal/history"
	"github.com/aceteam-ai/nosana-monitor/internal/status"
)

// DefaultPrefix namespaces every key the publisher writes.
const DefaultPrefix = "nosana:node"

// MessageVersion is the version of the published message format.
const MessageVersion = "1.0"

// addressPattern validates node addresses used in channel names.
var addressPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,128}$`)

// Message is the payload published to Redis.
type Message struct {
	Version    string               `json:"version"`
	ID         string               `json:"id"`
	MonitorID  string               `json:"monitorId"`
	Timestamp  string               `json:"timestamp"`
	Type       string               `json:"type"`
	Address    string               `json:"address"`
	Snapshot   *status.NodeSnapshot `json:"snapshot,omitempty"`
	Transition *status.Transition   `json:"transition,omitempty"`
}

// RedisPublisher publishes snapshots, transitions and archived jobs to Redis.
type RedisPublisher struct {
	client       *redis.Client
	redisURL     string // For debug logging
	monitorID    string
	prefix       string
	streamMaxLen int64

	// Debug callback (optional)
	debugFunc func(format string, args ...any)
}

// RedisPublisherConfig holds configuration for the Redis publisher.
type RedisPublisherConfig struct {
	// RedisURL is the Redis connection URL
	RedisURL string

	// RedisPassword is the Redis password (optional)
	RedisPassword string

	// Prefix namespaces channels and streams (default: "nosana:node")
	Prefix string

	// MonitorID identifies this monitor instance (default: random UUID)
	MonitorID string

	// StreamMaxLen caps the snapshot stream, approximately (default: 10000)
	StreamMaxLen int64

	// DebugFunc is an optional callback for debug logging
	DebugFunc func(format string, args ...any)
}

// NewRedisPublisher creates a new Redis publisher.
func NewRedisPublisher(cfg RedisPublisherConfig) (*RedisPublisher, error) {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.MonitorID == "" {
		cfg.MonitorID = uuid.New().String()
	}
	if cfg.StreamMaxLen == 0 {
		cfg.StreamMaxLen = 10000
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if cfg.RedisPassword != "" {
		opts.Password = cfg.RedisPassword
	}

	return &RedisPublisher{
		client:       redis.NewClient(opts),
		redisURL:     cfg.RedisURL,
		monitorID:    cfg.MonitorID,
		prefix:       cfg.Prefix,
		streamMaxLen: cfg.StreamMaxLen,
		debugFunc:    cfg.DebugFunc,
	}, nil
}

// debug logs a message if debug function is configured
func (p *RedisPublisher) debug(format string, args ...any) {
	if p.debugFunc != nil {
		p.debugFunc(format, args...)
	}
}

// Ping verifies the connection.
func (p *RedisPublisher) Ping(ctx context.Context) error {
	p.debug("pinging Redis at %s...", p.redisURL)
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return nil
}

func (p *RedisPublisher) newMessage(typ, address string) Message {
	return Message{
		Version:   MessageVersion,
		ID:        uuid.New().String(),
		MonitorID: p.monitorID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Type:      typ,
		Address:   address,
	}
}

// PublishSnapshot publishes a snapshot to the node channel and appends it to
// the snapshot stream.
func (p *RedisPublisher) PublishSnapshot(ctx context.Context, snap *status.NodeSnapshot) error {
	if !addressPattern.MatchString(snap.Address) {
		return fmt.Errorf("invalid node address %q", snap.Address)
	}

	msg := p.newMessage(status.EventSnapshot, snap.Address)
	msg.Snapshot = snap
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	channel := p.Channel(snap.Address)
	p.debug("snapshot: publishing %d bytes to %s (seq %d)", len(data), channel, snap.Sequence)
	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to Pub/Sub: %w", err)
	}

	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.StreamName(),
		Values: map[string]any{
			"address":   snap.Address,
			"status":    string(snap.Status),
			"timestamp": msg.Timestamp,
			"payload":   string(data),
		},
		MaxLen: p.streamMaxLen,
		Approx: true,
	}).Err(); err != nil {
		return fmt.Errorf("failed to add to stream: %w", err)
	}
	return nil
}

// PublishTransition publishes a status change to the node events channel.
func (p *RedisPublisher) PublishTransition(ctx context.Context, tr status.Transition) error {
	if !addressPattern.MatchString(tr.Address) {
		return fmt.Errorf("invalid node address %q", tr.Address)
	}

	msg := p.newMessage(status.EventTransition, tr.Address)
	msg.Transition = &tr
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal transition: %w", err)
	}

	p.debug("transition: %s %s -> %s", tr.Address, tr.From, tr.To)
	if err := p.client.Publish(ctx, p.EventsChannel(tr.Address), data).Err(); err != nil {
		return fmt.Errorf("failed to publish transition: %w", err)
	}
	return nil
}

// PublishJobs appends archived job records to the jobs stream. It satisfies
// history.PublishFunc.
func (p *RedisPublisher) PublishJobs(ctx context.Context, records []history.JobRecord) error {
	pipe := p.client.Pipeline()
	for _, r := range records {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: p.JobsStreamName(),
			Values: map[string]any{
				"monitorId":        p.monitorID,
				"address":          r.Address,
				"jobId":            r.JobID,
				"market":           r.Market,
				"startedAt":        r.StartedAt.Unix(),
				"endedAt":          r.EndedAt.Unix(),
				"runtimeSeconds":   r.RuntimeSeconds,
				"usdRewardPerHour": r.USDRewardPerHour,
				"earnedUsd":        r.EarnedUSD,
				"tokensPerSecond":  r.TokensPerSecond,
				"benchmarkModelId": r.ModelID,
			},
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to add jobs to stream: %w", err)
	}
	p.debug("jobs: appended %d records to %s", len(records), p.JobsStreamName())
	return nil
}

// Close closes the Redis connection.
func (p *RedisPublisher) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}

// MonitorID returns the monitor instance ID stamped on every message.
func (p *RedisPublisher) MonitorID() string {
	return p.monitorID
}

// Channel returns the snapshot Pub/Sub channel of a node.
func (p *RedisPublisher) Channel(address string) string {
	return fmt.Sprintf("%s:%s", p.prefix, address)
}

// EventsChannel returns the transition Pub/Sub channel of a node.
func (p *RedisPublisher) EventsChannel(address string) string {
	return fmt.Sprintf("%s:%s:events", p.prefix, address)
}

// StreamName returns the snapshot Stream name.
func (p *RedisPublisher) StreamName() string {
	return p.prefix + ":stream"
}

// JobsStreamName returns the archived jobs Stream name.
func (p *RedisPublisher) JobsStreamName() string {
	return p.prefix + ":jobs"
}
