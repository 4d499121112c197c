package history

import (
	"context"
	"fmt"
	"time"
)

// PublishFunc ships a batch of archived jobs downstream, e.g. to the Redis
// jobs stream. A non-nil error leaves the whole batch unsynced.
type PublishFunc func(ctx context.Context, records []JobRecord) error

// SyncerConfig holds configuration for the background syncer.
type SyncerConfig struct {
	Store     *Store
	PublishFn PublishFunc

	// Interval between sync cycles (default: 60s)
	Interval time.Duration

	// BatchSize is the max records per publish (default: 50)
	BatchSize int

	// MaxBatches bounds the batches drained in one cycle (default: 10)
	MaxBatches int

	LogFn func(level, msg string)
}

// Syncer pushes finalized jobs that have not left the machine yet. A cycle
// drains the backlog batch by batch, so jobs archived during a downstream
// outage catch up within a few cycles once it recovers.
type Syncer struct {
	store      *Store
	publishFn  PublishFunc
	interval   time.Duration
	batchSize  int
	maxBatches int
	logFn      func(level, msg string)

	// failing is set while downstream rejects publishes; only the first
	// failure of an outage is a warning
	failing bool
}

// NewSyncer creates a new history syncer.
func NewSyncer(cfg SyncerConfig) *Syncer {
	s := &Syncer{
		store:      cfg.Store,
		publishFn:  cfg.PublishFn,
		interval:   cfg.Interval,
		batchSize:  cfg.BatchSize,
		maxBatches: cfg.MaxBatches,
		logFn:      cfg.LogFn,
	}
	if s.interval == 0 {
		s.interval = 60 * time.Second
	}
	if s.batchSize == 0 {
		s.batchSize = 50
	}
	if s.maxBatches == 0 {
		s.maxBatches = 10
	}
	return s
}

// Start syncs once right away, so jobs left over from a previous run go out
// first, then once per interval until ctx is cancelled.
func (s *Syncer) Start(ctx context.Context) error {
	s.SyncOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.SyncOnce(ctx)
		}
	}
}

// SyncOnce drains up to MaxBatches batches of unsynced jobs and returns how
// many were published.
func (s *Syncer) SyncOnce(ctx context.Context) int {
	var published int
	var earned float64
	nodes := make(map[string]bool)

	for range s.maxBatches {
		if ctx.Err() != nil {
			break
		}
		records, err := s.store.QueryUnsynced(s.batchSize)
		if err != nil {
			s.log("warning", fmt.Sprintf("history sync: reading archive: %v", err))
			break
		}
		if len(records) == 0 {
			break
		}
		if !s.publish(ctx, records) {
			break
		}

		for _, r := range records {
			nodes[r.Address] = true
			earned += r.EarnedUSD
		}
		published += len(records)
		if len(records) < s.batchSize {
			break
		}
	}

	if published > 0 {
		s.log("info", fmt.Sprintf("history sync: published %d finalized jobs from %d node(s), $%.4f earned", published, len(nodes), earned))
	}
	return published
}

// publish sends one batch and marks it synced. It reports whether the batch
// left the unsynced set.
func (s *Syncer) publish(ctx context.Context, records []JobRecord) bool {
	if err := s.publishFn(ctx, records); err != nil {
		if s.failing {
			s.log("debug", fmt.Sprintf("history sync: still failing: %v", err))
		} else {
			s.log("warning", fmt.Sprintf("history sync: publish failed, %d jobs held until downstream recovers: %v", len(records), err))
		}
		s.failing = true
		return false
	}
	if s.failing {
		s.log("info", "history sync: downstream recovered")
		s.failing = false
	}

	ids := make([]int64, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	if err := s.store.MarkSynced(ids); err != nil {
		// the batch goes out again next cycle; consumers dedupe on address/job id
		s.log("warning", fmt.Sprintf("history sync: marking %d jobs synced: %v", len(ids), err))
		return false
	}
	return true
}

func (s *Syncer) log(level, msg string) {
	if s.logFn != nil {
		s.logFn(level, msg)
	}
}
