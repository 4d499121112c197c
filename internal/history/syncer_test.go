package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/aceteam-ai/nosana-monitor/internal/ledger"
)

func seedRecords(t *testing.T, store *Store, count int) {
	t.Helper()
	for i := range count {
		rec := ledgerRecord(fmt.Sprintf("sync-job-%d", i), int64(1000+i*100), 60, 0.01)
		if err := store.RecordJobs(context.Background(), "node-a", []ledger.JobRecord{rec}); err != nil {
			t.Fatalf("seed RecordJobs: %v", err)
		}
	}
}

func TestSyncerPublishesAndMarksSynced(t *testing.T) {
	store := openTestStore(t)
	seedRecords(t, store, 3)

	var published []JobRecord
	var mu sync.Mutex

	syncer := NewSyncer(SyncerConfig{
		Store:     store,
		BatchSize: 10,
		PublishFn: func(ctx context.Context, records []JobRecord) error {
			mu.Lock()
			published = append(published, records...)
			mu.Unlock()
			return nil
		},
	})

	if n := syncer.SyncOnce(context.Background()); n != 3 {
		t.Errorf("SyncOnce() = %d, want 3", n)
	}

	mu.Lock()
	publishedCount := len(published)
	mu.Unlock()
	if publishedCount != 3 {
		t.Errorf("expected 3 published records, got %d", publishedCount)
	}

	remaining, err := store.QueryUnsynced(10)
	if err != nil {
		t.Fatalf("QueryUnsynced: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("expected 0 unsynced after sync, got %d", len(remaining))
	}
}

func TestSyncerPublishFailureKeepsRecords(t *testing.T) {
	store := openTestStore(t)
	seedRecords(t, store, 2)

	var logs []string
	syncer := NewSyncer(SyncerConfig{
		Store: store,
		PublishFn: func(ctx context.Context, records []JobRecord) error {
			return errors.New("redis down")
		},
		LogFn: func(level, msg string) { logs = append(logs, level+": "+msg) },
	})

	if n := syncer.SyncOnce(context.Background()); n != 0 {
		t.Errorf("SyncOnce() = %d, want 0", n)
	}

	remaining, _ := store.QueryUnsynced(10)
	if len(remaining) != 2 {
		t.Errorf("expected 2 unsynced after failed publish, got %d", len(remaining))
	}
	if len(logs) != 1 {
		t.Errorf("expected 1 log line, got %v", logs)
	}
}

func TestSyncerDrainsBacklog(t *testing.T) {
	tests := []struct {
		name        string
		seed        int
		batchSize   int
		maxBatches  int
		wantBatches []int
		wantLeft    int
	}{
		{name: "whole backlog", seed: 5, batchSize: 2, maxBatches: 10, wantBatches: []int{2, 2, 1}},
		{name: "exact multiple", seed: 4, batchSize: 2, maxBatches: 10, wantBatches: []int{2, 2}},
		{name: "bounded cycle", seed: 7, batchSize: 2, maxBatches: 2, wantBatches: []int{2, 2}, wantLeft: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := openTestStore(t)
			seedRecords(t, store, tt.seed)

			var batches []int
			syncer := NewSyncer(SyncerConfig{
				Store:      store,
				BatchSize:  tt.batchSize,
				MaxBatches: tt.maxBatches,
				PublishFn: func(ctx context.Context, records []JobRecord) error {
					batches = append(batches, len(records))
					return nil
				},
			})

			if n := syncer.SyncOnce(context.Background()); n != tt.seed-tt.wantLeft {
				t.Errorf("SyncOnce() = %d, want %d", n, tt.seed-tt.wantLeft)
			}
			if fmt.Sprint(batches) != fmt.Sprint(tt.wantBatches) {
				t.Errorf("batches = %v, want %v", batches, tt.wantBatches)
			}
			remaining, _ := store.QueryUnsynced(100)
			if len(remaining) != tt.wantLeft {
				t.Errorf("unsynced = %d, want %d", len(remaining), tt.wantLeft)
			}
		})
	}
}

func TestSyncerOutageLogging(t *testing.T) {
	store := openTestStore(t)
	seedRecords(t, store, 2)

	down := true
	var levels []string
	syncer := NewSyncer(SyncerConfig{
		Store: store,
		PublishFn: func(ctx context.Context, records []JobRecord) error {
			if down {
				return errors.New("redis down")
			}
			return nil
		},
		LogFn: func(level, msg string) { levels = append(levels, level) },
	})

	syncer.SyncOnce(context.Background())
	syncer.SyncOnce(context.Background())
	down = false
	if n := syncer.SyncOnce(context.Background()); n != 2 {
		t.Errorf("SyncOnce() after recovery = %d, want 2", n)
	}

	want := []string{"warning", "debug", "info", "info"}
	if fmt.Sprint(levels) != fmt.Sprint(want) {
		t.Errorf("log levels = %v, want %v", levels, want)
	}
}

func TestNewSyncerDefaults(t *testing.T) {
	syncer := NewSyncer(SyncerConfig{})
	if syncer.interval.Seconds() != 60 {
		t.Errorf("interval = %v, want 60s", syncer.interval)
	}
	if syncer.batchSize != 50 || syncer.maxBatches != 10 {
		t.Errorf("batchSize = %d, maxBatches = %d; want 50, 10", syncer.batchSize, syncer.maxBatches)
	}
}
