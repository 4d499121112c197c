package publish

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/aceteam-ai/nosana-monitor/internal/history"
	"github.com/aceteam-ai/nosana-monitor/internal/status"
)

const testAddr = "4DbQqT8Vm2bqAnGXbzDzRDNDWhqjDyMhUiFTF9zSzgXq"

// setupMiniredis starts a miniredis instance and returns a publisher and a
// raw client for assertions.
func setupMiniredis(t *testing.T) (*miniredis.Miniredis, *RedisPublisher, *goredis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })

	pub, err := NewRedisPublisher(RedisPublisherConfig{
		RedisURL:  "redis://" + mr.Addr(),
		MonitorID: "monitor-1",
	})
	if err != nil {
		t.Fatalf("NewRedisPublisher() error = %v", err)
	}
	t.Cleanup(func() { pub.Close() })

	raw := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { raw.Close() })

	return mr, pub, raw
}

func TestNewRedisPublisher(t *testing.T) {
	tests := []struct {
		name        string
		config      RedisPublisherConfig
		wantErr     bool
		wantChannel string
		wantStream  string
	}{
		{
			name:        "defaults",
			config:      RedisPublisherConfig{RedisURL: "redis://localhost:6379"},
			wantChannel: "nosana:node:" + testAddr,
			wantStream:  "nosana:node:stream",
		},
		{
			name:        "custom prefix",
			config:      RedisPublisherConfig{RedisURL: "redis://localhost:6379", Prefix: "fleet"},
			wantChannel: "fleet:" + testAddr,
			wantStream:  "fleet:stream",
		},
		{
			name:    "invalid redis URL",
			config:  RedisPublisherConfig{RedisURL: "not-a-valid-url"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub, err := NewRedisPublisher(tt.config)
			if tt.wantErr {
				if err == nil {
					t.Error("NewRedisPublisher() should return error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewRedisPublisher() error = %v", err)
			}
			defer pub.Close()

			if got := pub.Channel(testAddr); got != tt.wantChannel {
				t.Errorf("Channel() = %v, want %v", got, tt.wantChannel)
			}
			if got := pub.StreamName(); got != tt.wantStream {
				t.Errorf("StreamName() = %v, want %v", got, tt.wantStream)
			}
			if pub.MonitorID() == "" {
				t.Error("MonitorID() should default to a generated ID")
			}
		})
	}
}

func TestPublishSnapshot(t *testing.T) {
	_, pub, raw := setupMiniredis(t)
	ctx := context.Background()

	if err := pub.Ping(ctx); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}

	// Subscribe before publishing; Pub/Sub has no replay
	sub := raw.Subscribe(ctx, pub.Channel(testAddr))
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}

	snap := &status.NodeSnapshot{
		Address:   testAddr,
		Status:    status.StatusRunning,
		UpdatedAt: time.Unix(1700000000, 0).UTC(),
		Sequence:  7,
	}
	if err := pub.PublishSnapshot(ctx, snap); err != nil {
		t.Fatalf("PublishSnapshot() error = %v", err)
	}

	msg, err := sub.ReceiveMessage(ctx)
	if err != nil {
		t.Fatalf("failed to receive message: %v", err)
	}
	var got Message
	if err := json.Unmarshal([]byte(msg.Payload), &got); err != nil {
		t.Fatalf("failed to unmarshal message: %v", err)
	}
	if got.Type != status.EventSnapshot || got.MonitorID != "monitor-1" || got.Version != MessageVersion {
		t.Errorf("message = %+v", got)
	}
	if got.Snapshot == nil || got.Snapshot.Sequence != 7 || got.Snapshot.Status != status.StatusRunning {
		t.Errorf("snapshot = %+v", got.Snapshot)
	}

	entries, err := raw.XRange(ctx, pub.StreamName(), "-", "+").Result()
	if err != nil {
		t.Fatalf("XRange() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("stream entries = %d, want 1", len(entries))
	}
	if entries[0].Values["address"] != testAddr || entries[0].Values["status"] != "running" {
		t.Errorf("stream entry = %v", entries[0].Values)
	}
}

func TestPublishSnapshotRejectsBadAddress(t *testing.T) {
	_, pub, _ := setupMiniredis(t)

	err := pub.PublishSnapshot(context.Background(), &status.NodeSnapshot{Address: "bad address:*"})
	if err == nil {
		t.Error("PublishSnapshot() should reject addresses unsafe for channel names")
	}
}

func TestPublishTransition(t *testing.T) {
	_, pub, raw := setupMiniredis(t)
	ctx := context.Background()

	sub := raw.Subscribe(ctx, pub.EventsChannel(testAddr))
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}

	tr := status.Transition{
		Address: testAddr,
		From:    status.StatusQueued,
		To:      status.StatusRunning,
		At:      time.Unix(1700000000, 0).UTC(),
	}
	if err := pub.PublishTransition(ctx, tr); err != nil {
		t.Fatalf("PublishTransition() error = %v", err)
	}

	msg, err := sub.ReceiveMessage(ctx)
	if err != nil {
		t.Fatalf("failed to receive message: %v", err)
	}
	var got Message
	if err := json.Unmarshal([]byte(msg.Payload), &got); err != nil {
		t.Fatalf("failed to unmarshal message: %v", err)
	}
	if got.Type != status.EventTransition || got.Transition == nil {
		t.Fatalf("message = %+v", got)
	}
	if got.Transition.From != status.StatusQueued || got.Transition.To != status.StatusRunning {
		t.Errorf("transition = %+v", got.Transition)
	}
}

func TestPublishJobs(t *testing.T) {
	_, pub, raw := setupMiniredis(t)
	ctx := context.Background()

	records := []history.JobRecord{
		{Address: testAddr, JobID: "job-1", StartedAt: time.Unix(1000, 0), EndedAt: time.Unix(4600, 0), RuntimeSeconds: 3600, EarnedUSD: 1},
		{Address: testAddr, JobID: "job-2", StartedAt: time.Unix(5000, 0), EndedAt: time.Unix(5600, 0), RuntimeSeconds: 600},
	}
	if err := pub.PublishJobs(ctx, records); err != nil {
		t.Fatalf("PublishJobs() error = %v", err)
	}

	entries, err := raw.XRange(ctx, pub.JobsStreamName(), "-", "+").Result()
	if err != nil {
		t.Fatalf("XRange() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("jobs stream entries = %d, want 2", len(entries))
	}
	if entries[0].Values["jobId"] != "job-1" || entries[1].Values["jobId"] != "job-2" {
		t.Errorf("jobs stream = %v", entries)
	}
	if entries[0].Values["runtimeSeconds"] != "3600" {
		t.Errorf("runtimeSeconds = %v, want 3600", entries[0].Values["runtimeSeconds"])
	}
}

func TestPublishAfterRedisDown(t *testing.T) {
	mr, pub, _ := setupMiniredis(t)
	mr.Close()

	err := pub.PublishSnapshot(context.Background(), &status.NodeSnapshot{Address: testAddr})
	if err == nil {
		t.Error("PublishSnapshot() should fail when Redis is unreachable")
	}
}
