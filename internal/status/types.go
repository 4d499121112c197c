// Package status defines the canonical per-node snapshot and serves it to
// consumers.
//
// Architecture:
//   - Normalize maps raw upstream state into the Status enum
//   - NodeSnapshot is the immutable record a coordinator publishes each tick
//   - Server exposes snapshots over HTTP and streams them over WebSocket
package status

import (
	"time"
)

// Status is the canonical node state.
type Status string

const (
	StatusOffline Status = "offline"
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
)

// NodeSnapshot is the unit published each tick. Every optional field is
// independently absent: a nil pointer is omitted from JSON, never zeroed.
// A published snapshot is never mutated; coordinators build a new one.
type NodeSnapshot struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
	Status  Status `json:"status"`

	UptimeSeconds *int64   `json:"uptime_seconds,omitempty"`
	Version       *string  `json:"version,omitempty"`
	Model         *string  `json:"model,omitempty"`
	Country       *string  `json:"country,omitempty"`
	PingMs        *float64 `json:"ping_ms,omitempty"`
	DownloadMbps  *float64 `json:"download_mbps,omitempty"`
	UploadMbps    *float64 `json:"upload_mbps,omitempty"`

	Hardware *HardwareSpecs `json:"hardware,omitempty"`
	Market   *MarketInfo    `json:"market,omitempty"`

	EarningsUSDTotal     *float64   `json:"earnings_usd_total,omitempty"`
	EarningsUSDFinalized *float64   `json:"earnings_usd_finalized,omitempty"`
	RunningJobID         *string    `json:"running_job_id,omitempty"`
	Benchmark            *Benchmark `json:"benchmark,omitempty"`
	QueuePosition        *int       `json:"queue_position,omitempty"`

	UpdatedAt         time.Time         `json:"updated_at"`
	LedgerRefreshedAt *time.Time        `json:"ledger_refreshed_at,omitempty"`
	Degraded          bool              `json:"degraded"`
	Errors            map[string]string `json:"errors,omitempty"` // source -> message
	Sequence          uint64            `json:"sequence"`
}

// HardwareSpecs holds the node's hardware as reported by the dashboard.
type HardwareSpecs struct {
	RAMMB         *float64 `json:"ram_mb,omitempty"`
	DiskGB        *float64 `json:"disk_gb,omitempty"`
	CPU           *string  `json:"cpu,omitempty"`
	LogicalCores  *int64   `json:"logical_cores,omitempty"`
	PhysicalCores *int64   `json:"physical_cores,omitempty"`
	GPUModel      *string  `json:"gpu_model,omitempty"`
	GPUMemoryMB   *float64 `json:"gpu_memory_mb,omitempty"`
}

// MarketInfo is the node's market joined from the market catalog.
type MarketInfo struct {
	Address            string   `json:"address"`
	Name               *string  `json:"name,omitempty"`
	Type               *string  `json:"type,omitempty"`
	NosRewardPerSecond *float64 `json:"nos_reward_per_second,omitempty"`
	USDRewardPerHour   *float64 `json:"usd_reward_per_hour,omitempty"`
}

// Benchmark is the most recent LLM benchmark reading.
type Benchmark struct {
	TokensPerSecond float64 `json:"tokens_per_second"`
	ModelID         string  `json:"model_id,omitempty"`
}

// Transition is emitted when a node's status changes between ticks.
type Transition struct {
	Address string    `json:"address"`
	Name    string    `json:"name,omitempty"`
	From    Status    `json:"from"`
	To      Status    `json:"to"`
	At      time.Time `json:"at"`
}

// Event is the envelope streamed to consumers.
type Event struct {
	Type       string        `json:"type"` // "snapshot" or "transition"
	Snapshot   *NodeSnapshot `json:"snapshot,omitempty"`
	Transition *Transition   `json:"transition,omitempty"`
}

// Event types.
const (
	EventSnapshot   = "snapshot"
	EventTransition = "transition"
)

// HealthResponse is the response for /health endpoint.
type HealthResponse struct {
	Status  string            `json:"status"` // "ok", "degraded", "unhealthy"
	Version string            `json:"version"`
	Nodes   map[string]Status `json:"nodes,omitempty"`
}

// HealthStatus constants for health checks.
const (
	HealthStatusOK        = "ok"
	HealthStatusDegraded  = "degraded"
	HealthStatusUnhealthy = "unhealthy"
)
