package history

import "time"

// JobRecord is one finished job archived for a node.
type JobRecord struct {
	// Database ID (set after insert)
	ID int64

	// Node and job identification
	Address string
	JobID   string
	Market  string

	// Timing
	StartedAt      time.Time
	EndedAt        time.Time
	RuntimeSeconds int64

	// Pricing
	USDRewardPerHour float64
	EarnedUSD        float64

	// Benchmark (zero when the job carried none)
	TokensPerSecond float64
	ModelID         string

	// Sync status
	Synced bool
}

// Totals summarizes the archived jobs of one node.
type Totals struct {
	Address        string
	Jobs           int64
	RuntimeSeconds int64
	EarnedUSD      float64
	FirstJobAt     time.Time
	LastJobAt      time.Time
}
