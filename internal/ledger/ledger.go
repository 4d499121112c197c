// Package ledger keeps a durable per-node record of recent jobs and derives
// cumulative earnings and the latest benchmark from it.
//
// A job is finalized once it has an end time and a reward rate to price it.
// Finalized earnings only change through an explicit correction (the same job
// reported with a different end time). Running jobs never contribute to the
// durable total; at most one of them feeds an ephemeral estimate.
package ledger

import (
	"slices"
	"sort"
	"time"

	"github.com/aceteam-ai/nosana-monitor/internal/nosana"
)

// FormatVersion is written to every ledger file.
const FormatVersion = 1

// DefaultMaxRecords bounds the number of records kept per node.
const DefaultMaxRecords = 500

// Benchmark is an LLM benchmark reading attached to a job.
type Benchmark struct {
	TokensPerSecond float64 `json:"tokens_per_second"`
	ModelID         string  `json:"model_id,omitempty"`
}

// JobRecord is one job in a node's ledger.
type JobRecord struct {
	JobID            string     `json:"job_id"`
	TimeStart        int64      `json:"time_start"`
	TimeEnd          int64      `json:"time_end"` // 0 while running
	RuntimeSeconds   int64      `json:"runtime_seconds"`
	EarnedUSD        float64    `json:"earned_usd"`
	USDRewardPerHour *float64   `json:"usd_reward_per_hour,omitempty"`
	Market           string     `json:"market,omitempty"`
	Finalized        bool       `json:"finalized"`
	Benchmark        *Benchmark `json:"benchmark,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at,omitzero"`
}

// Ledger is the job store of one node.
type Ledger struct {
	Version           int                   `json:"version"`
	Address           string                `json:"address"`
	RefreshedAt       time.Time             `json:"refreshed_at,omitzero"`
	PrunedEarningsUSD float64               `json:"pruned_earnings_usd"`
	Running           []string              `json:"running,omitempty"` // job ids running in the latest fetch
	Jobs              map[string]*JobRecord `json:"jobs"`
}

// New returns an empty ledger for address.
func New(address string) *Ledger {
	return &Ledger{
		Version: FormatVersion,
		Address: address,
		Jobs:    make(map[string]*JobRecord),
	}
}

// Clone returns a deep copy of l.
func (l *Ledger) Clone() *Ledger {
	c := *l
	c.Running = slices.Clone(l.Running)
	c.Jobs = make(map[string]*JobRecord, len(l.Jobs))
	for id, rec := range l.Jobs {
		r := *rec
		if rec.Benchmark != nil {
			b := *rec.Benchmark
			r.Benchmark = &b
		}
		if rec.USDRewardPerHour != nil {
			v := *rec.USDRewardPerHour
			r.USDRewardPerHour = &v
		}
		c.Jobs[id] = &r
	}
	return &c
}

// Known reports whether the ledger holds data from at least one refresh.
func (l *Ledger) Known() bool {
	return l != nil && !l.RefreshedAt.IsZero()
}

// Records returns all records ordered by start time, newest first.
func (l *Ledger) Records() []JobRecord {
	out := make([]JobRecord, 0, len(l.Jobs))
	for _, rec := range l.Jobs {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TimeStart != out[j].TimeStart {
			return out[i].TimeStart > out[j].TimeStart
		}
		return out[i].JobID < out[j].JobID
	})
	return out
}

// RawJob is one job as observed upstream.
type RawJob struct {
	ID               string
	Market           string
	TimeStart        int64
	TimeEnd          int64 // 0 while running
	USDRewardPerHour *float64
	Benchmark        *Benchmark
}

// RawJobFrom converts a decoded dashboard job.
func RawJobFrom(j nosana.Job) RawJob {
	raw := RawJob{
		ID:               j.JobID(),
		Market:           j.Market.String(),
		TimeStart:        j.StartUnix(),
		TimeEnd:          j.EndUnix(),
		USDRewardPerHour: j.UsdRewardPerHour.FloatPtr(),
	}
	if b, ok := j.Benchmark(); ok {
		raw.Benchmark = &Benchmark{TokensPerSecond: b.TokensPerSecond, ModelID: b.ModelID}
	}
	return raw
}

// RateLookup resolves a market's USD reward per hour.
type RateLookup interface {
	RewardRate(market string) (float64, bool)
}

// Pricing supplies the reward rates used to price finished jobs.
type Pricing struct {
	// Catalog resolves rates by the job's market (optional)
	Catalog RateLookup
	// NodeRate is the node's current market rate (optional)
	NodeRate *float64
	// MaxRecords caps the ledger size (default: DefaultMaxRecords)
	MaxRecords int
}

// rate resolves a job's rate: its own, then its market's, then the node's.
func (p Pricing) rate(own *float64, market string) (float64, bool) {
	if own != nil && *own >= 0 {
		return *own, true
	}
	if p.Catalog != nil && market != "" {
		if r, ok := p.Catalog.RewardRate(market); ok && r >= 0 {
			return r, true
		}
	}
	if p.NodeRate != nil && *p.NodeRate >= 0 {
		return *p.NodeRate, true
	}
	return 0, false
}

// AggregateView is what the snapshot shows from the ledger.
type AggregateView struct {
	EarningsUSDTotal     float64
	EarningsUSDFinalized float64
	RunningJobID         string
	LatestBenchmark      *Benchmark
}

// Ingest merges raw jobs into a copy of l and returns it with the recomputed
// view and the records finalized or corrected by this call. l is not modified.
func Ingest(l *Ledger, jobs []RawJob, pricing Pricing, now time.Time) (*Ledger, AggregateView, []JobRecord) {
	out := l.Clone()
	var finalized []JobRecord
	running := make([]string, 0, 1)
	seen := make(map[string]bool, len(jobs))

	for _, raw := range jobs {
		if raw.ID == "" || seen[raw.ID] {
			continue
		}
		seen[raw.ID] = true

		rec, exists := out.Jobs[raw.ID]
		if !exists {
			rec = &JobRecord{JobID: raw.ID}
			out.Jobs[raw.ID] = rec
		}
		before := *rec

		switch {
		case raw.TimeEnd > 0 && rec.Finalized && rec.TimeEnd == raw.TimeEnd:
			// identical re-ingestion

		case raw.TimeEnd > 0 && rec.Finalized:
			// correction: recompute, last write wins
			rate, ok := pricing.rate(raw.USDRewardPerHour, firstNonEmpty(raw.Market, rec.Market))
			if !ok && rec.USDRewardPerHour != nil {
				rate, ok = *rec.USDRewardPerHour, true
			}
			if raw.TimeStart > 0 {
				rec.TimeStart = raw.TimeStart
			}
			rec.TimeEnd = raw.TimeEnd
			if ok {
				finalize(rec, rate)
			}

		case raw.TimeEnd > 0:
			if raw.TimeStart > 0 {
				rec.TimeStart = raw.TimeStart
			}
			if raw.Market != "" {
				rec.Market = raw.Market
			}
			rec.TimeEnd = raw.TimeEnd
			if rate, ok := pricing.rate(raw.USDRewardPerHour, rec.Market); ok {
				finalize(rec, rate)
			}

		case rec.Finalized:
			// a finished job is never reverted to running

		default:
			if raw.TimeStart > 0 {
				rec.TimeStart = raw.TimeStart
			}
			if raw.Market != "" {
				rec.Market = raw.Market
			}
			rec.TimeEnd = 0
			rec.RuntimeSeconds = 0
			rec.EarnedUSD = 0
			running = append(running, raw.ID)
		}

		if raw.Benchmark != nil && (rec.Benchmark == nil || !rec.Finalized) {
			b := *raw.Benchmark
			rec.Benchmark = &b
		}

		if !exists || recordChanged(before, *rec) {
			rec.UpdatedAt = now
			if rec.Finalized && (!before.Finalized || before.EarnedUSD != rec.EarnedUSD || before.TimeEnd != rec.TimeEnd) {
				finalized = append(finalized, *rec)
			}
		}
	}

	// price records that ended earlier but had no rate at the time
	for _, rec := range out.Jobs {
		if rec.Finalized || rec.TimeEnd == 0 || seen[rec.JobID] {
			continue
		}
		if rate, ok := pricing.rate(nil, rec.Market); ok {
			finalize(rec, rate)
			rec.UpdatedAt = now
			finalized = append(finalized, *rec)
		}
	}

	out.Running = running
	out.RefreshedAt = now
	prune(out, pricing.MaxRecords, seen)

	sort.Slice(finalized, func(i, j int) bool { return finalized[i].JobID < finalized[j].JobID })
	return out, Aggregate(out, pricing.NodeRate, now), finalized
}

func finalize(rec *JobRecord, rate float64) {
	runtime := rec.TimeEnd - rec.TimeStart
	if rec.TimeStart <= 0 || runtime < 0 {
		runtime = 0
	}
	r := rate
	rec.RuntimeSeconds = runtime
	rec.EarnedUSD = float64(runtime) * rate / 3600
	rec.USDRewardPerHour = &r
	rec.Finalized = true
}

func recordChanged(a, b JobRecord) bool {
	if a.TimeStart != b.TimeStart || a.TimeEnd != b.TimeEnd || a.RuntimeSeconds != b.RuntimeSeconds ||
		a.EarnedUSD != b.EarnedUSD || a.Market != b.Market || a.Finalized != b.Finalized {
		return true
	}
	if (a.USDRewardPerHour == nil) != (b.USDRewardPerHour == nil) ||
		(a.USDRewardPerHour != nil && *a.USDRewardPerHour != *b.USDRewardPerHour) {
		return true
	}
	if (a.Benchmark == nil) != (b.Benchmark == nil) ||
		(a.Benchmark != nil && *a.Benchmark != *b.Benchmark) {
		return true
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Aggregate recomputes the view without ingesting, so the ephemeral estimate
// follows now between refreshes. nodeRate prices the running job.
func Aggregate(l *Ledger, nodeRate *float64, now time.Time) AggregateView {
	var view AggregateView
	if l == nil {
		return view
	}

	var latest *JobRecord
	for _, rec := range l.Jobs {
		if rec.Finalized {
			view.EarningsUSDFinalized += rec.EarnedUSD
		}
		if rec.Benchmark != nil && (latest == nil || rec.TimeStart > latest.TimeStart ||
			(rec.TimeStart == latest.TimeStart && rec.JobID > latest.JobID)) {
			latest = rec
		}
	}
	view.EarningsUSDFinalized += l.PrunedEarningsUSD
	view.EarningsUSDTotal = view.EarningsUSDFinalized

	if latest != nil {
		b := *latest.Benchmark
		view.LatestBenchmark = &b
	}

	if len(l.Running) == 1 {
		id := l.Running[0]
		view.RunningJobID = id
		if rec, ok := l.Jobs[id]; ok && !rec.Finalized && nodeRate != nil && rec.TimeStart > 0 {
			elapsed := now.Unix() - rec.TimeStart
			if elapsed > 0 {
				view.EarningsUSDTotal += float64(elapsed) * *nodeRate / 3600
			}
		}
	}
	return view
}

// prune drops the oldest finalized records beyond limit, carrying their
// earnings so totals stay monotonic. Unpriced records are dropped only when
// no finalized record is left to remove. Records in fetched are kept even
// over the limit: the next fetch would bring them back and count them twice.
func prune(l *Ledger, limit int, fetched map[string]bool) {
	if limit <= 0 {
		limit = DefaultMaxRecords
	}
	excess := len(l.Jobs) - limit
	if excess <= 0 {
		return
	}

	running := make(map[string]bool, len(l.Running))
	for _, id := range l.Running {
		running[id] = true
	}

	var finished, pending []*JobRecord
	for _, rec := range l.Jobs {
		switch {
		case fetched[rec.JobID]:
		case rec.Finalized:
			finished = append(finished, rec)
		case !running[rec.JobID]:
			pending = append(pending, rec)
		}
	}
	sort.Slice(finished, func(i, j int) bool {
		if finished[i].TimeEnd != finished[j].TimeEnd {
			return finished[i].TimeEnd < finished[j].TimeEnd
		}
		return finished[i].JobID < finished[j].JobID
	})
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].TimeStart != pending[j].TimeStart {
			return pending[i].TimeStart < pending[j].TimeStart
		}
		return pending[i].JobID < pending[j].JobID
	})

	for _, rec := range append(finished, pending...) {
		if excess == 0 {
			break
		}
		if rec.Finalized {
			l.PrunedEarningsUSD += rec.EarnedUSD
		}
		delete(l.Jobs, rec.JobID)
		excess--
	}
}
