// Package coordinator drives the per-node poll cycle: it fetches every
// upstream source, normalizes the node status, keeps the job ledger current
// and publishes one consistent snapshot per tick.
//
// A tick never fails as a whole. Each source degrades only the fields it
// feeds; a failed info fetch is the one case that forces the node offline.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-version"

	"github.com/aceteam-ai/nosana-monitor/internal/ledger"
	"github.com/aceteam-ai/nosana-monitor/internal/markets"
	"github.com/aceteam-ai/nosana-monitor/internal/nosana"
	"github.com/aceteam-ai/nosana-monitor/internal/status"
)

// Error sources recorded in snapshot.Errors.
const (
	SourceInfo    = "info"
	SourceSpecs   = "specs"
	SourceMarkets = "markets"
	SourceJobs    = "jobs"
	SourceQueue   = "queue"
	SourceLedger  = "ledger"
)

// Config holds the configuration of one node's coordinator.
type Config struct {
	// Address is the node's public key
	Address string

	// Name is the display name published with every snapshot
	Name string

	// PollInterval is the time between ticks (default: 30s)
	PollInterval time.Duration

	// LedgerTTL is the maximum age of the ledger before a refresh (default: 15m)
	LedgerTTL time.Duration

	// MaxRecords caps the ledger size (default: ledger.DefaultMaxRecords)
	MaxRecords int

	Upstream Upstream
	Markets  MarketSource
	Ledger   LedgerStore

	// Queue is optional; a nil or disabled source omits queue positions
	Queue QueueSource

	// History is optional; it receives finalized and corrected jobs
	History HistoryRecorder

	// Publishers receive every snapshot and transition
	Publishers []Publisher

	// Now overrides the clock (tests)
	Now func() time.Time

	// LogFn is an optional callback for logging (nil means silent)
	LogFn func(level, msg string)
}

// Coordinator owns one node's snapshot and ledger.
type Coordinator struct {
	address      string
	name         string
	pollInterval time.Duration
	ledgerTTL    time.Duration
	maxRecords   int

	upstream   Upstream
	markets    MarketSource
	store      LedgerStore
	queue      QueueSource
	history    HistoryRecorder
	publishers []Publisher

	now   func() time.Time
	logFn func(level, msg string)

	current atomic.Pointer[status.NodeSnapshot]

	// tickMu serializes ticks; the fields below are only touched under it.
	tickMu         sync.Mutex
	ledger         *ledger.Ledger
	ledgerLoaded   bool
	dirty          bool // ledger changed in memory but not yet saved
	refreshPending bool // a transition asked for a refresh that has not succeeded
	sequence       uint64
	nodeVersion    *version.Version
}

// New creates a coordinator. Upstream, Markets and Ledger are required.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Address == "" {
		return nil, errors.New("node address is required")
	}
	if cfg.Upstream == nil || cfg.Markets == nil || cfg.Ledger == nil {
		return nil, fmt.Errorf("coordinator for %s: upstream, markets and ledger store are required", cfg.Address)
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.LedgerTTL == 0 {
		cfg.LedgerTTL = 15 * time.Minute
	}
	if cfg.MaxRecords == 0 {
		cfg.MaxRecords = ledger.DefaultMaxRecords
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Coordinator{
		address:      cfg.Address,
		name:         cfg.Name,
		pollInterval: cfg.PollInterval,
		ledgerTTL:    cfg.LedgerTTL,
		maxRecords:   cfg.MaxRecords,
		upstream:     cfg.Upstream,
		markets:      cfg.Markets,
		store:        cfg.Ledger,
		queue:        cfg.Queue,
		history:      cfg.History,
		publishers:   cfg.Publishers,
		now:          cfg.Now,
		logFn:        cfg.LogFn,
	}, nil
}

func (c *Coordinator) log(level, format string, args ...any) {
	if c.logFn != nil {
		c.logFn(level, fmt.Sprintf("[%s] ", c.label())+fmt.Sprintf(format, args...))
	}
}

func (c *Coordinator) label() string {
	if c.name != "" {
		return c.name
	}
	return c.address
}

// Address returns the monitored node's address.
func (c *Coordinator) Address() string {
	return c.address
}

// Name returns the node's display name.
func (c *Coordinator) Name() string {
	return c.name
}

// Snapshot returns the latest published snapshot, or nil before the first tick.
// The returned snapshot is never modified.
func (c *Coordinator) Snapshot() *status.NodeSnapshot {
	return c.current.Load()
}

// Run ticks immediately and then every PollInterval until ctx is cancelled.
// Ticks never overlap.
func (c *Coordinator) Run(ctx context.Context) error {
	c.Tick(ctx)

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}

// fetched holds the results of the concurrent fetch phase.
type fetched struct {
	info       *nosana.NodeInfo
	infoErr    error
	specs      *nosana.NodeSpecs
	specsErr   error
	catalog    *markets.Catalog
	catalogErr error
}

// Tick runs one poll cycle and returns the snapshot it published.
func (c *Coordinator) Tick(ctx context.Context) *status.NodeSnapshot {
	c.tickMu.Lock()
	defer c.tickMu.Unlock()

	now := c.now()
	prev := c.current.Load()
	errs := make(map[string]string)

	c.loadLedger()

	// Phase 1: independent sources
	f := c.fetchSources(ctx)
	if f.infoErr != nil {
		errs[SourceInfo] = f.infoErr.Error()
		c.log("warning", "info fetch failed: %v", f.infoErr)
	}
	if f.specsErr != nil {
		errs[SourceSpecs] = f.specsErr.Error()
		c.log("warning", "specs fetch failed: %v", f.specsErr)
	}
	if f.catalogErr != nil {
		errs[SourceMarkets] = f.catalogErr.Error()
		c.log("warning", "markets fetch failed: %v", f.catalogErr)
	}

	// Phase 2: status, node fields, market join
	st := status.Normalize(f.info, f.specs)
	snap := &status.NodeSnapshot{
		Address:   c.address,
		Name:      c.name,
		Status:    st,
		UpdatedAt: now,
	}
	c.applyInfo(snap, f.info)
	c.applySpecs(snap, f.specs, prev)

	marketAddr := c.marketAddress(f.specs, prev)
	snap.Market = joinMarket(marketAddr, f.catalog, f.catalogErr, prev)
	var nodeRate *float64
	if snap.Market != nil {
		nodeRate = snap.Market.USDRewardPerHour
	}

	changed := prev != nil && prev.Status != st
	if changed {
		c.refreshPending = true
	}

	// Phase 3: ledger refresh and queue position
	var (
		wg       sync.WaitGroup
		position *int
		queueErr error
		queued   bool
	)
	if c.queue != nil && c.queue.Enabled() && marketAddr != "" {
		queued = true
		wg.Add(1)
		go func() {
			defer wg.Done()
			position, queueErr = c.queue.FetchPosition(ctx, marketAddr, c.address)
		}()
	}
	if reason, due := c.refreshDue(now); due {
		c.refreshLedger(ctx, reason, f.catalog, nodeRate, now, errs)
	} else if c.dirty {
		c.saveLedger(errs)
	}
	wg.Wait()

	if queued {
		if queueErr != nil {
			errs[SourceQueue] = queueErr.Error()
			c.log("debug", "queue position unavailable: %v", queueErr)
		} else {
			snap.QueuePosition = position
		}
	}

	// Phase 4: earnings
	if c.ledger.Known() {
		view := ledger.Aggregate(c.ledger, nodeRate, now)
		total, finalized := view.EarningsUSDTotal, view.EarningsUSDFinalized
		snap.EarningsUSDTotal = &total
		snap.EarningsUSDFinalized = &finalized
		if view.RunningJobID != "" {
			id := view.RunningJobID
			snap.RunningJobID = &id
		}
		if view.LatestBenchmark != nil {
			snap.Benchmark = &status.Benchmark{
				TokensPerSecond: view.LatestBenchmark.TokensPerSecond,
				ModelID:         view.LatestBenchmark.ModelID,
			}
		}
		refreshed := c.ledger.RefreshedAt
		snap.LedgerRefreshedAt = &refreshed
	}

	// Phase 5: publish
	c.sequence++
	snap.Sequence = c.sequence
	if len(errs) > 0 {
		snap.Errors = errs
		snap.Degraded = true
	}
	c.current.Store(snap)

	var tr *status.Transition
	if changed {
		tr = &status.Transition{
			Address: c.address,
			Name:    c.name,
			From:    prev.Status,
			To:      st,
			At:      now,
		}
		c.log("info", "status changed: %s -> %s", prev.Status, st)
	}
	c.publish(ctx, snap, tr)

	return snap
}

// fetchSources runs the info, specs and markets fetches concurrently.
func (c *Coordinator) fetchSources(ctx context.Context) fetched {
	var (
		f  fetched
		wg sync.WaitGroup
	)
	wg.Add(3)
	go func() {
		defer wg.Done()
		f.info, f.infoErr = c.upstream.FetchInfo(ctx, c.address)
	}()
	go func() {
		defer wg.Done()
		f.specs, f.specsErr = c.upstream.FetchSpecs(ctx, c.address)
	}()
	go func() {
		defer wg.Done()
		f.catalog, f.catalogErr = c.markets.Get(ctx)
	}()
	wg.Wait()

	if f.infoErr != nil {
		f.info = nil
	}
	if f.specsErr != nil {
		f.specs = nil
	}
	if f.catalogErr != nil {
		f.catalog = nil
	}
	return f
}

// applyInfo copies the node's self-reported fields. They stay absent when the
// info fetch failed.
func (c *Coordinator) applyInfo(snap *status.NodeSnapshot, info *nosana.NodeInfo) {
	if info == nil {
		return
	}
	snap.UptimeSeconds = nonNegativeInt(info.Uptime.IntPtr())
	snap.Version = c.trackVersion(info.Info.Version.Ptr())
	snap.Model = info.Info.Model.Ptr()
	snap.Country = info.Info.Country.Ptr()
	snap.PingMs = nonNegative(info.Info.Network.PingMs.FloatPtr())
	snap.DownloadMbps = nonNegative(info.Info.Network.DownloadMbps.FloatPtr())
	snap.UploadMbps = nonNegative(info.Info.Network.UploadMbps.FloatPtr())
}

// applySpecs fills hardware from specs, or carries the previous hardware when
// the specs fetch failed.
func (c *Coordinator) applySpecs(snap *status.NodeSnapshot, specs *nosana.NodeSpecs, prev *status.NodeSnapshot) {
	if specs == nil {
		if prev != nil {
			snap.Hardware = prev.Hardware
			if snap.Country == nil {
				snap.Country = prev.Country
			}
		}
		return
	}
	if snap.Country == nil {
		snap.Country = specs.Country.Ptr()
	}
	snap.Hardware = hardwareFrom(specs)
}

func hardwareFrom(specs *nosana.NodeSpecs) *status.HardwareSpecs {
	hw := &status.HardwareSpecs{
		RAMMB:         nonNegative(specs.RAM.FloatPtr()),
		DiskGB:        nonNegative(specs.DiskSpace.FloatPtr()),
		CPU:           specs.CPU.Ptr(),
		LogicalCores:  nonNegativeInt(specs.LogicalCores.IntPtr()),
		PhysicalCores: nonNegativeInt(specs.PhysicalCores.IntPtr()),
		GPUModel:      specs.GPUModel(),
		GPUMemoryMB:   nonNegative(specs.MemoryGPU.FloatPtr()),
	}
	if hw.GPUMemoryMB == nil {
		if gpus := specs.GPUList(); len(gpus) > 0 {
			hw.GPUMemoryMB = nonNegative(gpus[0].Memory.FloatPtr())
		}
	}
	if *hw == (status.HardwareSpecs{}) {
		return nil
	}
	return hw
}

// marketAddress is the specs market, or the previous one when specs failed.
func (c *Coordinator) marketAddress(specs *nosana.NodeSpecs, prev *status.NodeSnapshot) string {
	if specs != nil {
		return specs.MarketAddress.String()
	}
	if prev != nil && prev.Market != nil {
		return prev.Market.Address
	}
	return ""
}

// joinMarket resolves the market fields from the catalog. When the catalog is
// unavailable the previous fields for the same market are kept.
func joinMarket(addr string, cat *markets.Catalog, catErr error, prev *status.NodeSnapshot) *status.MarketInfo {
	if addr == "" {
		return nil
	}
	if catErr != nil || cat == nil {
		if prev != nil && prev.Market != nil && prev.Market.Address == addr {
			return prev.Market
		}
		return &status.MarketInfo{Address: addr}
	}

	m, ok := cat.Lookup(addr)
	if !ok {
		return &status.MarketInfo{Address: addr}
	}
	return &status.MarketInfo{
		Address:            addr,
		Name:               m.DisplayName(),
		Type:               m.Type.Ptr(),
		NosRewardPerSecond: nonNegative(m.NosRewardPerSecond.FloatPtr()),
		USDRewardPerHour:   nonNegative(m.UsdRewardPerHour.FloatPtr()),
	}
}

// trackVersion normalizes the reported version and logs upgrades once.
func (c *Coordinator) trackVersion(raw *string) *string {
	if raw == nil {
		return nil
	}
	v, err := version.NewVersion(*raw)
	if err != nil {
		return raw
	}
	if c.nodeVersion != nil && !v.Equal(c.nodeVersion) {
		verb := "upgraded"
		if v.LessThan(c.nodeVersion) {
			verb = "downgraded"
		}
		c.log("info", "node software %s: %s -> %s", verb, c.nodeVersion, v)
	}
	c.nodeVersion = v
	s := v.String()
	return &s
}

// loadLedger reads the durable ledger on the first tick.
func (c *Coordinator) loadLedger() {
	if c.ledgerLoaded {
		return
	}
	c.ledgerLoaded = true

	l, err := c.store.Load(c.address)
	switch {
	case errors.Is(err, ledger.ErrStorageCorrupt):
		c.log("warning", "ledger reset: %v", err)
	case err != nil:
		c.log("warning", "ledger load failed, starting empty: %v", err)
	}
	if l == nil {
		l = ledger.New(c.address)
	}
	c.ledger = l
}

// refreshDue reports whether the jobs endpoint must be polled this tick.
func (c *Coordinator) refreshDue(now time.Time) (string, bool) {
	switch {
	case !c.ledger.Known():
		return "initial", true
	case c.refreshPending:
		return "status change", true
	case now.Sub(c.ledger.RefreshedAt) >= c.ledgerTTL:
		return "ttl", true
	}
	return "", false
}

// refreshLedger fetches jobs and ingests them. On failure the in-memory
// ledger, and with it the previous aggregate, is kept.
func (c *Coordinator) refreshLedger(ctx context.Context, reason string, cat *markets.Catalog, nodeRate *float64, now time.Time, errs map[string]string) {
	jobs, err := c.upstream.FetchJobs(ctx, c.address)
	if err != nil {
		errs[SourceJobs] = err.Error()
		c.log("warning", "jobs fetch failed (%s refresh): %v", reason, err)
		if c.dirty {
			c.saveLedger(errs)
		}
		return
	}

	raw := make([]ledger.RawJob, 0, len(jobs))
	for _, j := range jobs {
		raw = append(raw, ledger.RawJobFrom(j))
	}
	pricing := ledger.Pricing{NodeRate: nodeRate, MaxRecords: c.maxRecords}
	if cat != nil {
		pricing.Catalog = cat
	}

	next, _, finalized := ledger.Ingest(c.ledger, raw, pricing, now)
	c.ledger = next
	c.refreshPending = false
	c.dirty = true
	c.log("debug", "ledger refreshed (%s): %d jobs, %d finalized", reason, len(jobs), len(finalized))

	c.saveLedger(errs)

	if c.history != nil && len(finalized) > 0 {
		if err := c.history.RecordJobs(ctx, c.address, finalized); err != nil {
			c.log("warning", "failed to archive %d jobs: %v", len(finalized), err)
		}
	}
}

// saveLedger persists the in-memory ledger. A failure leaves it dirty so the
// next tick retries; the snapshot never waits on it.
func (c *Coordinator) saveLedger(errs map[string]string) {
	if err := c.store.Save(c.ledger); err != nil {
		errs[SourceLedger] = err.Error()
		c.log("error", "ledger save failed: %v", err)
		return
	}
	c.dirty = false
}

func (c *Coordinator) publish(ctx context.Context, snap *status.NodeSnapshot, tr *status.Transition) {
	for _, p := range c.publishers {
		if err := p.PublishSnapshot(ctx, snap); err != nil {
			c.log("warning", "snapshot publish failed: %v", err)
		}
		if tr == nil {
			continue
		}
		if err := p.PublishTransition(ctx, *tr); err != nil {
			c.log("warning", "transition publish failed: %v", err)
		}
	}
}

func nonNegative(v *float64) *float64 {
	if v == nil || *v < 0 {
		return nil
	}
	return v
}

func nonNegativeInt(v *int64) *int64 {
	if v == nil || *v < 0 {
		return nil
	}
	return v
}
