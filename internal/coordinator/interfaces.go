package coordinator

import (
	"context"

	"github.com/aceteam-ai/nosana-monitor/internal/ledger"
	"github.com/aceteam-ai/nosana-monitor/internal/markets"
	"github.com/aceteam-ai/nosana-monitor/internal/nosana"
	"github.com/aceteam-ai/nosana-monitor/internal/status"
)

// Upstream is the set of per-node endpoints. *nosana.Client satisfies it.
type Upstream interface {
	FetchInfo(ctx context.Context, address string) (*nosana.NodeInfo, error)
	FetchSpecs(ctx context.Context, address string) (*nosana.NodeSpecs, error)
	FetchJobs(ctx context.Context, address string) ([]nosana.Job, error)
}

// MarketSource serves the shared market catalog. *markets.Cache satisfies it.
type MarketSource interface {
	Get(ctx context.Context) (*markets.Catalog, error)
}

// QueueSource reports a node's position in its market queue.
// *chain.QueueClient satisfies it.
type QueueSource interface {
	Enabled() bool
	FetchPosition(ctx context.Context, market, node string) (*int, error)
}

// LedgerStore persists ledgers. *ledger.Store satisfies it.
type LedgerStore interface {
	Load(address string) (*ledger.Ledger, error)
	Save(l *ledger.Ledger) error
}

// Publisher receives every snapshot and transition. The status server and the
// Redis and webhook publishers satisfy it.
type Publisher interface {
	PublishSnapshot(ctx context.Context, snap *status.NodeSnapshot) error
	PublishTransition(ctx context.Context, tr status.Transition) error
}

// HistoryRecorder archives finalized jobs. *history.Store satisfies it.
type HistoryRecorder interface {
	RecordJobs(ctx context.Context, address string, records []ledger.JobRecord) error
}
