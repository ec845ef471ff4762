package storage

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/trenchlab/trenchwatch/internal/screener"
)

// ---------------------------------------------------------------------------
// State Store — persistence interface consumed by the scan engine
// ---------------------------------------------------------------------------

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("storage: not found")

// TokenState is the persistent per-token record. It outlives pool
// membership: eligibility history is needed for dedupe and re-arming even
// after a pair is evicted from the pool. Timestamps are unix seconds.
type TokenState struct {
	TokenAddress  string
	ChainID       string
	FirstSeenAt   int64
	LastCheckedAt int64

	Eligibility screener.State

	// First-eligibility snapshot and call-performance tracking.
	EligibleFirstAt      int64
	EligibleFirstMetrics string // JSON metrics snapshot
	LastSeenMetrics      string // JSON metrics snapshot
	LastName             string
	LastSymbol           string
	CalledPriceUSD       decimal.NullDecimal
	MaxPriceUSD          decimal.NullDecimal
	MaxMarketCap         decimal.NullDecimal
	Hit2xAt              int64
	Hit3xAt              int64
	Hit5xAt              int64
}

// PoolEntry is one persisted candidate-pool member.
type PoolEntry struct {
	PairAddress  string
	ChainID      string
	TokenAddress string
	Source       string
	HotScore     float64
	FirstSeenAt  int64
	LastSeenAt   int64
	MetricsJSON  string
}

// OperationalState is the process-wide control state. The scan engine reads
// it once per cycle; the command surface (external collaborator) writes it.
type OperationalState struct {
	Paused    bool
	MuteUntil int64
}

// Store is the persistence boundary for the scan engine.
type Store interface {
	// Token eligibility state.
	GetToken(ctx context.Context, tokenAddress string) (*TokenState, error)
	UpsertTokenSeen(ctx context.Context, tokenAddress, chainID string, now int64) error
	UpdateTokenState(ctx context.Context, state *TokenState) error
	UpdateAlerted(ctx context.Context, tokenAddress string, now int64) error
	TokensForPerformanceRefresh(ctx context.Context, limit int, minFirstAt int64) ([]TokenState, error)

	// Candidate pool snapshot.
	UpsertPoolEntry(ctx context.Context, entry PoolEntry) error
	PurgePool(ctx context.Context, minSeenAt int64) error
	TrimPool(ctx context.Context, maxSize int) error
	LoadPool(ctx context.Context, limit int, minSeenAt int64) ([]PoolEntry, error)

	// Operational flags and counters.
	GetOperationalState(ctx context.Context) (OperationalState, error)
	SetPaused(ctx context.Context, paused bool) error
	SetMuteUntil(ctx context.Context, until int64) error
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error
	IncrementCounter(ctx context.Context, key string, delta int64) (int64, error)

	Close() error
}
