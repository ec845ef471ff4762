package pool

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/trenchlab/trenchwatch/internal/screener"
)

// ---------------------------------------------------------------------------
// Candidate Pool — bounded, time-retained, deduplicated pair collection
// ---------------------------------------------------------------------------

// Config configures the candidate pool.
type Config struct {
	// Maximum number of tracked pairs.
	MaxSize int `yaml:"max_size"`

	// Members older than this (by pool entry) are evicted each cycle.
	RetentionSec int `yaml:"retention_sec"`

	// Score blend weights: liquidity vs 24h volume.
	WeightLiquidity float64 `yaml:"weight_liquidity"`
	WeightVolume    float64 `yaml:"weight_volume"`
}

// DefaultConfig returns the stock pool parameters.
func DefaultConfig() Config {
	return Config{
		MaxSize:         1000,
		RetentionSec:    6 * 3600,
		WeightLiquidity: 1.0,
		WeightVolume:    1.0,
	}
}

// Record is one pool member. The metrics snapshot in Candidate.Pair is
// always the most recent successful fetch; a failed recheck never
// overwrites it.
type Record struct {
	Candidate     screener.Candidate
	FirstSeenAt   time.Time
	LastCheckedAt time.Time
	PoolEnteredAt time.Time

	// cycle of the last refresh; refreshed members are never evicted
	// for capacity within the same cycle.
	refreshCycle uint64
}

// Score is the liquidity/volume blend used for hot-set ranking and
// capacity eviction. Never used for eligibility.
func (r *Record) Score(cfg Config) float64 {
	liq := r.Candidate.Pair.LiquidityUSD()
	vol := 0.0
	if r.Candidate.Pair.Volume.H24 != nil {
		vol = *r.Candidate.Pair.Volume.H24
	}
	return liq*cfg.WeightLiquidity + vol*cfg.WeightVolume
}

// Pool is the deduplicated candidate set, keyed by lowercase pair address.
type Pool struct {
	mu      sync.RWMutex
	config  Config
	records map[string]*Record
	cycle   uint64

	evictedRetention int64
	evictedCapacity  int64
}

// New creates an empty pool.
func New(config Config) *Pool {
	if config.MaxSize <= 0 {
		config.MaxSize = 1000
	}
	return &Pool{
		config:  config,
		records: make(map[string]*Record),
	}
}

// BeginCycle advances the refresh epoch. Merges after this call mark their
// records as refreshed in the new cycle.
func (p *Pool) BeginCycle() {
	p.mu.Lock()
	p.cycle++
	p.mu.Unlock()
}

// Merge folds a batch of candidates into the pool. Rediscovered pairs keep
// their identity: metrics and LastCheckedAt are overwritten, FirstSeenAt and
// PoolEnteredAt are preserved. If admission would exceed capacity, the
// lowest-scored members not refreshed this cycle are evicted first.
func (p *Pool) Merge(candidates []screener.Candidate, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, cand := range candidates {
		key := cand.Key()
		if rec, ok := p.records[key]; ok {
			rec.Candidate = cand
			rec.LastCheckedAt = now
			rec.refreshCycle = p.cycle
			continue
		}
		if len(p.records) >= p.config.MaxSize && !p.evictLowestLocked() {
			// Every member was refreshed this cycle; the pool is full of
			// live candidates, so the newcomer is dropped.
			continue
		}
		p.records[key] = &Record{
			Candidate:     cand,
			FirstSeenAt:   now,
			LastCheckedAt: now,
			PoolEnteredAt: now,
			refreshCycle:  p.cycle,
		}
	}
}

// evictLowestLocked removes the lowest-scored member that was not refreshed
// in the current cycle. Ties break toward the stalest LastCheckedAt.
func (p *Pool) evictLowestLocked() bool {
	var victim string
	var victimScore float64
	var victimChecked time.Time
	found := false

	for key, rec := range p.records {
		if rec.refreshCycle == p.cycle {
			continue
		}
		score := rec.Score(p.config)
		if !found || score < victimScore ||
			(score == victimScore && rec.LastCheckedAt.Before(victimChecked)) {
			victim, victimScore, victimChecked = key, score, rec.LastCheckedAt
			found = true
		}
	}
	if !found {
		return false
	}
	delete(p.records, victim)
	p.evictedCapacity++
	return true
}

// EvictExpired removes members past the retention window. Run at the start
// of each cycle.
func (p *Pool) EvictExpired(now time.Time) int {
	retention := time.Duration(p.config.RetentionSec) * time.Second

	p.mu.Lock()
	defer p.mu.Unlock()

	removed := 0
	for key, rec := range p.records {
		if now.Sub(rec.PoolEnteredAt) > retention {
			delete(p.records, key)
			removed++
		}
	}
	if removed > 0 {
		p.evictedRetention += int64(removed)
		log.Debug().Int("removed", removed).Int("remaining", len(p.records)).
			Msg("pool: retention eviction")
	}
	return removed
}

// HotSet returns the top-n members by score, ties broken by most recent
// LastCheckedAt. These are rechecked every cycle regardless of discovery
// coverage.
func (p *Pool) HotSet(n int) []Record {
	p.mu.RLock()
	defer p.mu.RUnlock()

	members := make([]Record, 0, len(p.records))
	for _, rec := range p.records {
		members = append(members, *rec)
	}
	sort.Slice(members, func(i, j int) bool {
		si, sj := members[i].Score(p.config), members[j].Score(p.config)
		if si != sj {
			return si > sj
		}
		return members[i].LastCheckedAt.After(members[j].LastCheckedAt)
	})
	if n > len(members) {
		n = len(members)
	}
	return members[:n]
}

// Get returns a copy of the record for a pair address, if present.
func (p *Pool) Get(pairAddress string) (Record, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	rec, ok := p.records[screener.Candidate{PairAddress: pairAddress}.Key()]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Config returns the pool's configuration.
func (p *Pool) Config() Config {
	return p.config
}

// Len reports the current member count.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.records)
}

// Snapshot returns a copy of every member, for persistence.
func (p *Pool) Snapshot() []Record {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Record, 0, len(p.records))
	for _, rec := range p.records {
		out = append(out, *rec)
	}
	return out
}

// Restore seeds the pool from persisted records, preserving timestamps.
// Intended for startup; capacity still applies.
func (p *Pool) Restore(records []Record) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range records {
		if len(p.records) >= p.config.MaxSize {
			break
		}
		rec := records[i]
		p.records[rec.Candidate.Key()] = &rec
	}
}

// Stats reports pool counters.
type Stats struct {
	Size             int   `json:"size"`
	EvictedRetention int64 `json:"evicted_retention"`
	EvictedCapacity  int64 `json:"evicted_capacity"`
}

func (p *Pool) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return Stats{
		Size:             len(p.records),
		EvictedRetention: p.evictedRetention,
		EvictedCapacity:  p.evictedCapacity,
	}
}
