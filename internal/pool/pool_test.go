package pool

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trenchlab/trenchwatch/internal/dexscreener"
	"github.com/trenchlab/trenchwatch/internal/screener"
)

func f64(v float64) *float64 { return &v }

func candidate(pairAddr string, liquidity, vol24 float64) screener.Candidate {
	return screener.Candidate{
		PairAddress:  pairAddr,
		ChainID:      "solana",
		TokenAddress: "tok-" + pairAddr,
		Source:       "market:WSOL",
		Pair: dexscreener.Pair{
			PairAddress: pairAddr,
			Liquidity:   &dexscreener.Liquidity{USD: liquidity},
			Volume:      dexscreener.Volume{H24: f64(vol24)},
		},
	}
}

func TestMerge_AdmitsAndDeduplicates(t *testing.T) {
	p := New(DefaultConfig())
	now := time.Now()

	p.Merge([]screener.Candidate{
		candidate("A", 100, 0),
		candidate("a", 200, 0), // same pair, different case
		candidate("B", 300, 0),
	}, now)

	assert.Equal(t, 2, p.Len())
	rec, ok := p.Get("A")
	require.True(t, ok)
	assert.Equal(t, 200.0, rec.Candidate.Pair.LiquidityUSD())
}

func TestMerge_RediscoveryKeepsIdentity(t *testing.T) {
	p := New(DefaultConfig())
	t0 := time.Now()

	p.Merge([]screener.Candidate{candidate("A", 100, 0)}, t0)

	t1 := t0.Add(40 * time.Second)
	p.BeginCycle()
	p.Merge([]screener.Candidate{candidate("A", 150, 500)}, t1)

	rec, ok := p.Get("A")
	require.True(t, ok)
	assert.Equal(t, t0, rec.FirstSeenAt)
	assert.Equal(t, t0, rec.PoolEnteredAt)
	assert.Equal(t, t1, rec.LastCheckedAt)
	assert.Equal(t, 150.0, rec.Candidate.Pair.LiquidityUSD())
}

func TestMerge_IdempotentWithinCycle(t *testing.T) {
	p := New(DefaultConfig())
	now := time.Now()
	batch := []screener.Candidate{candidate("A", 100, 0), candidate("B", 50, 0)}

	p.Merge(batch, now)
	p.Merge(batch, now)

	assert.Equal(t, 2, p.Len())
	rec, _ := p.Get("A")
	assert.Equal(t, now, rec.FirstSeenAt)
}

func TestMerge_CapacityEvictsLowestScore(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSize = 3
	p := New(cfg)
	t0 := time.Now()

	p.Merge([]screener.Candidate{
		candidate("LOW", 10, 0),
		candidate("MID", 100, 0),
		candidate("HIGH", 1000, 0),
	}, t0)

	// Next cycle: only MID and HIGH are re-sighted; the newcomer bumps LOW.
	p.BeginCycle()
	p.Merge([]screener.Candidate{
		candidate("MID", 100, 0),
		candidate("HIGH", 1000, 0),
		candidate("NEW", 50, 0),
	}, t0.Add(20*time.Second))

	assert.Equal(t, 3, p.Len())
	_, ok := p.Get("LOW")
	assert.False(t, ok)
	_, ok = p.Get("NEW")
	assert.True(t, ok)
}

func TestMerge_FullOfRefreshedMembersDropsNewcomer(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSize = 2
	p := New(cfg)
	now := time.Now()

	p.BeginCycle()
	p.Merge([]screener.Candidate{
		candidate("A", 10, 0),
		candidate("B", 20, 0),
		candidate("C", 9999, 0), // arrives when every slot was refreshed this cycle
	}, now)

	assert.Equal(t, 2, p.Len())
	_, ok := p.Get("C")
	assert.False(t, ok)
}

func TestEvictExpired_RetentionWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetentionSec = 3600
	p := New(cfg)
	t0 := time.Now()

	p.Merge([]screener.Candidate{candidate("OLD", 100, 0)}, t0)
	p.Merge([]screener.Candidate{candidate("FRESH", 100, 0)}, t0.Add(50*time.Minute))

	removed := p.EvictExpired(t0.Add(61 * time.Minute))
	assert.Equal(t, 1, removed)
	_, ok := p.Get("OLD")
	assert.False(t, ok)
	_, ok = p.Get("FRESH")
	assert.True(t, ok)
}

func TestEvictExpired_RediscoveryDoesNotExtendRetention(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetentionSec = 3600
	p := New(cfg)
	t0 := time.Now()

	p.Merge([]screener.Candidate{candidate("A", 100, 0)}, t0)
	// Re-sighted continuously, but PoolEnteredAt stays t0.
	p.Merge([]screener.Candidate{candidate("A", 100, 0)}, t0.Add(59*time.Minute))

	removed := p.EvictExpired(t0.Add(61 * time.Minute))
	assert.Equal(t, 1, removed)
}

func TestHotSet_RanksByScore(t *testing.T) {
	p := New(DefaultConfig())
	now := time.Now()

	p.Merge([]screener.Candidate{
		candidate("A", 10, 10),
		candidate("B", 500, 500),
		candidate("C", 100, 100),
	}, now)

	hot := p.HotSet(2)
	require.Len(t, hot, 2)
	assert.Equal(t, "B", hot[0].Candidate.PairAddress)
	assert.Equal(t, "C", hot[1].Candidate.PairAddress)
}

func TestHotSet_TieBreaksOnRecency(t *testing.T) {
	p := New(DefaultConfig())
	t0 := time.Now()

	p.Merge([]screener.Candidate{candidate("STALE", 100, 0)}, t0)
	p.Merge([]screener.Candidate{candidate("RECENT", 100, 0)}, t0.Add(time.Minute))

	hot := p.HotSet(1)
	require.Len(t, hot, 1)
	assert.Equal(t, "RECENT", hot[0].Candidate.PairAddress)
}

func TestHotSet_NLargerThanPool(t *testing.T) {
	p := New(DefaultConfig())
	p.Merge([]screener.Candidate{candidate("A", 1, 0)}, time.Now())
	assert.Len(t, p.HotSet(50), 1)
}

func TestScore_WeightBlend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WeightLiquidity = 2
	cfg.WeightVolume = 0.5
	rec := Record{Candidate: candidate("A", 100, 40)}
	assert.Equal(t, 220.0, rec.Score(cfg))
}

func TestSnapshotRestore_RoundTrip(t *testing.T) {
	p := New(DefaultConfig())
	t0 := time.Now()
	p.Merge([]screener.Candidate{candidate("A", 100, 0), candidate("B", 50, 0)}, t0)

	snap := p.Snapshot()
	require.Len(t, snap, 2)

	restored := New(DefaultConfig())
	restored.Restore(snap)
	assert.Equal(t, 2, restored.Len())
	rec, ok := restored.Get("A")
	require.True(t, ok)
	assert.Equal(t, t0, rec.FirstSeenAt)
}

func TestRestore_RespectsCapacity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSize = 2
	p := New(cfg)

	var records []Record
	for i := 0; i < 5; i++ {
		records = append(records, Record{Candidate: candidate(fmt.Sprintf("P%d", i), 1, 0)})
	}
	p.Restore(records)
	assert.Equal(t, 2, p.Len())
}

func TestStats_TracksEvictionCauses(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxSize = 1
	cfg.RetentionSec = 60
	p := New(cfg)
	t0 := time.Now()

	p.Merge([]screener.Candidate{candidate("A", 10, 0)}, t0)
	p.BeginCycle()
	p.Merge([]screener.Candidate{candidate("B", 100, 0)}, t0.Add(time.Second))
	p.EvictExpired(t0.Add(5 * time.Minute))

	stats := p.Stats()
	assert.Equal(t, int64(1), stats.EvictedCapacity)
	assert.Equal(t, int64(1), stats.EvictedRetention)
	assert.Equal(t, 0, stats.Size)
}
