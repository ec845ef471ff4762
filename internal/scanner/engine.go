package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/trenchlab/trenchwatch/internal/alert"
	"github.com/trenchlab/trenchwatch/internal/dexscreener"
	"github.com/trenchlab/trenchwatch/internal/discovery"
	"github.com/trenchlab/trenchwatch/internal/observability"
	"github.com/trenchlab/trenchwatch/internal/pool"
	"github.com/trenchlab/trenchwatch/internal/screener"
	"github.com/trenchlab/trenchwatch/internal/storage"
)

// ---------------------------------------------------------------------------
// Scan Engine — the periodic discover/refresh/evaluate/alert cycle
// ---------------------------------------------------------------------------

// Config configures the scan engine.
type Config struct {
	ChainID        string
	IntervalSec    int
	HotRecheckTopN int
	MaxPerScan     int
	Tagline        string
	Filters        screener.FilterConfig
	UseFDVProxy    bool
	Policy         screener.AlertPolicy
}

// MarketAPI is the slice of the market client the engine consumes.
type MarketAPI interface {
	Pair(ctx context.Context, chainID, pairID string) (*dexscreener.Pair, error)
	TokenPairs(ctx context.Context, chainID, tokenAddress string) ([]dexscreener.Pair, error)
}

// Engine drives the scan loop: discovery feeds the candidate pool, the hot
// set is refreshed upstream, every pooled token is evaluated, and
// eligibility transitions are turned into alerts under the configured
// policy.
type Engine struct {
	config    Config
	client    MarketAPI
	discovery *discovery.Engine
	pool      *pool.Pool
	store     storage.Store
	notifier  alert.Notifier
	metrics   *observability.Metrics

	scanning     atomic.Bool
	lastScanUnix atomic.Int64

	scansDone      atomic.Int64
	scansSkipped   atomic.Int64
	alertsEmitted  atomic.Int64
	alertsHeldBack atomic.Int64
}

// New creates a scan engine. metrics may be nil (tests).
func New(config Config, client MarketAPI, disc *discovery.Engine, candidatePool *pool.Pool,
	store storage.Store, notifier alert.Notifier, metrics *observability.Metrics) *Engine {
	if config.MaxPerScan <= 0 {
		config.MaxPerScan = 5
	}
	return &Engine{
		config:    config,
		client:    client,
		discovery: disc,
		pool:      candidatePool,
		store:     store,
		notifier:  notifier,
		metrics:   metrics,
	}
}

// LastScanAt reports the unix time the most recent cycle finished, zero if
// none yet. Feeds the health monitor.
func (e *Engine) LastScanAt() int64 {
	return e.lastScanUnix.Load()
}

// Run executes scan cycles at the configured interval until the context is
// cancelled. An in-flight cycle always finishes; cancellation is only
// observed between cycles and inside upstream calls.
func (e *Engine) Run(ctx context.Context) error {
	interval := time.Duration(e.config.IntervalSec) * time.Second
	if interval <= 0 {
		return fmt.Errorf("scan interval must be positive")
	}

	log.Info().
		Dur("interval", interval).
		Int("hot_top_n", e.config.HotRecheckTopN).
		Str("policy", string(e.config.Policy.Mode)).
		Msg("scanner: starting")

	e.restorePool(ctx)
	e.Scan(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("scanner: stopped")
			return nil
		case <-ticker.C:
			e.Scan(ctx)
		}
	}
}

// Scan runs one full cycle. If a previous cycle is still in flight the call
// is dropped, never queued: a slow upstream must not pile up cycles.
func (e *Engine) Scan(ctx context.Context) {
	if !e.scanning.CompareAndSwap(false, true) {
		e.scansSkipped.Add(1)
		if e.metrics != nil {
			e.metrics.ScansSkipped.Inc()
		}
		log.Warn().Msg("scanner: previous cycle still running, skipping tick")
		return
	}
	defer e.scanning.Store(false)

	started := time.Now()
	cycleCtx := ctx
	if e.config.IntervalSec > 0 {
		var cancel context.CancelFunc
		cycleCtx, cancel = context.WithTimeout(ctx, 3*time.Duration(e.config.IntervalSec)*time.Second)
		defer cancel()
	}
	e.runCycle(cycleCtx, started)
	elapsed := time.Since(started)

	e.scansDone.Add(1)
	e.lastScanUnix.Store(time.Now().Unix())
	if e.metrics != nil {
		e.metrics.ScansTotal.Inc()
		e.metrics.ScanDuration.Observe(elapsed.Seconds())
		e.metrics.PoolSize.Set(float64(e.pool.Len()))
	}
	if _, err := e.store.IncrementCounter(ctx, "scans_total", 1); err != nil {
		log.Warn().Err(err).Msg("scanner: counter update failed")
	}
	log.Debug().Dur("elapsed", elapsed).Int("pool", e.pool.Len()).Msg("scanner: cycle complete")
}

func (e *Engine) runCycle(ctx context.Context, now time.Time) {
	ops, err := e.store.GetOperationalState(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("scanner: operational state unavailable, assuming active")
	}
	muted := ops.MuteUntil > now.Unix()

	e.pool.BeginCycle()
	if removed := e.pool.EvictExpired(now); removed > 0 && e.metrics != nil {
		e.metrics.PoolEvictions.WithLabelValues("retention").Add(float64(removed))
	}

	candidates := e.discovery.Discover(ctx)
	if e.metrics != nil {
		for _, cand := range candidates {
			e.metrics.CandidatesTotal.WithLabelValues(cand.Source).Inc()
		}
	}
	e.pool.Merge(candidates, now)

	e.refreshHotSet(ctx, now)
	e.evaluatePool(ctx, now, ops.Paused, muted)
	e.persistPool(ctx, now)
}

// refreshHotSet re-fetches the top-ranked pool members that discovery did
// not already cover this cycle, so high-signal pairs track the market at
// scan cadence even after their discovery source goes quiet.
func (e *Engine) refreshHotSet(ctx context.Context, now time.Time) {
	refreshed := 0
	var updates []screener.Candidate
	for _, rec := range e.pool.HotSet(e.config.HotRecheckTopN) {
		if !rec.LastCheckedAt.Before(now) {
			continue // already refreshed by discovery this cycle
		}
		pair, err := e.client.Pair(ctx, rec.Candidate.ChainID, rec.Candidate.PairAddress)
		if err != nil {
			// Keep the previous snapshot; a failed recheck never blanks
			// a member's metrics.
			log.Debug().Err(err).Str("pair", rec.Candidate.PairAddress).
				Msg("scanner: hot recheck failed")
			continue
		}
		refreshed++
		cand := rec.Candidate
		cand.Pair = *pair
		updates = append(updates, cand)
	}
	if len(updates) > 0 {
		e.pool.Merge(updates, now)
	}
	if e.metrics != nil {
		e.metrics.HotRechecks.Add(float64(refreshed))
	}
}

// evaluatePool groups the pool by token, evaluates each token's best pair,
// and walks the eligibility state machine. At most MaxPerScan alerts are
// delivered per cycle; transitions beyond the cap keep their pre-alert
// state and fire on a later cycle.
func (e *Engine) evaluatePool(ctx context.Context, now time.Time, paused, muted bool) {
	byToken := make(map[string][]pool.Record)
	var order []string
	for _, rec := range e.pool.Snapshot() {
		key := strings.ToLower(rec.Candidate.TokenAddress)
		if _, seen := byToken[key]; !seen {
			order = append(order, key)
		}
		byToken[key] = append(byToken[key], rec)
	}
	// Deterministic walk: highest-scored token groups first, so the
	// per-scan alert cap favors the strongest candidates.
	sort.Slice(order, func(i, j int) bool {
		return e.bestPoolScore(byToken[order[i]]) > e.bestPoolScore(byToken[order[j]])
	})

	nowUnix := now.Unix()
	alertsThisScan := 0

	for _, tokenKey := range order {
		records := byToken[tokenKey]
		rec, result := e.evaluateToken(records)
		if e.metrics != nil {
			e.metrics.TokensEvaluated.Inc()
			if result.Passed {
				e.metrics.EligiblePasses.Inc()
			}
		}

		cand := rec.Candidate
		if err := e.store.UpsertTokenSeen(ctx, cand.TokenAddress, cand.ChainID, nowUnix); err != nil {
			log.Error().Err(err).Str("token", cand.TokenAddress).Msg("scanner: token upsert failed")
			continue
		}
		state, err := e.store.GetToken(ctx, cand.TokenAddress)
		if err != nil {
			log.Error().Err(err).Str("token", cand.TokenAddress).Msg("scanner: token load failed")
			continue
		}

		decision := screener.Decide(nowUnix, result.Passed, state.Eligibility, e.config.Policy)

		alerted := false
		if decision.ShouldAlert {
			switch {
			case paused:
				e.suppress("paused", cand)
			case muted:
				e.suppress("muted", cand)
			case alertsThisScan >= e.config.MaxPerScan:
				// State is left untouched so the transition re-fires on a
				// later cycle once the cap has room.
				e.suppress("scan_cap", cand)
				continue
			default:
				alerted = e.emitAlert(ctx, cand, result, state, nowUnix)
				if alerted {
					alertsThisScan++
				}
			}
		}

		e.persistToken(ctx, state, rec, result, decision, alerted, nowUnix)
	}
}

func (e *Engine) bestPoolScore(records []pool.Record) float64 {
	cfg := e.poolConfig()
	best := 0.0
	for i := range records {
		if s := records[i].Score(cfg); s > best {
			best = s
		}
	}
	return best
}

// evaluateToken picks the pair that represents a token this cycle: the
// highest-liquidity passing pair wins; with no passing pair, the
// highest-liquidity one stands in so the failure reasons reflect the
// token's strongest market.
func (e *Engine) evaluateToken(records []pool.Record) (pool.Record, screener.Result) {
	type scored struct {
		rec    pool.Record
		result screener.Result
		liq    float64
	}
	var bestPass, bestAny *scored

	for i := range records {
		s := &scored{
			rec:    records[i],
			result: screener.Evaluate(records[i].Candidate.Pair, e.config.Filters, e.config.UseFDVProxy),
			liq:    records[i].Candidate.Pair.LiquidityUSD(),
		}
		if bestAny == nil || s.liq > bestAny.liq {
			bestAny = s
		}
		if s.result.Passed && (bestPass == nil || s.liq > bestPass.liq) {
			bestPass = s
		}
	}
	if bestPass != nil {
		return bestPass.rec, bestPass.result
	}
	return bestAny.rec, bestAny.result
}

func (e *Engine) suppress(reason string, cand screener.Candidate) {
	e.alertsHeldBack.Add(1)
	if e.metrics != nil {
		e.metrics.AlertsSuppressed.WithLabelValues(reason).Inc()
	}
	log.Info().Str("reason", reason).Str("token", cand.TokenAddress).
		Str("pair", cand.PairAddress).Msg("scanner: alert suppressed")
}

func (e *Engine) emitAlert(ctx context.Context, cand screener.Candidate, result screener.Result,
	state *storage.TokenState, nowUnix int64) bool {

	kind := alert.TransitionFirstEligible
	if state.Eligibility.AlertCount > 0 {
		kind = alert.TransitionRearmed
	}
	event := alert.NewEvent(cand, result, kind, time.Unix(state.FirstSeenAt, 0), time.Unix(nowUnix, 0))
	event.Tagline = e.config.Tagline

	// Mark the alert durable before delivery: if the mark cannot be
	// written, a restart would re-fire the same transition, so the alert is
	// suppressed instead (silence over spam).
	if err := e.store.UpdateAlerted(ctx, cand.TokenAddress, nowUnix); err != nil {
		log.Error().Err(err).Str("token", cand.TokenAddress).Msg("scanner: alert mark failed")
		e.suppress("store_error", cand)
		return false
	}
	if err := e.notifier.Notify(ctx, event); err != nil {
		// The mark already consumed the transition; a delivery failure is
		// logged, not retried.
		log.Error().Err(err).Str("alert_id", event.ID).Str("token", cand.TokenAddress).
			Msg("scanner: alert delivery failed")
		if e.metrics != nil {
			e.metrics.AlertsSuppressed.WithLabelValues("notifier_error").Inc()
		}
	}
	e.alertsEmitted.Add(1)
	if e.metrics != nil {
		e.metrics.AlertsEmitted.WithLabelValues(string(kind)).Inc()
		e.metrics.AlertLag.Observe(float64(nowUnix - state.FirstSeenAt))
	}
	if _, err := e.store.IncrementCounter(ctx, "alerted_count", 1); err != nil {
		log.Warn().Err(err).Msg("scanner: counter update failed")
	}
	return true
}

// persistToken folds the transition decision into the stored record along
// with the latest metric snapshot and call-performance seeds.
func (e *Engine) persistToken(ctx context.Context, state *storage.TokenState, rec pool.Record,
	result screener.Result, decision screener.Decision, alerted bool, nowUnix int64) {

	state.Eligibility = screener.Apply(nowUnix, state.Eligibility, decision, alerted)
	state.LastCheckedAt = nowUnix
	state.LastName, state.LastSymbol = rec.Candidate.TokenMeta()
	state.LastSeenMetrics = metricsJSON(result.Metrics)

	if decision.Eligible && state.EligibleFirstAt == 0 {
		state.EligibleFirstAt = nowUnix
		state.EligibleFirstMetrics = state.LastSeenMetrics
	}
	if alerted && !state.CalledPriceUSD.Valid && result.Metrics.PriceUSD.Valid {
		state.CalledPriceUSD = result.Metrics.PriceUSD
		state.MaxPriceUSD = result.Metrics.PriceUSD
	}
	if result.Metrics.MarketCap != nil {
		mc := decimal.NewFromFloat(*result.Metrics.MarketCap)
		if !state.MaxMarketCap.Valid || mc.GreaterThan(state.MaxMarketCap.Decimal) {
			state.MaxMarketCap = decimal.NewNullDecimal(mc)
		}
	}

	if err := e.store.UpdateTokenState(ctx, state); err != nil {
		log.Error().Err(err).Str("token", state.TokenAddress).Msg("scanner: state write failed")
	}
}

// persistPool mirrors the in-memory pool to storage so restarts resume
// with warm candidates instead of an empty pool.
func (e *Engine) persistPool(ctx context.Context, now time.Time) {
	snapshot := e.pool.Snapshot()
	poolCfg := e.poolConfig()
	for _, rec := range snapshot {
		entry := storage.PoolEntry{
			PairAddress:  rec.Candidate.PairAddress,
			ChainID:      rec.Candidate.ChainID,
			TokenAddress: rec.Candidate.TokenAddress,
			Source:       rec.Candidate.Source,
			HotScore:     rec.Score(poolCfg),
			FirstSeenAt:  rec.FirstSeenAt.Unix(),
			LastSeenAt:   rec.LastCheckedAt.Unix(),
			MetricsJSON:  pairJSON(rec.Candidate.Pair),
		}
		if err := e.store.UpsertPoolEntry(ctx, entry); err != nil {
			log.Warn().Err(err).Str("pair", entry.PairAddress).Msg("scanner: pool persist failed")
			return
		}
	}
	cutoff := now.Add(-time.Duration(poolCfg.RetentionSec) * time.Second).Unix()
	if err := e.store.PurgePool(ctx, cutoff); err != nil {
		log.Warn().Err(err).Msg("scanner: pool purge failed")
	}
	if err := e.store.TrimPool(ctx, poolCfg.MaxSize); err != nil {
		log.Warn().Err(err).Msg("scanner: pool trim failed")
	}
}

// restorePool seeds the pool from the persisted snapshot on startup.
func (e *Engine) restorePool(ctx context.Context) {
	poolCfg := e.poolConfig()
	cutoff := time.Now().Add(-time.Duration(poolCfg.RetentionSec) * time.Second).Unix()
	entries, err := e.store.LoadPool(ctx, poolCfg.MaxSize, cutoff)
	if err != nil {
		log.Warn().Err(err).Msg("scanner: pool restore failed, starting cold")
		return
	}
	if len(entries) == 0 {
		return
	}

	records := make([]pool.Record, 0, len(entries))
	for _, entry := range entries {
		var pair dexscreener.Pair
		if err := json.Unmarshal([]byte(entry.MetricsJSON), &pair); err != nil {
			continue
		}
		records = append(records, pool.Record{
			Candidate: screener.Candidate{
				PairAddress:  entry.PairAddress,
				ChainID:      entry.ChainID,
				TokenAddress: entry.TokenAddress,
				Pair:         pair,
				Source:       entry.Source,
			},
			FirstSeenAt:   time.Unix(entry.FirstSeenAt, 0),
			LastCheckedAt: time.Unix(entry.LastSeenAt, 0),
			PoolEnteredAt: time.Unix(entry.FirstSeenAt, 0),
		})
	}
	e.pool.Restore(records)
	log.Info().Int("restored", e.pool.Len()).Msg("scanner: pool restored from storage")
}

func (e *Engine) poolConfig() pool.Config {
	return e.pool.Config()
}

// Stats reports engine counters.
type Stats struct {
	ScansDone      int64 `json:"scans_done"`
	ScansSkipped   int64 `json:"scans_skipped"`
	AlertsEmitted  int64 `json:"alerts_emitted"`
	AlertsHeldBack int64 `json:"alerts_held_back"`
	PoolSize       int   `json:"pool_size"`
}

func (e *Engine) Stats() Stats {
	return Stats{
		ScansDone:      e.scansDone.Load(),
		ScansSkipped:   e.scansSkipped.Load(),
		AlertsEmitted:  e.alertsEmitted.Load(),
		AlertsHeldBack: e.alertsHeldBack.Load(),
		PoolSize:       e.pool.Len(),
	}
}

func metricsJSON(m screener.Metrics) string {
	data, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func pairJSON(p dexscreener.Pair) string {
	data, err := json.Marshal(p)
	if err != nil {
		return "{}"
	}
	return string(data)
}
