package scanner

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/trenchlab/trenchwatch/internal/dexscreener"
	"github.com/trenchlab/trenchwatch/internal/observability"
	"github.com/trenchlab/trenchwatch/internal/storage"
)

// ---------------------------------------------------------------------------
// Performance Tracker — follow-up on called tokens (max price, multiples)
// ---------------------------------------------------------------------------

// PerformanceConfig configures the call-performance refresher.
type PerformanceConfig struct {
	ChainID      string
	RefreshSec   int
	LookbackDays int
	BatchSize    int
}

// Tracker periodically revisits tokens that produced an alert and records
// their price trajectory: running maximum and the first time each 2x/3x/5x
// multiple of the called price was reached.
type Tracker struct {
	config  PerformanceConfig
	client  MarketAPI
	store   storage.Store
	metrics *observability.Metrics

	refreshes atomic.Int64
}

// NewTracker creates a performance tracker. metrics may be nil.
func NewTracker(config PerformanceConfig, client MarketAPI, store storage.Store,
	metrics *observability.Metrics) *Tracker {
	if config.RefreshSec <= 0 {
		config.RefreshSec = 300
	}
	if config.LookbackDays <= 0 {
		config.LookbackDays = 7
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	return &Tracker{config: config, client: client, store: store, metrics: metrics}
}

// Run refreshes batches at the configured interval until the context is
// cancelled.
func (t *Tracker) Run(ctx context.Context) error {
	interval := time.Duration(t.config.RefreshSec) * time.Second
	log.Info().
		Dur("interval", interval).
		Int("lookback_days", t.config.LookbackDays).
		Msg("performance: tracker starting")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("performance: tracker stopped")
			return nil
		case <-ticker.C:
			t.RefreshBatch(ctx)
		}
	}
}

// RefreshBatch revisits the stalest called tokens inside the lookback
// window and folds fresh prices into their performance records.
func (t *Tracker) RefreshBatch(ctx context.Context) {
	minFirstAt := time.Now().Add(-time.Duration(t.config.LookbackDays) * 24 * time.Hour).Unix()
	tokens, err := t.store.TokensForPerformanceRefresh(ctx, t.config.BatchSize, minFirstAt)
	if err != nil {
		log.Warn().Err(err).Msg("performance: batch load failed")
		return
	}

	updated := 0
	for i := range tokens {
		tok := tokens[i]
		if !tok.CalledPriceUSD.Valid {
			continue
		}
		if err := t.refreshToken(ctx, &tok); err != nil {
			log.Debug().Err(err).Str("token", tok.TokenAddress).
				Msg("performance: refresh failed")
			continue
		}
		updated++
	}
	t.refreshes.Add(int64(updated))
	if updated > 0 {
		log.Debug().Int("updated", updated).Int("batch", len(tokens)).
			Msg("performance: batch complete")
	}
}

func (t *Tracker) refreshToken(ctx context.Context, tok *storage.TokenState) error {
	pairs, err := t.client.TokenPairs(ctx, t.config.ChainID, tok.TokenAddress)
	if err != nil {
		return err
	}
	pair := deepestPair(pairs)
	if pair == nil {
		return nil // token no longer listed; nothing to fold in
	}

	price, err := decimal.NewFromString(pair.PriceUSD)
	if err != nil {
		return nil
	}
	now := time.Now().Unix()

	if !tok.MaxPriceUSD.Valid || price.GreaterThan(tok.MaxPriceUSD.Decimal) {
		tok.MaxPriceUSD = decimal.NewNullDecimal(price)
	}
	if mc := marketCapOf(pair); mc != nil {
		mcap := decimal.NewFromFloat(*mc)
		if !tok.MaxMarketCap.Valid || mcap.GreaterThan(tok.MaxMarketCap.Decimal) {
			tok.MaxMarketCap = decimal.NewNullDecimal(mcap)
		}
	}

	called := tok.CalledPriceUSD.Decimal
	t.markMultiple(tok, &tok.Hit2xAt, called.Mul(decimal.NewFromInt(2)), price, "2x", now)
	t.markMultiple(tok, &tok.Hit3xAt, called.Mul(decimal.NewFromInt(3)), price, "3x", now)
	t.markMultiple(tok, &tok.Hit5xAt, called.Mul(decimal.NewFromInt(5)), price, "5x", now)

	return t.store.UpdateTokenState(ctx, tok)
}

// markMultiple records the first crossing of a price multiple.
func (t *Tracker) markMultiple(tok *storage.TokenState, hitAt *int64, target, price decimal.Decimal,
	label string, now int64) {
	if *hitAt != 0 || price.LessThan(target) {
		return
	}
	*hitAt = now
	if t.metrics != nil {
		t.metrics.PerformanceHits.WithLabelValues(label).Inc()
	}
	log.Info().
		Str("token", tok.TokenAddress).
		Str("symbol", tok.LastSymbol).
		Str("multiple", label).
		Str("called", tok.CalledPriceUSD.Decimal.String()).
		Str("price", price.String()).
		Msg("performance: called token crossed multiple")
}

// deepestPair picks the highest-liquidity pair for a token.
func deepestPair(pairs []dexscreener.Pair) *dexscreener.Pair {
	var best *dexscreener.Pair
	for i := range pairs {
		if best == nil || pairs[i].LiquidityUSD() > best.LiquidityUSD() {
			best = &pairs[i]
		}
	}
	return best
}

func marketCapOf(pair *dexscreener.Pair) *float64 {
	if pair.MarketCap != nil {
		return pair.MarketCap
	}
	return pair.FDV
}
