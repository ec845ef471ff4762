package discovery

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/trenchlab/trenchwatch/internal/screener"
)

// ---------------------------------------------------------------------------
// Discovery Engine — composes sources per discovery mode
// ---------------------------------------------------------------------------

// Mode selects which discovery sources run each cycle.
type Mode string

const (
	// ModeMarketSampler runs the base-token sampler only.
	ModeMarketSampler Mode = "market_sampler"

	// ModeHybrid runs every source.
	ModeHybrid Mode = "hybrid"

	// ModeFallbackSearch runs keyword search only, as a resiliency
	// fallback when base sampling is unusable.
	ModeFallbackSearch Mode = "fallback_search"
)

// Config configures discovery.
type Config struct {
	Mode             Mode     `yaml:"mode"`
	BaseTokens       []string `yaml:"base_tokens"`
	SearchQueries    []string `yaml:"search_queries"`
	MaxProfileTokens int      `yaml:"max_profile_tokens"`
}

// DefaultConfig returns the stock discovery parameters.
func DefaultConfig() Config {
	return Config{
		Mode:             ModeHybrid,
		MaxProfileTokens: 50,
	}
}

// Engine fans a scan cycle out to the configured sources and merges the
// results into one deduplicated batch.
type Engine struct {
	sources []Source
}

// NewEngine builds the source list for the configured mode. An unknown
// mode degrades to the base-token sampler.
func NewEngine(config Config, client MarketClient, chainID string) *Engine {
	var bases []BaseToken
	for _, addr := range config.BaseTokens {
		bases = append(bases, BaseToken{Address: addr, Label: "BASE"})
	}
	baseSource := NewBaseTokenSource(client, chainID, bases)
	searchSource := NewSearchSource(client, chainID, config.SearchQueries)
	profileSource := NewProfileSource(client, chainID, config.MaxProfileTokens)

	var sources []Source
	switch config.Mode {
	case ModeMarketSampler:
		sources = []Source{baseSource}
	case ModeFallbackSearch:
		sources = []Source{searchSource}
	case ModeHybrid:
		sources = []Source{baseSource, searchSource, profileSource}
	default:
		log.Warn().Str("mode", string(config.Mode)).
			Msg("discovery: unknown mode, using market_sampler")
		sources = []Source{baseSource}
	}
	return &Engine{sources: sources}
}

// Discover runs every source concurrently and merges their batches,
// deduplicated by pair address (first sighting wins). A failing source
// never blocks the others; the merge proceeds with whatever succeeded.
func (e *Engine) Discover(ctx context.Context) []screener.Candidate {
	type batch struct {
		source     string
		candidates []screener.Candidate
		err        error
	}

	results := make([]batch, len(e.sources))
	var wg sync.WaitGroup
	for i, src := range e.sources {
		i, src := i, src
		wg.Add(1)
		go func() {
			defer wg.Done()
			candidates, err := src.Discover(ctx)
			results[i] = batch{source: src.Name(), candidates: candidates, err: err}
		}()
	}
	wg.Wait()

	seen := make(map[string]bool)
	var merged []screener.Candidate
	for _, b := range results {
		if b.err != nil {
			log.Warn().Err(b.err).Str("source", b.source).
				Msg("discovery: source failed, continuing with remainder")
			continue
		}
		for _, cand := range b.candidates {
			key := cand.Key()
			if seen[key] {
				continue
			}
			seen[key] = true
			merged = append(merged, cand)
		}
	}

	log.Debug().Int("candidates", len(merged)).Int("sources", len(e.sources)).
		Msg("discovery: cycle complete")
	return merged
}
