package discovery

import (
	"context"
	"strings"

	"github.com/trenchlab/trenchwatch/internal/dexscreener"
	"github.com/trenchlab/trenchwatch/internal/screener"
)

// ---------------------------------------------------------------------------
// Discovery sources — independent producers of raw pair sightings
// ---------------------------------------------------------------------------

// MarketClient is the slice of the dexscreener client the sources need.
type MarketClient interface {
	TokenPairs(ctx context.Context, chainID, tokenAddress string) ([]dexscreener.Pair, error)
	Search(ctx context.Context, query string) ([]dexscreener.Pair, error)
	LatestProfiles(ctx context.Context) ([]dexscreener.TokenProfile, error)
	LatestBoosts(ctx context.Context) ([]dexscreener.TokenProfile, error)
}

// Source produces one finite batch of candidates per scan cycle.
type Source interface {
	Name() string
	Discover(ctx context.Context) ([]screener.Candidate, error)
}

// BaseToken is a reference token anchoring the base-token sampler.
type BaseToken struct {
	Address string
	Label   string
}

// DefaultBaseTokens are the stock Solana reference tokens.
var DefaultBaseTokens = []BaseToken{
	{Address: "So11111111111111111111111111111111111111112", Label: "WSOL"},
	{Address: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", Label: "USDC"},
}

// ---------------------------------------------------------------------------
// Base-token sampler
// ---------------------------------------------------------------------------

// BaseTokenSource samples every pair anchored to a set of reference tokens.
// Recall is bounded by the upstream list size only; there is no pagination.
type BaseTokenSource struct {
	client  MarketClient
	chainID string
	tokens  []BaseToken
}

// NewBaseTokenSource creates the base-token sampler. An empty token set
// falls back to the defaults.
func NewBaseTokenSource(client MarketClient, chainID string, tokens []BaseToken) *BaseTokenSource {
	if len(tokens) == 0 {
		tokens = DefaultBaseTokens
	}
	return &BaseTokenSource{client: client, chainID: chainID, tokens: tokens}
}

func (s *BaseTokenSource) Name() string { return "base_tokens" }

// Discover fetches pairs for each reference token and orients each pair so
// the tracked token is the non-reference side. Pairs between two reference
// tokens are skipped. A failing reference token degrades recall but does
// not abort the batch.
func (s *BaseTokenSource) Discover(ctx context.Context) ([]screener.Candidate, error) {
	baseSet := make(map[string]bool, len(s.tokens))
	for _, t := range s.tokens {
		baseSet[strings.ToLower(t.Address)] = true
	}

	var candidates []screener.Candidate
	var lastErr error
	for _, base := range s.tokens {
		pairs, err := s.client.TokenPairs(ctx, s.chainID, base.Address)
		if err != nil {
			lastErr = err
			continue
		}
		for _, pair := range pairs {
			if cand, ok := s.orient(pair, base, baseSet); ok {
				candidates = append(candidates, cand)
			}
		}
	}
	if len(candidates) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return candidates, nil
}

// orient resolves which side of the pair is the tracked token relative to
// the sampled reference token.
func (s *BaseTokenSource) orient(pair dexscreener.Pair, base BaseToken, baseSet map[string]bool) (screener.Candidate, bool) {
	if pair.ChainID != s.chainID || pair.PairAddress == "" {
		return screener.Candidate{}, false
	}
	baseLC := strings.ToLower(base.Address)

	tokenAddress := ""
	switch {
	case strings.EqualFold(pair.BaseToken.Address, base.Address):
		tokenAddress = pair.QuoteToken.Address
	case strings.EqualFold(pair.QuoteToken.Address, base.Address):
		tokenAddress = pair.BaseToken.Address
	default:
		tokenAddress = pair.BaseToken.Address
		if tokenAddress == "" {
			tokenAddress = pair.QuoteToken.Address
		}
	}
	if tokenAddress == "" {
		return screener.Candidate{}, false
	}
	tokenLC := strings.ToLower(tokenAddress)
	if tokenLC == baseLC || baseSet[tokenLC] {
		return screener.Candidate{}, false
	}

	return screener.Candidate{
		PairAddress:  pair.PairAddress,
		ChainID:      pair.ChainID,
		TokenAddress: tokenAddress,
		Pair:         pair,
		Source:       "market:" + base.Label,
	}, true
}

// ---------------------------------------------------------------------------
// Keyword search sampler
// ---------------------------------------------------------------------------

// SearchSource supplements coverage for pairs not anchored to a reference
// token.
type SearchSource struct {
	client  MarketClient
	chainID string
	queries []string
}

// NewSearchSource creates the keyword sampler.
func NewSearchSource(client MarketClient, chainID string, queries []string) *SearchSource {
	return &SearchSource{client: client, chainID: chainID, queries: queries}
}

func (s *SearchSource) Name() string { return "search" }

func (s *SearchSource) Discover(ctx context.Context) ([]screener.Candidate, error) {
	if len(s.queries) == 0 {
		return nil, nil
	}

	var candidates []screener.Candidate
	var lastErr error
	for _, query := range s.queries {
		pairs, err := s.client.Search(ctx, query)
		if err != nil {
			lastErr = err
			continue
		}
		for _, pair := range pairs {
			if pair.ChainID != s.chainID || pair.PairAddress == "" || pair.BaseToken.Address == "" {
				continue
			}
			candidates = append(candidates, screener.Candidate{
				PairAddress:  pair.PairAddress,
				ChainID:      pair.ChainID,
				TokenAddress: pair.BaseToken.Address,
				Pair:         pair,
				Source:       "search",
			})
		}
	}
	if len(candidates) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return candidates, nil
}

// ---------------------------------------------------------------------------
// Profile/boost feed sampler
// ---------------------------------------------------------------------------

// ProfileSource surfaces newly profiled or boosted tokens before they show
// up in base sampling, resolving each token to its pairs.
type ProfileSource struct {
	client    MarketClient
	chainID   string
	maxTokens int
}

// NewProfileSource creates the profile/boost sampler. maxTokens caps the
// number of token-pairs lookups per cycle.
func NewProfileSource(client MarketClient, chainID string, maxTokens int) *ProfileSource {
	if maxTokens <= 0 {
		maxTokens = 50
	}
	return &ProfileSource{client: client, chainID: chainID, maxTokens: maxTokens}
}

func (s *ProfileSource) Name() string { return "profiles" }

func (s *ProfileSource) Discover(ctx context.Context) ([]screener.Candidate, error) {
	tokens := make([]string, 0, s.maxTokens)
	seen := make(map[string]bool)

	collect := func(profiles []dexscreener.TokenProfile) {
		for _, prof := range profiles {
			if prof.ChainID != s.chainID || prof.TokenAddress == "" {
				continue
			}
			key := strings.ToLower(prof.TokenAddress)
			if seen[key] || len(tokens) >= s.maxTokens {
				continue
			}
			seen[key] = true
			tokens = append(tokens, prof.TokenAddress)
		}
	}

	profiles, profErr := s.client.LatestProfiles(ctx)
	if profErr == nil {
		collect(profiles)
	}
	boosts, boostErr := s.client.LatestBoosts(ctx)
	if boostErr == nil {
		collect(boosts)
	}
	if profErr != nil && boostErr != nil {
		return nil, profErr
	}

	var candidates []screener.Candidate
	for _, token := range tokens {
		pairs, err := s.client.TokenPairs(ctx, s.chainID, token)
		if err != nil {
			continue
		}
		for _, pair := range pairs {
			if pair.ChainID != s.chainID || pair.PairAddress == "" {
				continue
			}
			candidates = append(candidates, screener.Candidate{
				PairAddress:  pair.PairAddress,
				ChainID:      pair.ChainID,
				TokenAddress: token,
				Pair:         pair,
				Source:       "profile",
			})
		}
	}
	return candidates, nil
}
