package discovery

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trenchlab/trenchwatch/internal/dexscreener"
)

const (
	wsol = "So11111111111111111111111111111111111111112"
	usdc = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

// stubClient serves canned responses per reference token / query.
type stubClient struct {
	tokenPairs map[string][]dexscreener.Pair
	tokenErr   map[string]error
	searches   map[string][]dexscreener.Pair
	searchErr  error
	profiles   []dexscreener.TokenProfile
	boosts     []dexscreener.TokenProfile
	profileErr error
	boostErr   error
}

func (s *stubClient) TokenPairs(_ context.Context, _, tokenAddress string) ([]dexscreener.Pair, error) {
	if err := s.tokenErr[strings.ToLower(tokenAddress)]; err != nil {
		return nil, err
	}
	return s.tokenPairs[strings.ToLower(tokenAddress)], nil
}

func (s *stubClient) Search(_ context.Context, query string) ([]dexscreener.Pair, error) {
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	return s.searches[query], nil
}

func (s *stubClient) LatestProfiles(_ context.Context) ([]dexscreener.TokenProfile, error) {
	return s.profiles, s.profileErr
}

func (s *stubClient) LatestBoosts(_ context.Context) ([]dexscreener.TokenProfile, error) {
	return s.boosts, s.boostErr
}

func solPair(pairAddr, baseAddr, quoteAddr string) dexscreener.Pair {
	return dexscreener.Pair{
		ChainID:     "solana",
		PairAddress: pairAddr,
		BaseToken:   dexscreener.Token{Address: baseAddr},
		QuoteToken:  dexscreener.Token{Address: quoteAddr},
	}
}

func TestBaseTokenSource_OrientsTrackedToken(t *testing.T) {
	client := &stubClient{tokenPairs: map[string][]dexscreener.Pair{
		strings.ToLower(wsol): {
			solPair("P1", "MEME1", wsol), // token on the base side
			solPair("P2", wsol, "MEME2"), // token on the quote side
		},
	}}
	src := NewBaseTokenSource(client, "solana", []BaseToken{{Address: wsol, Label: "WSOL"}})

	cands, err := src.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, cands, 2)
	assert.Equal(t, "MEME1", cands[0].TokenAddress)
	assert.Equal(t, "MEME2", cands[1].TokenAddress)
	assert.Equal(t, "market:WSOL", cands[0].Source)
}

func TestBaseTokenSource_SkipsBaseVersusBase(t *testing.T) {
	client := &stubClient{tokenPairs: map[string][]dexscreener.Pair{
		strings.ToLower(wsol): {
			solPair("P1", wsol, usdc), // reference vs reference
			solPair("P2", "MEME1", wsol),
		},
	}}
	src := NewBaseTokenSource(client, "solana", nil) // defaults: WSOL + USDC

	cands, err := src.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "MEME1", cands[0].TokenAddress)
}

func TestBaseTokenSource_FiltersForeignChains(t *testing.T) {
	foreign := solPair("P1", "MEME1", wsol)
	foreign.ChainID = "base"
	client := &stubClient{tokenPairs: map[string][]dexscreener.Pair{
		strings.ToLower(wsol): {foreign},
	}}
	src := NewBaseTokenSource(client, "solana", []BaseToken{{Address: wsol, Label: "WSOL"}})

	cands, err := src.Discover(context.Background())
	require.NoError(t, err)
	assert.Empty(t, cands)
}

func TestBaseTokenSource_PartialFailureDegrades(t *testing.T) {
	client := &stubClient{
		tokenPairs: map[string][]dexscreener.Pair{
			strings.ToLower(wsol): {solPair("P1", "MEME1", wsol)},
		},
		tokenErr: map[string]error{strings.ToLower(usdc): errors.New("boom")},
	}
	src := NewBaseTokenSource(client, "solana", nil)

	cands, err := src.Discover(context.Background())
	require.NoError(t, err)
	assert.Len(t, cands, 1)
}

func TestBaseTokenSource_TotalFailureErrors(t *testing.T) {
	client := &stubClient{tokenErr: map[string]error{
		strings.ToLower(wsol): errors.New("boom"),
		strings.ToLower(usdc): errors.New("boom"),
	}}
	src := NewBaseTokenSource(client, "solana", nil)

	_, err := src.Discover(context.Background())
	assert.Error(t, err)
}

func TestSearchSource_NoQueriesNoCalls(t *testing.T) {
	client := &stubClient{searchErr: errors.New("must not be called")}
	src := NewSearchSource(client, "solana", nil)

	cands, err := src.Discover(context.Background())
	require.NoError(t, err)
	assert.Empty(t, cands)
}

func TestSearchSource_TracksBaseSide(t *testing.T) {
	client := &stubClient{searches: map[string][]dexscreener.Pair{
		"trench": {solPair("P1", "MEME1", wsol)},
	}}
	src := NewSearchSource(client, "solana", []string{"trench"})

	cands, err := src.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "MEME1", cands[0].TokenAddress)
	assert.Equal(t, "search", cands[0].Source)
}

func TestProfileSource_ResolvesTokensToPairs(t *testing.T) {
	client := &stubClient{
		profiles: []dexscreener.TokenProfile{
			{ChainID: "solana", TokenAddress: "MEME1"},
			{ChainID: "base", TokenAddress: "IGNORED"},
		},
		boosts: []dexscreener.TokenProfile{
			{ChainID: "solana", TokenAddress: "meme1"}, // dupe, case-folded
			{ChainID: "solana", TokenAddress: "MEME2"},
		},
		tokenPairs: map[string][]dexscreener.Pair{
			"meme1": {solPair("P1", "MEME1", wsol)},
			"meme2": {solPair("P2", "MEME2", wsol)},
		},
	}
	src := NewProfileSource(client, "solana", 50)

	cands, err := src.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, cands, 2)
	assert.Equal(t, "profile", cands[0].Source)
	assert.Equal(t, "MEME1", cands[0].TokenAddress)
	assert.Equal(t, "MEME2", cands[1].TokenAddress)
}

func TestProfileSource_CapsTokenLookups(t *testing.T) {
	client := &stubClient{
		profiles: []dexscreener.TokenProfile{
			{ChainID: "solana", TokenAddress: "A"},
			{ChainID: "solana", TokenAddress: "B"},
			{ChainID: "solana", TokenAddress: "C"},
		},
		tokenPairs: map[string][]dexscreener.Pair{
			"a": {solPair("PA", "A", wsol)},
			"b": {solPair("PB", "B", wsol)},
			"c": {solPair("PC", "C", wsol)},
		},
	}
	src := NewProfileSource(client, "solana", 2)

	cands, err := src.Discover(context.Background())
	require.NoError(t, err)
	assert.Len(t, cands, 2)
}

func TestEngine_HybridMergesAndDeduplicates(t *testing.T) {
	client := &stubClient{
		tokenPairs: map[string][]dexscreener.Pair{
			strings.ToLower(wsol): {solPair("P1", "MEME1", wsol)},
			strings.ToLower(usdc): nil,
			"meme1":               {solPair("P1", "MEME1", wsol)}, // same pair via profiles
		},
		searches: map[string][]dexscreener.Pair{
			"trench": {solPair("P2", "MEME2", wsol)},
		},
		profiles: []dexscreener.TokenProfile{{ChainID: "solana", TokenAddress: "MEME1"}},
	}
	engine := NewEngine(Config{Mode: ModeHybrid, SearchQueries: []string{"trench"}}, client, "solana")

	cands := engine.Discover(context.Background())
	require.Len(t, cands, 2)

	seen := map[string]bool{}
	for _, c := range cands {
		seen[c.PairAddress] = true
	}
	assert.True(t, seen["P1"])
	assert.True(t, seen["P2"])
}

func TestEngine_FailingSourceDoesNotBlockOthers(t *testing.T) {
	client := &stubClient{
		tokenPairs: map[string][]dexscreener.Pair{
			strings.ToLower(wsol): {solPair("P1", "MEME1", wsol)},
			strings.ToLower(usdc): nil,
		},
		searchErr:  errors.New("search down"),
		profileErr: errors.New("profiles down"),
		boostErr:   errors.New("boosts down"),
	}
	engine := NewEngine(Config{Mode: ModeHybrid, SearchQueries: []string{"x"}}, client, "solana")

	cands := engine.Discover(context.Background())
	require.Len(t, cands, 1)
	assert.Equal(t, "P1", cands[0].PairAddress)
}

func TestEngine_UnknownModeDegradesToSampler(t *testing.T) {
	client := &stubClient{
		tokenPairs: map[string][]dexscreener.Pair{
			strings.ToLower(wsol): {solPair("P1", "MEME1", wsol)},
			strings.ToLower(usdc): nil,
		},
		searchErr: errors.New("must not be called"),
	}
	engine := NewEngine(Config{Mode: "astrology", SearchQueries: []string{"x"}}, client, "solana")

	cands := engine.Discover(context.Background())
	assert.Len(t, cands, 1)
}
