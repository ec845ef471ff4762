package dexscreener

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(baseURL string) ClientConfig {
	cfg := DefaultClientConfig()
	cfg.BaseURL = baseURL
	cfg.MaxRPS = 1000 // tests never wait on the bucket
	cfg.Burst = 1000
	cfg.RetryAttempts = 3
	cfg.RetryBaseDelayMs = 1
	return cfg
}

func TestTokenPairs_BareArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/token-pairs/v1/solana/TOKEN1", r.URL.Path)
		w.Write([]byte(`[{"chainId":"solana","pairAddress":"P1","baseToken":{"address":"TOKEN1","symbol":"T1"}}]`))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	pairs, err := c.TokenPairs(context.Background(), "solana", "TOKEN1")
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, "P1", pairs[0].PairAddress)
}

func TestTokenPairs_Envelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"schemaVersion":"1.0.0","pairs":[{"pairAddress":"P1"},{"pairAddress":"P2"}]}`))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	pairs, err := c.TokenPairs(context.Background(), "solana", "TOKEN1")
	require.NoError(t, err)
	assert.Len(t, pairs, 2)
}

func TestPair_SingleAndList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/latest/dex/pairs/solana/SINGLE":
			w.Write([]byte(`{"pair":{"pairAddress":"SINGLE","priceUsd":"0.001"}}`))
		case "/latest/dex/pairs/solana/LIST":
			w.Write([]byte(`{"pairs":[{"pairAddress":"LIST"}]}`))
		default:
			w.Write([]byte(`{}`))
		}
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))

	pair, err := c.Pair(context.Background(), "solana", "SINGLE")
	require.NoError(t, err)
	require.NotNil(t, pair)
	assert.Equal(t, "0.001", pair.PriceUSD)

	pair, err = c.Pair(context.Background(), "solana", "LIST")
	require.NoError(t, err)
	require.NotNil(t, pair)
	assert.Equal(t, "LIST", pair.PairAddress)

	pair, err = c.Pair(context.Background(), "solana", "GONE")
	require.NoError(t, err)
	assert.Nil(t, pair)
}

func TestFetch_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	_, err := c.TokenPairs(context.Background(), "solana", "TOKEN1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), hits.Load())
}

func TestFetch_ClientErrorDoesNotRetry(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	_, err := c.TokenPairs(context.Background(), "solana", "TOKEN1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.Equal(t, int64(1), hits.Load())
}

func TestFetch_ExhaustedRetriesSurfaceUpstreamError(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	c := NewClient(cfg)
	_, err := c.TokenPairs(context.Background(), "solana", "TOKEN1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.Equal(t, int64(cfg.RetryAttempts), hits.Load())
}

func TestFetch_CacheServesRepeatReads(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`[{"pairAddress":"P1"}]`))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.CacheTTLSec = 60
	cfg.CacheMaxSize = 16
	c := NewClient(cfg)

	for i := 0; i < 3; i++ {
		_, err := c.TokenPairs(context.Background(), "solana", "TOKEN1")
		require.NoError(t, err)
	}

	assert.Equal(t, int64(1), hits.Load())
	stats := c.Stats()
	assert.Equal(t, int64(2), stats.CacheHits)
	assert.Equal(t, int64(1), stats.Requests)
}

func TestFetch_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"pairs": not json`))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	_, err := c.Search(context.Background(), "trench")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestSearch_QueryEscaped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "pump fun", r.URL.Query().Get("q"))
		w.Write([]byte(`{"pairs":[]}`))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	_, err := c.Search(context.Background(), "pump fun")
	require.NoError(t, err)
}

func TestLatestProfiles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token-profiles/latest/v1":
			w.Write([]byte(`[{"chainId":"solana","tokenAddress":"T1"}]`))
		case "/token-boosts/latest/v1":
			w.Write([]byte(`[{"chainId":"solana","tokenAddress":"T2"},{"chainId":"base","tokenAddress":"T3"}]`))
		}
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))

	profiles, err := c.LatestProfiles(context.Background())
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	assert.Equal(t, "T1", profiles[0].TokenAddress)

	boosts, err := c.LatestBoosts(context.Background())
	require.NoError(t, err)
	assert.Len(t, boosts, 2)
}

func TestHasProfile(t *testing.T) {
	pair := Pair{}
	assert.False(t, pair.HasProfile())

	pair.Info = &PairInfo{}
	assert.False(t, pair.HasProfile())

	pair.Info.Websites = []InfoLink{{URL: "https://example.com"}}
	assert.True(t, pair.HasProfile())

	pair.Info = &PairInfo{ImageURL: "https://img"}
	assert.True(t, pair.HasProfile())
}
