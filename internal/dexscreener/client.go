package dexscreener

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// ---------------------------------------------------------------------------
// Dexscreener REST client — rate limited, cached, retrying
// ---------------------------------------------------------------------------

const defaultBaseURL = "https://api.dexscreener.com"

// Error taxonomy. Callers must treat ErrUpstreamUnavailable as "no update
// this cycle", never as "pair no longer exists".
var (
	ErrUpstreamUnavailable = errors.New("dexscreener: upstream unavailable")
	ErrMalformedResponse   = errors.New("dexscreener: malformed response")
)

// ClientConfig configures the dexscreener client.
type ClientConfig struct {
	// BaseURL overrides the upstream endpoint (tests).
	BaseURL string `yaml:"base_url"`

	// Global request ceiling shared across all endpoints.
	MaxRPS float64 `yaml:"max_rps"`

	// Token-bucket burst size.
	Burst int `yaml:"burst"`

	// Per-request timeout.
	TimeoutSec int `yaml:"timeout_sec"`

	// Retry attempts for transient failures.
	RetryAttempts int `yaml:"retry_attempts"`

	// Base delay for exponential backoff.
	RetryBaseDelayMs int `yaml:"retry_base_delay_ms"`

	// Response cache TTL and maximum entry count.
	CacheTTLSec  int `yaml:"cache_ttl_sec"`
	CacheMaxSize int `yaml:"cache_max_size"`
}

// DefaultClientConfig returns the defaults used against the public API.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL:          defaultBaseURL,
		MaxRPS:           5,
		Burst:            2,
		TimeoutSec:       10,
		RetryAttempts:    3,
		RetryBaseDelayMs: 500,
		CacheTTLSec:      15,
		CacheMaxSize:     512,
	}
}

// Client issues read-only requests to the dexscreener API with a shared
// token-bucket rate limit, a per-URL TTL cache, retry with backoff and
// jitter, and a circuit breaker guarding the upstream.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      *ttlCache
	breaker    *gobreaker.CircuitBreaker

	requestCount   atomic.Int64
	errorCount     atomic.Int64
	rateLimited    atomic.Int64
	cacheHits      atomic.Int64
	lastSuccessUni atomic.Int64 // unix seconds of last 200
}

// NewClient creates a new dexscreener client.
func NewClient(config ClientConfig) *Client {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.MaxRPS <= 0 {
		config.MaxRPS = 5
	}
	if config.Burst <= 0 {
		config.Burst = 1
	}
	if config.TimeoutSec <= 0 {
		config.TimeoutSec = 10
	}
	if config.RetryAttempts <= 0 {
		config.RetryAttempts = 3
	}
	if config.RetryBaseDelayMs <= 0 {
		config.RetryBaseDelayMs = 500
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "dexscreener",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 8
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("dexscreener: circuit breaker state change")
		},
	})

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: time.Duration(config.TimeoutSec) * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(config.MaxRPS), config.Burst),
		cache:   newTTLCache(time.Duration(config.CacheTTLSec)*time.Second, config.CacheMaxSize),
		breaker: breaker,
	}
}

// fetchJSON performs a cached, rate-limited GET against path and decodes the
// body into out. Rate limiting suspends the caller until a slot is free;
// transient upstream failures are retried with exponential backoff + jitter.
func (c *Client) fetchJSON(ctx context.Context, path string, out any) error {
	fullURL := c.config.BaseURL + path

	if body := c.cache.get(fullURL, time.Now()); body != nil {
		c.cacheHits.Add(1)
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		return nil
	}

	var lastErr error
	baseDelay := time.Duration(c.config.RetryBaseDelayMs) * time.Millisecond

	for attempt := 0; attempt < c.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			delay := baseDelay*time.Duration(1<<uint(attempt-1)) +
				time.Duration(rand.Int63n(int64(100*time.Millisecond)))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, ctx.Err())
			}
		}

		body, retryable, err := c.doRequest(ctx, fullURL)
		if err == nil {
			c.cache.set(fullURL, body, 0, time.Now())
			c.lastSuccessUni.Store(time.Now().Unix())
			if uerr := json.Unmarshal(body, out); uerr != nil {
				return fmt.Errorf("%w: %v", ErrMalformedResponse, uerr)
			}
			return nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}

	log.Warn().Err(lastErr).Str("url", fullURL).Msg("dexscreener: request failed")
	return lastErr
}

// doRequest issues one HTTP request through the limiter and breaker.
// The boolean return reports whether the failure is retryable.
func (c *Client) doRequest(ctx context.Context, fullURL string) ([]byte, bool, error) {
	// Suspend until the token bucket grants a slot. A context deadline
	// bounds the wait; exceeding it counts as upstream unavailability.
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, false, fmt.Errorf("%w: rate limit wait: %v", ErrUpstreamUnavailable, err)
	}

	result, err := c.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: build request: %v", ErrUpstreamUnavailable, err)
		}
		req.Header.Set("Accept", "application/json")

		c.requestCount.Add(1)
		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.errorCount.Add(1)
			return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			c.errorCount.Add(1)
			return nil, fmt.Errorf("%w: read body: %v", ErrUpstreamUnavailable, err)
		}

		if resp.StatusCode == http.StatusOK {
			return body, nil
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			c.rateLimited.Add(1)
		}
		c.errorCount.Add(1)
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			log.Warn().Int("status", resp.StatusCode).Str("url", fullURL).
				Msg("dexscreener: unexpected status")
		}
		return nil, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, &httpStatusError{code: resp.StatusCode})
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, false, fmt.Errorf("%w: circuit open", ErrUpstreamUnavailable)
		}
		var statusErr *httpStatusError
		if errors.As(err, &statusErr) {
			return nil, statusErr.retryable(), err
		}
		return nil, true, err
	}
	return result.([]byte), false, nil
}

// httpStatusError carries the upstream status for retry classification.
type httpStatusError struct {
	code int
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("status %d", e.code)
}

// retryable: 429 and 5xx may clear up; other 4xx will not improve on retry.
func (e *httpStatusError) retryable() bool {
	return e.code == http.StatusTooManyRequests || e.code >= 500
}

// TokenPairs returns all pairs for a reference token on the given chain.
// The endpoint responds with a bare array (v1) or a pairs envelope.
func (c *Client) TokenPairs(ctx context.Context, chainID, tokenAddress string) ([]Pair, error) {
	path := fmt.Sprintf("/token-pairs/v1/%s/%s", chainID, url.PathEscape(tokenAddress))

	var raw json.RawMessage
	if err := c.fetchJSON(ctx, path, &raw); err != nil {
		return nil, err
	}

	var pairs []Pair
	if err := json.Unmarshal(raw, &pairs); err == nil {
		return pairs, nil
	}
	var envelope PairsResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("%w: token-pairs: %v", ErrMalformedResponse, err)
	}
	return envelope.Pairs, nil
}

// Pair rechecks a single pair.
func (c *Client) Pair(ctx context.Context, chainID, pairID string) (*Pair, error) {
	path := fmt.Sprintf("/latest/dex/pairs/%s/%s", chainID, url.PathEscape(pairID))

	var envelope PairsResponse
	if err := c.fetchJSON(ctx, path, &envelope); err != nil {
		return nil, err
	}
	if envelope.Pair != nil {
		return envelope.Pair, nil
	}
	if len(envelope.Pairs) > 0 {
		return &envelope.Pairs[0], nil
	}
	return nil, nil
}

// Search performs keyword pair discovery.
func (c *Client) Search(ctx context.Context, query string) ([]Pair, error) {
	path := "/latest/dex/search?q=" + url.QueryEscape(query)

	var envelope PairsResponse
	if err := c.fetchJSON(ctx, path, &envelope); err != nil {
		return nil, err
	}
	return envelope.Pairs, nil
}

// LatestProfiles returns recently profiled tokens.
func (c *Client) LatestProfiles(ctx context.Context) ([]TokenProfile, error) {
	var profiles []TokenProfile
	if err := c.fetchJSON(ctx, "/token-profiles/latest/v1", &profiles); err != nil {
		return nil, err
	}
	return profiles, nil
}

// LatestBoosts returns recently boosted tokens.
func (c *Client) LatestBoosts(ctx context.Context) ([]TokenProfile, error) {
	var boosts []TokenProfile
	if err := c.fetchJSON(ctx, "/token-boosts/latest/v1", &boosts); err != nil {
		return nil, err
	}
	return boosts, nil
}

// ClientStats reports client counters.
type ClientStats struct {
	Requests    int64 `json:"requests"`
	Errors      int64 `json:"errors"`
	RateLimited int64 `json:"rate_limited"`
	CacheHits   int64 `json:"cache_hits"`
	CacheSize   int   `json:"cache_size"`
	LastSuccess int64 `json:"last_success_unix"`
}

// RequestCount reports total upstream requests issued.
func (c *Client) RequestCount() int64 { return c.requestCount.Load() }

// CacheHitCount reports reads served from the response cache.
func (c *Client) CacheHitCount() int64 { return c.cacheHits.Load() }

// LastSuccessAt reports the unix time of the most recent successful
// response, zero if none yet.
func (c *Client) LastSuccessAt() int64 { return c.lastSuccessUni.Load() }

// Stats returns current client statistics.
func (c *Client) Stats() ClientStats {
	return ClientStats{
		Requests:    c.requestCount.Load(),
		Errors:      c.errorCount.Load(),
		RateLimited: c.rateLimited.Load(),
		CacheHits:   c.cacheHits.Load(),
		CacheSize:   c.cache.len(),
		LastSuccess: c.lastSuccessUni.Load(),
	}
}
