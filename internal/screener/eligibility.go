package screener

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/trenchlab/trenchwatch/internal/dexscreener"
)

// ---------------------------------------------------------------------------
// Eligibility Evaluator — pure predicate over the latest pair snapshot
// ---------------------------------------------------------------------------

// FilterConfig holds the eligibility thresholds. All configured checks are
// evaluated as a conjunction.
type FilterConfig struct {
	MaxMarketCap   float64 `yaml:"max_market_cap"`
	MinChange24h   float64 `yaml:"min_change_24h"`
	MinChange6h    float64 `yaml:"min_change_6h"`
	MinChange1h    float64 `yaml:"min_change_1h"`
	MinVolume1h    float64 `yaml:"min_volume_1h"`
	RequireProfile bool    `yaml:"require_profile"`
}

// DefaultFilterConfig returns the stock trench-screening thresholds.
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		MaxMarketCap:   100_000,
		MinChange24h:   1,
		MinChange6h:    1,
		MinChange1h:    1,
		MinVolume1h:    10_000,
		RequireProfile: true,
	}
}

// Metrics is the evaluated metric snapshot for a pair. Nil means the
// upstream did not report the field.
type Metrics struct {
	MarketCap      *float64
	MarketCapLabel string
	Volume1h       *float64
	Change1h       *float64
	Change6h       *float64
	Change24h      *float64
	PriceUSD       decimal.NullDecimal
}

// Result is the eligibility verdict plus the reasons behind it. Satisfied
// names every threshold the record met (used for alert construction);
// Failed names every check that blocked eligibility.
type Result struct {
	Passed    bool
	Satisfied []string
	Failed    []string
	Metrics   Metrics
}

// ExtractMetrics pulls the evaluated fields out of a pair snapshot.
// When market cap is absent and the FDV proxy is enabled, FDV substitutes
// and the label records the proxy usage.
func ExtractMetrics(pair dexscreener.Pair, useFDVProxy bool) Metrics {
	m := Metrics{
		MarketCap:      pair.MarketCap,
		MarketCapLabel: "Market Cap",
		Volume1h:       pair.Volume.H1,
		Change1h:       pair.PriceChange.H1,
		Change6h:       pair.PriceChange.H6,
		Change24h:      pair.PriceChange.H24,
	}
	if m.MarketCap == nil {
		m.MarketCapLabel = "Market Cap (missing)"
		if useFDVProxy && pair.FDV != nil {
			m.MarketCap = pair.FDV
			m.MarketCapLabel = "FDV (proxy)"
		}
	}
	if pair.PriceUSD != "" {
		if price, err := decimal.NewFromString(pair.PriceUSD); err == nil {
			m.PriceUSD = decimal.NewNullDecimal(price)
		}
	}
	return m
}

// Evaluate applies the configured filter to a pair snapshot. It is a pure
// function: missing required fields fail closed, never error.
func Evaluate(pair dexscreener.Pair, filters FilterConfig, useFDVProxy bool) Result {
	metrics := ExtractMetrics(pair, useFDVProxy)
	result := Result{Metrics: metrics}

	pass := func(name string) { result.Satisfied = append(result.Satisfied, name) }
	fail := func(name string) { result.Failed = append(result.Failed, name) }

	if filters.RequireProfile {
		if pair.HasProfile() {
			pass("profile present")
		} else {
			fail("profile missing")
		}
	}

	if metrics.MarketCap == nil {
		fail("market cap missing")
		if pair.FDV != nil && !useFDVProxy {
			fail("fdv proxy disabled")
		}
	} else if *metrics.MarketCap > filters.MaxMarketCap {
		fail("market cap above max")
	} else {
		pass(fmt.Sprintf("%s <= %.0f", metrics.MarketCapLabel, filters.MaxMarketCap))
	}

	checkMin := func(value *float64, min float64, name string) {
		switch {
		case value == nil:
			fail(name + " missing")
		case *value < min:
			fail(name + " below min")
		default:
			pass(fmt.Sprintf("%s >= %.0f", name, min))
		}
	}
	checkMin(metrics.Change24h, filters.MinChange24h, "24h change")
	checkMin(metrics.Change6h, filters.MinChange6h, "6h change")
	checkMin(metrics.Change1h, filters.MinChange1h, "1h change")
	checkMin(metrics.Volume1h, filters.MinVolume1h, "1h volume")

	result.Passed = len(result.Failed) == 0
	return result
}
