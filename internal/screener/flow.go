package screener

import (
	"github.com/trenchlab/trenchwatch/internal/dexscreener"
)

// ---------------------------------------------------------------------------
// Transaction-flow analysis — buy pressure scoring over 5m and 1h windows
// ---------------------------------------------------------------------------

// FlowLabel classifies a flow score.
type FlowLabel string

const (
	FlowTradeEligible FlowLabel = "Trade-Eligible"
	FlowWatch         FlowLabel = "Watch"
	FlowIgnore        FlowLabel = "Ignore"
)

// Flow is the transaction-flow assessment attached to alert events.
type Flow struct {
	Score         int       `json:"score"`
	Label         FlowLabel `json:"label"`
	Buys5m        int       `json:"buys_5m"`
	Sells5m       int       `json:"sells_5m"`
	Volume5m      float64   `json:"volume_5m"`
	BuyPressure5m float64   `json:"buy_pressure_5m"`
	AvgBuy5m      float64   `json:"avg_buy_5m"`
	Buys1h        int       `json:"buys_1h"`
	Sells1h       int       `json:"sells_1h"`
	Volume1h      float64   `json:"volume_1h"`
	BuyPressure1h float64   `json:"buy_pressure_1h"`
	AvgBuy1h      float64   `json:"avg_buy_1h"`
	Gate5m        bool      `json:"gate_5m"`
	Gate1h        bool      `json:"gate_1h"`
	Partial       bool      `json:"partial"`
}

// ComputeFlow scores short-horizon buy pressure for a pair. Windows with
// missing txn or volume data leave their gate closed and mark the result
// partial rather than failing.
func ComputeFlow(pair dexscreener.Pair) Flow {
	f := Flow{}

	has5m := pair.Txns.M5 != nil && pair.Volume.M5 != nil
	has1h := pair.Txns.H1 != nil && pair.Volume.H1 != nil
	f.Partial = !has5m || !has1h

	if pair.Txns.M5 != nil {
		f.Buys5m = pair.Txns.M5.Buys
		f.Sells5m = pair.Txns.M5.Sells
	}
	if pair.Volume.M5 != nil {
		f.Volume5m = *pair.Volume.M5
	}
	if pair.Txns.H1 != nil {
		f.Buys1h = pair.Txns.H1.Buys
		f.Sells1h = pair.Txns.H1.Sells
	}
	if pair.Volume.H1 != nil {
		f.Volume1h = *pair.Volume.H1
	}

	f.BuyPressure5m = float64(f.Buys5m) / float64(max(1, f.Sells5m))
	f.AvgBuy5m = f.Volume5m / float64(max(1, f.Buys5m))
	f.BuyPressure1h = float64(f.Buys1h) / float64(max(1, f.Sells1h))
	f.AvgBuy1h = f.Volume1h / float64(max(1, f.Buys1h))

	f.Gate5m = has5m && f.Buys5m >= 6 && f.Volume5m >= 10_000 && f.Buys5m > f.Sells5m
	f.Gate1h = has1h && f.Buys1h >= 40 && f.Volume1h >= 50_000 && f.Buys1h > f.Sells1h

	score := 0
	if f.Gate5m {
		if f.Buys5m >= 8 {
			score += 30
		}
		if f.Buys5m >= 12 {
			score += 20
		}
		if f.BuyPressure5m >= 1.8 {
			score += 25
		}
		if f.BuyPressure5m >= 2.5 {
			score += 15
		}
		if f.AvgBuy5m >= 300 && f.AvgBuy5m <= 2000 {
			score += 20
		} else if f.AvgBuy5m < 150 || f.AvgBuy5m > 4000 {
			score -= 20
		}
	}
	if f.Gate1h {
		score += 30
		if f.Buys1h >= 80 {
			score += 15
		}
		if f.BuyPressure1h >= 1.4 {
			score += 15
		}
		if f.BuyPressure1h >= 1.8 {
			score += 10
		}
		if f.AvgBuy1h >= 300 && f.AvgBuy1h <= 2500 {
			score += 15
		} else if f.AvgBuy1h < 150 || f.AvgBuy1h > 5000 {
			score -= 15
		}
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	f.Score = score

	switch {
	case score >= 75:
		f.Label = FlowTradeEligible
	case score >= 55:
		f.Label = FlowWatch
	default:
		f.Label = FlowIgnore
	}
	return f
}
