package alert

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/trenchlab/trenchwatch/internal/screener"
)

// ---------------------------------------------------------------------------
// Alert events — pushed to the notification collaborator
// ---------------------------------------------------------------------------

// TransitionKind names the state-machine edge that produced the alert.
type TransitionKind string

const (
	// TransitionFirstEligible is the first eligibility of a token's life.
	TransitionFirstEligible TransitionKind = "first_eligible"

	// TransitionRearmed is a repeat eligibility after the rearm gap.
	TransitionRearmed TransitionKind = "rearmed"
)

// Event is one eligibility-transition alert.
type Event struct {
	ID           string                `json:"id"`
	TokenAddress string                `json:"token_address"`
	PairAddress  string                `json:"pair_address"`
	ChainID      string                `json:"chain_id"`
	Name         string                `json:"name"`
	Symbol       string                `json:"symbol"`
	Source       string                `json:"source"`
	Transition   TransitionKind        `json:"transition"`
	Reasons      []string              `json:"reasons"` // thresholds satisfied
	MarketCap    *float64              `json:"market_cap,omitempty"`
	MarketCapTag string                `json:"market_cap_tag"`
	Volume1h     *float64              `json:"volume_1h,omitempty"`
	Change1h     *float64              `json:"change_1h,omitempty"`
	Change6h     *float64              `json:"change_6h,omitempty"`
	Change24h    *float64              `json:"change_24h,omitempty"`
	PriceUSD     string                `json:"price_usd,omitempty"`
	Flow         screener.Flow         `json:"flow"`
	Tagline      string                `json:"tagline,omitempty"`
	FirstSeenAt  time.Time             `json:"first_seen_at"`
	EmittedAt    time.Time             `json:"emitted_at"`
}

// NewEvent builds an alert event from an evaluated candidate.
func NewEvent(cand screener.Candidate, result screener.Result, kind TransitionKind, firstSeen, now time.Time) Event {
	name, symbol := cand.TokenMeta()
	ev := Event{
		ID:           uuid.NewString(),
		TokenAddress: cand.TokenAddress,
		PairAddress:  cand.PairAddress,
		ChainID:      cand.ChainID,
		Name:         name,
		Symbol:       symbol,
		Source:       cand.Source,
		Transition:   kind,
		Reasons:      result.Satisfied,
		MarketCap:    result.Metrics.MarketCap,
		MarketCapTag: result.Metrics.MarketCapLabel,
		Volume1h:     result.Metrics.Volume1h,
		Change1h:     result.Metrics.Change1h,
		Change6h:     result.Metrics.Change6h,
		Change24h:    result.Metrics.Change24h,
		Flow:         screener.ComputeFlow(cand.Pair),
		FirstSeenAt:  firstSeen,
		EmittedAt:    now,
	}
	if result.Metrics.PriceUSD.Valid {
		ev.PriceUSD = result.Metrics.PriceUSD.Decimal.String()
	}
	return ev
}

// Notifier delivers alert events to an external channel.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// LogNotifier writes alerts to the structured log. It backs dry runs and
// doubles as the terminal sink when no external channel is wired.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, event Event) error {
	log.Info().
		Str("alert_id", event.ID).
		Str("token", event.TokenAddress).
		Str("pair", event.PairAddress).
		Str("symbol", event.Symbol).
		Str("transition", string(event.Transition)).
		Strs("reasons", event.Reasons).
		Int("flow_score", event.Flow.Score).
		Str("flow_label", string(event.Flow.Label)).
		Msg("ALERT: eligibility transition")
	return nil
}

// Fanout delivers one event to several notifiers. A failing notifier is
// logged and does not block the others; the first error is returned.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, event Event) error {
	var firstErr error
	for _, n := range f {
		if err := n.Notify(ctx, event); err != nil {
			log.Error().Err(err).Str("alert_id", event.ID).Msg("alert: notifier failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
