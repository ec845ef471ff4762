package screener

// ---------------------------------------------------------------------------
// Transition Engine — per-token eligibility state machine
// ---------------------------------------------------------------------------

// AlertPolicyMode selects when repeat alerts are permitted.
type AlertPolicyMode string

const (
	// PolicyFirstOnce fires at most one alert per token, ever.
	PolicyFirstOnce AlertPolicyMode = "first_once"

	// PolicyRearm permits repeat alerts after the token has spent a
	// minimum duration ineligible and the dedupe window has elapsed.
	PolicyRearm AlertPolicyMode = "rearm"
)

// AlertPolicy holds the transition alert parameters. When the dedupe window
// is shorter than the rearm minimum the larger of the two is the effective
// minimum gap between alerts (config validation warns on that overlap).
type AlertPolicy struct {
	Mode             AlertPolicyMode
	DedupeWindowSec  int64
	MinIneligibleSec int64
}

// State is the persisted eligibility state for one token. Timestamps are
// unix seconds; zero means never. KnownEligible distinguishes the unknown
// initial state from a recorded ineligible verdict.
type State struct {
	KnownEligible    bool
	LastEligible     bool
	LastEligibleAt   int64
	LastIneligibleAt int64
	LastAlertedAt    int64
	AlertCount       int64
}

// Decision is the outcome of one transition evaluation.
type Decision struct {
	Eligible         bool
	ShouldAlert      bool
	Reason           string
	LastIneligibleAt int64
}

// Decide compares the new verdict against stored state and applies the
// alert policy. It mutates nothing: the caller persists the updated state.
// Re-evaluating the same verdict twice without an intervening transition
// never yields a second ShouldAlert.
func Decide(now int64, eligible bool, state State, policy AlertPolicy) Decision {
	lastEligible := state.KnownEligible && state.LastEligible
	lastIneligibleAt := state.LastIneligibleAt

	if !eligible {
		// Record when the token entered ineligibility: on the downward
		// transition, or on first sight.
		if lastEligible || lastIneligibleAt == 0 {
			lastIneligibleAt = now
		}
		return Decision{Reason: "ineligible", LastIneligibleAt: lastIneligibleAt}
	}

	if lastEligible {
		return Decision{Eligible: true, Reason: "still_eligible", LastIneligibleAt: lastIneligibleAt}
	}

	if policy.Mode == PolicyFirstOnce {
		if state.LastAlertedAt > 0 {
			return Decision{Eligible: true, Reason: "already_alerted", LastIneligibleAt: lastIneligibleAt}
		}
		return Decision{Eligible: true, ShouldAlert: true, Reason: "became_eligible", LastIneligibleAt: lastIneligibleAt}
	}

	// Re-arming policy. The effective gap since the last alert is the
	// larger of the dedupe window and the rearm minimum.
	gap := policy.DedupeWindowSec
	if policy.MinIneligibleSec > gap {
		gap = policy.MinIneligibleSec
	}
	if state.LastAlertedAt > 0 && now-state.LastAlertedAt < gap {
		return Decision{Eligible: true, Reason: "dedupe_window", LastIneligibleAt: lastIneligibleAt}
	}
	if lastIneligibleAt > 0 && now-lastIneligibleAt < policy.MinIneligibleSec {
		return Decision{Eligible: true, Reason: "rearm_wait", LastIneligibleAt: lastIneligibleAt}
	}
	return Decision{Eligible: true, ShouldAlert: true, Reason: "became_eligible", LastIneligibleAt: lastIneligibleAt}
}

// Apply folds a decision back into the stored state. The alerted flag
// reports whether an alert was actually emitted (delivery may be
// suppressed by pause/mute without affecting eligibility bookkeeping).
func Apply(now int64, state State, decision Decision, alerted bool) State {
	state.KnownEligible = true
	state.LastEligible = decision.Eligible
	state.LastIneligibleAt = decision.LastIneligibleAt
	if decision.Eligible {
		state.LastEligibleAt = now
	}
	if alerted {
		state.LastAlertedAt = now
		state.AlertCount++
	}
	return state
}
