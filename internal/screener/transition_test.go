package screener

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var rearmPolicy = AlertPolicy{
	Mode:             PolicyRearm,
	DedupeWindowSec:  24 * 3600,
	MinIneligibleSec: 30 * 60,
}

var firstOncePolicy = AlertPolicy{
	Mode:            PolicyFirstOnce,
	DedupeWindowSec: 24 * 3600,
}

func TestDecide_FirstSightEligibleAlerts(t *testing.T) {
	d := Decide(1000, true, State{}, firstOncePolicy)
	assert.True(t, d.Eligible)
	assert.True(t, d.ShouldAlert)
	assert.Equal(t, "became_eligible", d.Reason)
}

func TestDecide_FirstSightIneligible(t *testing.T) {
	d := Decide(1000, false, State{}, firstOncePolicy)
	assert.False(t, d.Eligible)
	assert.False(t, d.ShouldAlert)
	assert.Equal(t, "ineligible", d.Reason)
	assert.Equal(t, int64(1000), d.LastIneligibleAt)
}

func TestDecide_StillEligibleNeverRealerts(t *testing.T) {
	state := State{}
	d := Decide(1000, true, state, firstOncePolicy)
	state = Apply(1000, state, d, true)

	for now := int64(1020); now < 1200; now += 20 {
		d = Decide(now, true, state, firstOncePolicy)
		assert.False(t, d.ShouldAlert)
		assert.Equal(t, "still_eligible", d.Reason)
		state = Apply(now, state, d, false)
	}
	assert.Equal(t, int64(1), state.AlertCount)
}

func TestDecide_FirstOnceNeverRearms(t *testing.T) {
	state := State{}
	state = Apply(1000, state, Decide(1000, true, state, firstOncePolicy), true)

	// Drop out and come back far beyond any window.
	state = Apply(2000, state, Decide(2000, false, state, firstOncePolicy), false)
	d := Decide(200_000, true, state, firstOncePolicy)
	assert.False(t, d.ShouldAlert)
	assert.Equal(t, "already_alerted", d.Reason)
}

func TestDecide_RearmAfterGapAndIneligibleWait(t *testing.T) {
	state := State{}
	state = Apply(1000, state, Decide(1000, true, state, rearmPolicy), true)

	// Becomes ineligible.
	dropAt := int64(5000)
	d := Decide(dropAt, false, state, rearmPolicy)
	assert.Equal(t, dropAt, d.LastIneligibleAt)
	state = Apply(dropAt, state, d, false)

	// Eligible again inside the dedupe window: suppressed.
	d = Decide(dropAt+3600, true, state, rearmPolicy)
	assert.False(t, d.ShouldAlert)
	assert.Equal(t, "dedupe_window", d.Reason)
	state = Apply(dropAt+3600, state, d, false)

	// still_eligible resets nothing; drop out again then return after
	// both the dedupe window and the rearm wait.
	d = Decide(dropAt+4000, false, state, rearmPolicy)
	state = Apply(dropAt+4000, state, d, false)

	reAt := int64(1000 + 25*3600)
	d = Decide(reAt, true, state, rearmPolicy)
	assert.True(t, d.ShouldAlert)
	assert.Equal(t, "became_eligible", d.Reason)
}

func TestDecide_RearmWaitBlocksQuickFlap(t *testing.T) {
	state := State{}
	state = Apply(1000, state, Decide(1000, true, state, rearmPolicy), true)

	// Far past the dedupe window: flap ineligible for one cycle only.
	dropAt := int64(1000 + 30*3600)
	state = Apply(dropAt, state, Decide(dropAt, false, state, rearmPolicy), false)

	d := Decide(dropAt+60, true, state, rearmPolicy)
	assert.False(t, d.ShouldAlert)
	assert.Equal(t, "rearm_wait", d.Reason)
	state = Apply(dropAt+60, state, d, false)

	// still_eligible from here on; a later cycle cannot sneak an alert in.
	d = Decide(dropAt+31*60, true, state, rearmPolicy)
	assert.Equal(t, "still_eligible", d.Reason)
	assert.False(t, d.ShouldAlert)
}

func TestDecide_EffectiveGapIsMaxOfWindows(t *testing.T) {
	// Dedupe shorter than the rearm minimum: the rearm minimum governs.
	policy := AlertPolicy{Mode: PolicyRearm, DedupeWindowSec: 600, MinIneligibleSec: 3600}

	state := State{}
	state = Apply(1000, state, Decide(1000, true, state, policy), true)
	state = Apply(1100, state, Decide(1100, false, state, policy), false)

	// Past the dedupe window but inside the rearm minimum since last alert.
	d := Decide(1000+1800, true, state, policy)
	assert.False(t, d.ShouldAlert)
	assert.Equal(t, "dedupe_window", d.Reason)
}

func TestDecide_IneligibleTimestampPreservedAcrossCycles(t *testing.T) {
	state := State{}
	state = Apply(1000, state, Decide(1000, false, state, rearmPolicy), false)
	first := state.LastIneligibleAt

	state = Apply(1020, state, Decide(1020, false, state, rearmPolicy), false)
	assert.Equal(t, first, state.LastIneligibleAt)
}

func TestApply_SuppressedDeliveryKeepsTransition(t *testing.T) {
	// An alert-worthy decision folded with alerted=false (paused/muted run)
	// must not record an alert.
	state := State{}
	d := Decide(1000, true, state, firstOncePolicy)
	assert.True(t, d.ShouldAlert)

	state = Apply(1000, state, d, false)
	assert.True(t, state.LastEligible)
	assert.Zero(t, state.LastAlertedAt)
	assert.Zero(t, state.AlertCount)

	// first_once: the missed delivery is gone for good once eligible.
	d = Decide(1020, true, state, firstOncePolicy)
	assert.Equal(t, "still_eligible", d.Reason)
}

func TestDecide_IdempotentPerVerdict(t *testing.T) {
	state := State{}
	d1 := Decide(1000, true, state, rearmPolicy)
	d2 := Decide(1000, true, state, rearmPolicy)
	assert.Equal(t, d1, d2)
}
