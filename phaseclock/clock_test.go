package phaseclock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synapnet/go-validator-node/entities"
)

func testClock(t *testing.T) *Clock {
	clock, err := NewClock(DefaultConfig(time.Unix(0, 0)))
	require.NoError(t, err)
	return clock
}

func TestClock_rejectsZeroEpochStart(t *testing.T) {
	cfg := DefaultConfig(time.Time{})
	_, err := NewClock(cfg)
	require.ErrorIs(t, err, entities.ErrTimingDrift)
}

func TestClock_rejectsMissingPhaseDuration(t *testing.T) {
	cfg := DefaultConfig(time.Unix(0, 0))
	delete(cfg.PhaseDurations, entities.PhaseMetagraphUpdate)
	_, err := NewClock(cfg)
	require.ErrorIs(t, err, entities.ErrTimingDrift)
}

func TestClock_slotDuration(t *testing.T) {
	clock := testClock(t)
	assert.Equal(t, 210*time.Second, clock.SlotDuration())
}

func TestClock_firstSlotPhases(t *testing.T) {
	clock := testClock(t)

	pos := clock.At(time.Unix(0, 0))
	assert.Equal(t, uint64(0), pos.Slot)
	assert.Equal(t, entities.PhaseMetagraphUpdate, pos.Phase)
	assert.Equal(t, 60*time.Second, pos.Remaining)

	pos = clock.At(time.Unix(60, 0))
	assert.Equal(t, uint64(0), pos.Slot)
	assert.Equal(t, entities.PhaseTaskAssignment, pos.Phase)

	pos = clock.At(time.Unix(90, 0))
	assert.Equal(t, uint64(0), pos.Slot)
	assert.Equal(t, entities.PhaseConsensusScoring, pos.Phase)
	assert.Equal(t, 120*time.Second, pos.Remaining)
}

// end-to-end timing check: 210s slots split 30/120/60, t=400 must land in
// the consensus scoring phase of slot 1.
func TestClock_atT400(t *testing.T) {
	clock := testClock(t)

	pos := clock.At(time.Unix(400, 0))
	assert.Equal(t, uint64(1), pos.Slot)
	assert.Equal(t, entities.PhaseConsensusScoring, pos.Phase)
	assert.Equal(t, 100*time.Second, pos.IntoPhase)
	assert.Equal(t, 20*time.Second, pos.Remaining)
}

func TestClock_wrapsToNextSlot(t *testing.T) {
	clock := testClock(t)

	pos := clock.At(time.Unix(210, 0))
	assert.Equal(t, uint64(1), pos.Slot)
	assert.Equal(t, entities.PhaseMetagraphUpdate, pos.Phase)
}

func TestClock_beforeEpochStart(t *testing.T) {
	clock, err := NewClock(DefaultConfig(time.Unix(1000, 0)))
	require.NoError(t, err)

	pos := clock.At(time.Unix(500, 0))
	assert.Equal(t, uint64(0), pos.Slot)
	assert.Equal(t, entities.PhaseMetagraphUpdate, pos.Phase)
}

func TestClock_phaseWindow(t *testing.T) {
	clock := testClock(t)

	start, end := clock.PhaseWindow(1, entities.PhaseConsensusScoring)
	assert.Equal(t, time.Unix(300, 0), start)
	assert.Equal(t, time.Unix(420, 0), end)

	start, end = clock.PhaseWindow(0, entities.PhaseTaskAssignment)
	assert.Equal(t, time.Unix(60, 0), start)
	assert.Equal(t, time.Unix(90, 0), end)
}

func TestClock_slotStart(t *testing.T) {
	clock := testClock(t)
	assert.Equal(t, time.Unix(420, 0), clock.SlotStart(2))
}

func TestClock_next(t *testing.T) {
	clock := testClock(t)

	slot, phase := clock.Next(1, entities.PhaseTaskAssignment)
	assert.Equal(t, uint64(1), slot)
	assert.Equal(t, entities.PhaseConsensusScoring, phase)

	slot, phase = clock.Next(1, entities.PhaseConsensusScoring)
	assert.Equal(t, uint64(2), slot)
	assert.Equal(t, entities.PhaseMetagraphUpdate, phase)

	slot, phase = clock.Next(2, entities.PhaseMetagraphUpdate)
	assert.Equal(t, uint64(2), slot)
	assert.Equal(t, entities.PhaseTaskAssignment, phase)
}
