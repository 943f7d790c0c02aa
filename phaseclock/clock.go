package phaseclock

import (
	"time"

	"github.com/pkg/errors"
	"github.com/synapnet/go-validator-node/entities"
)

// SlotLayout is the order phases occupy a slot window. The metagraph update
// of the previous round runs in the first seconds of the slot so that weight
// submission happens right at a slot boundary; task assignment and consensus
// scoring for the current round follow. The phase cycle itself is unchanged:
// after consensus scoring comes the metagraph update, in the next slot window.
var SlotLayout = []entities.Phase{
	entities.PhaseMetagraphUpdate,
	entities.PhaseTaskAssignment,
	entities.PhaseConsensusScoring,
}

// Config defines the network-wide slot timing. EpochStart must be the fixed,
// network-agreed constant; deriving it from first-run time makes validators
// drift permanently apart.
type Config struct {
	EpochStart     time.Time
	PhaseDurations map[entities.Phase]time.Duration
	PhaseBuffer    time.Duration // grace period for late phase arrivals
}

func DefaultConfig(epochStart time.Time) Config {
	return Config{
		EpochStart: epochStart,
		PhaseDurations: map[entities.Phase]time.Duration{
			entities.PhaseTaskAssignment:   30 * time.Second,
			entities.PhaseConsensusScoring: 120 * time.Second,
			entities.PhaseMetagraphUpdate:  60 * time.Second,
		},
		PhaseBuffer: 10 * time.Second,
	}
}

// Position locates a point in time within the slot cycle.
type Position struct {
	Slot      uint64
	Phase     entities.Phase
	IntoPhase time.Duration
	Remaining time.Duration
}

// Clock maps wall-clock time to (slot, phase). Pure and stateless apart from
// its configuration.
type Clock struct {
	cfg          Config
	slotDuration time.Duration
}

func NewClock(cfg Config) (*Clock, error) {
	if cfg.EpochStart.IsZero() {
		return nil, errors.Wrap(entities.ErrTimingDrift, "epoch start not configured")
	}
	var total time.Duration
	for _, phase := range SlotLayout {
		d, ok := cfg.PhaseDurations[phase]
		if !ok || d <= 0 {
			return nil, errors.Wrapf(entities.ErrTimingDrift, "invalid duration for phase [%s]", phase)
		}
		total += d
	}
	return &Clock{cfg: cfg, slotDuration: total}, nil
}

func (c *Clock) SlotDuration() time.Duration {
	return c.slotDuration
}

func (c *Clock) PhaseDuration(phase entities.Phase) time.Duration {
	return c.cfg.PhaseDurations[phase]
}

func (c *Clock) Buffer() time.Duration {
	return c.cfg.PhaseBuffer
}

// At returns the position of the given instant. Instants before the epoch
// start are treated as slot zero, first phase of the layout.
func (c *Clock) At(now time.Time) Position {
	elapsed := now.Sub(c.cfg.EpochStart)
	if elapsed < 0 {
		first := SlotLayout[0]
		return Position{Slot: 0, Phase: first, IntoPhase: 0, Remaining: c.cfg.PhaseDurations[first]}
	}

	slot := uint64(elapsed / c.slotDuration)
	intoSlot := elapsed % c.slotDuration

	var offset time.Duration
	for _, phase := range SlotLayout {
		d := c.cfg.PhaseDurations[phase]
		if intoSlot < offset+d {
			return Position{
				Slot:      slot,
				Phase:     phase,
				IntoPhase: intoSlot - offset,
				Remaining: offset + d - intoSlot,
			}
		}
		offset += d
	}

	// past all phase boundaries: wrap to the first phase of the next slot
	first := SlotLayout[0]
	return Position{Slot: slot + 1, Phase: first, IntoPhase: 0, Remaining: c.cfg.PhaseDurations[first]}
}

// Next returns the phase following p together with the slot it belongs to.
// The slot increments when the layout wraps.
func (c *Clock) Next(slot uint64, p entities.Phase) (uint64, entities.Phase) {
	for i, phase := range SlotLayout {
		if phase == p {
			if i == len(SlotLayout)-1 {
				return slot + 1, SlotLayout[0]
			}
			return slot, SlotLayout[i+1]
		}
	}
	return slot + 1, SlotLayout[0]
}

// SlotStart returns the wall-clock start of the given slot.
func (c *Clock) SlotStart(slot uint64) time.Time {
	return c.cfg.EpochStart.Add(time.Duration(slot) * c.slotDuration)
}

// PhaseWindow returns the wall-clock start and end of a phase within a slot
// window. The end does not include the late-arrival buffer.
func (c *Clock) PhaseWindow(slot uint64, phase entities.Phase) (time.Time, time.Time) {
	start := c.SlotStart(slot)
	for _, p := range SlotLayout {
		if p == phase {
			break
		}
		start = start.Add(c.cfg.PhaseDurations[p])
	}
	return start, start.Add(c.cfg.PhaseDurations[phase])
}
