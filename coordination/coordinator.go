package coordination

import (
	"context"
	"time"

	"github.com/synapnet/go-validator-node/entities"
	"github.com/synapnet/go-validator-node/phaseclock"
)

// Config drives both coordinator variants.
type Config struct {
	ValidatorUID      string
	MajorityThreshold int           // validators required for quorum
	PollInterval      time.Duration // readiness poll cadence
	RetentionSlots    uint64        // readiness records older than this are garbage collected
	MidSlotJoin       bool          // flexible coordinator only: adopt the network position on startup
}

func DefaultConfig(validatorUID string) Config {
	return Config{
		ValidatorUID:      validatorUID,
		MajorityThreshold: 2,
		PollInterval:      4 * time.Second,
		RetentionSlots:    10,
	}
}

// PhaseReadiness is the outcome of waiting for a phase quorum.
type PhaseReadiness struct {
	Slot    uint64
	Phase   entities.Phase
	Ready   []string // validators with fresh readiness records, self included
	Quorum  bool     // threshold was met before the deadline
	Partial bool     // deadline hit without quorum, proceeding degraded
	Skipped bool     // node too far behind the network, sitting the slot out
}

// Coordinator keeps one validator process aligned with the network's phase
// sequence. Implementations differ only in how they determine the current
// position: the slot coordinator trusts the local phase clock, the flexible
// coordinator lets the coordination store outvote it.
type Coordinator interface {
	// CurrentPosition returns the slot and phase the coordinator considers
	// active right now.
	CurrentPosition(ctx context.Context) (phaseclock.Position, error)

	// WaitForPhase records this validator's entry into the phase, then polls
	// the store until quorum, the phase deadline (plus buffer), or ctx
	// cancellation. It never blocks past the deadline: a missing quorum
	// degrades to a partial result instead of an error.
	WaitForPhase(ctx context.Context, slot uint64, phase entities.Phase) (PhaseReadiness, error)

	// PhaseContext derives a context that is cancelled the instant the
	// phase's time boundary is reached. Used for hard-cutoff work such as
	// task dispatch, so no validator can privilege late sends.
	PhaseContext(parent context.Context, slot uint64, phase entities.Phase) (context.Context, context.CancelFunc)

	// Stop cancels any active wait.
	Stop()
}
