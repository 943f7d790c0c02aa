package coordination

import (
	"context"
	"sort"
	"time"

	"github.com/synapnet/go-validator-node/entities"
	"github.com/synapnet/go-validator-node/phaseclock"
	"go.uber.org/zap"
)

// RecentLister is the extra store capability the flexible coordinator needs:
// a scan of fresh readiness records across recent slots.
type RecentLister interface {
	RecentRecords(ctx context.Context, fromSlot uint64) ([]entities.ReadinessRecord, error)
}

// FlexibleCoordinator tolerates starting mid-slot. Instead of trusting the
// local phase clock alone it takes a majority vote over recent readiness
// records to find the network's active position, and adopts that position
// when mid-slot joining is enabled. A node detected to be more than one
// phase's worth of time behind the network average skips consensus for the
// slot rather than submitting late scores.
type FlexibleCoordinator struct {
	cfg          Config
	clock        *phaseclock.Clock
	store        Store
	recent       RecentLister
	logger       *zap.SugaredLogger
	now          func() time.Time
	stop         chan struct{}
	joinedMid    bool
	pollInterval time.Duration
}

var _ Coordinator = (*FlexibleCoordinator)(nil)

func NewFlexibleCoordinator(cfg Config, clock *phaseclock.Clock, store Store, recent RecentLister, logger *zap.SugaredLogger) *FlexibleCoordinator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 4 * time.Second
	}
	if cfg.MajorityThreshold <= 0 {
		cfg.MajorityThreshold = 2
	}
	return &FlexibleCoordinator{
		cfg:          cfg,
		clock:        clock,
		store:        store,
		recent:       recent,
		logger:       logger,
		now:          time.Now,
		stop:         make(chan struct{}),
		pollInterval: cfg.PollInterval,
	}
}

func (c *FlexibleCoordinator) CurrentPosition(ctx context.Context) (phaseclock.Position, error) {
	local := c.clock.At(c.now())

	networkSlot, networkPhase, votes := c.networkPosition(ctx, local)
	if votes == 0 {
		return local, nil
	}

	if c.cfg.MidSlotJoin && (networkSlot != local.Slot || networkPhase != local.Phase) {
		if !c.joinedMid {
			c.joinedMid = true
			c.pollInterval = c.cfg.PollInterval / 2 // catch up faster
			c.logger.Infow("Joining mid-slot, adopting network position",
				"localSlot", local.Slot, "localPhase", local.Phase,
				"networkSlot", networkSlot, "networkPhase", networkPhase, "votes", votes)
		}
		start, end := c.clock.PhaseWindow(networkSlot, networkPhase)
		pos := phaseclock.Position{Slot: networkSlot, Phase: networkPhase}
		if now := c.now(); now.After(start) && now.Before(end) {
			pos.IntoPhase = now.Sub(start)
			pos.Remaining = end.Sub(now)
		}
		return pos, nil
	}

	return local, nil
}

// Behind reports whether this node lags the network average by more than one
// duration of the local phase. Such a node must skip consensus participation
// for the slot instead of corrupting the aggregate with stale scores.
func (c *FlexibleCoordinator) Behind(ctx context.Context) bool {
	local := c.clock.At(c.now())
	fromSlot := uint64(0)
	if local.Slot > 1 {
		fromSlot = local.Slot - 1
	}
	records, err := c.recent.RecentRecords(ctx, fromSlot)
	if err != nil || len(records) == 0 {
		return false
	}

	localStart, _ := c.clock.PhaseWindow(local.Slot, local.Phase)
	var sum float64
	var peers int
	for _, record := range records {
		// own records mirror the local clock and would drag the average
		// toward the position being measured
		if record.ValidatorUID == c.cfg.ValidatorUID {
			continue
		}
		start, _ := c.clock.PhaseWindow(record.Slot, record.Phase)
		sum += float64(start.Unix())
		peers++
	}
	if peers == 0 {
		return false
	}
	networkAvg := sum / float64(peers)

	lag := networkAvg - float64(localStart.Unix())
	return lag > c.clock.PhaseDuration(local.Phase).Seconds()
}

func (c *FlexibleCoordinator) WaitForPhase(ctx context.Context, slot uint64, phase entities.Phase) (PhaseReadiness, error) {
	if phase == entities.PhaseConsensusScoring && c.Behind(ctx) {
		c.logger.Warnw("Node is behind the network, skipping consensus for this slot", "slot", slot)
		return PhaseReadiness{Slot: slot, Phase: phase, Skipped: true}, nil
	}

	var payload any
	if c.joinedMid {
		payload = map[string]any{"joinedMidSlot": true}
	}
	return waitForPhase(ctx, waitParams{
		cfg:          c.cfg,
		clock:        c.clock,
		store:        c.store,
		logger:       c.logger,
		now:          c.now,
		stop:         c.stop,
		pollInterval: c.pollInterval,
		entryPayload: payload,
	}, slot, phase)
}

func (c *FlexibleCoordinator) PhaseContext(parent context.Context, slot uint64, phase entities.Phase) (context.Context, context.CancelFunc) {
	_, end := c.clock.PhaseWindow(slot, phase)
	return context.WithDeadline(parent, end)
}

func (c *FlexibleCoordinator) Stop() {
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
}

// networkPosition returns the most voted (slot, phase) among recent records
// together with its vote count. Later positions win ties so a recovering
// network converges forward, not backward.
func (c *FlexibleCoordinator) networkPosition(ctx context.Context, local phaseclock.Position) (uint64, entities.Phase, int) {
	fromSlot := uint64(0)
	if local.Slot > 1 {
		fromSlot = local.Slot - 1
	}
	records, err := c.recent.RecentRecords(ctx, fromSlot)
	if err != nil {
		c.logger.Errorw("error listing recent records", "error", err)
		return 0, "", 0
	}
	if len(records) == 0 {
		return 0, "", 0
	}

	type position struct {
		slot  uint64
		phase entities.Phase
	}
	// one vote per validator: its latest record
	latest := make(map[string]entities.ReadinessRecord)
	for _, record := range records {
		prev, ok := latest[record.ValidatorUID]
		if !ok || record.Timestamp > prev.Timestamp {
			latest[record.ValidatorUID] = record
		}
	}
	votes := make(map[position]int)
	for _, record := range latest {
		votes[position{slot: record.Slot, phase: record.Phase}]++
	}

	positions := make([]position, 0, len(votes))
	for pos := range votes {
		positions = append(positions, pos)
	}
	sort.Slice(positions, func(i, j int) bool {
		if votes[positions[i]] != votes[positions[j]] {
			return votes[positions[i]] > votes[positions[j]]
		}
		if positions[i].slot != positions[j].slot {
			return positions[i].slot > positions[j].slot
		}
		return layoutIndex(positions[i].phase) > layoutIndex(positions[j].phase)
	})

	winner := positions[0]
	return winner.slot, winner.phase, votes[winner]
}

// layoutIndex is the phase's position within the slot window, so the later
// of two tied phases in the same slot wins.
func layoutIndex(phase entities.Phase) int {
	for i, p := range phaseclock.SlotLayout {
		if p == phase {
			return i
		}
	}
	return -1
}
