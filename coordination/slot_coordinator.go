package coordination

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/synapnet/go-validator-node/entities"
	"github.com/synapnet/go-validator-node/phaseclock"
	"go.uber.org/zap"
)

// SlotCoordinator drives a validator through the phase sequence strictly by
// the local phase clock. All validators share the same clock configuration,
// so phase cutoffs line up across the network without any coordination
// beyond the readiness records themselves.
type SlotCoordinator struct {
	cfg    Config
	clock  *phaseclock.Clock
	store  Store
	logger *zap.SugaredLogger
	now    func() time.Time
	stop   chan struct{}
}

var _ Coordinator = (*SlotCoordinator)(nil)

func NewSlotCoordinator(cfg Config, clock *phaseclock.Clock, store Store, logger *zap.SugaredLogger) *SlotCoordinator {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 4 * time.Second
	}
	if cfg.MajorityThreshold <= 0 {
		cfg.MajorityThreshold = 2
	}
	return &SlotCoordinator{
		cfg:    cfg,
		clock:  clock,
		store:  store,
		logger: logger,
		now:    time.Now,
		stop:   make(chan struct{}),
	}
}

func (c *SlotCoordinator) CurrentPosition(_ context.Context) (phaseclock.Position, error) {
	return c.clock.At(c.now()), nil
}

func (c *SlotCoordinator) WaitForPhase(ctx context.Context, slot uint64, phase entities.Phase) (PhaseReadiness, error) {
	return waitForPhase(ctx, waitParams{
		cfg:          c.cfg,
		clock:        c.clock,
		store:        c.store,
		logger:       c.logger,
		now:          c.now,
		stop:         c.stop,
		pollInterval: c.cfg.PollInterval,
	}, slot, phase)
}

func (c *SlotCoordinator) PhaseContext(parent context.Context, slot uint64, phase entities.Phase) (context.Context, context.CancelFunc) {
	_, end := c.clock.PhaseWindow(slot, phase)
	return context.WithDeadline(parent, end)
}

func (c *SlotCoordinator) Stop() {
	select {
	case <-c.stop:
	default:
		close(c.stop)
	}
}

type waitParams struct {
	cfg          Config
	clock        *phaseclock.Clock
	store        Store
	logger       *zap.SugaredLogger
	now          func() time.Time
	stop         chan struct{}
	pollInterval time.Duration
	entryPayload any
}

// waitForPhase is shared between both coordinator variants. It registers
// this validator's readiness, then polls until quorum or the phase deadline
// plus buffer. Timeout without quorum degrades to a partial result.
func waitForPhase(ctx context.Context, p waitParams, slot uint64, phase entities.Phase) (PhaseReadiness, error) {
	result := PhaseReadiness{Slot: slot, Phase: phase}

	err := p.store.Put(ctx, p.cfg.ValidatorUID, slot, phase, p.entryPayload)
	if err != nil {
		return result, errors.Wrapf(err, "recording readiness for slot [%d] phase [%s]", slot, phase)
	}

	_, end := p.clock.PhaseWindow(slot, phase)
	deadline := end.Add(p.clock.Buffer())

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		records, err := p.store.ListReady(ctx, slot, phase)
		if err != nil {
			p.logger.Errorw("error listing ready validators", "slot", slot, "phase", phase, "error", err)
		} else {
			result.Ready = validatorUIDs(records)
			if len(result.Ready) >= p.cfg.MajorityThreshold {
				result.Quorum = true
				p.logger.Infow("Phase quorum reached", "slot", slot, "phase", phase, "ready", len(result.Ready))
				return result, nil
			}
		}

		if !p.now().Before(deadline) {
			result.Partial = true
			p.logger.Warnw("Phase deadline reached without quorum, proceeding degraded",
				"slot", slot, "phase", phase, "ready", len(result.Ready), "threshold", p.cfg.MajorityThreshold)
			return result, nil
		}

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-p.stop:
			return result, errors.New("coordinator stopped")
		case <-ticker.C:
		}
	}
}

func validatorUIDs(records []entities.ReadinessRecord) []string {
	uids := make([]string, 0, len(records))
	for _, record := range records {
		uids = append(uids, record.ValidatorUID)
	}
	return uids
}
