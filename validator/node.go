package validator

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/synapnet/go-validator-node/api"
	"github.com/synapnet/go-validator-node/chain"
	"github.com/synapnet/go-validator-node/consensus"
	"github.com/synapnet/go-validator-node/coordination"
	"github.com/synapnet/go-validator-node/dispatch"
	"github.com/synapnet/go-validator-node/entities"
	"github.com/synapnet/go-validator-node/incentive"
	"github.com/synapnet/go-validator-node/metrics"
	"github.com/synapnet/go-validator-node/phaseclock"
	"github.com/synapnet/go-validator-node/scoring"
	"go.uber.org/zap"
)

// RoundPublisher pushes finalized rounds to the round topic. Optional, the
// node runs without one.
type RoundPublisher interface {
	SendMessage(ctx context.Context, round *entities.ConsensusRound) error
}

// LocalState survives restarts: trust snapshot, finalized rounds and the
// last finalized slot.
type LocalState interface {
	SetLastFinalizedSlot(slot uint64) error
	GetLastFinalizedSlot() (uint64, error)
	SaveTrustSnapshot(states map[string]entities.TrustState) error
	GetTrustSnapshot() (map[string]entities.TrustState, error)
	SetConsensusRound(round *entities.ConsensusRound) error
}

type Config struct {
	ValidatorUID   string
	RetentionSlots uint64
	PublishTimeout time.Duration
}

func DefaultConfig(validatorUID string) Config {
	return Config{
		ValidatorUID:   validatorUID,
		RetentionSlots: 10,
		PublishTimeout: 10 * time.Second,
	}
}

// roundFlags carries per-slot degradation markers between phases.
type roundFlags struct {
	partial bool
	skipped bool
}

// Node drives the full slot cycle of one validator: task assignment,
// consensus scoring, metagraph update, repeat. The metagraph update handled
// at the start of slot N finalizes the consensus round of slot N-1.
type Node struct {
	cfg         Config
	clock       *phaseclock.Clock
	coordinator coordination.Coordinator
	store       coordination.Store
	dispatcher  *dispatch.Dispatcher
	engine      *scoring.Engine
	aggregator  *consensus.Aggregator
	broadcaster *consensus.Broadcaster
	incentives  *incentive.Engine
	identity    *consensus.Identity
	chainClient chain.Client
	submitter   *chain.Submitter
	publisher   RoundPublisher
	local       LocalState
	appMetrics  *metrics.Metrics
	logger      *zap.SugaredLogger
	now         func() time.Time

	mu                sync.Mutex
	miners            []entities.MinerRecord
	validators        []entities.ValidatorRecord
	flags             map[uint64]*roundFlags
	lastFinalizedSlot uint64
}

type Dependencies struct {
	Clock       *phaseclock.Clock
	Coordinator coordination.Coordinator
	Store       coordination.Store
	Dispatcher  *dispatch.Dispatcher
	Engine      *scoring.Engine
	Aggregator  *consensus.Aggregator
	Broadcaster *consensus.Broadcaster
	Incentives  *incentive.Engine
	Identity    *consensus.Identity
	ChainClient chain.Client
	Submitter   *chain.Submitter
	Publisher   RoundPublisher
	Local       LocalState
	Metrics     *metrics.Metrics
}

func NewNode(cfg Config, deps Dependencies, logger *zap.SugaredLogger) (*Node, error) {
	node := &Node{
		cfg:         cfg,
		clock:       deps.Clock,
		coordinator: deps.Coordinator,
		store:       deps.Store,
		dispatcher:  deps.Dispatcher,
		engine:      deps.Engine,
		aggregator:  deps.Aggregator,
		broadcaster: deps.Broadcaster,
		incentives:  deps.Incentives,
		identity:    deps.Identity,
		chainClient: deps.ChainClient,
		submitter:   deps.Submitter,
		publisher:   deps.Publisher,
		local:       deps.Local,
		appMetrics:  deps.Metrics,
		logger:      logger,
		now:         time.Now,
		flags:       make(map[uint64]*roundFlags),
	}

	if deps.Local != nil {
		snapshot, err := deps.Local.GetTrustSnapshot()
		if err != nil && !errors.Is(err, entities.ErrStoreEntityNotFound) {
			return nil, errors.Wrap(err, "loading trust snapshot")
		}
		if len(snapshot) > 0 {
			node.engine.Restore(snapshot)
			logger.Infow("restored trust snapshot", "miners", len(snapshot))
		}
		lastSlot, err := deps.Local.GetLastFinalizedSlot()
		if err != nil && !errors.Is(err, entities.ErrStoreEntityNotFound) {
			return nil, errors.Wrap(err, "loading last finalized slot")
		}
		node.lastFinalizedSlot = lastSlot
	}

	return node, nil
}

// Run executes the slot loop until the context is cancelled or a fatal
// timing error occurs.
func (n *Node) Run(ctx context.Context) error {
	n.logger.Infow("starting validator node", "validator", n.cfg.ValidatorUID)
	defer n.coordinator.Stop()

	for ctx.Err() == nil {
		position, err := n.coordinator.CurrentPosition(ctx)
		if err != nil {
			return errors.Wrap(err, "determining position")
		}
		if n.appMetrics != nil {
			n.appMetrics.SetPosition(position.Slot, position.Phase)
		}

		switch position.Phase {
		case entities.PhaseMetagraphUpdate:
			n.runMetagraphUpdate(ctx, position.Slot)
		case entities.PhaseTaskAssignment:
			n.runTaskAssignment(ctx, position.Slot)
		case entities.PhaseConsensusScoring:
			n.runConsensusScoring(ctx, position.Slot)
		}

		if err := n.waitForPhaseEnd(ctx, position); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// runMetagraphUpdate refreshes the participant view and finalizes the
// consensus round of the previous slot.
func (n *Node) runMetagraphUpdate(ctx context.Context, slot uint64) {
	readiness := n.enterPhase(ctx, slot, entities.PhaseMetagraphUpdate)
	if readiness.Skipped {
		return
	}

	phaseCtx, cancel := n.coordinator.PhaseContext(ctx, slot, entities.PhaseMetagraphUpdate)
	defer cancel()

	n.refreshMetagraph(phaseCtx)

	if slot > 0 {
		n.finalizeRound(phaseCtx, slot-1)
	}

	if n.cfg.RetentionSlots > 0 && slot > n.cfg.RetentionSlots {
		if err := n.store.GC(phaseCtx, slot-n.cfg.RetentionSlots); err != nil {
			n.logger.Errorw("error garbage collecting readiness records", "slot", slot, "error", err)
		}
	}
}

func (n *Node) runTaskAssignment(ctx context.Context, slot uint64) {
	readiness := n.enterPhase(ctx, slot, entities.PhaseTaskAssignment)
	if readiness.Skipped {
		return
	}

	phaseCtx, cancel := n.coordinator.PhaseContext(ctx, slot, entities.PhaseTaskAssignment)
	defer cancel()

	n.mu.Lock()
	miners := n.miners
	n.mu.Unlock()
	if len(miners) == 0 {
		n.refreshMetagraph(phaseCtx)
		n.mu.Lock()
		miners = n.miners
		n.mu.Unlock()
	}

	scores := n.dispatcher.Run(phaseCtx, slot, miners)
	if n.appMetrics != nil {
		n.appMetrics.AddDispatchedTasks(len(scores))
	}
	n.aggregator.AddLocal(slot, scores)
	n.logger.Infow("task assignment finished", "slot", slot, "miners", len(miners), "scores", len(scores))
}

func (n *Node) runConsensusScoring(ctx context.Context, slot uint64) {
	readiness := n.enterPhase(ctx, slot, entities.PhaseConsensusScoring)
	if readiness.Skipped {
		n.flagsFor(slot).skipped = true
		if n.appMetrics != nil {
			n.appMetrics.IncSkippedRounds()
		}
		n.logger.Warnw("node behind the network, skipping consensus", "slot", slot)
		return
	}
	if readiness.Partial {
		n.flagsFor(slot).partial = true
	}

	phaseCtx, cancel := n.coordinator.PhaseContext(ctx, slot, entities.PhaseConsensusScoring)
	defer cancel()

	// sign the raw per-task scores exactly as recorded; peers must see the
	// same score list this node feeds into its own aggregate
	scores := n.aggregator.LocalScores(slot)
	payload, err := n.identity.Sign(slot, scores)
	if err != nil {
		n.logger.Errorw("error signing score payload", "slot", slot, "error", err)
		return
	}

	n.mu.Lock()
	peers := n.validators
	n.mu.Unlock()
	n.broadcaster.Broadcast(phaseCtx, payload, peers)
}

// finalizeRound aggregates, computes incentives, updates trust and pushes
// the round out. Aggregation failure degrades to local scores; it never
// blocks the slot loop.
func (n *Node) finalizeRound(ctx context.Context, slot uint64) {
	flags := n.flagsFor(slot)
	if flags.skipped {
		n.persistRound(ctx, &entities.ConsensusRound{
			Slot:        slot,
			Status:      entities.RoundStatusSkipped,
			FinalizedAt: n.now(),
		})
		n.clearFlags(slot)
		return
	}

	status := entities.RoundStatusSuccess
	aggregated, participants, err := n.aggregator.Aggregate(slot)
	if err != nil {
		if !errors.Is(err, entities.ErrQuorumNotReached) {
			n.logger.Errorw("error aggregating scores", "slot", slot, "error", err)
		}
		aggregated = n.aggregator.LocalAggregate(slot)
		participants = []string{n.cfg.ValidatorUID}
		status = entities.RoundStatusDegraded
	} else if flags.partial {
		status = entities.RoundStatusPartial
	}

	for minerUID, score := range aggregated {
		n.engine.UpdateTrust(minerUID, score)
	}

	n.mu.Lock()
	miners := n.miners
	n.mu.Unlock()
	rewards, weights := n.incentives.Incentives(miners, aggregated)

	round := &entities.ConsensusRound{
		Slot:         slot,
		Status:       status,
		Scores:       aggregated,
		Weights:      weights,
		Rewards:      rewards,
		Participants: participants,
		FinalizedAt:  n.now(),
	}
	n.persistRound(ctx, round)

	if n.submitter != nil {
		n.submitter.Submit(slot, n.scoreUpdates(miners, aggregated))
	}
	if n.appMetrics != nil {
		n.appMetrics.SetAggregatedScore(aggregated)
	}
	n.clearFlags(slot)
	n.logger.Infow("round finalized",
		"slot", slot, "status", status, "participants", len(participants), "miners", len(aggregated))
}

func (n *Node) persistRound(ctx context.Context, round *entities.ConsensusRound) {
	n.aggregator.FinalizeRound(*round)

	if n.local != nil {
		if err := n.local.SetConsensusRound(round); err != nil {
			n.logger.Errorw("error persisting round", "slot", round.Slot, "error", err)
		}
		if err := n.local.SetLastFinalizedSlot(round.Slot); err != nil {
			n.logger.Errorw("error persisting last finalized slot", "slot", round.Slot, "error", err)
		}
		if err := n.local.SaveTrustSnapshot(n.engine.Snapshot()); err != nil {
			n.logger.Errorw("error persisting trust snapshot", "slot", round.Slot, "error", err)
		}
	}

	if n.publisher != nil {
		publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.cfg.PublishTimeout)
		defer cancel()
		if err := n.publisher.SendMessage(publishCtx, round); err != nil {
			n.logger.Errorw("error publishing round", "slot", round.Slot, "error", err)
		}
	}

	n.mu.Lock()
	n.lastFinalizedSlot = round.Slot
	n.mu.Unlock()
}

func (n *Node) enterPhase(ctx context.Context, slot uint64, phase entities.Phase) coordination.PhaseReadiness {
	readiness, err := n.coordinator.WaitForPhase(ctx, slot, phase)
	if err != nil {
		n.logger.Errorw("error waiting for phase", "slot", slot, "phase", phase, "error", err)
		return coordination.PhaseReadiness{Slot: slot, Phase: phase, Partial: true}
	}
	if n.appMetrics != nil {
		n.appMetrics.SetReadyValidators(len(readiness.Ready))
		if readiness.Partial {
			n.appMetrics.IncPartialRounds()
		}
	}
	return readiness
}

func (n *Node) refreshMetagraph(ctx context.Context) {
	miners, err := n.chainClient.GetActiveMiners(ctx)
	if err != nil {
		n.logger.Errorw("error fetching active miners, keeping previous view", "error", err)
	} else {
		n.mu.Lock()
		n.miners = miners
		n.mu.Unlock()
	}

	validators, err := n.chainClient.GetActiveValidators(ctx)
	if err != nil {
		n.logger.Errorw("error fetching active validators, keeping previous view", "error", err)
		return
	}
	n.mu.Lock()
	n.validators = validators
	n.mu.Unlock()
	n.aggregator.SetValidators(validators)
}

// scoreUpdates pairs each metagraph miner's aggregated score and post-update
// trust with its on-chain address. Miners outside the current metagraph have
// no address to submit under and are left out.
func (n *Node) scoreUpdates(miners []entities.MinerRecord, aggregated map[string]float64) []chain.ScoreUpdate {
	updates := make([]chain.ScoreUpdate, 0, len(aggregated))
	for _, miner := range miners {
		score, ok := aggregated[miner.UID]
		if !ok {
			continue
		}
		updates = append(updates, chain.ScoreUpdate{
			MinerAddress: miner.Address,
			Performance:  score,
			Trust:        n.engine.Trust(miner.UID),
		})
	}
	return updates
}

// waitForPhaseEnd sleeps until the wall-clock end of the position's phase.
// Returns early only on context cancellation.
func (n *Node) waitForPhaseEnd(ctx context.Context, position phaseclock.Position) error {
	_, end := n.clock.PhaseWindow(position.Slot, position.Phase)
	wait := end.Sub(n.now())
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (n *Node) clearFlags(slot uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.flags, slot)
}

func (n *Node) flagsFor(slot uint64) *roundFlags {
	n.mu.Lock()
	defer n.mu.Unlock()
	flags, ok := n.flags[slot]
	if !ok {
		flags = &roundFlags{}
		n.flags[slot] = flags
	}
	return flags
}

// Status implements the node-info surface of the HTTP API.
func (n *Node) Status() api.NodeStatus {
	position := n.clock.At(n.now())
	n.mu.Lock()
	lastFinalized := n.lastFinalizedSlot
	n.mu.Unlock()
	return api.NodeStatus{
		ValidatorUID:      n.cfg.ValidatorUID,
		Slot:              position.Slot,
		Phase:             position.Phase,
		PhaseRemaining:    position.Remaining.String(),
		LastFinalizedSlot: lastFinalized,
	}
}

// Metagraph implements the node-info surface of the HTTP API.
func (n *Node) Metagraph() api.Metagraph {
	n.mu.Lock()
	miners := n.miners
	validators := n.validators
	n.mu.Unlock()

	trust := make(map[string]float64, len(miners))
	for _, miner := range miners {
		trust[miner.UID] = n.engine.Trust(miner.UID)
	}
	return api.Metagraph{
		Miners:     miners,
		Validators: validators,
		Trust:      trust,
	}
}
