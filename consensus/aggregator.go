package consensus

import (
	"crypto/ed25519"
	"encoding/hex"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/pkg/errors"
	"github.com/synapnet/go-validator-node/entities"
	"go.uber.org/zap"
)

type AggregatorConfig struct {
	ValidatorUID      string
	MajorityThreshold int
	RoundHistoryTTL   time.Duration
	RoundHistorySize  uint64
}

func DefaultAggregatorConfig(validatorUID string) AggregatorConfig {
	return AggregatorConfig{
		ValidatorUID:      validatorUID,
		MajorityThreshold: 2,
		RoundHistoryTTL:   6 * time.Hour,
		RoundHistorySize:  1024,
	}
}

// Aggregator collects signed score payloads from peer validators, verifies
// the sender against the active registry, and computes per-miner consensus
// scores once a slot closes. Finalized rounds are kept in a bounded TTL
// cache for the query API.
type Aggregator struct {
	cfg    AggregatorConfig
	logger *zap.SugaredLogger

	mu         sync.Mutex
	validators map[string]entities.ValidatorRecord
	received   map[uint64]map[string][]entities.ValidatorScore

	rounds *ttlcache.Cache[uint64, entities.ConsensusRound]
}

func NewAggregator(cfg AggregatorConfig, logger *zap.SugaredLogger) *Aggregator {
	rounds := ttlcache.New[uint64, entities.ConsensusRound](
		ttlcache.WithTTL[uint64, entities.ConsensusRound](cfg.RoundHistoryTTL),
		ttlcache.WithCapacity[uint64, entities.ConsensusRound](cfg.RoundHistorySize),
		ttlcache.WithDisableTouchOnHit[uint64, entities.ConsensusRound](), // don't refresh ttl upon getting the item from cache
	)
	go rounds.Start()

	return &Aggregator{
		cfg:        cfg,
		logger:     logger,
		validators: make(map[string]entities.ValidatorRecord),
		received:   make(map[uint64]map[string][]entities.ValidatorScore),
		rounds:     rounds,
	}
}

// SetValidators replaces the active validator registry. Called once per slot
// with the chain's current validator set.
func (a *Aggregator) SetValidators(validators []entities.ValidatorRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.validators = make(map[string]entities.ValidatorRecord, len(validators))
	for _, v := range validators {
		a.validators[v.UID] = v
	}
}

// Receive validates and stores a peer's score payload. The sender must be a
// registered validator, the address derived from the embedded public key
// must match the registry entry, and the signature must verify. A repeated
// payload from the same (slot, sender) overwrites the previous one.
func (a *Aggregator) Receive(payload ScorePayload) error {
	a.mu.Lock()
	registered, ok := a.validators[payload.SubmitterID]
	a.mu.Unlock()
	if !ok {
		return errors.Wrapf(entities.ErrUnknownParticipant, "submitter %s", payload.SubmitterID)
	}

	pubBytes, err := hex.DecodeString(payload.PublicKeyHex)
	if err != nil || len(pubBytes) != ed25519.PublicKeySize {
		return errors.Wrap(entities.ErrSignatureVerification, "malformed public key")
	}
	if DeriveAddress(pubBytes) != registered.Address {
		return errors.Wrapf(entities.ErrUnknownParticipant, "public key does not belong to %s", payload.SubmitterID)
	}
	if err := VerifyPayload(payload); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	slotScores, ok := a.received[payload.Cycle]
	if !ok {
		slotScores = make(map[string][]entities.ValidatorScore)
		a.received[payload.Cycle] = slotScores
	}
	slotScores[payload.SubmitterID] = payload.Scores

	a.logger.Infow("accepted score payload",
		"slot", payload.Cycle, "submitter", payload.SubmitterID, "scores", len(payload.Scores))
	return nil
}

// AddLocal records this validator's own scores for the slot. The local node
// always counts as a participant.
func (a *Aggregator) AddLocal(slot uint64, scores []entities.ValidatorScore) {
	a.mu.Lock()
	defer a.mu.Unlock()
	slotScores, ok := a.received[slot]
	if !ok {
		slotScores = make(map[string][]entities.ValidatorScore)
		a.received[slot] = slotScores
	}
	slotScores[a.cfg.ValidatorUID] = scores
}

// Aggregate computes the per-miner arithmetic mean across all validators
// that submitted scores for the slot. Miners nobody scored do not appear;
// a mean of zero is a real result and stays in, it is what drives the trust
// of unresponsive miners down. Returns ErrQuorumNotReached when fewer than
// MajorityThreshold validators participated; the caller is expected to fall
// back to local scores and mark the round degraded.
func (a *Aggregator) Aggregate(slot uint64) (map[string]float64, []string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	slotScores := a.received[slot]
	if len(slotScores) < a.cfg.MajorityThreshold {
		return nil, nil, errors.Wrapf(entities.ErrQuorumNotReached,
			"slot %d has %d participants, need %d", slot, len(slotScores), a.cfg.MajorityThreshold)
	}

	participants := make([]string, 0, len(slotScores))
	for validatorUID := range slotScores {
		participants = append(participants, validatorUID)
	}
	return meanPerMiner(slotScores), participants, nil
}

// LocalScores returns a copy of this validator's own raw scores for the
// slot, exactly as recorded at task-assignment time. This is the list that
// gets signed and broadcast, so every per-task entry must survive as is.
func (a *Aggregator) LocalScores(slot uint64) []entities.ValidatorScore {
	a.mu.Lock()
	defer a.mu.Unlock()

	stored := a.received[slot][a.cfg.ValidatorUID]
	scores := make([]entities.ValidatorScore, len(stored))
	copy(scores, stored)
	return scores
}

// LocalAggregate collapses the node's own scores to per-miner means, the
// degraded-mode fallback when quorum fails.
func (a *Aggregator) LocalAggregate(slot uint64) map[string]float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	return meanPerMiner(map[string][]entities.ValidatorScore{
		a.cfg.ValidatorUID: a.received[slot][a.cfg.ValidatorUID],
	})
}

func meanPerMiner(lists map[string][]entities.ValidatorScore) map[string]float64 {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, scores := range lists {
		for _, score := range scores {
			sums[score.MinerUID] += score.Score
			counts[score.MinerUID]++
		}
	}
	aggregated := make(map[string]float64, len(sums))
	for minerUID, sum := range sums {
		aggregated[minerUID] = sum / float64(counts[minerUID])
	}
	return aggregated
}

// FinalizeRound stores the finished round in the query cache and drops the
// raw payloads for that slot.
func (a *Aggregator) FinalizeRound(round entities.ConsensusRound) {
	a.rounds.Set(round.Slot, round, ttlcache.DefaultTTL)
	a.mu.Lock()
	delete(a.received, round.Slot)
	a.mu.Unlock()
}

// Round returns a finalized round if it is still cached.
func (a *Aggregator) Round(slot uint64) (entities.ConsensusRound, bool) {
	item := a.rounds.Get(slot)
	if item == nil {
		return entities.ConsensusRound{}, false
	}
	return item.Value(), true
}

// ActiveCycle reports whether a cycle is within the window the node accepts
// payloads for. Anything older than the current slot is stale.
func (a *Aggregator) ActiveCycle(current, cycle uint64) bool {
	return cycle == current || cycle == current+1
}

func (a *Aggregator) Stop() {
	a.rounds.Stop()
}
