package scoring

import (
	"math"
	"sync"
	"time"

	"github.com/synapnet/go-validator-node/entities"
	"go.uber.org/zap"
)

// BaselineScorer produces the task-specific correctness score in [0,1].
// Implementations are pluggable per task type.
type BaselineScorer interface {
	Baseline(task entities.TaskAssignment, result entities.MinerResult) (float64, error)
}

type Config struct {
	ValidatorUID string

	// trust EMA parameters
	Alpha          float64       // responsiveness, step size of the trust update
	SigmoidK       float64       // steepness of the sigmoid term
	TrustDecay     time.Duration // time constant for decay(dt)
	InitialTrust   float64
	HistoryWindow  int     // performance history cap, FIFO eviction
	HistoryDecayW  float64 // per-entry exponential decay of historical weighting
	MinHistory     int     // prior scores required before history/trust kick in
	MaxBoost       float64 // upper bound of the historical-weighting boost
	FraudThreshold float64 // allowed deviation from the recent average
}

func DefaultConfig(validatorUID string) Config {
	return Config{
		ValidatorUID:   validatorUID,
		Alpha:          0.2,
		SigmoidK:       5.0,
		TrustDecay:     time.Hour,
		InitialTrust:   0.5,
		HistoryWindow:  50,
		HistoryDecayW:  0.1,
		MinHistory:     3,
		MaxBoost:       0.10,
		FraudThreshold: 0.3,
	}
}

// Metadata describes how a score was derived, for observability.
type Metadata struct {
	Baseline  float64 `json:"baseline"`
	Boost     float64 `json:"boost"`
	Trust     float64 `json:"trust"`
	Deviation float64 `json:"deviation"`
	Fraud     bool    `json:"fraud"`
	Timeout   bool    `json:"timeout"`
}

// Engine owns all per-miner trust and performance state for one validator
// process. It is passed explicitly wherever scoring happens; there is no
// package-level state. All methods are safe for concurrent use.
type Engine struct {
	cfg      Config
	baseline BaselineScorer
	logger   *zap.SugaredLogger
	now      func() time.Time

	mu     sync.Mutex
	states map[string]*entities.TrustState
}

func NewEngine(cfg Config, baseline BaselineScorer, logger *zap.SugaredLogger) *Engine {
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 50
	}
	if cfg.MinHistory <= 0 {
		cfg.MinHistory = 3
	}
	return &Engine{
		cfg:      cfg,
		baseline: baseline,
		logger:   logger,
		now:      time.Now,
		states:   make(map[string]*entities.TrustState),
	}
}

// Score runs the full pipeline: baseline, historical weighting, trust
// multiplier, fraud check, clamp. The baseline score (not the adjusted one)
// is appended to the miner's history. The persisted trust value is NOT
// touched here; it changes exactly once per slot through UpdateTrust, from
// the aggregated score.
func (e *Engine) Score(task entities.TaskAssignment, result entities.MinerResult) (entities.ValidatorScore, error) {
	score, _ := e.ScoreWithMetadata(task, result)
	return score, nil
}

func (e *Engine) ScoreWithMetadata(task entities.TaskAssignment, result entities.MinerResult) (entities.ValidatorScore, Metadata) {
	metadata := Metadata{Timeout: result.Timeout}

	var baseline float64
	if result.Timeout {
		baseline = 0.0
	} else {
		var err error
		baseline, err = e.baseline.Baseline(task, result)
		if err != nil {
			e.logger.Errorw("baseline scorer failed, degrading to zero", "taskId", task.TaskID, "error", err)
			baseline = 0.0
		}
		baseline = clamp01(baseline)
	}
	metadata.Baseline = baseline

	e.mu.Lock()
	state := e.state(task.MinerUID)
	history := append([]float64(nil), state.History...)
	trust := state.Trust

	// record the baseline before adjustments, capped FIFO
	state.History = append(state.History, baseline)
	if len(state.History) > e.cfg.HistoryWindow {
		state.History = state.History[len(state.History)-e.cfg.HistoryWindow:]
	}
	e.mu.Unlock()

	adjusted := baseline

	// historical weighting and trust only apply once enough prior scores
	// exist; a fresh miner is scored purely on the baseline
	if len(history) >= e.cfg.MinHistory {
		weighted := decayedAverage(history, e.cfg.HistoryDecayW)
		boost := e.cfg.MaxBoost * weighted
		metadata.Boost = boost
		adjusted = adjusted * (1 + boost)

		prospective := e.trustStep(trust, baseline, 0)
		metadata.Trust = prospective
		adjusted = adjusted * (0.5 + 0.5*prospective)

		recent := history
		if len(recent) > 5 {
			recent = recent[len(recent)-5:]
		}
		var sum float64
		for _, s := range recent {
			sum += s
		}
		avg := sum / float64(len(recent))
		deviation := math.Abs(baseline - avg)
		metadata.Deviation = deviation
		if deviation > e.cfg.FraudThreshold {
			penalty := deviation - e.cfg.FraudThreshold
			adjusted = adjusted * (1 - penalty)
			metadata.Fraud = true
			e.logger.Warnw("score deviates from recent average, applying penalty",
				"miner", task.MinerUID, "baseline", baseline, "recentAvg", avg, "deviation", deviation)
		}
	}

	final := clamp01(adjusted)
	return entities.ValidatorScore{
		TaskID:       task.TaskID,
		MinerUID:     task.MinerUID,
		ValidatorUID: e.cfg.ValidatorUID,
		Score:        final,
		Timestamp:    e.now(),
	}, metadata
}

// UpdateTrust applies the once-per-slot trust update from the aggregated
// score and returns the new trust value.
func (e *Engine) UpdateTrust(minerUID string, observed float64) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	state := e.state(minerUID)
	var dt time.Duration
	if !state.LastEvaluatedAt.IsZero() {
		dt = e.now().Sub(state.LastEvaluatedAt)
	}
	state.Trust = e.trustStep(state.Trust, observed, dt)
	state.LastEvaluatedAt = e.now()
	return state.Trust
}

// trustStep computes trust + alpha*sigmoid(k*(observed-trust))*decay(dt),
// clamped so the trust approaches the observed value monotonically and
// never steps past it.
func (e *Engine) trustStep(trust, observed float64, dt time.Duration) float64 {
	diff := observed - trust
	// logistic sigmoid rescaled to (-1, 1) so equal score and trust is a fixpoint
	responsiveness := 2/(1+math.Exp(-e.cfg.SigmoidK*diff)) - 1

	decay := 1.0
	if dt > 0 && e.cfg.TrustDecay > 0 {
		decay = math.Exp(-dt.Seconds() / e.cfg.TrustDecay.Seconds())
	}

	step := e.cfg.Alpha * responsiveness * decay
	next := trust + step
	// no overshoot past the observed value
	if (diff > 0 && next > observed) || (diff < 0 && next < observed) {
		next = observed
	}
	return clamp01(next)
}

// Trust returns the current trust for a miner, or the initial trust if it
// was never scored.
func (e *Engine) Trust(minerUID string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state(minerUID).Trust
}

// Snapshot copies the full trust state for persistence or introspection.
func (e *Engine) Snapshot() map[string]entities.TrustState {
	e.mu.Lock()
	defer e.mu.Unlock()
	snapshot := make(map[string]entities.TrustState, len(e.states))
	for uid, state := range e.states {
		snapshot[uid] = entities.TrustState{
			Trust:           state.Trust,
			History:         append([]float64(nil), state.History...),
			LastEvaluatedAt: state.LastEvaluatedAt,
		}
	}
	return snapshot
}

// Restore replaces the engine state, typically from a persisted snapshot on
// startup.
func (e *Engine) Restore(states map[string]entities.TrustState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.states = make(map[string]*entities.TrustState, len(states))
	for uid, state := range states {
		copied := state
		copied.History = append([]float64(nil), state.History...)
		e.states[uid] = &copied
	}
}

// caller must hold e.mu
func (e *Engine) state(minerUID string) *entities.TrustState {
	state, ok := e.states[minerUID]
	if !ok {
		state = &entities.TrustState{Trust: e.cfg.InitialTrust}
		e.states[minerUID] = state
	}
	return state
}

// decayedAverage weights history entries with exponential decay, newest
// entries weighing the most.
func decayedAverage(history []float64, w float64) float64 {
	if len(history) == 0 {
		return 0
	}
	var weightedSum, weightTotal float64
	n := len(history)
	for i, score := range history {
		age := float64(n - 1 - i)
		weight := math.Exp(-w * age)
		weightedSum += score * weight
		weightTotal += weight
	}
	return weightedSum / weightTotal
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
