package scoring

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synapnet/go-validator-node/entities"
	"go.uber.org/zap"
)

type FakeBaseline struct {
	Score float64
	Err   error
}

func (f FakeBaseline) Baseline(_ entities.TaskAssignment, _ entities.MinerResult) (float64, error) {
	return f.Score, f.Err
}

func newTestEngine(t *testing.T, baseline BaselineScorer) *Engine {
	t.Helper()
	engine := NewEngine(DefaultConfig("validator-1"), baseline, zap.NewNop().Sugar())
	engine.now = func() time.Time { return time.Unix(1000, 0) }
	return engine
}

func task(minerUID string) entities.TaskAssignment {
	return entities.TaskAssignment{TaskID: "1-0-" + minerUID, MinerUID: minerUID, ValidatorUID: "validator-1"}
}

func result(minerUID string) entities.MinerResult {
	return entities.MinerResult{TaskID: "1-0-" + minerUID, MinerUID: minerUID, Payload: `{"answer":42}`}
}

func TestEngine_freshMinerScoredOnBaselineOnly(t *testing.T) {
	engine := newTestEngine(t, FakeBaseline{Score: 0.8})

	score, metadata := engine.ScoreWithMetadata(task("miner-1"), result("miner-1"))

	assert.Equal(t, 0.8, score.Score)
	assert.Equal(t, 0.8, metadata.Baseline)
	assert.Zero(t, metadata.Boost)
	assert.False(t, metadata.Fraud)
	assert.Equal(t, "validator-1", score.ValidatorUID)
}

func TestEngine_timeoutScoresZero(t *testing.T) {
	engine := newTestEngine(t, FakeBaseline{Score: 0.8})

	res := result("miner-1")
	res.Payload = ""
	res.Timeout = true
	score, metadata := engine.ScoreWithMetadata(task("miner-1"), res)

	assert.Zero(t, score.Score)
	assert.True(t, metadata.Timeout)
}

func TestEngine_baselineErrorDegradesToZero(t *testing.T) {
	engine := newTestEngine(t, FakeBaseline{Err: errors.New("scorer exploded")})

	score, err := engine.Score(task("miner-1"), result("miner-1"))

	require.NoError(t, err)
	assert.Zero(t, score.Score)
}

func TestEngine_historyBoostIsBounded(t *testing.T) {
	engine := newTestEngine(t, FakeBaseline{Score: 0.8})

	for range 4 {
		engine.ScoreWithMetadata(task("miner-1"), result("miner-1"))
	}
	score, metadata := engine.ScoreWithMetadata(task("miner-1"), result("miner-1"))

	assert.Greater(t, metadata.Boost, 0.0)
	assert.LessOrEqual(t, metadata.Boost, 0.10)
	assert.LessOrEqual(t, score.Score, 1.0)
	assert.False(t, metadata.Fraud)
}

func TestEngine_suddenDeviationFlagsFraud(t *testing.T) {
	engine := newTestEngine(t, FakeBaseline{Score: 0.9})
	for range 5 {
		engine.ScoreWithMetadata(task("miner-1"), result("miner-1"))
	}

	engine.baseline = FakeBaseline{Score: 0.1}
	score, metadata := engine.ScoreWithMetadata(task("miner-1"), result("miner-1"))

	assert.True(t, metadata.Fraud)
	assert.Greater(t, metadata.Deviation, 0.3)
	assert.Less(t, score.Score, 0.1)
}

func TestEngine_historyIsCapped(t *testing.T) {
	engine := newTestEngine(t, FakeBaseline{Score: 0.7})

	for range 60 {
		engine.ScoreWithMetadata(task("miner-1"), result("miner-1"))
	}

	snapshot := engine.Snapshot()
	assert.Len(t, snapshot["miner-1"].History, 50)
}

func TestEngine_trustConvergesWithoutOvershoot(t *testing.T) {
	engine := newTestEngine(t, FakeBaseline{Score: 0.9})

	previous := engine.Trust("miner-1")
	assert.Equal(t, 0.5, previous)

	for range 100 {
		next := engine.UpdateTrust("miner-1", 0.9)
		assert.GreaterOrEqual(t, next, previous)
		assert.LessOrEqual(t, next, 0.9)
		previous = next
	}
	assert.InDelta(t, 0.9, previous, 0.01)
}

func TestEngine_trustDescendsTowardLowScores(t *testing.T) {
	engine := newTestEngine(t, FakeBaseline{Score: 0.2})

	previous := engine.Trust("miner-1")
	for range 100 {
		next := engine.UpdateTrust("miner-1", 0.2)
		assert.LessOrEqual(t, next, previous)
		assert.GreaterOrEqual(t, next, 0.2)
		previous = next
	}
	assert.InDelta(t, 0.2, previous, 0.01)
}

func TestEngine_snapshotRestoreRoundTrip(t *testing.T) {
	engine := newTestEngine(t, FakeBaseline{Score: 0.8})
	for range 3 {
		engine.ScoreWithMetadata(task("miner-1"), result("miner-1"))
	}
	engine.UpdateTrust("miner-1", 0.8)

	restored := newTestEngine(t, FakeBaseline{Score: 0.8})
	restored.Restore(engine.Snapshot())

	assert.Equal(t, engine.Trust("miner-1"), restored.Trust("miner-1"))
	assert.Equal(t, engine.Snapshot()["miner-1"].History, restored.Snapshot()["miner-1"].History)
}

func TestChallengeBaseline(t *testing.T) {
	scorer := ChallengeBaseline{}
	assignment := entities.TaskAssignment{Payload: `{"slot":1,"challenge":"miner-1-1"}`}

	echo, err := scorer.Baseline(assignment, entities.MinerResult{Payload: `{"challenge":"miner-1-1","answer":7}`})
	require.NoError(t, err)
	assert.Equal(t, 1.0, echo)

	partial, err := scorer.Baseline(assignment, entities.MinerResult{Payload: `{"answer":7}`})
	require.NoError(t, err)
	assert.Equal(t, 0.5, partial)

	garbage, err := scorer.Baseline(assignment, entities.MinerResult{Payload: "not json"})
	require.NoError(t, err)
	assert.Zero(t, garbage)

	empty, err := scorer.Baseline(assignment, entities.MinerResult{})
	require.NoError(t, err)
	assert.Zero(t, empty)
}
