package pebbledb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synapnet/go-validator-node/entities"
)

func testStore(t *testing.T) *Store {
	store, err := NewStore(t.TempDir(), 10*time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func TestStore_putAndListReady(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	err := store.Put(ctx, "validator-1", 5, entities.PhaseTaskAssignment, map[string]any{"joined": true})
	require.NoError(t, err)
	err = store.Put(ctx, "validator-2", 5, entities.PhaseTaskAssignment, nil)
	require.NoError(t, err)

	records, err := store.ListReady(ctx, 5, entities.PhaseTaskAssignment)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "validator-1", records[0].ValidatorUID)
	assert.Equal(t, "validator-2", records[1].ValidatorUID)
	assert.Equal(t, uint64(5), records[0].Slot)
	assert.Equal(t, entities.PhaseTaskAssignment, records[0].Phase)
}

func TestStore_putIsIdempotent(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	err := store.Put(ctx, "validator-1", 5, entities.PhaseConsensusScoring, "first")
	require.NoError(t, err)
	err = store.Put(ctx, "validator-1", 5, entities.PhaseConsensusScoring, "second")
	require.NoError(t, err)

	records, err := store.ListReady(ctx, 5, entities.PhaseConsensusScoring)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "second", records[0].Payload)
}

func TestStore_listReadyScopedToKey(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "validator-1", 5, entities.PhaseTaskAssignment, nil))
	require.NoError(t, store.Put(ctx, "validator-2", 5, entities.PhaseConsensusScoring, nil))
	require.NoError(t, store.Put(ctx, "validator-3", 6, entities.PhaseTaskAssignment, nil))

	records, err := store.ListReady(ctx, 5, entities.PhaseTaskAssignment)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "validator-1", records[0].ValidatorUID)
}

func TestStore_listActiveValidators(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "validator-1", 5, entities.PhaseTaskAssignment, nil))
	require.NoError(t, store.Put(ctx, "validator-1", 5, entities.PhaseConsensusScoring, nil))
	require.NoError(t, store.Put(ctx, "validator-2", 5, entities.PhaseConsensusScoring, nil))

	validators, err := store.ListActiveValidators(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"validator-1", "validator-2"}, validators)
}

func TestStore_gc(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "validator-1", 3, entities.PhaseTaskAssignment, nil))
	require.NoError(t, store.Put(ctx, "validator-1", 10, entities.PhaseTaskAssignment, nil))

	require.NoError(t, store.GC(ctx, 10))

	records, err := store.ListReady(ctx, 3, entities.PhaseTaskAssignment)
	require.NoError(t, err)
	assert.Empty(t, records)

	records, err = store.ListReady(ctx, 10, entities.PhaseTaskAssignment)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestStore_recentRecords(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "validator-1", 4, entities.PhaseMetagraphUpdate, nil))
	require.NoError(t, store.Put(ctx, "validator-1", 5, entities.PhaseTaskAssignment, nil))
	require.NoError(t, store.Put(ctx, "validator-2", 5, entities.PhaseTaskAssignment, nil))

	records, err := store.RecentRecords(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestStore_lastFinalizedSlot(t *testing.T) {
	store := testStore(t)

	_, err := store.GetLastFinalizedSlot()
	require.ErrorIs(t, err, entities.ErrStoreEntityNotFound)

	require.NoError(t, store.SetLastFinalizedSlot(42))

	slot, err := store.GetLastFinalizedSlot()
	require.NoError(t, err)
	assert.Equal(t, uint64(42), slot)
}

func TestStore_trustSnapshot(t *testing.T) {
	store := testStore(t)

	_, err := store.GetTrustSnapshot()
	require.ErrorIs(t, err, entities.ErrStoreEntityNotFound)

	states := map[string]entities.TrustState{
		"miner-1": {Trust: 0.75, History: []float64{0.8, 0.7}, LastEvaluatedAt: time.Unix(1000, 0).UTC()},
	}
	require.NoError(t, store.SaveTrustSnapshot(states))

	loaded, err := store.GetTrustSnapshot()
	require.NoError(t, err)
	require.Contains(t, loaded, "miner-1")
	assert.Equal(t, 0.75, loaded["miner-1"].Trust)
	assert.Equal(t, []float64{0.8, 0.7}, loaded["miner-1"].History)
}

func TestStore_consensusRound(t *testing.T) {
	store := testStore(t)

	_, err := store.GetConsensusRound(7)
	require.ErrorIs(t, err, entities.ErrStoreEntityNotFound)

	round := &entities.ConsensusRound{
		Slot:         7,
		Status:       entities.RoundStatusSuccess,
		Scores:       map[string]float64{"miner-1": 0.9},
		Rewards:      map[string]float64{"miner-1": 1.0},
		Participants: []string{"validator-1", "validator-2"},
		FinalizedAt:  time.Unix(2000, 0).UTC(),
	}
	require.NoError(t, store.SetConsensusRound(round))

	loaded, err := store.GetConsensusRound(7)
	require.NoError(t, err)
	assert.Equal(t, entities.RoundStatusSuccess, loaded.Status)
	assert.Equal(t, 0.9, loaded.Scores["miner-1"])
}
