package pebbledb

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"
	"github.com/synapnet/go-validator-node/coordination"
	"github.com/synapnet/go-validator-node/entities"
)

const (
	readinessKeyPrefix      = 0x00
	trustSnapshotKey        = 0x01
	lastFinalizedSlotKey    = 0x02
	consensusRoundKeyPrefix = 0x03
)

var phaseIndex = map[entities.Phase]byte{
	entities.PhaseTaskAssignment:   0x00,
	entities.PhaseConsensusScoring: 0x01,
	entities.PhaseMetagraphUpdate:  0x02,
}

// Store is a pebble-backed coordination store plus the node-local state a
// validator persists across restarts (trust snapshot, last finalized slot,
// finalized rounds). Pebble is single-process; multi-validator deployments
// use the redis store for the coordination key space instead.
type Store struct {
	db        *pebble.DB
	freshness time.Duration
}

var _ coordination.Store = (*Store)(nil)

func NewStore(storeDir string, freshness time.Duration) (*Store, error) {
	db, err := pebble.Open(filepath.Join(storeDir, "validator-node-store"), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("opening pebble db: %v", err)
	}
	if freshness <= 0 {
		freshness = 10 * time.Minute
	}
	return &Store{db: db, freshness: freshness}, nil
}

func readinessKey(slot uint64, phase entities.Phase, validatorUID string) []byte {
	key := []byte{readinessKeyPrefix}
	key = binary.BigEndian.AppendUint64(key, slot)
	key = append(key, phaseIndex[phase])
	key = append(key, []byte(validatorUID)...)
	return key
}

func (s *Store) Put(_ context.Context, validatorUID string, slot uint64, phase entities.Phase, payload any) error {
	encoded, err := coordination.EncodePayload(payload)
	if err != nil {
		return errors.Wrap(err, "encoding readiness payload")
	}
	record := entities.ReadinessRecord{
		ValidatorUID: validatorUID,
		Slot:         slot,
		Phase:        phase,
		Timestamp:    time.Now().Unix(),
		Payload:      encoded,
	}
	value, err := json.Marshal(record)
	if err != nil {
		return errors.Wrapf(entities.ErrSerialization, "marshalling readiness record: %v", err)
	}

	err = s.db.Set(readinessKey(slot, phase, validatorUID), value, pebble.Sync)
	if err != nil {
		return errors.Wrapf(err, "setting readiness for [%s] slot [%d] phase [%s]", validatorUID, slot, phase)
	}
	return nil
}

func (s *Store) ListReady(_ context.Context, slot uint64, phase entities.Phase) ([]entities.ReadinessRecord, error) {
	lower := readinessKey(slot, phase, "")
	upper := append(append([]byte{}, lower...), 0xff)

	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, fmt.Errorf("creating iterator: %v", err)
	}
	defer iter.Close()

	cutoff := time.Now().Add(-s.freshness).Unix()
	var records []entities.ReadinessRecord
	for iter.First(); iter.Valid(); iter.Next() {
		value, err := iter.ValueAndErr()
		if err != nil {
			return nil, fmt.Errorf("getting value from iter: %v", err)
		}
		var record entities.ReadinessRecord
		if err := json.Unmarshal(value, &record); err != nil {
			return nil, fmt.Errorf("unmarshalling readiness record: %v", err)
		}
		if record.Timestamp < cutoff {
			continue // stale
		}
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ValidatorUID < records[j].ValidatorUID })
	return records, nil
}

func (s *Store) ListActiveValidators(ctx context.Context, slot uint64) ([]string, error) {
	seen := make(map[string]bool)
	for _, phase := range entities.Phases {
		records, err := s.ListReady(ctx, slot, phase)
		if err != nil {
			return nil, errors.Wrapf(err, "listing phase [%s]", phase)
		}
		for _, record := range records {
			seen[record.ValidatorUID] = true
		}
	}
	validators := make([]string, 0, len(seen))
	for uid := range seen {
		validators = append(validators, uid)
	}
	sort.Strings(validators)
	return validators, nil
}

func (s *Store) GC(_ context.Context, beforeSlot uint64) error {
	lower := []byte{readinessKeyPrefix}
	upper := readinessKey(beforeSlot, entities.Phases[0], "")

	err := s.db.DeleteRange(lower, upper, pebble.Sync)
	if err != nil {
		return errors.Wrapf(err, "purging readiness records before slot [%d]", beforeSlot)
	}
	return nil
}

// RecentRecords returns all fresh readiness records at or after the given
// slot, across phases. Used by the flexible coordinator to detect the
// network's current position.
func (s *Store) RecentRecords(_ context.Context, fromSlot uint64) ([]entities.ReadinessRecord, error) {
	lower := readinessKey(fromSlot, entities.Phases[0], "")
	lower = lower[:1+8] // slot prefix only, any phase
	upper := []byte{readinessKeyPrefix + 1}

	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, fmt.Errorf("creating iterator: %v", err)
	}
	defer iter.Close()

	cutoff := time.Now().Add(-s.freshness).Unix()
	var records []entities.ReadinessRecord
	for iter.First(); iter.Valid(); iter.Next() {
		value, err := iter.ValueAndErr()
		if err != nil {
			return nil, fmt.Errorf("getting value from iter: %v", err)
		}
		var record entities.ReadinessRecord
		if err := json.Unmarshal(value, &record); err != nil {
			return nil, fmt.Errorf("unmarshalling readiness record: %v", err)
		}
		if record.Timestamp >= cutoff {
			records = append(records, record)
		}
	}
	return records, nil
}

func (s *Store) SetLastFinalizedSlot(slot uint64) error {
	key := []byte{lastFinalizedSlotKey}
	var value []byte
	value = binary.BigEndian.AppendUint64(value, slot)

	err := s.db.Set(key, value, pebble.Sync)
	if err != nil {
		return errors.Wrapf(err, "setting last finalized slot to [%d]", slot)
	}
	return nil
}

func (s *Store) GetLastFinalizedSlot() (uint64, error) {
	value, closer, err := s.db.Get([]byte{lastFinalizedSlotKey})
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, entities.ErrStoreEntityNotFound
	}
	if err != nil {
		return 0, errors.Wrap(err, "getting last finalized slot")
	}
	defer closer.Close()

	return binary.BigEndian.Uint64(value), nil
}

// SaveTrustSnapshot persists the full per-miner trust state so a restarted
// validator does not cold-start every miner at the default trust.
func (s *Store) SaveTrustSnapshot(states map[string]entities.TrustState) error {
	buffer := new(bytes.Buffer)
	encoder := gob.NewEncoder(buffer)
	err := encoder.Encode(states)
	if err != nil {
		return errors.Wrap(err, "encoding trust snapshot")
	}

	err = s.db.Set([]byte{trustSnapshotKey}, buffer.Bytes(), pebble.Sync)
	if err != nil {
		return errors.Wrap(err, "saving trust snapshot")
	}
	return nil
}

func (s *Store) GetTrustSnapshot() (map[string]entities.TrustState, error) {
	value, closer, err := s.db.Get([]byte{trustSnapshotKey})
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, entities.ErrStoreEntityNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "getting trust snapshot")
	}
	defer closer.Close()

	decoder := gob.NewDecoder(bytes.NewBuffer(value))
	var states map[string]entities.TrustState
	if err := decoder.Decode(&states); err != nil {
		return nil, errors.Wrap(err, "decoding trust snapshot")
	}
	return states, nil
}

func (s *Store) SetConsensusRound(round *entities.ConsensusRound) error {
	key := []byte{consensusRoundKeyPrefix}
	key = binary.BigEndian.AppendUint64(key, round.Slot)

	value, err := json.Marshal(round)
	if err != nil {
		return errors.Wrapf(err, "marshalling round for slot [%d]", round.Slot)
	}
	err = s.db.Set(key, value, pebble.Sync)
	if err != nil {
		return errors.Wrapf(err, "setting round for slot [%d]", round.Slot)
	}
	return nil
}

func (s *Store) GetConsensusRound(slot uint64) (*entities.ConsensusRound, error) {
	key := []byte{consensusRoundKeyPrefix}
	key = binary.BigEndian.AppendUint64(key, slot)

	value, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, entities.ErrStoreEntityNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "getting round for slot [%d]", slot)
	}
	defer closer.Close()

	var round entities.ConsensusRound
	if err := json.Unmarshal(value, &round); err != nil {
		return nil, errors.Wrap(err, "unmarshalling round")
	}
	return &round, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
