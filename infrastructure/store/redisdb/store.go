package redisdb

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/synapnet/go-validator-node/coordination"
	"github.com/synapnet/go-validator-node/entities"
)

const slotIndexKey = "coordination:slots"

// Store is a redis-backed coordination store shared by all validator
// processes of a network. Each (slot, phase) maps to a hash keyed by
// validator UID; a sorted set indexes the known slots for garbage
// collection. Values additionally carry a TTL so abandoned deployments do
// not leak keys even without explicit GC.
type Store struct {
	client    *redis.Client
	freshness time.Duration
	ttl       time.Duration
}

var _ coordination.Store = (*Store)(nil)

func NewStore(client *redis.Client, freshness time.Duration, ttl time.Duration) *Store {
	if freshness <= 0 {
		freshness = 10 * time.Minute
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{client: client, freshness: freshness, ttl: ttl}
}

func phaseKey(slot uint64, phase entities.Phase) string {
	return fmt.Sprintf("coordination:%d:%s", slot, phase)
}

func (s *Store) Put(ctx context.Context, validatorUID string, slot uint64, phase entities.Phase, payload any) error {
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

	key := phaseKey(slot, phase)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, validatorUID, value)
	pipe.Expire(ctx, key, s.ttl)
	pipe.ZAdd(ctx, slotIndexKey, redis.Z{Score: float64(slot), Member: fmt.Sprint(slot)})
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(err, "setting readiness for [%s] slot [%d] phase [%s]", validatorUID, slot, phase)
	}
	return nil
}

func (s *Store) ListReady(ctx context.Context, slot uint64, phase entities.Phase) ([]entities.ReadinessRecord, error) {
	values, err := s.client.HGetAll(ctx, phaseKey(slot, phase)).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "listing readiness for slot [%d] phase [%s]", slot, phase)
	}

	cutoff := time.Now().Add(-s.freshness).Unix()
	var records []entities.ReadinessRecord
	for _, value := range values {
		var record entities.ReadinessRecord
		if err := json.Unmarshal([]byte(value), &record); err != nil {
			return nil, errors.Wrap(err, "unmarshalling readiness record")
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

func (s *Store) GC(ctx context.Context, beforeSlot uint64) error {
	upper := fmt.Sprintf("(%d", beforeSlot)
	slots, err := s.client.ZRangeByScore(ctx, slotIndexKey, &redis.ZRangeBy{Min: "-inf", Max: upper}).Result()
	if err != nil {
		return errors.Wrap(err, "listing slots for gc")
	}

	for _, slotMember := range slots {
		for _, phase := range entities.Phases {
			key := fmt.Sprintf("coordination:%s:%s", slotMember, phase)
			if err := s.client.Del(ctx, key).Err(); err != nil {
				return errors.Wrapf(err, "deleting key [%s]", key)
			}
		}
		if err := s.client.ZRem(ctx, slotIndexKey, slotMember).Err(); err != nil {
			return errors.Wrapf(err, "removing slot [%s] from index", slotMember)
		}
	}
	return nil
}

// RecentRecords returns all fresh records at or after the given slot, across
// phases.
func (s *Store) RecentRecords(ctx context.Context, fromSlot uint64) ([]entities.ReadinessRecord, error) {
	lower := fmt.Sprint(fromSlot)
	slots, err := s.client.ZRangeByScore(ctx, slotIndexKey, &redis.ZRangeBy{Min: lower, Max: "+inf"}).Result()
	if err != nil {
		return nil, errors.Wrap(err, "listing recent slots")
	}

	var records []entities.ReadinessRecord
	for _, slotMember := range slots {
		var slot uint64
		if _, err := fmt.Sscan(slotMember, &slot); err != nil {
			continue
		}
		for _, phase := range entities.Phases {
			phaseRecords, err := s.ListReady(ctx, slot, phase)
			if err != nil {
				return nil, errors.Wrapf(err, "listing slot [%d] phase [%s]", slot, phase)
			}
			records = append(records, phaseRecords...)
		}
	}
	return records, nil
}
