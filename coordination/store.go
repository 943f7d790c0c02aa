package coordination

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"github.com/synapnet/go-validator-node/entities"
)

// Store is the shared coordination surface between validator processes.
// Records are keyed by (slot, phase, validator); writes are idempotent
// upserts and each key is only ever written by its owning validator, so
// last-write-wins needs no cross-process locking. Readers must tolerate
// partial visibility.
type Store interface {
	// Put marks the validator as having entered the phase. The payload may be
	// any structured value; implementations fall back to a plain string
	// representation rather than failing the write.
	Put(ctx context.Context, validatorUID string, slot uint64, phase entities.Phase, payload any) error

	// ListReady returns every validator with a fresh record for the exact
	// (slot, phase) key. Stale records beyond the freshness window are
	// ignored. No duplicates.
	ListReady(ctx context.Context, slot uint64, phase entities.Phase) ([]entities.ReadinessRecord, error)

	// ListActiveValidators returns the union of validators seen for the slot
	// across any phase.
	ListActiveValidators(ctx context.Context, slot uint64) ([]string, error)

	// GC purges records for slots before the given slot.
	GC(ctx context.Context, beforeSlot uint64) error
}

// EncodePayload serializes an arbitrary readiness payload. Values that do not
// marshal are retried as their string representation; only a failure of the
// fallback surfaces as entities.ErrSerialization.
func EncodePayload(payload any) (string, error) {
	if payload == nil {
		return "", nil
	}
	if s, ok := payload.(string); ok {
		return s, nil
	}
	data, err := json.Marshal(payload)
	if err == nil {
		return string(data), nil
	}
	fallback, fbErr := json.Marshal(fmt.Sprintf("%v", payload))
	if fbErr != nil {
		return "", errors.Wrapf(entities.ErrSerialization, "encoding payload: %v", err)
	}
	return string(fallback), nil
}
