package kafka

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/synapnet/go-validator-node/entities"
	"github.com/twmb/franz-go/pkg/kgo"
)

// RoundProducer publishes finalized consensus rounds, slot-keyed so all
// revisions of one slot land in the same partition.
type RoundProducer struct {
	kcl *kgo.Client
}

func NewRoundProducer(client *kgo.Client) *RoundProducer {
	return &RoundProducer{kcl: client}
}

func (rp *RoundProducer) SendMessage(ctx context.Context, round *entities.ConsensusRound) error {
	record, err := createRecord(round)
	if err != nil {
		return fmt.Errorf("creating consensus round record: %w", err)
	}

	err = rp.kcl.ProduceSync(ctx, record).FirstErr()
	if err != nil {
		return fmt.Errorf("producing consensus round record: %w", err)
	}

	return nil
}

func createRecord(round *entities.ConsensusRound) (*kgo.Record, error) {
	payload, err := json.Marshal(round)
	if err != nil {
		return nil, fmt.Errorf("marshalling to json: %w", err)
	}
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, round.Slot)

	return &kgo.Record{
		Key:   key,
		Value: payload,
	}, nil
}
