package kafka

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"log"

	"github.com/pkg/errors"
	"github.com/synapnet/go-validator-node/entities"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Client consumes finalized consensus rounds from the round topic.
type Client struct {
	kcl *kgo.Client
}

func NewClient(kafkaClient *kgo.Client) *Client {
	return &Client{
		kcl: kafkaClient,
	}
}

func (c *Client) PollMessages(ctx context.Context) ([]*entities.ConsensusRound, error) {
	fetches := c.kcl.PollRecords(ctx, 100)
	if errs := fetches.Errors(); len(errs) > 0 {
		for _, err := range errs {
			log.Printf("Error fetching from round topic: %v", err)
		}
		return nil, errors.New("fetching records from round topic")
	}

	var rounds []*entities.ConsensusRound
	iter := fetches.RecordIter()
	for !iter.Done() {
		round, err := decodeRoundRecord(iter.Next())
		if err != nil {
			return nil, err
		}
		rounds = append(rounds, round)
	}
	return rounds, nil
}

func (c *Client) AllowRebalance() {
	c.kcl.AllowRebalance()
}

func (c *Client) Commit(ctx context.Context) error {
	err := c.kcl.CommitUncommittedOffsets(ctx)
	if err != nil {
		return errors.Wrap(err, "committing offsets")
	}
	return nil
}

// decodeRoundRecord unmarshals one record and cross-checks the slot encoded
// in the record key against the payload. A mismatch means a producer bug and
// must stop the batch before anything is indexed under the wrong id.
func decodeRoundRecord(record *kgo.Record) (*entities.ConsensusRound, error) {
	var round entities.ConsensusRound
	if err := json.Unmarshal(record.Value, &round); err != nil {
		return nil, errors.Wrapf(err, "unmarshalling record [%s]", string(record.Value))
	}
	if len(record.Key) == 8 {
		if keySlot := binary.BigEndian.Uint64(record.Key); keySlot != round.Slot {
			return nil, errors.Errorf("record key slot %d does not match payload slot %d", keySlot, round.Slot)
		}
	}
	return &round, nil
}
