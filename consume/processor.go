package consume

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/pkg/errors"
	"github.com/synapnet/go-validator-node/elastic"
	"github.com/synapnet/go-validator-node/entities"
)

type KafkaClient interface {
	PollMessages(ctx context.Context) ([]*entities.ConsensusRound, error)
	Commit(ctx context.Context) error
	AllowRebalance()
}

type ElasticClient interface {
	BulkIndex(ctx context.Context, data []*elastic.EsDocument) error
}

// RoundProcessor moves finalized consensus rounds from the round topic into
// the elastic index, batch by batch.
type RoundProcessor struct {
	kafkaClient   KafkaClient
	elasticClient ElasticClient
	pollInterval  time.Duration
}

func NewRoundProcessor(client KafkaClient, elasticClient ElasticClient, pollInterval time.Duration) *RoundProcessor {
	if pollInterval <= 0 {
		pollInterval = time.Minute
	}
	return &RoundProcessor{
		kafkaClient:   client,
		elasticClient: elasticClient,
		pollInterval:  pollInterval,
	}
}

func (p *RoundProcessor) Consume() error {
	// do one initial consume(), so we do not wait until first tick
	err := p.consume()
	if err != nil {
		return errors.Wrap(err, "consuming batch")
	}

	ticker := time.Tick(p.pollInterval)
	for range ticker {
		err := p.consume()
		if err != nil {
			return errors.Wrap(err, "consuming batch")
		}
	}
	return nil
}

func (p *RoundProcessor) consume() error {
	count, err := p.consumeBatch(context.Background())
	if err != nil {
		log.Printf("Error consuming batch: %v", err)
		return err
	}
	log.Printf("Consumed [%d] consensus rounds.\n", count)
	return nil
}

func (p *RoundProcessor) consumeBatch(ctx context.Context) (int, error) {
	defer p.kafkaClient.AllowRebalance()
	rounds, err := p.kafkaClient.PollMessages(ctx)
	if err != nil {
		return -1, errors.Wrap(err, "polling kafka messages")
	}

	err = p.sendToElastic(ctx, rounds)
	if err != nil {
		return -1, errors.Wrap(err, "sending consensus round batch to elastic")
	}

	err = p.kafkaClient.Commit(ctx)
	if err != nil {
		return -1, errors.Wrap(err, "committing kafka batch")
	}
	return len(rounds), nil
}

func (p *RoundProcessor) sendToElastic(ctx context.Context, rounds []*entities.ConsensusRound) error {
	if len(rounds) == 0 {
		return nil
	}
	var documents []*elastic.EsDocument
	for _, round := range rounds {
		document, err := convertToDocument(round)
		if err != nil {
			return errors.Wrap(err, "converting consensus round to elastic document")
		}
		documents = append(documents, document)
	}
	err := p.elasticClient.BulkIndex(ctx, documents)
	if err != nil {
		return errors.Wrap(err, "bulk indexing elastic documents")
	}
	return nil
}

// roundDocument is the round as stored in the index, stamped with the
// indexing time so reprocessed batches are distinguishable from the
// original run.
type roundDocument struct {
	entities.ConsensusRound
	IndexedAt time.Time `json:"indexedAt"`
}

func convertToDocument(round *entities.ConsensusRound) (*elastic.EsDocument, error) {
	val, err := json.Marshal(roundDocument{ConsensusRound: *round, IndexedAt: time.Now().UTC()})
	if err != nil {
		return nil, errors.Wrapf(err, "marshalling consensus round for slot %d", round.Slot)
	}
	document := &elastic.EsDocument{
		Id:      fmt.Sprintf("round-%d", round.Slot),
		Payload: val,
	}
	return document, nil
}
