package consume

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synapnet/go-validator-node/elastic"
	"github.com/synapnet/go-validator-node/entities"
)

type FakeKafkaClient struct {
	rounds              []*entities.ConsensusRound
	err                 error
	commitCount         int
	allowRebalanceCount int
}

func (f *FakeKafkaClient) PollMessages(_ context.Context) ([]*entities.ConsensusRound, error) {
	return f.rounds, f.err
}

func (f *FakeKafkaClient) Commit(_ context.Context) error {
	f.commitCount++
	return nil
}

func (f *FakeKafkaClient) AllowRebalance() {
	f.allowRebalanceCount++
}

type FakeElasticClient struct {
	lastDocuments []*elastic.EsDocument
	err           error
}

func (f *FakeElasticClient) BulkIndex(_ context.Context, data []*elastic.EsDocument) error {
	f.lastDocuments = data
	return f.err
}

func testRound(slot uint64) *entities.ConsensusRound {
	return &entities.ConsensusRound{
		Slot:         slot,
		Status:       entities.RoundStatusSuccess,
		Scores:       map[string]float64{"miner-1": 0.7},
		Participants: []string{"validator-1", "validator-2"},
	}
}

func TestRoundProcessor_consumeBatchIndexesAndCommits(t *testing.T) {
	kafkaClient := &FakeKafkaClient{rounds: []*entities.ConsensusRound{testRound(1), testRound(2)}}
	elasticClient := &FakeElasticClient{}
	processor := NewRoundProcessor(kafkaClient, elasticClient, time.Minute)

	count, err := processor.consumeBatch(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, 1, kafkaClient.commitCount)
	assert.Equal(t, 1, kafkaClient.allowRebalanceCount)
	require.Len(t, elasticClient.lastDocuments, 2)
	assert.Equal(t, "round-1", elasticClient.lastDocuments[0].Id)

	var document roundDocument
	require.NoError(t, json.Unmarshal(elasticClient.lastDocuments[0].Payload, &document))
	assert.Equal(t, uint64(1), document.Slot)
	assert.Equal(t, entities.RoundStatusSuccess, document.Status)
	assert.False(t, document.IndexedAt.IsZero())
}

func TestRoundProcessor_pollErrorDoesNotCommit(t *testing.T) {
	kafkaClient := &FakeKafkaClient{err: errors.New("broker unavailable")}
	processor := NewRoundProcessor(kafkaClient, &FakeElasticClient{}, time.Minute)

	_, err := processor.consumeBatch(context.Background())

	require.Error(t, err)
	assert.Zero(t, kafkaClient.commitCount)
	assert.Equal(t, 1, kafkaClient.allowRebalanceCount)
}

func TestRoundProcessor_indexErrorDoesNotCommit(t *testing.T) {
	kafkaClient := &FakeKafkaClient{rounds: []*entities.ConsensusRound{testRound(1)}}
	elasticClient := &FakeElasticClient{err: errors.New("index unavailable")}
	processor := NewRoundProcessor(kafkaClient, elasticClient, time.Minute)

	_, err := processor.consumeBatch(context.Background())

	require.Error(t, err)
	assert.Zero(t, kafkaClient.commitCount)
}

func TestRoundProcessor_emptyPollSkipsIndexing(t *testing.T) {
	kafkaClient := &FakeKafkaClient{}
	elasticClient := &FakeElasticClient{}
	processor := NewRoundProcessor(kafkaClient, elasticClient, time.Minute)

	count, err := processor.consumeBatch(context.Background())

	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Nil(t, elasticClient.lastDocuments)
	assert.Equal(t, 1, kafkaClient.commitCount)
}
