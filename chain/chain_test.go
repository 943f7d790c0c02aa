package chain

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synapnet/go-validator-node/entities"
	"go.uber.org/zap"
)

type submission struct {
	slot    uint64
	updates []ScoreUpdate
}

type FakeClient struct {
	submitErr error
	submitted chan submission
	confirmed chan string
}

func newFakeClient() *FakeClient {
	return &FakeClient{
		submitted: make(chan submission, 1),
		confirmed: make(chan string, 1),
	}
}

func (f *FakeClient) GetActiveMiners(_ context.Context) ([]entities.MinerRecord, error) {
	return nil, nil
}

func (f *FakeClient) GetActiveValidators(_ context.Context) ([]entities.ValidatorRecord, error) {
	return nil, nil
}

func (f *FakeClient) SubmitScoreUpdate(_ context.Context, slot uint64, updates []ScoreUpdate) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submitted <- submission{slot: slot, updates: updates}
	return "0xabc", nil
}

func (f *FakeClient) WaitForConfirmation(_ context.Context, txHash string) error {
	f.confirmed <- txHash
	return nil
}

func TestSubmitter_submitsAndConfirms(t *testing.T) {
	client := newFakeClient()
	submitter := NewSubmitter(client, time.Second, zap.NewNop().Sugar())

	submitter.Submit(4, []ScoreUpdate{{MinerAddress: "addr-1", Performance: 0.5, Trust: 0.6}})

	select {
	case got := <-client.submitted:
		assert.Equal(t, uint64(4), got.slot)
		require.Len(t, got.updates, 1)
		assert.Equal(t, "addr-1", got.updates[0].MinerAddress)
		assert.Equal(t, 0.5, got.updates[0].Performance)
		assert.Equal(t, 0.6, got.updates[0].Trust)
	case <-time.After(time.Second):
		t.Fatal("score update was never submitted")
	}
	select {
	case tx := <-client.confirmed:
		assert.Equal(t, "0xabc", tx)
	case <-time.After(time.Second):
		t.Fatal("score update was never confirmed")
	}
}

func TestSubmitter_submissionFailureDoesNotPanic(t *testing.T) {
	client := newFakeClient()
	client.submitErr = errors.New("chain unavailable")
	submitter := NewSubmitter(client, 50*time.Millisecond, zap.NewNop().Sugar())

	submitter.Submit(4, []ScoreUpdate{{MinerAddress: "addr-1", Performance: 0.5, Trust: 0.6}})
	time.Sleep(100 * time.Millisecond)

	assert.Empty(t, client.confirmed)
}
