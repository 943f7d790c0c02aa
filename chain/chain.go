package chain

import (
	"context"
	"time"

	"github.com/synapnet/go-validator-node/entities"
	"go.uber.org/zap"
)

// ScoreUpdate is one miner's end-of-slot result as written to the chain:
// the aggregated performance score and the trust value after the slot's
// trust update, keyed by the miner's on-chain address.
type ScoreUpdate struct {
	MinerAddress string
	Performance  float64
	Trust        float64
}

// Client is the substrate the validator reads the metagraph from and
// submits finalized scores to. Implementations wrap whatever chain RPC the
// deployment uses; tests use fakes.
type Client interface {
	GetActiveMiners(ctx context.Context) ([]entities.MinerRecord, error)
	GetActiveValidators(ctx context.Context) ([]entities.ValidatorRecord, error)
	SubmitScoreUpdate(ctx context.Context, slot uint64, updates []ScoreUpdate) (string, error)
	WaitForConfirmation(ctx context.Context, txHash string) error
}

// Submitter pushes score updates to the chain without blocking the slot
// loop. Submission failures are logged, never propagated; the next slot
// resubmits fresh state anyway.
type Submitter struct {
	client  Client
	logger  *zap.SugaredLogger
	timeout time.Duration
}

func NewSubmitter(client Client, timeout time.Duration, logger *zap.SugaredLogger) *Submitter {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Submitter{client: client, logger: logger, timeout: timeout}
}

// Submit fires the score update in the background and confirms it with its
// own timeout, detached from the phase context.
func (s *Submitter) Submit(slot uint64, updates []ScoreUpdate) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		txHash, err := s.client.SubmitScoreUpdate(ctx, slot, updates)
		if err != nil {
			s.logger.Errorw("error submitting score update", "slot", slot, "error", err)
			return
		}
		if err := s.client.WaitForConfirmation(ctx, txHash); err != nil {
			s.logger.Errorw("score update not confirmed", "slot", slot, "tx", txHash, "error", err)
			return
		}
		s.logger.Infow("score update confirmed", "slot", slot, "tx", txHash, "miners", len(updates))
	}()
}
