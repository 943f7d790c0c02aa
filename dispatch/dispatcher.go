package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/synapnet/go-validator-node/entities"
	"github.com/synapnet/go-validator-node/util"
	"go.uber.org/zap"
)

// TaskSender delivers a task to a miner endpoint.
type TaskSender interface {
	SendTask(ctx context.Context, miner entities.MinerRecord, task entities.TaskAssignment) error
}

// Scorer converts a (task, result) pair into a validator score.
type Scorer interface {
	Score(task entities.TaskAssignment, result entities.MinerResult) (entities.ValidatorScore, error)
}

type Config struct {
	ValidatorUID  string
	MinersPerSlot int
	BatchSize     int
	TaskTimeout   time.Duration
	PollInterval  time.Duration
	MaxRounds     int
}

func DefaultConfig(validatorUID string) Config {
	return Config{
		ValidatorUID:  validatorUID,
		MinersPerSlot: 10,
		BatchSize:     5,
		TaskTimeout:   60 * time.Second,
		PollInterval:  500 * time.Millisecond,
		MaxRounds:     3,
	}
}

// Dispatcher sends work to selected miners in bounded mini-batches and
// collects their results. A task with no matching result by the timeout is
// resolved with a synthesized zero-value timeout result, so every dispatched
// task yields exactly one score. Run obeys the hard-cutoff context: the
// instant the phase boundary cancels it, no further batches start and
// unresolved tasks of the current batch are synthesized immediately.
type Dispatcher struct {
	cfg     Config
	sender  TaskSender
	scorer  Scorer
	buffer  *ResultBuffer
	logger  *zap.SugaredLogger
	now     func() time.Time
	payload func(slot uint64, miner entities.MinerRecord) string

	mu   sync.Mutex
	busy map[string]bool
}

func NewDispatcher(cfg Config, sender TaskSender, scorer Scorer, buffer *ResultBuffer, logger *zap.SugaredLogger) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 60 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = 1
	}
	return &Dispatcher{
		cfg:    cfg,
		sender: sender,
		scorer: scorer,
		buffer: buffer,
		logger: logger,
		now:    time.Now,
		payload: func(slot uint64, miner entities.MinerRecord) string {
			return fmt.Sprintf(`{"slot":%d,"challenge":"%s-%d"}`, slot, miner.UID, slot)
		},
		busy: util.NewSet(),
	}
}

// Buffer exposes the shared result buffer for the inbound result handler.
func (d *Dispatcher) Buffer() *ResultBuffer {
	return d.buffer
}

// Run dispatches up to MaxRounds of mini-batches for the slot and returns
// every score produced. It degrades instead of failing: per-task errors
// produce a zero score for that task only.
func (d *Dispatcher) Run(ctx context.Context, slot uint64, miners []entities.MinerRecord) []entities.ValidatorScore {
	var scores []entities.ValidatorScore

	for round := 0; round < d.cfg.MaxRounds; round++ {
		if ctx.Err() != nil {
			d.logger.Infow("Dispatch cut off at phase boundary", "slot", slot, "round", round)
			break
		}

		selected := SelectMiners(slot, d.cfg.MinersPerSlot, miners, d.busySnapshot())
		if len(selected) == 0 {
			break
		}

		for start := 0; start < len(selected); start += d.cfg.BatchSize {
			if ctx.Err() != nil {
				break
			}
			end := min(start+d.cfg.BatchSize, len(selected))
			scores = append(scores, d.runBatch(ctx, slot, round, selected[start:end])...)
		}
	}

	d.logger.Infow("Dispatch finished", "slot", slot, "scores", len(scores))
	return scores
}

func (d *Dispatcher) runBatch(ctx context.Context, slot uint64, round int, batch []entities.MinerRecord) []entities.ValidatorScore {
	tasks := make([]entities.TaskAssignment, 0, len(batch))
	for _, miner := range batch {
		task := entities.TaskAssignment{
			TaskID:       fmt.Sprintf("%d-%d-%s", slot, round, miner.UID),
			MinerUID:     miner.UID,
			ValidatorUID: d.cfg.ValidatorUID,
			Payload:      d.payload(slot, miner),
			SentAt:       d.now(),
		}
		d.buffer.Track(task)
		d.markBusy(miner.UID)
		tasks = append(tasks, task)
	}

	// send the whole batch concurrently; a failed send still resolves
	// through the timeout path so the miner is always scored
	var wg sync.WaitGroup
	for i, miner := range batch {
		wg.Add(1)
		go func(miner entities.MinerRecord, task entities.TaskAssignment) {
			defer wg.Done()
			if err := d.sender.SendTask(ctx, miner, task); err != nil {
				d.logger.Errorw("error sending task", "taskId", task.TaskID, "miner", miner.UID, "error", err)
			}
		}(miner, tasks[i])
	}
	wg.Wait()

	results := d.collect(ctx, tasks)

	scores := make([]entities.ValidatorScore, 0, len(tasks))
	for _, task := range tasks {
		result := results[task.TaskID]
		score, err := d.scorer.Score(task, result)
		if err != nil {
			d.logger.Errorw("error scoring result, degrading to zero", "taskId", task.TaskID, "error", err)
			score = entities.ValidatorScore{
				TaskID:       task.TaskID,
				MinerUID:     task.MinerUID,
				ValidatorUID: d.cfg.ValidatorUID,
				Score:        0.0,
				Timestamp:    d.now(),
			}
		}
		score.Slot = slot
		scores = append(scores, score)

		d.buffer.Resolve(task.TaskID)
		d.markFree(task.MinerUID)
	}
	return scores
}

// collect polls the result buffer until every task of the batch resolved or
// the task timeout elapsed. Missing results are synthesized as zero-value
// timeout results.
func (d *Dispatcher) collect(ctx context.Context, tasks []entities.TaskAssignment) map[string]entities.MinerResult {
	results := make(map[string]entities.MinerResult)
	deadline := d.now().Add(d.cfg.TaskTimeout)

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		for _, task := range tasks {
			if _, done := results[task.TaskID]; done {
				continue
			}
			if result, ok := d.buffer.Take(task.TaskID); ok {
				results[task.TaskID] = result
			}
		}
		if len(results) == len(tasks) {
			break
		}
		if ctx.Err() != nil || !d.now().Before(deadline) {
			break
		}
		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
	}

	for _, task := range tasks {
		if _, ok := results[task.TaskID]; !ok {
			results[task.TaskID] = entities.MinerResult{
				TaskID:     task.TaskID,
				MinerUID:   task.MinerUID,
				Timeout:    true,
				ReceivedAt: d.now(),
			}
		}
	}
	return results
}

func (d *Dispatcher) busySnapshot() map[string]bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	snapshot := util.NewSet()
	for uid, busy := range d.busy {
		if busy {
			snapshot[uid] = true
		}
	}
	return snapshot
}

func (d *Dispatcher) markBusy(minerUID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	util.AddToSet(d.busy, minerUID)
}

func (d *Dispatcher) markFree(minerUID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	util.RemoveFromSet(d.busy, minerUID)
}
