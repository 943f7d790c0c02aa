package dispatch

import (
	"sync"

	"github.com/synapnet/go-validator-node/entities"
)

// ResultBuffer collects inbound miner results for outstanding tasks. The
// inbound HTTP handler writes into it while the dispatch loop polls it, so
// all access is mutex guarded. Results for unknown task IDs are rejected,
// which also covers replayed submissions for already resolved tasks.
type ResultBuffer struct {
	mu          sync.Mutex
	outstanding map[string]entities.TaskAssignment
	results     map[string]entities.MinerResult
}

func NewResultBuffer() *ResultBuffer {
	return &ResultBuffer{
		outstanding: make(map[string]entities.TaskAssignment),
		results:     make(map[string]entities.MinerResult),
	}
}

// Track registers a dispatched task so its result can be accepted.
func (b *ResultBuffer) Track(task entities.TaskAssignment) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.outstanding[task.TaskID] = task
}

// Add stores a result for an outstanding task. Unknown task IDs return
// entities.ErrUnknownTask.
func (b *ResultBuffer) Add(result entities.MinerResult) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.outstanding[result.TaskID]; !ok {
		return entities.ErrUnknownTask
	}
	b.results[result.TaskID] = result
	return nil
}

// Take removes and returns the result for a task, if one arrived.
func (b *ResultBuffer) Take(taskID string) (entities.MinerResult, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	result, ok := b.results[taskID]
	if ok {
		delete(b.results, taskID)
	}
	return result, ok
}

// Resolve drops a task from the outstanding set once it has been scored or
// timed out.
func (b *ResultBuffer) Resolve(taskID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.outstanding, taskID)
	delete(b.results, taskID)
}

func (b *ResultBuffer) Outstanding() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.outstanding)
}
