package entities

import "time"

// TaskAssignment is a unit of work sent to one miner by one validator. It is
// consumed once a matching result arrives or the task times out.
type TaskAssignment struct {
	TaskID       string    `json:"taskId"`
	MinerUID     string    `json:"minerUid"`
	ValidatorUID string    `json:"validatorUid"`
	Payload      string    `json:"payload"`
	SentAt       time.Time `json:"sentAt"`
}

// MinerResult is an inbound answer for a dispatched task. Results without a
// matching outstanding task are rejected on delivery. Timeout results are
// synthesized by the dispatcher so every task resolves to exactly one score.
type MinerResult struct {
	TaskID     string    `json:"taskId"`
	MinerUID   string    `json:"minerUid"`
	Payload    string    `json:"payload"`
	Timeout    bool      `json:"timeout,omitempty"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// ValidatorScore is one validator's score for one task result. Immutable once
// created; many may exist per task, one per scoring validator.
type ValidatorScore struct {
	TaskID       string    `json:"taskId"`
	MinerUID     string    `json:"minerUid"`
	ValidatorUID string    `json:"validatorUid"`
	Score        float64   `json:"score"`
	Slot         uint64    `json:"slot"`
	Timestamp    time.Time `json:"timestamp"`
}
