package entities

import "time"

// ReadinessRecord marks one validator's entry into one phase of one slot.
// At most one record exists per (slot, phase, validator); re-entry overwrites.
type ReadinessRecord struct {
	ValidatorUID string `json:"validatorUid"`
	Slot         uint64 `json:"slot"`
	Phase        Phase  `json:"phase"`
	Timestamp    int64  `json:"timestamp"` // unix seconds
	Payload      string `json:"payload,omitempty"`
}

func (r ReadinessRecord) Time() time.Time {
	return time.Unix(r.Timestamp, 0)
}

// RoundStatus describes how a consensus round completed.
type RoundStatus string

const (
	RoundStatusSuccess  RoundStatus = "success"
	RoundStatusPartial  RoundStatus = "partial"  // quorum timeout, proceeded degraded
	RoundStatusDegraded RoundStatus = "degraded" // aggregation fell back to local scores
	RoundStatusSkipped  RoundStatus = "skipped"  // node too far behind, sat the slot out
)

// ConsensusRound is the per-slot outcome produced by aggregation: agreed
// scores, validator participation weights and the resulting reward shares.
type ConsensusRound struct {
	Slot         uint64             `json:"slot"`
	Status       RoundStatus        `json:"status"`
	Scores       map[string]float64 `json:"scores"`       // miner uid -> agreed score
	Weights      map[string]float64 `json:"weights"`      // miner uid -> stake weight
	Rewards      map[string]float64 `json:"rewards"`      // miner uid -> reward share
	Participants []string           `json:"participants"` // validators contributing scores
	FinalizedAt  time.Time          `json:"finalizedAt"`
}
