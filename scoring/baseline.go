package scoring

import (
	"encoding/json"
	"strings"

	"github.com/synapnet/go-validator-node/entities"
)

// ChallengeBaseline is the default baseline scorer. Tasks carry a challenge
// string in their payload and a correct miner result echoes it back. A
// well-formed response without the challenge still earns partial credit.
type ChallengeBaseline struct{}

func (ChallengeBaseline) Baseline(task entities.TaskAssignment, result entities.MinerResult) (float64, error) {
	if result.Payload == "" {
		return 0.0, nil
	}

	var taskPayload struct {
		Challenge string `json:"challenge"`
	}
	if err := json.Unmarshal([]byte(task.Payload), &taskPayload); err == nil && taskPayload.Challenge != "" {
		if strings.Contains(result.Payload, taskPayload.Challenge) {
			return 1.0, nil
		}
	}

	if json.Valid([]byte(result.Payload)) {
		return 0.5, nil
	}
	return 0.0, nil
}
