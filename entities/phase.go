package entities

// Phase is one sub-stage of a slot. The cycle is
// TaskAssignment -> ConsensusScoring -> MetagraphUpdate -> TaskAssignment ...
type Phase string

const (
	PhaseTaskAssignment   Phase = "task_assignment"
	PhaseConsensusScoring Phase = "consensus_scoring"
	PhaseMetagraphUpdate  Phase = "metagraph_update"
)

// Phases lists all phases in cycle order.
var Phases = []Phase{PhaseTaskAssignment, PhaseConsensusScoring, PhaseMetagraphUpdate}

func (p Phase) Valid() bool {
	switch p {
	case PhaseTaskAssignment, PhaseConsensusScoring, PhaseMetagraphUpdate:
		return true
	}
	return false
}
