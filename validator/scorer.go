package validator

import (
	"github.com/synapnet/go-validator-node/entities"
	"github.com/synapnet/go-validator-node/metrics"
	"github.com/synapnet/go-validator-node/scoring"
)

// InstrumentedScorer feeds scoring outcomes into the metrics registry on the
// way through to the dispatcher.
type InstrumentedScorer struct {
	engine     *scoring.Engine
	appMetrics *metrics.Metrics
}

func NewInstrumentedScorer(engine *scoring.Engine, appMetrics *metrics.Metrics) *InstrumentedScorer {
	return &InstrumentedScorer{engine: engine, appMetrics: appMetrics}
}

func (s *InstrumentedScorer) Score(task entities.TaskAssignment, result entities.MinerResult) (entities.ValidatorScore, error) {
	score, metadata := s.engine.ScoreWithMetadata(task, result)
	if s.appMetrics != nil {
		if metadata.Timeout {
			s.appMetrics.AddTimedOutTasks(1)
		}
		if metadata.Fraud {
			s.appMetrics.IncFraudFlags()
		}
	}
	return score, nil
}
