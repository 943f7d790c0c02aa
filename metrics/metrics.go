package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/synapnet/go-validator-node/entities"
)

type Metrics struct {
	currentSlotGauge     prometheus.Gauge
	currentPhaseGauge    prometheus.Gauge
	readyValidatorsGauge prometheus.Gauge
	partialRoundCount    prometheus.Counter
	skippedRoundCount    prometheus.Counter
	dispatchedTaskCount  prometheus.Counter
	timedOutTaskCount    prometheus.Counter
	fraudFlagCount       prometheus.Counter
	aggregatedScoreGauge prometheus.Gauge
}

func NewMetrics(namespace string) *Metrics {
	m := Metrics{
		// metrics for slot and phase progression
		currentSlotGauge: promauto.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_current_slot", namespace),
			Help: "The slot the validator is currently processing",
		}),
		currentPhaseGauge: promauto.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_current_phase", namespace),
			Help: "The active phase as its index in the slot layout",
		}),
		readyValidatorsGauge: promauto.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_ready_validators", namespace),
			Help: "Validators that signalled readiness for the current phase",
		}),
		partialRoundCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_partial_rounds", namespace),
			Help: "Phases entered without reaching quorum",
		}),
		skippedRoundCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_skipped_rounds", namespace),
			Help: "Consensus rounds skipped because the node was too far behind",
		}),
		// metrics for dispatch and scoring
		dispatchedTaskCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_dispatched_tasks", namespace),
			Help: "Tasks sent to miners",
		}),
		timedOutTaskCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_timed_out_tasks", namespace),
			Help: "Tasks that produced no result before their timeout",
		}),
		fraudFlagCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: fmt.Sprintf("%s_fraud_flags", namespace),
			Help: "Scores penalized for deviating from the miner's recent average",
		}),
		aggregatedScoreGauge: promauto.NewGauge(prometheus.GaugeOpts{
			Name: fmt.Sprintf("%s_aggregated_score", namespace),
			Help: "Mean aggregated miner score of the last finalized round",
		}),
	}
	return &m
}

func (m *Metrics) SetPosition(slot uint64, phase entities.Phase) {
	m.currentSlotGauge.Set(float64(slot))
	for index, p := range entities.Phases {
		if p == phase {
			m.currentPhaseGauge.Set(float64(index))
			return
		}
	}
}

func (m *Metrics) SetReadyValidators(count int) {
	m.readyValidatorsGauge.Set(float64(count))
}

func (m *Metrics) IncPartialRounds() {
	m.partialRoundCount.Inc()
}

func (m *Metrics) IncSkippedRounds() {
	m.skippedRoundCount.Inc()
}

func (m *Metrics) AddDispatchedTasks(count int) {
	m.dispatchedTaskCount.Add(float64(count))
}

func (m *Metrics) AddTimedOutTasks(count int) {
	m.timedOutTaskCount.Add(float64(count))
}

func (m *Metrics) IncFraudFlags() {
	m.fraudFlagCount.Inc()
}

func (m *Metrics) SetAggregatedScore(scores map[string]float64) {
	if len(scores) == 0 {
		m.aggregatedScoreGauge.Set(0)
		return
	}
	var sum float64
	for _, score := range scores {
		sum += score
	}
	m.aggregatedScoreGauge.Set(sum / float64(len(scores)))
}
