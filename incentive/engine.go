package incentive

import (
	"sort"

	"github.com/synapnet/go-validator-node/entities"
	"go.uber.org/zap"
)

// Tier maps a minimum collateral ratio to a stake-weight multiplier.
type Tier struct {
	MinCollateralRatio float64
	Multiplier         float64
}

type Config struct {
	// Tiers must cover ratio 0; they are sorted ascending on construction.
	Tiers []Tier
}

func DefaultConfig() Config {
	return Config{
		Tiers: []Tier{
			{MinCollateralRatio: 0.0, Multiplier: 1.0},
			{MinCollateralRatio: 0.1, Multiplier: 1.25},
			{MinCollateralRatio: 0.5, Multiplier: 1.5},
			{MinCollateralRatio: 1.0, Multiplier: 2.0},
		},
	}
}

// TrustProvider yields the current trust value for a miner.
type TrustProvider interface {
	Trust(minerUID string) float64
}

// Engine turns aggregated consensus scores into stake weights and
// normalized reward shares.
type Engine struct {
	cfg    Config
	trust  TrustProvider
	logger *zap.SugaredLogger
}

func NewEngine(cfg Config, trust TrustProvider, logger *zap.SugaredLogger) *Engine {
	if len(cfg.Tiers) == 0 {
		cfg.Tiers = DefaultConfig().Tiers
	}
	sort.Slice(cfg.Tiers, func(i, j int) bool {
		return cfg.Tiers[i].MinCollateralRatio < cfg.Tiers[j].MinCollateralRatio
	})
	return &Engine{cfg: cfg, trust: trust, logger: logger}
}

// TierMultiplier returns the multiplier of the highest tier the ratio
// qualifies for.
func (e *Engine) TierMultiplier(collateralRatio float64) float64 {
	multiplier := 1.0
	for _, tier := range e.cfg.Tiers {
		if collateralRatio >= tier.MinCollateralRatio {
			multiplier = tier.Multiplier
		}
	}
	return multiplier
}

// Weight is the miner's stake scaled by its collateral tier.
func (e *Engine) Weight(miner entities.MinerRecord) float64 {
	return miner.Stake * e.TierMultiplier(miner.CollateralRatio)
}

// Incentives computes the normalized reward share per scored miner:
//
//	incentive(m) = trust(m) * (weight(m) * score(m)) / sum(weight * score)
//
// Miners absent from the score map get nothing. Returns the weights used
// alongside the shares so a finalized round records both.
func (e *Engine) Incentives(miners []entities.MinerRecord, scores map[string]float64) (map[string]float64, map[string]float64) {
	weights := make(map[string]float64)
	weighted := make(map[string]float64)
	var total float64
	for _, miner := range miners {
		score, ok := scores[miner.UID]
		if !ok {
			continue
		}
		weight := e.Weight(miner)
		weights[miner.UID] = weight
		weighted[miner.UID] = weight * score
		total += weight * score
	}

	rewards := make(map[string]float64, len(weighted))
	if total == 0 {
		e.logger.Warnw("no weighted score mass, distributing nothing", "scoredMiners", len(scores))
		return rewards, weights
	}
	for minerUID, mass := range weighted {
		rewards[minerUID] = e.trust.Trust(minerUID) * mass / total
	}
	return rewards, weights
}
