package entities

import "time"

// MinerRecord describes a registered miner as reported by the chain adapter.
type MinerRecord struct {
	UID             string  `json:"uid"`
	Address         string  `json:"address"`
	Endpoint        string  `json:"endpoint"`
	Stake           float64 `json:"stake"`
	CollateralRatio float64 `json:"collateralRatio"`
}

// ValidatorRecord describes a registered validator as reported by the chain
// adapter. Address must match the address derived from the validator's
// public key during score verification.
type ValidatorRecord struct {
	UID      string  `json:"uid"`
	Address  string  `json:"address"`
	Endpoint string  `json:"endpoint"`
	Stake    float64 `json:"stake"`
}

// TrustState is the per-miner reliability estimate owned by the scoring
// engine. History holds baseline scores, newest last, capped to a fixed
// window with FIFO eviction.
type TrustState struct {
	Trust           float64   `json:"trust"`
	History         []float64 `json:"history"`
	LastEvaluatedAt time.Time `json:"lastEvaluatedAt"`
}
