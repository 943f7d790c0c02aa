package dispatch

import (
	"math/rand"
	"sort"

	"github.com/synapnet/go-validator-node/entities"
)

// SelectMiners draws a pseudo-random sample of size min(n, available) from
// the candidate miners, excluding busy ones. The sample is seeded by the
// slot so every call for the same slot over an unchanged miner set returns
// the same selection.
func SelectMiners(slot uint64, n int, miners []entities.MinerRecord, busy map[string]bool) []entities.MinerRecord {
	available := make([]entities.MinerRecord, 0, len(miners))
	for _, miner := range miners {
		if !busy[miner.UID] {
			available = append(available, miner)
		}
	}
	sort.Slice(available, func(i, j int) bool { return available[i].UID < available[j].UID })

	if n > len(available) {
		n = len(available)
	}
	if n <= 0 {
		return nil
	}

	rng := rand.New(rand.NewSource(int64(slot)))
	perm := rng.Perm(len(available))

	selected := make([]entities.MinerRecord, 0, n)
	for _, idx := range perm[:n] {
		selected = append(selected, available[idx])
	}
	return selected
}
