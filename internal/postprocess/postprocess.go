// Package postprocess runs the two passes that happen after all detection
// work finishes: one more duplicate merge across the union of every kind's
// results, and the importance scoring that gives downstream consumers a
// stable, explainable ranking without further model calls.
package postprocess

import (
	"sort"

	"github.com/derekphilipau/deep-label/internal/geometry"
	"github.com/derekphilipau/deep-label/internal/label"
)

// Config contains post-processing configuration.
type Config struct {
	Dedup   geometry.MatchThresholds
	Weights Weights
}

// Weights are the importance-score term weights. They must sum to 1.
type Weights struct {
	Area             float64
	Centrality       float64
	VerticalPosition float64
	LabelRarity      float64
	CategoryRarity   float64
}

// DefaultWeights returns the stock importance weights.
func DefaultWeights() Weights {
	return Weights{
		Area:             0.30,
		Centrality:       0.25,
		VerticalPosition: 0.15,
		LabelRarity:      0.20,
		CategoryRarity:   0.10,
	}
}

// Process dedupes the combined instance set across kinds, scores every
// survivor, and returns them ordered by rank (best first).
func Process(instances []label.Instance, cfg Config) []label.Instance {
	if cfg.Dedup == (geometry.MatchThresholds{}) {
		cfg.Dedup = geometry.DefaultMatchThresholds()
	}
	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultWeights()
	}

	out := label.Dedupe(instances, cfg.Dedup)
	Score(out, cfg.Weights)

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ImportanceRank < out[j].ImportanceRank
	})
	return out
}

// Score assigns each instance an importance score in [0,1] and a dense rank
// by descending score, ties broken by input order. The score blends box area,
// centrality, vertical position and how rare the instance's label family and
// category are within this image.
func Score(instances []label.Instance, w Weights) {
	n := len(instances)
	if n == 0 {
		return
	}

	familyCount := make(map[string]int, n)
	categoryCount := make(map[string]int, n)
	for _, in := range instances {
		familyCount[in.Family()]++
		categoryCount[categoryKey(in)]++
	}

	for i := range instances {
		in := &instances[i]
		score := w.Area*areaTerm(in.Box) +
			w.Centrality*centrality(in.Box) +
			w.VerticalPosition*verticalPosition(in.Box) +
			w.LabelRarity*rarity(n, familyCount[in.Family()]) +
			w.CategoryRarity*rarity(n, categoryCount[categoryKey(*in)])
		in.ImportanceScore = clamp01(score)
	}

	assignRanks(instances)
}

// assignRanks orders by descending score, input order on ties, and writes a
// dense 1-based rank back onto each instance.
func assignRanks(instances []label.Instance) {
	order := make([]int, len(instances))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return instances[order[a]].ImportanceScore > instances[order[b]].ImportanceScore
	})
	for rank, idx := range order {
		instances[idx].ImportanceRank = rank + 1
	}
}
