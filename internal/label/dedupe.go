package label

import "github.com/derekphilipau/deep-label/internal/geometry"

// Dedupe collapses near-identical boxes in a single pass, preserving input
// order. The first instance of an overlapping group survives; labels of the
// merged-away instances are kept as aliases instead of being discarded, so a
// kind detected twice under two names ("hound" and "dog") still shows both.
//
// Same-category pairs merge under the standard thresholds; cross-category
// pairs only under the stricter bar, since overlapping boxes of different
// categories are usually genuinely distinct objects.
func Dedupe(instances []Instance, th geometry.MatchThresholds) []Instance {
	if len(instances) < 2 {
		return instances
	}

	kept := make([]Instance, 0, len(instances))
	for _, cand := range instances {
		merged := false
		for i := range kept {
			if !sameInstance(kept[i], cand, th) {
				continue
			}
			absorbAliases(&kept[i], cand)
			merged = true
			break
		}
		if !merged {
			kept = append(kept, cand)
		}
	}
	return kept
}

func sameInstance(a, b Instance, th geometry.MatchThresholds) bool {
	if a.Type != b.Type {
		return th.SameInstanceCrossCategory(a.Box, b.Box)
	}
	return th.SameInstance(a.Box, b.Box)
}

// absorbAliases records the loser's label and aliases on the survivor.
func absorbAliases(winner *Instance, loser Instance) {
	if !winner.HasAlias(loser.Label) {
		winner.Aliases = append(winner.Aliases, loser.Label)
	}
	for _, a := range loser.Aliases {
		if !winner.HasAlias(a) {
			winner.Aliases = append(winner.Aliases, a)
		}
	}
}
