package detect

import (
	"math"
	"sort"

	"github.com/derekphilipau/deep-label/internal/label"
)

// selectRepresentative reduces the set to at most limit spatially diverse
// instances. Selection is greedy: the largest box seeds the set, then each
// step adds the candidate whose nearest selected center is farthest away,
// preferring larger boxes on ties. Output keeps the original input order.
func selectRepresentative(instances []label.Instance, limit int) []label.Instance {
	if len(instances) <= limit {
		return instances
	}

	// Candidates in area-desc order; index back into the original slice.
	order := make([]int, len(instances))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return instances[order[a]].Box.Area() > instances[order[b]].Box.Area()
	})

	selected := map[int]bool{order[0]: true}
	for len(selected) < limit {
		best := -1
		bestDist := -1.0
		for _, idx := range order {
			if selected[idx] {
				continue
			}
			d := nearestCenterDistance(instances, selected, idx)
			// Strict > keeps the area-desc tiebreak from the iteration order.
			if d > bestDist {
				best = idx
				bestDist = d
			}
		}
		if best < 0 {
			break
		}
		selected[best] = true
	}

	out := make([]label.Instance, 0, limit)
	for i, in := range instances {
		if selected[i] {
			out = append(out, in)
		}
	}
	return out
}

// nearestCenterDistance returns the distance from instance idx's center to
// the closest already-selected center.
func nearestCenterDistance(instances []label.Instance, selected map[int]bool, idx int) float64 {
	cx, cy := instances[idx].Box.Center()
	nearest := math.MaxFloat64
	for s := range selected {
		sx, sy := instances[s].Box.Center()
		d := math.Hypot(cx-sx, cy-sy)
		if d < nearest {
			nearest = d
		}
	}
	return nearest
}
