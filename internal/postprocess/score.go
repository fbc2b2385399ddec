package postprocess

import (
	"math"
	"strings"

	"github.com/derekphilipau/deep-label/internal/geometry"
	"github.com/derekphilipau/deep-label/internal/label"
)

// areaTerm is sqrt of the box's share of the image, so small objects are not
// crushed by the quadratic falloff of raw area.
func areaTerm(b geometry.Box) float64 {
	norm := float64(b.Area()) / float64(geometry.CoordSpace*geometry.CoordSpace)
	return clamp01(math.Sqrt(norm))
}

// centrality is 1 at the image center, 0 at the corners.
func centrality(b geometry.Box) float64 {
	cx, cy := b.Center()
	half := float64(geometry.CoordSpace) / 2
	dist := math.Hypot(cx-half, cy-half)
	maxDist := math.Hypot(half, half)
	return clamp01(1 - dist/maxDist)
}

// verticalPosition favors objects lower in the frame, which in most
// compositions means closer to the viewer.
func verticalPosition(b geometry.Box) float64 {
	_, cy := b.Center()
	return clamp01(cy / float64(geometry.CoordSpace))
}

// rarity is an inverse-frequency measure: 1 when the label occurs once among
// many instances, approaching 0 as it dominates the set.
func rarity(total, count int) float64 {
	if total <= 0 {
		return 0
	}
	if count < 0 {
		count = 0
	}
	num := math.Log(float64(total+1) / float64(count+1))
	den := math.Log(float64(total + 1))
	if den == 0 {
		return 0
	}
	return clamp01(num / den)
}

func categoryKey(in label.Instance) string {
	return strings.ToLower(strings.TrimSpace(in.Type))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
