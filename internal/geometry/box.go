package geometry

import "math"

// CoordSpace is the normalized coordinate space boxes live in. Every box
// coordinate is an integer in [0, CoordSpace] regardless of the pixel
// dimensions of the image or region it was detected in.
const CoordSpace = 1000

// Box is a bounding box in the normalized [0,1000] space.
// Boxes must be produced through NormalizeBox so the invariants
// XMin<=XMax, YMin<=YMax and all coordinates in range always hold.
type Box struct {
	XMin int `json:"xmin"`
	YMin int `json:"ymin"`
	XMax int `json:"xmax"`
	YMax int `json:"ymax"`
}

// NormalizeBox rounds the raw coordinates, clamps them to [0,1000] and
// reorders each axis so min<=max. It never fails; garbage in gives a
// degenerate (zero-area) box rather than an error.
func NormalizeBox(x1, y1, x2, y2 float64) Box {
	xa := clampCoord(math.Round(x1))
	ya := clampCoord(math.Round(y1))
	xb := clampCoord(math.Round(x2))
	yb := clampCoord(math.Round(y2))
	if xa > xb {
		xa, xb = xb, xa
	}
	if ya > yb {
		ya, yb = yb, ya
	}
	return Box{XMin: xa, YMin: ya, XMax: xb, YMax: yb}
}

// NormalizeRaw normalizes a raw [xmin,ymin,xmax,ymax] quadruple as returned
// by the inference service.
func NormalizeRaw(raw [4]float64) Box {
	return NormalizeBox(raw[0], raw[1], raw[2], raw[3])
}

func clampCoord(v float64) int {
	if v < 0 {
		return 0
	}
	if v > CoordSpace {
		return CoordSpace
	}
	return int(v)
}

// Width returns the horizontal extent of the box.
func (b Box) Width() int { return b.XMax - b.XMin }

// Height returns the vertical extent of the box.
func (b Box) Height() int { return b.YMax - b.YMin }

// Area returns the box area in normalized units squared.
func (b Box) Area() int { return b.Width() * b.Height() }

// Center returns the box center point.
func (b Box) Center() (float64, float64) {
	return float64(b.XMin+b.XMax) / 2, float64(b.YMin+b.YMax) / 2
}

// IntersectionArea returns the overlap area of two boxes, zero when they
// do not intersect.
func (b Box) IntersectionArea(o Box) int {
	w := minInt(b.XMax, o.XMax) - maxInt(b.XMin, o.XMin)
	h := minInt(b.YMax, o.YMax) - maxInt(b.YMin, o.YMin)
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Union returns the smallest box covering both boxes.
func (b Box) Union(o Box) Box {
	return Box{
		XMin: minInt(b.XMin, o.XMin),
		YMin: minInt(b.YMin, o.YMin),
		XMax: maxInt(b.XMax, o.XMax),
		YMax: maxInt(b.YMax, o.YMax),
	}
}

// Similarity holds the three overlap measures used by duplicate matching.
type Similarity struct {
	IoU       float64 // intersection over union
	CoverMin  float64 // intersection over the smaller box's area
	AreaRatio float64 // smaller area over larger area
}

// Compare computes the similarity measures between two boxes.
// Degenerate (zero-area) boxes yield all-zero similarity.
func Compare(a, b Box) Similarity {
	areaA := a.Area()
	areaB := b.Area()
	if areaA == 0 || areaB == 0 {
		return Similarity{}
	}
	inter := float64(a.IntersectionArea(b))
	union := float64(areaA) + float64(areaB) - inter
	small := float64(minInt(areaA, areaB))
	large := float64(maxInt(areaA, areaB))
	return Similarity{
		IoU:       inter / union,
		CoverMin:  inter / small,
		AreaRatio: small / large,
	}
}

// MatchThresholds are the tuned cutoffs deciding when two boxes describe the
// same physical object. The defaults are behavior-preserving constants, kept
// configurable rather than derived.
type MatchThresholds struct {
	SameIoU        float64 `yaml:"same_iou"`
	SameAreaRatio  float64 `yaml:"same_area_ratio"`
	CoverMin       float64 `yaml:"cover_min"`
	CoverAreaRatio float64 `yaml:"cover_area_ratio"`
	CrossIoU       float64 `yaml:"cross_iou"`
	CrossAreaRatio float64 `yaml:"cross_area_ratio"`
}

// DefaultMatchThresholds returns the stock duplicate-matching cutoffs.
func DefaultMatchThresholds() MatchThresholds {
	return MatchThresholds{
		SameIoU:        0.88,
		SameAreaRatio:  0.65,
		CoverMin:       0.94,
		CoverAreaRatio: 0.72,
		CrossIoU:       0.92,
		CrossAreaRatio: 0.80,
	}
}

// SameInstance reports whether two boxes of the same category are close
// enough to be the same physical object.
func (t MatchThresholds) SameInstance(a, b Box) bool {
	s := Compare(a, b)
	if s.IoU >= t.SameIoU && s.AreaRatio >= t.SameAreaRatio {
		return true
	}
	return s.CoverMin >= t.CoverMin && s.AreaRatio >= t.CoverAreaRatio
}

// SameInstanceCrossCategory applies the stricter bar used when the two boxes
// carry different categories. Overlapping cross-category boxes are usually
// genuinely distinct objects (a rider and a horse), so only near-identical
// geometry merges them.
func (t MatchThresholds) SameInstanceCrossCategory(a, b Box) bool {
	s := Compare(a, b)
	return s.IoU >= t.CrossIoU && s.AreaRatio >= t.CrossAreaRatio
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
