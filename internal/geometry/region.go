package geometry

import (
	"fmt"
	"math"
	"strings"
)

// RootLabel is the label of the region covering the whole image.
const RootLabel = "root"

// Region is a rectangular sub-area of the source image in pixel
// coordinates. The label encodes provenance: "root" for the full image,
// then one ".qRC" path element per subdivision step (row, column), e.g.
// "root.q00.q11". Regions are never mutated after creation.
type Region struct {
	Left   int    `json:"left"`
	Top    int    `json:"top"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Label  string `json:"label"`
}

// FullImage returns the root region covering the whole image.
func FullImage(imageW, imageH int) Region {
	return Region{Left: 0, Top: 0, Width: imageW, Height: imageH, Label: RootLabel}
}

// Depth returns the subdivision depth of the region; the root is depth 0.
func (r Region) Depth() int {
	if r.Label == "" || r.Label == RootLabel {
		return 0
	}
	return strings.Count(r.Label, ".")
}

// Quadrants splits the region into four overlapping child regions. The
// overlap fraction (of the child dimensions, typically 0.10-0.15) makes
// adjacent children share a band so objects straddling the seam are seen
// whole by at least one child.
func (r Region) Quadrants(overlap float64) []Region {
	halfW := r.Width / 2
	halfH := r.Height / 2
	padX := int(math.Round(float64(halfW) * overlap))
	padY := int(math.Round(float64(halfH) * overlap))

	children := make([]Region, 0, 4)
	for row := 0; row < 2; row++ {
		for col := 0; col < 2; col++ {
			left := r.Left + col*halfW
			top := r.Top + row*halfH
			w := halfW
			h := halfH
			// Expand toward the sibling side only; outer edges stay put so
			// children never leave the parent rect.
			if col == 0 {
				w += padX
			} else {
				left -= padX
				w += padX
			}
			if row == 0 {
				h += padY
			} else {
				top -= padY
				h += padY
			}
			children = append(children, Region{
				Left:   left,
				Top:    top,
				Width:  w,
				Height: h,
				Label:  fmt.Sprintf("%s.q%d%d", r.Label, row, col),
			})
		}
	}
	return children
}

// CornerQuadrants returns four quadrants anchored at the region corners,
// each scale (e.g. 0.55) of the region's dimensions. Used by multi-scale
// kind discovery, where the >50% scale gives mutual overlap around the
// region center.
func (r Region) CornerQuadrants(scale float64) []Region {
	w := int(math.Round(float64(r.Width) * scale))
	h := int(math.Round(float64(r.Height) * scale))
	return []Region{
		{Left: r.Left, Top: r.Top, Width: w, Height: h, Label: r.Label + ".q00"},
		{Left: r.Left + r.Width - w, Top: r.Top, Width: w, Height: h, Label: r.Label + ".q01"},
		{Left: r.Left, Top: r.Top + r.Height - h, Width: w, Height: h, Label: r.Label + ".q10"},
		{Left: r.Left + r.Width - w, Top: r.Top + r.Height - h, Width: w, Height: h, Label: r.Label + ".q11"},
	}
}

// MapRegionBoxToGlobal converts a box expressed in the region's own
// normalized [0,1000] space into the full image's normalized space. This is
// the single seam between independently analyzed regions and the shared
// coordinate system.
func MapRegionBoxToGlobal(b Box, r Region, imageW, imageH int) Box {
	// Region-normalized -> region pixels -> image pixels -> image-normalized.
	px1 := float64(r.Left) + float64(b.XMin)/CoordSpace*float64(r.Width)
	py1 := float64(r.Top) + float64(b.YMin)/CoordSpace*float64(r.Height)
	px2 := float64(r.Left) + float64(b.XMax)/CoordSpace*float64(r.Width)
	py2 := float64(r.Top) + float64(b.YMax)/CoordSpace*float64(r.Height)
	return NormalizeBox(
		px1/float64(imageW)*CoordSpace,
		py1/float64(imageH)*CoordSpace,
		px2/float64(imageW)*CoordSpace,
		py2/float64(imageH)*CoordSpace,
	)
}

// MapGlobalBoxToRegion is the inverse of MapRegionBoxToGlobal: it converts a
// box in the full image's normalized space into the region's normalized
// space. Boxes partially outside the region are clamped by normalization.
func MapGlobalBoxToRegion(b Box, r Region, imageW, imageH int) Box {
	gx1 := float64(b.XMin) / CoordSpace * float64(imageW)
	gy1 := float64(b.YMin) / CoordSpace * float64(imageH)
	gx2 := float64(b.XMax) / CoordSpace * float64(imageW)
	gy2 := float64(b.YMax) / CoordSpace * float64(imageH)
	return NormalizeBox(
		(gx1-float64(r.Left))/float64(r.Width)*CoordSpace,
		(gy1-float64(r.Top))/float64(r.Height)*CoordSpace,
		(gx2-float64(r.Left))/float64(r.Width)*CoordSpace,
		(gy2-float64(r.Top))/float64(r.Height)*CoordSpace,
	)
}

// ClippedAtBoundary reports whether a region-normalized box touches an
// internal region edge (one that is not also a true image edge) within
// edgeThreshold normalized units. Such boxes are partial views of objects
// straddling a tile seam; the overlap band of the adjacent tile is expected
// to capture the object whole, so the clipped detection is discarded.
func ClippedAtBoundary(b Box, r Region, imageW, imageH, edgeThreshold int) bool {
	if b.XMin <= edgeThreshold && r.Left > 0 {
		return true
	}
	if b.YMin <= edgeThreshold && r.Top > 0 {
		return true
	}
	if b.XMax >= CoordSpace-edgeThreshold && r.Left+r.Width < imageW {
		return true
	}
	if b.YMax >= CoordSpace-edgeThreshold && r.Top+r.Height < imageH {
		return true
	}
	return false
}
