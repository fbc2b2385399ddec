package geometry

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFullImageDepth(t *testing.T) {
	root := FullImage(4000, 3000)
	assert.Equal(t, RootLabel, root.Label)
	assert.Equal(t, 0, root.Depth())

	q := root.Quadrants(0.12)[3]
	assert.Equal(t, "root.q11", q.Label)
	assert.Equal(t, 1, q.Depth())
	assert.Equal(t, 2, q.Quadrants(0.12)[0].Depth())
}

func TestQuadrants_OverlapAndCoverage(t *testing.T) {
	root := FullImage(2000, 1000)
	children := root.Quadrants(0.12)
	require.Len(t, children, 4)

	for _, c := range children {
		assert.GreaterOrEqual(t, c.Left, 0)
		assert.GreaterOrEqual(t, c.Top, 0)
		assert.LessOrEqual(t, c.Left+c.Width, 2000)
		assert.LessOrEqual(t, c.Top+c.Height, 1000)
	}

	// Horizontal neighbors share an overlap band.
	left, right := children[0], children[1]
	assert.Greater(t, left.Left+left.Width, right.Left, "adjacent quadrants must overlap")
	top, bottom := children[0], children[2]
	assert.Greater(t, top.Top+top.Height, bottom.Top, "adjacent quadrants must overlap")
}

func TestCornerQuadrants(t *testing.T) {
	root := FullImage(1000, 800)
	qs := root.CornerQuadrants(0.55)
	require.Len(t, qs, 4)
	assert.Equal(t, Region{Left: 0, Top: 0, Width: 550, Height: 440, Label: "root.q00"}, qs[0])
	assert.Equal(t, Region{Left: 450, Top: 360, Width: 550, Height: 440, Label: "root.q11"}, qs[3])
	// All four meet in the middle, so the center is covered by every quadrant.
	for _, q := range qs {
		assert.LessOrEqual(t, q.Left, 500)
		assert.LessOrEqual(t, q.Top, 400)
		assert.GreaterOrEqual(t, q.Left+q.Width, 500)
		assert.GreaterOrEqual(t, q.Top+q.Height, 400)
	}
}

func TestMapRegionBoxToGlobal_ExactValues(t *testing.T) {
	// 2000x1000 image; region is the right half.
	region := Region{Left: 1000, Top: 0, Width: 1000, Height: 1000, Label: "root.q01"}

	// A box spanning the region's full extent maps onto the right half of
	// the image.
	b := NormalizeBox(0, 0, 1000, 1000)
	global := MapRegionBoxToGlobal(b, region, 2000, 1000)
	assert.Equal(t, Box{XMin: 500, YMin: 0, XMax: 1000, YMax: 1000}, global)

	// A centered box inside the region.
	b = NormalizeBox(200, 400, 600, 800)
	global = MapRegionBoxToGlobal(b, region, 2000, 1000)
	assert.Equal(t, Box{XMin: 600, YMin: 400, XMax: 800, YMax: 800}, global)
}

func TestMapRegionBoxRoundTrip(t *testing.T) {
	imageW, imageH := 3200, 2400
	region := Region{Left: 800, Top: 600, Width: 1600, Height: 1200, Label: "root.q11"}

	cases := []Box{
		NormalizeBox(100, 100, 500, 500),
		NormalizeBox(0, 250, 1000, 750),
		NormalizeBox(333, 667, 334, 668),
		NormalizeBox(10, 990, 990, 1000),
	}
	for _, b := range cases {
		t.Run(fmt.Sprintf("%+v", b), func(t *testing.T) {
			global := MapRegionBoxToGlobal(b, region, imageW, imageH)
			back := MapGlobalBoxToRegion(global, region, imageW, imageH)
			assert.InDelta(t, b.XMin, back.XMin, 1)
			assert.InDelta(t, b.YMin, back.YMin, 1)
			assert.InDelta(t, b.XMax, back.XMax, 1)
			assert.InDelta(t, b.YMax, back.YMax, 1)
		})
	}
}

func TestClippedAtBoundary(t *testing.T) {
	imageW, imageH := 2000, 2000
	const edge = 15

	// Interior region: every edge is internal.
	interior := Region{Left: 500, Top: 500, Width: 1000, Height: 1000, Label: "root.q11"}
	assert.True(t, ClippedAtBoundary(NormalizeBox(5, 400, 300, 600), interior, imageW, imageH, edge))
	assert.True(t, ClippedAtBoundary(NormalizeBox(700, 990, 900, 1000), interior, imageW, imageH, edge))
	assert.False(t, ClippedAtBoundary(NormalizeBox(100, 100, 900, 900), interior, imageW, imageH, edge))

	// Top-left region: left and top edges are true image edges, so a box
	// touching them is not considered clipped.
	corner := Region{Left: 0, Top: 0, Width: 1000, Height: 1000, Label: "root.q00"}
	assert.False(t, ClippedAtBoundary(NormalizeBox(0, 0, 300, 300), corner, imageW, imageH, edge))
	assert.True(t, ClippedAtBoundary(NormalizeBox(700, 700, 1000, 900), corner, imageW, imageH, edge))

	// Root region has no internal edges at all.
	root := FullImage(imageW, imageH)
	assert.False(t, ClippedAtBoundary(NormalizeBox(0, 0, 1000, 1000), root, imageW, imageH, edge))
}
