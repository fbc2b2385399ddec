package geometry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeBox_ClampAndReorder(t *testing.T) {
	b := NormalizeBox(1200, -50, 300.4, 700.6)
	assert.Equal(t, Box{XMin: 300, YMin: 0, XMax: 1000, YMax: 701}, b)
	assert.LessOrEqual(t, b.XMin, b.XMax)
	assert.LessOrEqual(t, b.YMin, b.YMax)
}

func TestNormalizeBox_Idempotent(t *testing.T) {
	cases := [][4]float64{
		{10, 20, 30, 40},
		{-5, 2000, 999.5, 0.4},
		{500, 500, 500, 500},
		{1000, 1000, 0, 0},
	}
	for _, raw := range cases {
		once := NormalizeRaw(raw)
		twice := NormalizeBox(float64(once.XMin), float64(once.YMin), float64(once.XMax), float64(once.YMax))
		assert.Equal(t, once, twice, "normalize must be idempotent for %v", raw)
		assert.GreaterOrEqual(t, once.XMin, 0)
		assert.LessOrEqual(t, once.XMax, CoordSpace)
		assert.GreaterOrEqual(t, once.YMin, 0)
		assert.LessOrEqual(t, once.YMax, CoordSpace)
	}
}

func TestCompare_ExactValues(t *testing.T) {
	a := NormalizeBox(0, 0, 100, 100)
	b := NormalizeBox(50, 0, 150, 100)

	s := Compare(a, b)
	// Intersection 50x100, union 15000.
	assert.InDelta(t, 5000.0/15000.0, s.IoU, 1e-9)
	assert.InDelta(t, 0.5, s.CoverMin, 1e-9)
	assert.InDelta(t, 1.0, s.AreaRatio, 1e-9)
}

func TestCompare_Degenerate(t *testing.T) {
	zero := NormalizeBox(10, 10, 10, 10)
	other := NormalizeBox(0, 0, 100, 100)
	assert.Zero(t, Compare(zero, other).IoU)
	assert.Zero(t, Compare(zero, zero).IoU)
}

func TestSameInstance_ReflexiveAndSymmetric(t *testing.T) {
	th := DefaultMatchThresholds()
	a := NormalizeBox(100, 100, 400, 400)
	b := NormalizeBox(110, 95, 405, 410)
	c := NormalizeBox(600, 600, 900, 900)

	assert.True(t, th.SameInstance(a, a))
	assert.Equal(t, th.SameInstance(a, b), th.SameInstance(b, a))
	assert.Equal(t, th.SameInstance(a, c), th.SameInstance(c, a))
	assert.False(t, th.SameInstance(a, c))
}

func TestSameInstance_CoverPath(t *testing.T) {
	th := DefaultMatchThresholds()
	// Inner box fully covered by a slightly larger one: coverMin 1.0,
	// areaRatio ~0.81, IoU ~0.81. Matches via the cover rule only.
	outer := NormalizeBox(100, 100, 300, 300)
	inner := NormalizeBox(110, 110, 290, 290)
	s := Compare(outer, inner)
	require.Less(t, s.IoU, th.SameIoU)
	assert.True(t, th.SameInstance(outer, inner))
}

func TestSameInstanceCrossCategory_StricterBar(t *testing.T) {
	th := DefaultMatchThresholds()
	a := NormalizeBox(100, 100, 400, 400)
	b := NormalizeBox(108, 108, 408, 408)
	s := Compare(a, b)
	require.GreaterOrEqual(t, s.IoU, th.SameIoU)
	assert.True(t, th.SameInstance(a, b))
	// Same geometry is not enough for a cross-category merge.
	if s.IoU < th.CrossIoU {
		assert.False(t, th.SameInstanceCrossCategory(a, b))
	}

	// Near-identical boxes do pass the stricter bar.
	c := NormalizeBox(101, 100, 401, 401)
	assert.True(t, th.SameInstanceCrossCategory(a, c))
}

func TestUnionAndIntersection(t *testing.T) {
	a := NormalizeBox(0, 0, 100, 100)
	b := NormalizeBox(200, 200, 300, 300)
	assert.Zero(t, a.IntersectionArea(b))
	assert.Equal(t, Box{XMin: 0, YMin: 0, XMax: 300, YMax: 300}, a.Union(b))
}
