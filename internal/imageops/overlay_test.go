package imageops

import (
	"bytes"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/derekphilipau/deep-label/internal/geometry"
)

func TestRenderNumberedOverlay(t *testing.T) {
	base := testImage(500, 500)
	boxes := []geometry.Box{
		geometry.NormalizeBox(100, 100, 400, 400),
		geometry.NormalizeBox(600, 600, 900, 900),
	}

	data, err := RenderNumberedOverlay(base, boxes, OverlayStyle{LineWidth: 2, MaxDim: 500})
	require.NoError(t, err)

	decoded, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 500, decoded.Bounds().Dx())
	assert.Equal(t, 500, decoded.Bounds().Dy())
}

func TestRenderNumberedOverlay_Empty(t *testing.T) {
	data, err := RenderNumberedOverlay(testImage(100, 100), nil, DefaultOverlayStyle())
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestIndexColorsAreDistinct(t *testing.T) {
	seen := map[[3]uint8]bool{}
	for i := 0; i < 8; i++ {
		c := indexColor(i)
		key := [3]uint8{c.R, c.G, c.B}
		assert.False(t, seen[key], "color %d repeats", i)
		seen[key] = true
	}
}
