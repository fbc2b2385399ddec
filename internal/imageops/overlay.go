package imageops

import (
	"image"
	"image/color"
	"strconv"

	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/derekphilipau/deep-label/internal/geometry"
)

// OverlayStyle controls how the numbered verification overlay is drawn.
type OverlayStyle struct {
	LineWidth int
	// MaxDim bounds the rendered overlay like ResizeForInference.
	MaxDim int
}

// DefaultOverlayStyle returns the stock overlay style.
func DefaultOverlayStyle() OverlayStyle {
	return OverlayStyle{LineWidth: 3, MaxDim: 1536}
}

// RenderNumberedOverlay draws each box onto the base image with a distinct
// color and a zero-based index badge, then encodes the result as JPEG. The
// boxes are in the base image's normalized [0,1000] space. The verification
// prompt refers to the badge numbers.
func RenderNumberedOverlay(base image.Image, boxes []geometry.Box, style OverlayStyle) ([]byte, error) {
	canvas := imaging.Clone(base)
	w := canvas.Bounds().Dx()
	h := canvas.Bounds().Dy()

	for i, b := range boxes {
		c := indexColor(i)
		x1 := b.XMin * w / geometry.CoordSpace
		y1 := b.YMin * h / geometry.CoordSpace
		x2 := b.XMax * w / geometry.CoordSpace
		y2 := b.YMax * h / geometry.CoordSpace
		drawRect(canvas, x1, y1, x2, y2, style.LineWidth, c)
		drawBadge(canvas, x1, y1, strconv.Itoa(i), c)
	}

	out := ResizeForInference(canvas, style.MaxDim)
	return EncodeJPEG(out)
}

// indexColor produces a stable, well-separated color per badge index using
// golden-angle hue rotation.
func indexColor(i int) color.RGBA {
	hue := float64(i*137) // golden angle, degrees
	for hue >= 360 {
		hue -= 360
	}
	c := colorful.Hsv(hue, 0.85, 0.95)
	r, g, b := c.RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

// drawRect draws an axis-aligned rectangle outline of the given stroke
// width, clamped to the canvas.
func drawRect(img *image.NRGBA, x1, y1, x2, y2, stroke int, c color.RGBA) {
	if stroke < 1 {
		stroke = 1
	}
	fillRect(img, x1, y1, x2, y1+stroke, c)   // top
	fillRect(img, x1, y2-stroke, x2, y2, c)   // bottom
	fillRect(img, x1, y1, x1+stroke, y2, c)   // left
	fillRect(img, x2-stroke, y1, x2, y2, c)   // right
}

func fillRect(img *image.NRGBA, x1, y1, x2, y2 int, c color.RGBA) {
	bounds := img.Bounds()
	if x1 < bounds.Min.X {
		x1 = bounds.Min.X
	}
	if y1 < bounds.Min.Y {
		y1 = bounds.Min.Y
	}
	if x2 > bounds.Max.X {
		x2 = bounds.Max.X
	}
	if y2 > bounds.Max.Y {
		y2 = bounds.Max.Y
	}
	for y := y1; y < y2; y++ {
		for x := x1; x < x2; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: c.R, G: c.G, B: c.B, A: 255})
		}
	}
}

// drawBadge paints a filled tag with the index number just inside the box
// corner so the digits survive JPEG compression.
func drawBadge(img *image.NRGBA, x, y int, text string, c color.RGBA) {
	face := basicfont.Face7x13
	padX, padY := 4, 3
	tw := font.MeasureString(face, text).Ceil()

	bx1, by1 := x, y
	bx2 := bx1 + tw + 2*padX
	by2 := by1 + face.Height + 2*padY
	fillRect(img, bx1, by1, bx2, by2, c)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.White),
		Face: face,
		Dot: fixed.Point26_6{
			X: fixed.I(bx1 + padX),
			Y: fixed.I(by1 + padY + face.Ascent),
		},
	}
	d.DrawString(text)
}
