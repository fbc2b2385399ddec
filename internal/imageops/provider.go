// Package imageops implements the image collaborators of the detection
// engine: region cropping, inference-sized downscaling, and the numbered
// overlay used by verification rounds. The source image is read-only and
// safely shared across concurrent crops.
package imageops

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"

	"github.com/derekphilipau/deep-label/internal/geometry"
)

// JPEG quality for wire images. Inference cares about content, not fidelity.
const jpegQuality = 88

// SourceImage is the full-resolution artwork being labeled.
type SourceImage struct {
	Path   string
	Width  int
	Height int

	img image.Image
}

// Load opens the source image from disk.
func Load(path string) (*SourceImage, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to open image %s: %w", path, err)
	}
	b := img.Bounds()
	return &SourceImage{
		Path:   path,
		Width:  b.Dx(),
		Height: b.Dy(),
		img:    img,
	}, nil
}

// FromImage wraps an already decoded image. Used by tests.
func FromImage(img image.Image) *SourceImage {
	b := img.Bounds()
	return &SourceImage{Width: b.Dx(), Height: b.Dy(), img: img}
}

// Root returns the region covering the whole image.
func (s *SourceImage) Root() geometry.Region {
	return geometry.FullImage(s.Width, s.Height)
}

// Crop returns the pixels of the given region. The crop is clamped to the
// image bounds, so slightly out-of-range regions degrade instead of failing.
func (s *SourceImage) Crop(r geometry.Region) image.Image {
	rect := image.Rect(r.Left, r.Top, r.Left+r.Width, r.Top+r.Height)
	return imaging.Crop(s.img, rect)
}

// RegionJPEG crops the region, downsizes it for inference, and encodes it
// as JPEG bytes for the wire.
func (s *SourceImage) RegionJPEG(r geometry.Region, maxDim int) ([]byte, error) {
	return EncodeJPEG(ResizeForInference(s.Crop(r), maxDim))
}

// ResizeForInference scales the image down so its longest side is at most
// maxDim, preserving aspect ratio. Images already small enough pass through.
func ResizeForInference(img image.Image, maxDim int) image.Image {
	b := img.Bounds()
	if maxDim <= 0 || (b.Dx() <= maxDim && b.Dy() <= maxDim) {
		return img
	}
	return imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)
}

// EncodeJPEG encodes the image as JPEG bytes.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
