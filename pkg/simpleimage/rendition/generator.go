// Package rendition produces the resized, re-encoded derivatives of an
// original image.
package rendition

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/tendant/simple-image/pkg/simpleimage"
)

const (
	// DefaultQuality is the JPEG quality used for renditions.
	DefaultQuality = 85
	// DefaultMaxPixels bounds width*height of images Generate will decode.
	DefaultMaxPixels = 100_000_000
)

// Generator decodes originals with imaging and re-encodes renditions as JPEG.
type Generator struct {
	quality   int
	maxPixels int64
	filter    imaging.ResampleFilter
}

// Option configures a Generator.
type Option func(*Generator)

// WithQuality sets the JPEG quality (1-100).
func WithQuality(quality int) Option {
	return func(g *Generator) {
		if quality >= 1 && quality <= 100 {
			g.quality = quality
		}
	}
}

// WithMaxPixels sets the largest width*height Generate decodes.
func WithMaxPixels(maxPixels int64) Option {
	return func(g *Generator) {
		if maxPixels > 0 {
			g.maxPixels = maxPixels
		}
	}
}

// WithFilter sets the resampling filter.
func WithFilter(filter imaging.ResampleFilter) Option {
	return func(g *Generator) {
		g.filter = filter
	}
}

// New returns a generator with quality 85, a 100 megapixel limit and
// Lanczos resampling.
func New(opts ...Option) *Generator {
	g := &Generator{
		quality:   DefaultQuality,
		maxPixels: DefaultMaxPixels,
		filter:    imaging.Lanczos,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

var _ simpleimage.RenditionGenerator = (*Generator)(nil)

// Generate fits original into a size x size box. Images already inside the
// box keep their dimensions.
func (g *Generator) Generate(original []byte, size int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("rendition size must be positive, got %d", size)
	}

	width, height, err := g.Dimensions(original)
	if err != nil {
		return nil, err
	}
	if int64(width)*int64(height) > g.maxPixels {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", simpleimage.ErrInvalidImage, width, height, g.maxPixels)
	}

	img, err := imaging.Decode(bytes.NewReader(original), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", simpleimage.ErrInvalidImage, err)
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("%w: image has no pixels", simpleimage.ErrInvalidImage)
	}

	resized := imaging.Fit(img, size, size, g.filter)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, imaging.JPEG, imaging.JPEGQuality(g.quality)); err != nil {
		return nil, fmt.Errorf("failed to encode rendition: %w", err)
	}
	return buf.Bytes(), nil
}

// Dimensions reads width and height from the header without decoding pixels.
func (g *Generator) Dimensions(data []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", simpleimage.ErrInvalidImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return 0, 0, fmt.Errorf("%w: invalid dimensions %dx%d", simpleimage.ErrInvalidImage, cfg.Width, cfg.Height)
	}
	return cfg.Width, cfg.Height, nil
}

// ContentType returns image/jpeg.
func (g *Generator) ContentType() string {
	return "image/jpeg"
}
