package processor

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // GIF format support
	_ "image/jpeg" // JPEG format support
	_ "image/png"  // PNG format support

	"github.com/disintegration/imaging"
	"github.com/genricoloni/medianotify/internal/domain"
	"go.uber.org/zap"
	_ "golang.org/x/image/webp" // WebP format support
)

// IconProcessor decodes album art and scales it to a square large icon
type IconProcessor struct {
	logger *zap.Logger
	size   int // Edge length in pixels, 0 keeps the original size
}

// NewIconProcessor creates a processor sized from the application config
func NewIconProcessor(logger *zap.Logger, cfg domain.Config) *IconProcessor {
	return &IconProcessor{
		logger: logger,
		size:   cfg.IconSize(),
	}
}

// Decode decodes image data and crops/scales it to the configured icon size
func (p *IconProcessor) Decode(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	if bounds.Dy() == 0 || bounds.Dx() == 0 {
		return nil, fmt.Errorf("invalid image dimensions: %dx%d", bounds.Dx(), bounds.Dy())
	}

	if p.size <= 0 {
		return img, nil
	}

	// Album covers are usually square already; Fill center-crops the rest
	icon := imaging.Fill(img, p.size, p.size, imaging.Center, imaging.Lanczos)

	p.logger.Debug("Album art scaled",
		zap.Int("srcW", bounds.Dx()),
		zap.Int("srcH", bounds.Dy()),
		zap.Int("size", p.size))
	return icon, nil
}
