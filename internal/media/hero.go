// internal/media/hero.go
package media

import (
	"bytes"
	"fmt"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
)

// HeroPreset bounds a hero rendition. The source is fitted within the
// box preserving aspect ratio and is never upscaled.
type HeroPreset struct {
	Name   string
	Width  int
	Height int
}

var (
	HeroSmall = HeroPreset{Name: "small", Width: 400, Height: 300}
	HeroLarge = HeroPreset{Name: "large", Width: 1200, Height: 630}
)

const heroQuality = 80

// Hero decodes the source image, auto-orients it, fits it within the
// preset box and re-encodes it as lossy WebP.
func Hero(data []byte, preset HeroPreset) (Output, error) {
	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return Output{}, fmt.Errorf("decode: %w", err)
	}

	fitted := imaging.Fit(src, preset.Width, preset.Height, imaging.Lanczos)

	var buf bytes.Buffer
	if err := webp.Encode(&buf, fitted, &webp.Options{Quality: heroQuality}); err != nil {
		return Output{}, fmt.Errorf("encode webp: %w", err)
	}

	cfg, err := webp.DecodeConfig(bytes.NewReader(buf.Bytes()))
	if err != nil {
		return Output{}, fmt.Errorf("read back dimensions: %w", err)
	}

	return Output{
		Data:        buf.Bytes(),
		ContentType: "image/webp",
		Ext:         ".webp",
		Width:       cfg.Width,
		Height:      cfg.Height,
	}, nil
}
