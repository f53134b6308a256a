// internal/media/optimize.go
package media

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
)

const (
	// Longest side above which originals are downscaled. Anything at or
	// below the ceiling keeps its dimensions.
	optimizeMaxSide = 2560

	optimizeJPEGQuality = 82

	// Palette reduction is only attempted when the image already fits a
	// 256-color palette; quantizing photographic PNGs is not worth it.
	maxPaletteColors = 256
)

// Optimize re-encodes a jpeg or png original in its own format family,
// downscaling only when the longest side exceeds the ceiling.
func Optimize(data []byte) (Output, error) {
	mt := mimetype.Detect(data)
	switch {
	case mt.Is("image/jpeg"):
		return optimizeJPEG(data)
	case mt.Is("image/png"):
		return optimizePNG(data)
	default:
		return Output{}, fmt.Errorf("unsupported image format %s", mt.String())
	}
}

func optimizeJPEG(data []byte) (Output, error) {
	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return Output{}, fmt.Errorf("decode jpeg: %w", err)
	}
	src = capLongSide(src)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, src, imaging.JPEG, imaging.JPEGQuality(optimizeJPEGQuality)); err != nil {
		return Output{}, fmt.Errorf("encode jpeg: %w", err)
	}
	return readBack(buf.Bytes(), "image/jpeg", ".jpg")
}

func optimizePNG(data []byte) (Output, error) {
	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return Output{}, fmt.Errorf("decode png: %w", err)
	}
	src = capLongSide(src)

	var encodable image.Image = src
	if pal := palettize(src); pal != nil {
		encodable = pal
	}

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(&buf, encodable); err != nil {
		return Output{}, fmt.Errorf("encode png: %w", err)
	}
	return readBack(buf.Bytes(), "image/png", ".png")
}

func capLongSide(img image.Image) image.Image {
	b := img.Bounds()
	if b.Dx() <= optimizeMaxSide && b.Dy() <= optimizeMaxSide {
		return img
	}
	return imaging.Fit(img, optimizeMaxSide, optimizeMaxSide, imaging.Lanczos)
}

// palettize returns a paletted copy of src, or nil when src uses more
// colors than a palette can hold.
func palettize(src image.Image) *image.Paletted {
	b := src.Bounds()
	seen := make(map[color.NRGBA]struct{}, maxPaletteColors+1)
	palette := make(color.Palette, 0, maxPaletteColors)

	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(src.At(x, y)).(color.NRGBA)
			if _, ok := seen[c]; ok {
				continue
			}
			if len(seen) == maxPaletteColors {
				return nil
			}
			seen[c] = struct{}{}
			palette = append(palette, c)
		}
	}

	pal := image.NewPaletted(b, palette)
	draw.Draw(pal, b, src, b.Min, draw.Src)
	return pal
}

func readBack(data []byte, contentType, ext string) (Output, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Output{}, fmt.Errorf("read back dimensions: %w", err)
	}
	return Output{
		Data:        data,
		ContentType: contentType,
		Ext:         ext,
		Width:       cfg.Width,
		Height:      cfg.Height,
	}, nil
}
