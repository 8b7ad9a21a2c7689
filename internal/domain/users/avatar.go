package users

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif" // register decoder
	"image/jpeg"
	_ "image/png" // register decoder

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register decoder
)

// CompressOptions bounds a compressed avatar.
type CompressOptions struct {
	MaxBytes     int
	Quality      int
	MinQuality   int
	QualityStep  int
	MaxDimension int
	// MaxPixels rejects images whose declared size exceeds it before any
	// pixel data is decoded.
	MaxPixels int
}

// DefaultCompressOptions keeps avatars under 5 MB and 2048 px, starting at
// JPEG quality 85 and stepping down by 5 to no less than 20. Sources above
// 25 megapixels are refused.
var DefaultCompressOptions = CompressOptions{
	MaxBytes:     5 * 1024 * 1024,
	Quality:      85,
	MinQuality:   20,
	QualityStep:  5,
	MaxDimension: 2048,
	MaxPixels:    25_000_000,
}

// CompressImage decodes a JPEG, PNG, GIF or WebP image, flattens any
// transparency onto white, shrinks it to fit MaxDimension and re-encodes it
// as JPEG, lowering the quality until the output fits MaxBytes or
// MinQuality is reached.
func CompressImage(data []byte, opts CompressOptions) ([]byte, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if err := checkDimensions(cfg.Width, cfg.Height, opts.MaxPixels); err != nil {
		return nil, err
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	img := flattenResized(src, opts.MaxDimension)

	quality := opts.Quality
	var out bytes.Buffer
	for {
		out.Reset()
		if err := jpeg.Encode(&out, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
		if out.Len() <= opts.MaxBytes || quality <= opts.MinQuality {
			break
		}
		quality -= opts.QualityStep
		if quality < opts.MinQuality {
			quality = opts.MinQuality
		}
	}
	return out.Bytes(), nil
}

func checkDimensions(w, h, maxPixels int) error {
	if w <= 0 || h <= 0 {
		return fmt.Errorf("%w: empty image", ErrInvalidImage)
	}
	// Compare by division so huge declared sides cannot overflow.
	if maxPixels > 0 && w > maxPixels/h {
		return fmt.Errorf("%w: %w: %dx%d exceeds %d pixels", ErrInvalidImage, ErrImageTooLarge, w, h, maxPixels)
	}
	return nil
}

// flattenResized draws src over a white canvas scaled down, keeping the
// aspect ratio, so neither side exceeds maxDim. Only the output canvas is
// allocated; smaller images keep their size.
func flattenResized(src image.Image, maxDim int) *image.RGBA {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	nw, nh := w, h
	if maxDim > 0 && (w > maxDim || h > maxDim) {
		if w >= h {
			nw, nh = maxDim, max(1, h*maxDim/w)
		} else {
			nw, nh = max(1, w*maxDim/h), maxDim
		}
	}

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	if nw == w && nh == h {
		draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	}
	return dst
}
