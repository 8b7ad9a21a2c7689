package users

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math/rand"
	"testing"
)

func TestCompressImageResizes(t *testing.T) {
	data := pngBytes(t, 400, 100)
	out, err := CompressImage(data, CompressOptions{MaxBytes: 1 << 20, Quality: 85, MinQuality: 20, QualityStep: 5, MaxDimension: 200})
	if err != nil {
		t.Fatalf("CompressImage: %v", err)
	}
	img, format, err := image.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if format != "jpeg" {
		t.Errorf("format = %q, want jpeg", format)
	}
	if b := img.Bounds(); b.Dx() != 200 || b.Dy() != 50 {
		t.Errorf("size = %dx%d, want 200x50", b.Dx(), b.Dy())
	}
}

func TestCompressImageKeepsSmallImages(t *testing.T) {
	out, err := CompressImage(pngBytes(t, 30, 60), DefaultCompressOptions)
	if err != nil {
		t.Fatalf("CompressImage: %v", err)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode config: %v", err)
	}
	if cfg.Width != 30 || cfg.Height != 60 {
		t.Errorf("size = %dx%d, want 30x60", cfg.Width, cfg.Height)
	}
}

func TestCompressImageFlattensTransparency(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		t.Fatal(err)
	}
	out, err := CompressImage(buf.Bytes(), DefaultCompressOptions)
	if err != nil {
		t.Fatalf("CompressImage: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatal(err)
	}
	r, g, b, _ := img.At(4, 4).RGBA()
	if r>>8 < 250 || g>>8 < 250 || b>>8 < 250 {
		t.Errorf("transparent pixel = (%d,%d,%d), want white", r>>8, g>>8, b>>8)
	}
}

func TestCompressImageLowersQuality(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	src := image.NewRGBA(image.Rect(0, 0, 256, 256))
	for x := 0; x < 256; x++ {
		for y := 0; y < 256; y++ {
			src.Set(x, y, color.RGBA{uint8(rng.Intn(256)), uint8(rng.Intn(256)), uint8(rng.Intn(256)), 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		t.Fatal(err)
	}

	opts := CompressOptions{MaxBytes: 1 << 30, Quality: 95, MinQuality: 10, QualityStep: 5, MaxDimension: 0}
	high, err := CompressImage(buf.Bytes(), opts)
	if err != nil {
		t.Fatal(err)
	}
	opts.MaxBytes = len(high) / 2
	low, err := CompressImage(buf.Bytes(), opts)
	if err != nil {
		t.Fatal(err)
	}
	if len(low) >= len(high) {
		t.Errorf("expected smaller output at lower quality: %d >= %d", len(low), len(high))
	}

	// An unreachable limit stops at the minimum quality.
	opts.MaxBytes = 1
	if _, err := CompressImage(buf.Bytes(), opts); err != nil {
		t.Errorf("unreachable limit should not fail: %v", err)
	}
}

func TestCompressImageRejectsGarbage(t *testing.T) {
	_, err := CompressImage([]byte("<svg/>"), DefaultCompressOptions)
	if !errors.Is(err, ErrInvalidImage) {
		t.Errorf("err = %v, want ErrInvalidImage", err)
	}
}

// pngHeader returns the signature and IHDR chunk of an 8-bit RGB PNG that
// declares the given size but carries no pixel data.
func pngHeader(width, height uint32) []byte {
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:], width)
	binary.BigEndian.PutUint32(ihdr[4:], height)
	ihdr[8], ihdr[9] = 8, 2

	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	chunk := append([]byte("IHDR"), ihdr...)
	buf.Write(chunk)
	_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

func TestCompressImageRejectsOversizedDimensions(t *testing.T) {
	tests := []struct {
		name          string
		width, height uint32
	}{
		{"square", 100000, 100000},
		{"long strip", 2_000_000_000, 2},
		{"just over limit", 5001, 5000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompressImage(pngHeader(tt.width, tt.height), DefaultCompressOptions)
			if !errors.Is(err, ErrInvalidImage) {
				t.Fatalf("err = %v, want ErrInvalidImage", err)
			}
		})
	}
}

func TestCheckDimensions(t *testing.T) {
	if err := checkDimensions(5000, 5000, 25_000_000); err != nil {
		t.Errorf("5000x5000 should fit 25M pixels: %v", err)
	}
	if err := checkDimensions(1<<31-1, 1<<31-1, 25_000_000); !errors.Is(err, ErrInvalidImage) {
		t.Errorf("err = %v, want ErrInvalidImage", err)
	}
	if err := checkDimensions(100, 100, 0); err != nil {
		t.Errorf("zero limit disables the check: %v", err)
	}
}
