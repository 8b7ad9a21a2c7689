package filestore

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/eventhorizon/server/internal/domain/ids"
	"github.com/rs/zerolog"
)

// ImageExtensions are the avatar and event image types accepted for upload.
var ImageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".svg"}

// Extension returns the lower-cased extension including the dot.
func Extension(filename string) string {
	return strings.ToLower(path.Ext(filename))
}

// ValidateImageExtension reports whether filename has an allowed extension.
// A nil allowed list means ImageExtensions.
func ValidateImageExtension(filename string, allowed []string) bool {
	if allowed == nil {
		allowed = ImageExtensions
	}
	ext := Extension(filename)
	for _, a := range allowed {
		if ext == a {
			return true
		}
	}
	return false
}

// UniqueFilename prefixes filename with 8 random hex characters, placing
// it under prefix when one is given: "avatars/a1b2c3d4-photo.jpg".
func UniqueFilename(filename, prefix string) string {
	unique := ids.RandomHex(8) + "-" + path.Base(filename)
	if prefix == "" {
		return unique
	}
	return path.Join(prefix, unique)
}

// AvatarPath is the storage name of a new avatar for the user:
// "avatars/users/<id>/<32 hex><ext>".
func AvatarPath(userID, filename string) string {
	return path.Join("avatars", "users", userID, ids.RandomHex(32)+Extension(filename))
}

// FormatFileSize renders a byte count with two decimals: "1.00 KB".
func FormatFileSize(size int64) string {
	value := float64(size)
	for _, unit := range []string{"B", "KB", "MB", "GB", "TB"} {
		if value < 1024 {
			return fmt.Sprintf("%.2f %s", value, unit)
		}
		value /= 1024
	}
	return fmt.Sprintf("%.2f PB", value)
}

func randomSuffix(n int) string {
	return ids.RandomHex(n)
}

// CopyResult summarizes a Copy run.
type CopyResult struct {
	Copied  int
	Skipped int
	Failed  int
}

// CopyOptions controls Copy.
type CopyOptions struct {
	DryRun       bool
	DeleteSource bool
}

// CopyFile copies one file from src to dst under the same name. Files that
// already exist in dst are skipped and reported with copied=false.
func CopyFile(ctx context.Context, dst, src Backend, name string, opts CopyOptions) (copied bool, err error) {
	exists, err := dst.Exists(ctx, name)
	if err != nil {
		return false, fmt.Errorf("check %s: %w", name, err)
	}
	if exists {
		return false, nil
	}
	if opts.DryRun {
		return true, nil
	}

	r, err := src.Open(ctx, name)
	if err != nil {
		return false, fmt.Errorf("open %s: %w", name, err)
	}
	defer func() { _ = r.Close() }()

	stored, err := dst.Save(ctx, name, r)
	if err != nil {
		return false, fmt.Errorf("upload %s: %w", name, err)
	}
	if stored != name {
		return false, fmt.Errorf("upload %s: stored as %s", name, stored)
	}
	if ok, err := dst.Exists(ctx, name); err != nil || !ok {
		return false, fmt.Errorf("verify %s: upload not visible", name)
	}

	if opts.DeleteSource {
		if err := src.Delete(ctx, name); err != nil {
			return true, fmt.Errorf("delete source %s: %w", name, err)
		}
	}
	return true, nil
}

// LogCopy logs the outcome of a CopyFile call and updates result.
func LogCopy(logger zerolog.Logger, result *CopyResult, name string, copied bool, err error) {
	switch {
	case err != nil:
		result.Failed++
		logger.Error().Err(err).Str("file", name).Msg("copy failed")
	case copied:
		result.Copied++
		logger.Info().Str("file", name).Msg("copied")
	default:
		result.Skipped++
		logger.Info().Str("file", name).Msg("already exists, skipped")
	}
}
