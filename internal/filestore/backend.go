// Package filestore stores uploaded and generated files on the local disk or
// in S3-compatible object storage.
package filestore

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
)

var (
	ErrNotFound    = errors.New("file not found")
	ErrInvalidName = errors.New("invalid file name")
)

// Kind selects the prefix and access rules of a store.
type Kind string

const (
	// KindMedia holds user uploads. Public; names are never overwritten.
	KindMedia Kind = "media"
	// KindStatic holds build assets. Public; names are overwritten.
	KindStatic Kind = "static"
	// KindPrivate is only reachable through expiring signed URLs.
	KindPrivate Kind = "private"
)

// Overwrite reports whether saving an existing name replaces it.
func (k Kind) Overwrite() bool {
	return k == KindStatic
}

func (k Kind) Public() bool {
	return k != KindPrivate
}

func (k Kind) Valid() bool {
	return k == KindMedia || k == KindStatic || k == KindPrivate
}

// Backend is implemented by every storage provider. Names are slash
// separated and relative to the kind's prefix.
type Backend interface {
	// Save stores r under name and returns the name actually used, which
	// differs from name when the kind does not overwrite and name exists.
	Save(ctx context.Context, name string, r io.Reader) (string, error)
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	Delete(ctx context.Context, name string) error
	Exists(ctx context.Context, name string) (bool, error)
	Size(ctx context.Context, name string) (int64, error)
	// URL returns a URL clients can fetch the file from. Private files get
	// a signed URL where the backend supports it.
	URL(ctx context.Context, name string) (string, error)
}

// Walker is implemented by backends that can enumerate their files.
type Walker interface {
	Walk(ctx context.Context, fn func(name string) error) error
}

// cleanName normalizes a relative object name. Names are rooted before
// cleaning so ".." segments cannot climb out of the store.
func cleanName(name string) (string, error) {
	name = strings.ReplaceAll(strings.TrimSpace(name), "\\", "/")
	cleaned := path.Clean("/" + name)[1:]
	if cleaned == "" {
		return "", ErrInvalidName
	}
	return cleaned, nil
}

// availableName returns name if it is free, otherwise name with a random
// suffix before the extension.
func availableName(ctx context.Context, b Backend, name string) (string, error) {
	candidate := name
	for i := 0; i < 100; i++ {
		exists, err := b.Exists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
		ext := path.Ext(name)
		candidate = strings.TrimSuffix(name, ext) + "_" + randomSuffix(7) + ext
	}
	return "", errors.New("no available file name for " + name)
}
