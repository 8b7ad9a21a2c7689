package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// LocalBackend stores files under <root>/<kind>. URLs are
// <baseURL>/<kind>/<name>; the HTTP layer serves the public kinds.
type LocalBackend struct {
	dir     string
	baseURL string
	kind    Kind
}

func NewLocalBackend(root, baseURL string, kind Kind) (*LocalBackend, error) {
	dir := filepath.Join(root, string(kind))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory %s: %w", dir, err)
	}
	return &LocalBackend{
		dir:     dir,
		baseURL: strings.TrimRight(baseURL, "/"),
		kind:    kind,
	}, nil
}

// Dir is the directory holding this kind's files.
func (b *LocalBackend) Dir() string {
	return b.dir
}

func (b *LocalBackend) path(name string) (string, string, error) {
	cleaned, err := cleanName(name)
	if err != nil {
		return "", "", err
	}
	return cleaned, filepath.Join(b.dir, filepath.FromSlash(cleaned)), nil
}

func (b *LocalBackend) Save(ctx context.Context, name string, r io.Reader) (string, error) {
	cleaned, _, err := b.path(name)
	if err != nil {
		return "", err
	}
	if !b.kind.Overwrite() {
		if cleaned, err = availableName(ctx, b, cleaned); err != nil {
			return "", err
		}
	}
	_, full, _ := b.path(cleaned)

	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("write %s: %w", cleaned, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("close %s: %w", cleaned, err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("store %s: %w", cleaned, err)
	}
	return cleaned, nil
}

func (b *LocalBackend) Open(_ context.Context, name string) (io.ReadCloser, error) {
	_, full, err := b.path(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return f, err
}

func (b *LocalBackend) Delete(_ context.Context, name string) error {
	_, full, err := b.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", name, err)
	}
	return nil
}

func (b *LocalBackend) Exists(_ context.Context, name string) (bool, error) {
	_, full, err := b.path(name)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(full)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

func (b *LocalBackend) Size(_ context.Context, name string) (int64, error) {
	_, full, err := b.path(name)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (b *LocalBackend) URL(_ context.Context, name string) (string, error) {
	cleaned, err := cleanName(name)
	if err != nil {
		return "", err
	}
	return b.baseURL + "/" + path.Join(string(b.kind), cleaned), nil
}

// Walk calls fn with the name of every stored file. Temporary upload files
// are skipped.
func (b *LocalBackend) Walk(ctx context.Context, fn func(name string) error) error {
	return filepath.WalkDir(b.dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".upload-") {
			return nil
		}
		rel, err := filepath.Rel(b.dir, p)
		if err != nil {
			return err
		}
		return fn(filepath.ToSlash(rel))
	})
}
