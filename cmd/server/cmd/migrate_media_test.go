package cmd

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/eventhorizon/server/internal/domain/developers"
	"github.com/eventhorizon/server/internal/filestore"
	"github.com/rs/zerolog"
)

func newMediaStore(t *testing.T) *filestore.LocalBackend {
	t.Helper()
	store, err := filestore.NewLocalBackend(t.TempDir(), "/files", filestore.KindMedia)
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func saveFile(t *testing.T, store filestore.Backend, name, content string) {
	t.Helper()
	if _, err := store.Save(context.Background(), name, strings.NewReader(content)); err != nil {
		t.Fatalf("save %s: %v", name, err)
	}
}

func readFile(t *testing.T, store filestore.Backend, name string) string {
	t.Helper()
	r, err := store.Open(context.Background(), name)
	if err != nil {
		t.Fatalf("open %s: %v", name, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestMigrateMediaCopiesAndSkips(t *testing.T) {
	src := newMediaStore(t)
	dst := newMediaStore(t)
	saveFile(t, src, "avatars/u1/me.png", "one")
	saveFile(t, src, "avatars/u2/me.png", "two")
	saveFile(t, src, "avatars/u3/me.png", "three")
	saveFile(t, dst, "avatars/u3/me.png", "already there")

	result, err := migrateMedia(context.Background(), dst, src, filestore.CopyOptions{}, 2, zerolog.Nop())
	if err != nil {
		t.Fatalf("migrateMedia: %v", err)
	}
	if result.Copied != 2 || result.Skipped != 1 || result.Failed != 0 {
		t.Fatalf("unexpected result %+v", result)
	}
	if got := readFile(t, dst, "avatars/u2/me.png"); got != "two" {
		t.Errorf("expected copied content, got %q", got)
	}
	if got := readFile(t, dst, "avatars/u3/me.png"); got != "already there" {
		t.Errorf("existing file was overwritten: %q", got)
	}
	if ok, _ := src.Exists(context.Background(), "avatars/u1/me.png"); !ok {
		t.Error("source should be kept without --delete-source")
	}
}

func TestMigrateMediaDryRun(t *testing.T) {
	src := newMediaStore(t)
	dst := newMediaStore(t)
	saveFile(t, src, "avatars/u1/me.png", "one")

	result, err := migrateMedia(context.Background(), dst, src, filestore.CopyOptions{DryRun: true}, 1, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if result.Copied != 1 {
		t.Errorf("expected one file reported, got %+v", result)
	}
	if ok, _ := dst.Exists(context.Background(), "avatars/u1/me.png"); ok {
		t.Error("dry run must not upload")
	}
}

func TestMigrateMediaDeleteSource(t *testing.T) {
	src := newMediaStore(t)
	dst := newMediaStore(t)
	saveFile(t, src, "avatars/u1/me.png", "one")

	result, err := migrateMedia(context.Background(), dst, src, filestore.CopyOptions{DeleteSource: true}, 4, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if result.Copied != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
	if _, err := os.Stat(filepath.Join(src.Dir(), "avatars", "u1", "me.png")); !os.IsNotExist(err) {
		t.Errorf("expected source file removed, stat err=%v", err)
	}
}

type opaqueStore struct{ filestore.Backend }

func TestMigrateMediaRequiresWalker(t *testing.T) {
	_, err := migrateMedia(context.Background(), newMediaStore(t), opaqueStore{newMediaStore(t)}, filestore.CopyOptions{}, 1, zerolog.Nop())
	if err == nil {
		t.Fatal("expected error for a source that cannot list files")
	}
}

func TestPrintCopyResult(t *testing.T) {
	buf := new(bytes.Buffer)
	printCopyResult(buf, filestore.CopyResult{Copied: 3, Skipped: 1}, true)
	if !strings.Contains(buf.String(), "Would copy: 3") {
		t.Errorf("unexpected output:\n%s", buf.String())
	}
}

func TestPrintKeys(t *testing.T) {
	used := time.Date(2030, 1, 2, 3, 4, 0, 0, time.UTC)
	buf := new(bytes.Buffer)
	err := printKeys(buf, []developers.APIKey{
		{ID: "01K1", Name: "CI", Prefix: "abcd1234", CreatedAt: time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC), LastUsedAt: &used},
	})
	if err != nil {
		t.Fatal(err)
	}
	output := buf.String()
	for _, expected := range []string{"PREFIX", "01K1", "abcd1234", "2030-01-02 03:04", "never"} {
		if !strings.Contains(output, expected) {
			t.Errorf("expected output to contain %q, got:\n%s", expected, output)
		}
	}

	buf.Reset()
	if err := printKeys(buf, nil); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "No API keys found") {
		t.Errorf("unexpected empty output: %s", buf.String())
	}
}

func TestPrintCreatedKeyShowsSecretOnce(t *testing.T) {
	buf := new(bytes.Buffer)
	printCreatedKey(buf, "raw-secret", &developers.APIKey{ID: "01K1", Name: "CI"})
	output := buf.String()
	if !strings.Contains(output, "Key:     raw-secret") {
		t.Errorf("expected key in output, got:\n%s", output)
	}
	if !strings.Contains(output, "Authorization: Token raw-secret") {
		t.Errorf("expected usage example, got:\n%s", output)
	}
}

func TestSuperuserPasswordInput(t *testing.T) {
	t.Setenv("SUPERUSER_PASSWORD", "")

	superuserPassword = "from-flag"
	got, err := superuserPasswordInput(strings.NewReader("ignored\n"))
	superuserPassword = ""
	if err != nil || got != "from-flag" {
		t.Errorf("expected flag password, got %q, %v", got, err)
	}

	got, err = superuserPasswordInput(strings.NewReader("from-stdin\r\n"))
	if err != nil || got != "from-stdin" {
		t.Errorf("expected stdin password, got %q, %v", got, err)
	}

	t.Setenv("SUPERUSER_PASSWORD", "from-env")
	got, err = superuserPasswordInput(strings.NewReader(""))
	if err != nil || got != "from-env" {
		t.Errorf("expected env password, got %q, %v", got, err)
	}

	t.Setenv("SUPERUSER_PASSWORD", "")
	if _, err := superuserPasswordInput(strings.NewReader("")); err == nil {
		t.Error("expected error for empty password")
	}
}
