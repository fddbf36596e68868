package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/kioku/internal/deck"
)

type fakeSyncer struct {
	mu       sync.Mutex
	imported []string
	removed  []string
	fail     bool
}

func (s *fakeSyncer) ImportFile(ctx context.Context, path string, allowedExts []string) (*deck.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return nil, errors.New("parse failed")
	}
	s.imported = append(s.imported, path)
	return &deck.Result{Added: 1}, nil
}

func (s *fakeSyncer) RemoveFile(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = append(s.removed, path)
	return nil
}

func (s *fakeSyncer) snapshot() (imported, removed []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.imported...), append([]string(nil), s.removed...)
}

func hasSuffix(paths []string, suffix string) bool {
	for _, p := range paths {
		if strings.HasSuffix(p, suffix) {
			return true
		}
	}
	return false
}

func TestWatcher_AddRemoveDirectories(t *testing.T) {
	dir := t.TempDir()
	w := NewWatcher(&fakeSyncer{}, nil, []string{".txt"}, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := w.AddDirectory(dir, false); err != nil {
		t.Fatal(err)
	}
	dirs := w.Directories()
	if len(dirs) != 1 || filepath.Clean(dirs[0]) != filepath.Clean(dir) {
		t.Errorf("Directories() = %v", dirs)
	}
	if err := w.AddDirectory(dir, false); err != nil {
		t.Fatal(err)
	}
	if len(w.Directories()) != 1 {
		t.Errorf("adding the same directory twice should be a no-op: %v", w.Directories())
	}

	if err := w.RemoveDirectory(dir); err != nil {
		t.Fatal(err)
	}
	if len(w.Directories()) != 0 {
		t.Errorf("after remove: %v", w.Directories())
	}
}

func TestWatcher_DebounceAndExtensionFilter(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	if err := mkdirAll(sub); err != nil {
		t.Fatal(err)
	}

	syncer := &fakeSyncer{}
	w := NewWatcher(syncer, []string{dir}, []string{".txt"}, true, WithDebounce(100*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	fPath := filepath.Join(sub, "f.txt")
	for i := 0; i < 3; i++ {
		if err := writeFile(fPath, strings.Repeat("x = y\n", i+1)); err != nil {
			t.Fatal(err)
		}
	}
	if err := writeFile(filepath.Join(sub, "ignored.xyz"), "x"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(500 * time.Millisecond)

	imported, _ := syncer.snapshot()
	if len(imported) != 1 || !strings.HasSuffix(imported[0], "f.txt") {
		t.Errorf("expected one debounced import of f.txt, got %v", imported)
	}
	if st := w.Stats(); st.Imported != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestWatcher_RemoveDeletesDeck(t *testing.T) {
	dir := t.TempDir()
	fPath := filepath.Join(dir, "deck.txt")
	if err := writeFile(fPath, "a = b"); err != nil {
		t.Fatal(err)
	}

	syncer := &fakeSyncer{}
	w := NewWatcher(syncer, []string{dir}, []string{".txt"}, true, WithDebounce(50*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := os.Remove(fPath); err != nil {
		t.Fatal(err)
	}
	time.Sleep(300 * time.Millisecond)

	_, removed := syncer.snapshot()
	if !hasSuffix(removed, "deck.txt") {
		t.Errorf("expected deck.txt to be removed, got %v", removed)
	}
}

func TestWatcher_FailedImportIsCounted(t *testing.T) {
	dir := t.TempDir()
	if err := writeFile(filepath.Join(dir, "bad.txt"), "x"); err != nil {
		t.Fatal(err)
	}
	w := NewWatcher(&fakeSyncer{fail: true}, []string{dir}, []string{".txt"}, true)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	w.SyncExistingFiles()
	if st := w.Stats(); st.Failed != 1 || st.Imported != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestMatchExtension(t *testing.T) {
	tests := []struct {
		path       string
		extensions []string
		want       bool
	}{
		{"/a/b.txt", []string{".txt"}, true},
		{"/a/b.TXT", []string{".txt"}, true},
		{"/a/b.yaml", []string{"yaml"}, true},
		{"/a/b.md", []string{".txt"}, false},
		{"/a/b", nil, true},
		{"/a/b", []string{}, true},
	}
	for _, tt := range tests {
		got := matchExtension(tt.path, tt.extensions)
		if got != tt.want {
			t.Errorf("matchExtension(%q, %v) = %v, want %v", tt.path, tt.extensions, got, tt.want)
		}
	}
}

func TestInDir(t *testing.T) {
	tests := []struct {
		dir  string
		path string
		want bool
	}{
		{"/tmp/a", "/tmp/a", true},
		{"/tmp/a", "/tmp/a/b.txt", true},
		{"/tmp/a", "/tmp/b", false},
		{"/tmp/a", "/tmp/a/../b", false},
	}
	for _, tt := range tests {
		got := inDir(tt.dir, tt.path)
		if got != tt.want {
			t.Errorf("inDir(%q, %q) = %v, want %v", tt.dir, tt.path, got, tt.want)
		}
	}
}

func TestWatcher_SyncExistingFiles_importsMatchingFiles(t *testing.T) {
	dir := t.TempDir()
	if err := writeFile(filepath.Join(dir, "a.txt"), "hello"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(dir, "ignore.xyz"), "x"); err != nil {
		t.Fatal(err)
	}

	syncer := &fakeSyncer{}
	w := NewWatcher(syncer, []string{dir}, []string{".txt"}, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	w.SyncExistingFiles()

	imported, _ := syncer.snapshot()
	if len(imported) != 1 || !strings.HasSuffix(imported[0], "a.txt") {
		t.Errorf("expected one imported file a.txt, got %v", imported)
	}
}

func TestWatcher_Start_createsMissingRootDirectory(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, "watch", "me")

	w := NewWatcher(&fakeSyncer{}, []string{root}, []string{".txt"}, true)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if _, err := os.Stat(root); err != nil {
		t.Errorf("root directory should exist after Start: %v", err)
	}
}

func TestWatcher_HandleNewDirectory_importsNestedDecks(t *testing.T) {
	dir := t.TempDir()

	syncer := &fakeSyncer{}
	w := NewWatcher(syncer, []string{dir}, []string{".txt", ".md"}, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	nested := filepath.Join(dir, "level1", "level2")
	if err := mkdirAll(nested); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(nested, "deep.txt"), "deep = tief"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(dir, "level1", "notes.md"), "a - b"); err != nil {
		t.Fatal(err)
	}
	if err := writeFile(filepath.Join(nested, "ignore.xyz"), "skip"); err != nil {
		t.Fatal(err)
	}

	time.Sleep(800 * time.Millisecond)

	imported, _ := syncer.snapshot()
	if !hasSuffix(imported, "deep.txt") || !hasSuffix(imported, "notes.md") {
		t.Errorf("expected deep.txt and notes.md to be imported, got %v", imported)
	}
	if hasSuffix(imported, "ignore.xyz") {
		t.Error("ignore.xyz should not be imported")
	}
}

func mkdirAll(path string) error {
	return os.MkdirAll(path, 0755)
}

func writeFile(path string, content string) error {
	return os.WriteFile(path, []byte(content), 0600)
}
