package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFileStore(t *testing.T) {
	s, err := NewFileStore(filepath.Join(t.TempDir(), "sessions"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	testStore(t, s)
}

func TestFileStore_FileFormat(t *testing.T) {
	s, _ := NewFileStore(t.TempDir())
	if err := s.Save(context.Background(), "abc", Log{}.WithExchange("hello", "hi there")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	data, err := os.ReadFile(s.Path("abc"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	want := `[{"role":"user","content":"hello"},{"role":"assistant","content":"hi there"}]`
	if string(data) != want {
		t.Errorf("file = %s, want %s", data, want)
	}

	entries, _ := os.ReadDir(filepath.Dir(s.Path("abc")))
	if len(entries) != 1 {
		t.Errorf("directory holds %d entries, want only abc.json", len(entries))
	}
}

func TestFileStore_Corrupt(t *testing.T) {
	s, _ := NewFileStore(t.TempDir())
	if err := os.WriteFile(s.Path("broken"), []byte("[{"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Load(context.Background(), "broken"); !errors.Is(err, ErrCorrupt) {
		t.Errorf("Load = %v, want ErrCorrupt", err)
	}
}

func TestFileStore_RejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	s, _ := NewFileStore(filepath.Join(dir, "sessions"))
	ctx := context.Background()

	if err := s.Save(ctx, "../escape", Log{}); !errors.Is(err, ErrInvalidID) {
		t.Errorf("Save = %v, want ErrInvalidID", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "escape.json")); !errors.Is(err, os.ErrNotExist) {
		t.Error("file written outside the store directory")
	}
	if _, err := s.Load(ctx, "../escape"); !errors.Is(err, ErrInvalidID) {
		t.Errorf("Load = %v, want ErrInvalidID", err)
	}
}

func TestFileStore_PingMissingDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "gone")
	s, _ := NewFileStore(dir)
	_ = os.RemoveAll(dir)
	if err := s.Ping(context.Background()); err == nil {
		t.Error("expected Ping error for removed directory")
	}
	if _, err := NewFileStore(""); err == nil {
		t.Error("expected error for empty directory")
	}
}
