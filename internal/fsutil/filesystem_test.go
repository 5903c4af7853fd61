package fsutil

import (
	"errors"
	"io/fs"
	"path/filepath"
	"testing"
)

func TestMemoryFileSystem(t *testing.T) {
	m := NewMemoryFileSystem()

	if _, err := m.ReadFile("/a/b.json"); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("ReadFile on missing file: got %v, want ErrNotExist", err)
	}
	if err := m.WriteFile("/a/b.json", []byte("{}"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	data, err := m.ReadFile("/a/./b.json")
	if err != nil || string(data) != "{}" {
		t.Fatalf("ReadFile = %q, %v", data, err)
	}
	info, err := m.Stat("/a/b.json")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size() != 2 || info.IsDir() || info.Name() != "b.json" {
		t.Errorf("Stat = %+v", info)
	}

	if err := m.MkdirAll("/out/plots", 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	for _, dir := range []string{"/out/plots", "/out"} {
		info, err := m.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Errorf("Stat(%s) = %v, %v; want directory", dir, info, err)
		}
	}

	_ = m.WriteFile("/out/plots/x.png", nil, 0o644)
	got := m.Files("/out")
	if len(got) != 1 || got[0] != "/out/plots/x.png" {
		t.Errorf("Files(/out) = %v", got)
	}
}

func TestOSFileSystem(t *testing.T) {
	var fsys FileSystem = OSFileSystem{}
	dir := filepath.Join(t.TempDir(), "nested", "dir")
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	path := filepath.Join(dir, "f.txt")
	if err := fsys.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	data, err := fsys.ReadFile(path)
	if err != nil || string(data) != "hello" {
		t.Fatalf("ReadFile = %q, %v", data, err)
	}
	info, err := fsys.Stat(path)
	if err != nil || info.Size() != 5 {
		t.Fatalf("Stat = %v, %v", info, err)
	}
}
