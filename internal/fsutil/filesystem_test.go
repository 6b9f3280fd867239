package fsutil

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestOSFileSystem_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	osfs := OSFileSystem{}

	path := filepath.Join(dir, "runs", "model.json")
	if err := WriteFileAtomic(osfs, path, []byte(`{"model_version":"a"}`), 0644); err != nil {
		t.Fatalf("WriteFileAtomic failed: %v", err)
	}
	if !osfs.Exists(path) {
		t.Fatal("expected artifact to exist")
	}
	data, err := osfs.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != `{"model_version":"a"}` {
		t.Errorf("got %q", data)
	}

	entries, err := os.ReadDir(filepath.Join(dir, "runs"))
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected no temp files left behind, got %d entries", len(entries))
	}

	w, err := osfs.Create(filepath.Join(dir, "features.csv"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	io.WriteString(w, "a,b\n")
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	info, err := osfs.Stat(filepath.Join(dir, "features.csv"))
	if err != nil || info.Size() != 4 {
		t.Errorf("Stat = %v, %v", info, err)
	}
	if err := osfs.Remove(filepath.Join(dir, "features.csv")); err != nil {
		t.Errorf("Remove failed: %v", err)
	}
}

func TestMemoryFileSystem_WriteFileAtomic(t *testing.T) {
	mfs := NewMemoryFileSystem()

	if err := WriteFileAtomic(mfs, "models/model.json", []byte("v1"), 0644); err != nil {
		t.Fatalf("WriteFileAtomic failed: %v", err)
	}
	if err := WriteFileAtomic(mfs, "models/model.json", []byte("v2"), 0644); err != nil {
		t.Fatalf("WriteFileAtomic failed: %v", err)
	}

	if got := mfs.Files(); len(got) != 1 || got[0] != "models/model.json" {
		t.Errorf("Files() = %v, want only the artifact", got)
	}
	data, _ := mfs.ReadFile("models/model.json")
	if string(data) != "v2" {
		t.Errorf("got %q, want v2", data)
	}
	if !mfs.Exists("models") {
		t.Error("expected parent directory to exist")
	}
}

func TestMemoryFileSystem_WriteFileAtomic_ParentIsFile(t *testing.T) {
	mfs := NewMemoryFileSystem()
	mfs.WriteFile("models", []byte("oops"), 0644)

	err := WriteFileAtomic(mfs, "models/model.json", []byte("v1"), 0644)
	if !errors.Is(err, fs.ErrExist) {
		t.Errorf("expected ErrExist, got %v", err)
	}
}

func TestMemoryFileSystem_CreateBuffersUntilClose(t *testing.T) {
	mfs := NewMemoryFileSystem()

	w, err := mfs.Create("report/features.csv")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	io.WriteString(w, "mean_x,label\n")
	if data, _ := mfs.ReadFile("report/features.csv"); len(data) != 0 {
		t.Errorf("expected empty file before Close, got %q", data)
	}
	io.WriteString(w, "0.1,1\n")
	w.Close()

	data, err := mfs.ReadFile("report/features.csv")
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "mean_x,label\n0.1,1\n" {
		t.Errorf("got %q", data)
	}
}

func TestMemoryFileSystem_ReadFileReturnsCopy(t *testing.T) {
	mfs := NewMemoryFileSystem()
	src := []byte("abc")
	mfs.WriteFile("f", src, 0644)
	src[0] = 'x'

	data, _ := mfs.ReadFile("f")
	data[1] = 'y'
	again, _ := mfs.ReadFile("f")
	if string(again) != "abc" {
		t.Errorf("stored data was mutated: %q", again)
	}
}

func TestMemoryFileSystem_Stat(t *testing.T) {
	mfs := NewMemoryFileSystem()
	mfs.MkdirAll("out/plots", 0755)
	mfs.WriteFile("out/plots/roc.png", []byte("png"), 0600)

	info, err := mfs.Stat("out")
	if err != nil || !info.IsDir() {
		t.Errorf("Stat(out) = %v, %v", info, err)
	}
	info, err = mfs.Stat("out/plots/roc.png")
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Name() != "roc.png" || info.Size() != 3 || info.Mode() != 0600 || info.IsDir() {
		t.Errorf("unexpected info: %+v", info)
	}
	if info.ModTime().IsZero() {
		t.Error("expected a modification time")
	}

	if _, err := mfs.Stat("missing"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}
}

func TestMemoryFileSystem_RenameAndRemove(t *testing.T) {
	mfs := NewMemoryFileSystem()
	mfs.MkdirAll("d", 0755)
	mfs.WriteFile("d/a", []byte("1"), 0644)

	if err := mfs.Rename("d/a", "d/b"); err != nil {
		t.Fatalf("Rename failed: %v", err)
	}
	if mfs.Exists("d/a") || !mfs.Exists("d/b") {
		t.Error("rename did not move the file")
	}
	if err := mfs.Rename("d/a", "d/c"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}

	if err := mfs.Remove("d"); err == nil || !strings.Contains(err.Error(), "not empty") {
		t.Errorf("expected not-empty error, got %v", err)
	}
	if err := mfs.Remove("d/b"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if err := mfs.Remove("d"); err != nil {
		t.Fatalf("Remove dir failed: %v", err)
	}
	if err := mfs.Remove("d"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}
}
