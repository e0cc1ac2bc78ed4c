package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

// TestNewLocal tests the Local backend constructor
func TestNewLocal(t *testing.T) {
	t.Run("ValidDirectory", func(t *testing.T) {
		local, err := NewLocal(t.TempDir())
		if err != nil {
			t.Fatalf("NewLocal() error = %v", err)
		}
		if local == nil {
			t.Fatal("NewLocal() returned nil")
		}
		defer local.Close()
	})

	t.Run("NonExistentPath", func(t *testing.T) {
		_, err := NewLocal("/nonexistent/path/that/does/not/exist")
		if err == nil {
			t.Error("NewLocal() should fail for non-existent path")
		}
	})

	t.Run("FileNotDirectory", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "artifact.bin")
		if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
			t.Fatalf("failed to create file: %v", err)
		}

		_, err := NewLocal(path)
		if err == nil {
			t.Error("NewLocal() should fail for file path (not directory)")
		}
	})
}

// TestUnrooted verifies that absolute paths pass through untouched
func TestUnrooted(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "a.bin")
	if err := os.WriteFile(path, []byte("abc"), 0644); err != nil {
		t.Fatalf("failed to write: %v", err)
	}

	local := NewUnrooted()
	info, err := local.Stat(ctx, path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if info.Size != 3 || !info.IsRegular {
		t.Errorf("Stat() = %+v, want size 3 regular file", info)
	}
}

// TestLocalList tests the List method
func TestLocalList(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	for _, name := range []string{"b.dot", "a.dot", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(name), 0644); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.dot"), 0755); err != nil {
		t.Fatalf("failed to mkdir: %v", err)
	}

	local, err := NewLocal(dir)
	if err != nil {
		t.Fatalf("NewLocal() error = %v", err)
	}

	t.Run("Pattern", func(t *testing.T) {
		files, err := local.List(ctx, ".", "*.dot")
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(files) != 2 {
			t.Fatalf("List() returned %d files, want 2", len(files))
		}
		if filepath.Base(files[0].Path) != "a.dot" || filepath.Base(files[1].Path) != "b.dot" {
			t.Errorf("List() not sorted: %s, %s", files[0].Path, files[1].Path)
		}
	})

	t.Run("AllFiles", func(t *testing.T) {
		files, err := local.List(ctx, ".", "")
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(files) != 3 {
			t.Errorf("List() returned %d files, want 3", len(files))
		}
	})

	t.Run("MissingDir", func(t *testing.T) {
		if _, err := local.List(ctx, "missing", ""); err == nil {
			t.Error("List() should fail for missing directory")
		}
	})
}

// TestLocalRead tests the Read and ReadPrefix methods
func TestLocalRead(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	content := []byte("Hello, binsight!")
	if err := os.WriteFile(filepath.Join(dir, "test.bin"), content, 0644); err != nil {
		t.Fatalf("failed to write: %v", err)
	}

	local, err := NewLocal(dir)
	if err != nil {
		t.Fatalf("NewLocal() error = %v", err)
	}

	t.Run("Read", func(t *testing.T) {
		reader, err := local.Read(ctx, "test.bin")
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		defer reader.Close()

		data, err := io.ReadAll(reader)
		if err != nil {
			t.Fatalf("ReadAll() error = %v", err)
		}
		if !bytes.Equal(data, content) {
			t.Errorf("Read() = %q, want %q", data, content)
		}
	})

	t.Run("ReadMissing", func(t *testing.T) {
		_, err := local.Read(ctx, "missing.bin")
		if !errors.Is(err, fs.ErrNotExist) {
			t.Errorf("Read() error = %v, want fs.ErrNotExist", err)
		}
	})

	tests := []struct {
		name string
		n    int
		want []byte
	}{
		{"Shorter", 5, content[:5]},
		{"Exact", len(content), content},
		{"Longer", 1000, content},
		{"Zero", 0, []byte{}},
	}
	for _, tt := range tests {
		t.Run("Prefix"+tt.name, func(t *testing.T) {
			got, err := local.ReadPrefix(ctx, "test.bin", tt.n)
			if err != nil {
				t.Fatalf("ReadPrefix() error = %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("ReadPrefix(%d) = %q, want %q", tt.n, got, tt.want)
			}
		})
	}
}

// TestLocalWrite tests the Write method
func TestLocalWrite(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	local, err := NewLocal(dir)
	if err != nil {
		t.Fatalf("NewLocal() error = %v", err)
	}

	content := []byte("int main(void) { return 0; }\n")
	n, err := local.Write(ctx, "nested/out/main.c", bytes.NewReader(content))
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if n != int64(len(content)) {
		t.Errorf("Write() = %d bytes, want %d", n, len(content))
	}

	got, err := os.ReadFile(filepath.Join(dir, "nested", "out", "main.c"))
	if err != nil {
		t.Fatalf("failed to read back: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("content = %q, want %q", got, content)
	}
}

// TestLocalDeleteExists tests Delete and Exists together
func TestLocalDeleteExists(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	local, err := NewLocal(dir)
	if err != nil {
		t.Fatalf("NewLocal() error = %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "x.cpg.bin"), []byte("cpg"), 0644); err != nil {
		t.Fatalf("failed to write: %v", err)
	}

	exists, err := local.Exists(ctx, "x.cpg.bin")
	if err != nil || !exists {
		t.Fatalf("Exists() = %v, %v; want true, nil", exists, err)
	}

	if err := local.Delete(ctx, "x.cpg.bin"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	exists, err = local.Exists(ctx, "x.cpg.bin")
	if err != nil || exists {
		t.Errorf("Exists() after delete = %v, %v; want false, nil", exists, err)
	}

	// Deleting something missing is not an error
	if err := local.Delete(ctx, "x.cpg.bin"); err != nil {
		t.Errorf("Delete() of missing file error = %v", err)
	}
}

// TestLocalMkdirAll tests the MkdirAll method
func TestLocalMkdirAll(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	local, err := NewLocal(dir)
	if err != nil {
		t.Fatalf("NewLocal() error = %v", err)
	}

	if err := local.MkdirAll(ctx, "a/b/c"); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}

	info, err := local.Stat(ctx, "a/b/c")
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if !info.IsDir {
		t.Error("Stat() should report a directory")
	}
}

// TestBackendInterface verifies Local implements Backend
func TestBackendInterface(t *testing.T) {
	var _ Backend = (*Local)(nil)
}
