package storage

import (
	"context"
	"io"
	"time"
)

// FileInfo represents metadata about an artifact on disk
type FileInfo struct {
	Path        string
	Size        int64
	ModTime     time.Time
	IsDir       bool
	IsRegular   bool
	Permissions uint32
}

// Backend defines the interface for artifact storage operations.
// The comparator, the toolchain and the batch pipeline all go through it.
type Backend interface {
	// List returns the regular files in dir whose base name matches pattern
	// (filepath.Match syntax, empty matches everything). Not recursive.
	List(ctx context.Context, dir, pattern string) ([]FileInfo, error)

	// Read opens a file for streaming reads
	Read(ctx context.Context, path string) (io.ReadCloser, error)

	// ReadPrefix returns at most n bytes from the start of a file
	ReadPrefix(ctx context.Context, path string, n int) ([]byte, error)

	// Write creates or overwrites a file with the given content and
	// returns the number of bytes written
	Write(ctx context.Context, path string, reader io.Reader) (int64, error)

	// Delete removes a file or directory
	Delete(ctx context.Context, path string) error

	// Exists checks if a file or directory exists
	Exists(ctx context.Context, path string) (bool, error)

	// Stat returns file metadata without reading content
	Stat(ctx context.Context, path string) (*FileInfo, error)

	// MkdirAll creates a directory and all necessary parents
	MkdirAll(ctx context.Context, path string) error

	// Close releases any resources held by the backend
	Close() error
}
