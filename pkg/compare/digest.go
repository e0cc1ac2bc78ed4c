package compare

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"sync"
	"time"

	"github.com/sdejongh/binsight/pkg/models"
	"github.com/sdejongh/binsight/pkg/storage"
	"github.com/zeebo/blake3"
)

// ReaderWrapper wraps artifact readers (e.g., for rate limiting)
type ReaderWrapper func(ctx context.Context, rc io.ReadCloser) io.ReadCloser

// Digester computes full-content digests of artifacts using streaming reads
type Digester struct {
	algorithm      models.DigestAlgorithm
	bufferSize     int
	bufferPool     *sync.Pool
	progressReport func(path string, current, total int64) // Optional progress callback
	readerWrapper  ReaderWrapper                           // Optional reader wrapper
}

// NewDigester creates a digester for the given algorithm
func NewDigester(algorithm models.DigestAlgorithm, bufferSize int) (*Digester, error) {
	if algorithm == "" {
		algorithm = models.DigestMD5
	}
	if _, err := newHash(algorithm); err != nil {
		return nil, err
	}
	if bufferSize < 4096 {
		bufferSize = 4096
	}
	return &Digester{
		algorithm:  algorithm,
		bufferSize: bufferSize,
		bufferPool: &sync.Pool{
			New: func() interface{} {
				buf := make([]byte, bufferSize)
				return &buf
			},
		},
	}, nil
}

func newHash(algorithm models.DigestAlgorithm) (hash.Hash, error) {
	switch algorithm {
	case models.DigestMD5:
		return md5.New(), nil
	case models.DigestSHA256:
		return sha256.New(), nil
	case models.DigestBLAKE3:
		return blake3.New(), nil
	default:
		return nil, fmt.Errorf("unsupported digest algorithm: %s (use: md5, sha256, blake3)", algorithm)
	}
}

// Algorithm returns the digest algorithm in use
func (d *Digester) Algorithm() models.DigestAlgorithm {
	return d.algorithm
}

// SetProgressCallback sets a callback for progress reporting during hashing
func (d *Digester) SetProgressCallback(callback func(path string, current, total int64)) {
	d.progressReport = callback
}

// SetReaderWrapper sets a function to wrap readers
func (d *Digester) SetReaderWrapper(wrapper ReaderWrapper) {
	d.readerWrapper = wrapper
}

// Sum returns the lowercase hex digest of the whole file
func (d *Digester) Sum(ctx context.Context, backend storage.Backend, path string, fileSize int64) (string, error) {
	reader, err := backend.Read(ctx, path)
	if err != nil {
		return "", err
	}
	if d.readerWrapper != nil {
		reader = d.readerWrapper(ctx, reader)
	}
	defer reader.Close()

	hasher, err := newHash(d.algorithm)
	if err != nil {
		return "", err
	}

	bufPtr := d.bufferPool.Get().(*[]byte)
	defer d.bufferPool.Put(bufPtr)
	buf := *bufPtr

	// Progress reporting with throttling
	const (
		progressReportInterval = 50 * time.Millisecond
		progressReportBytes    = 64 * 1024 // 64KB
	)

	var bytesRead int64
	var lastReported int64
	var lastReportTime time.Time

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		n, err := reader.Read(buf)
		if n > 0 {
			hasher.Write(buf[:n])
			bytesRead += int64(n)

			if d.progressReport != nil {
				shouldReport := bytesRead-lastReported >= progressReportBytes ||
					time.Since(lastReportTime) >= progressReportInterval
				if shouldReport {
					d.progressReport(path, bytesRead, fileSize)
					lastReported = bytesRead
					lastReportTime = time.Now()
				}
			}
		}
		if err == io.EOF {
			if d.progressReport != nil && bytesRead > lastReported {
				d.progressReport(path, bytesRead, fileSize)
			}
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to read file: %w", err)
		}
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}
