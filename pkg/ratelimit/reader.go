// Package ratelimit throttles artifact reads so that hashing large binaries
// does not saturate shared disks during batch runs.
package ratelimit

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"
)

// minBucket keeps the burst size large enough for smooth reads
const minBucket = 64 * 1024

// Limiter is a token bucket shared by every reader it wraps
type Limiter struct {
	bytesPerSecond int64
	bucketSize     int64

	mu         sync.Mutex
	tokens     int64
	lastUpdate time.Time
}

// NewLimiter returns a limiter for the given rate, or nil for no limit
func NewLimiter(bytesPerSecond int64) *Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}
	bucket := max(bytesPerSecond, minBucket)
	return &Limiter{
		bytesPerSecond: bytesPerSecond,
		bucketSize:     bucket,
		tokens:         bucket,
		lastUpdate:     time.Now(),
	}
}

// Rate returns the configured bytes per second
func (l *Limiter) Rate() int64 {
	if l == nil {
		return 0
	}
	return l.bytesPerSecond
}

// Wait blocks until n tokens are available and takes them. It returns
// early with ctx.Err() when ctx is cancelled.
func (l *Limiter) Wait(ctx context.Context, n int64) error {
	n = min(n, l.bucketSize)
	for {
		l.mu.Lock()
		l.refill(time.Now())
		if l.tokens >= n {
			l.tokens -= n
			l.mu.Unlock()
			return nil
		}
		deficit := n - l.tokens
		l.mu.Unlock()

		wait := time.Duration(float64(deficit) / float64(l.bytesPerSecond) * float64(time.Second))
		wait = max(wait, time.Millisecond)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// giveBack returns tokens reserved for bytes that were never read
func (l *Limiter) giveBack(n int64) {
	if n <= 0 {
		return
	}
	l.mu.Lock()
	l.tokens = min(l.tokens+n, l.bucketSize)
	l.mu.Unlock()
}

// refill must be called with mu held
func (l *Limiter) refill(now time.Time) {
	add := int64(now.Sub(l.lastUpdate).Seconds() * float64(l.bytesPerSecond))
	if add > 0 {
		l.tokens = min(l.tokens+add, l.bucketSize)
		l.lastUpdate = now
	}
}

// Reader throttles an io.ReadCloser through a Limiter
type Reader struct {
	ctx     context.Context
	rc      io.ReadCloser
	limiter *Limiter
}

// NewReader wraps rc; a nil limiter returns rc unchanged
func NewReader(ctx context.Context, rc io.ReadCloser, limiter *Limiter) io.ReadCloser {
	if limiter == nil {
		return rc
	}
	return &Reader{ctx: ctx, rc: rc, limiter: limiter}
}

// Read reserves tokens for len(p) bytes (capped at the bucket size) before
// reading, and returns any unused reservation afterwards
func (r *Reader) Read(p []byte) (int, error) {
	want := min(int64(len(p)), r.limiter.bucketSize)
	if err := r.limiter.Wait(r.ctx, want); err != nil {
		return 0, err
	}
	n, err := r.rc.Read(p[:want])
	r.limiter.giveBack(want - int64(n))
	return n, err
}

// Close closes the wrapped reader
func (r *Reader) Close() error {
	return r.rc.Close()
}

// Wrapper adapts a limiter to the reader-wrapping hook of the comparator
func Wrapper(limiter *Limiter) func(ctx context.Context, rc io.ReadCloser) io.ReadCloser {
	return func(ctx context.Context, rc io.ReadCloser) io.ReadCloser {
		return NewReader(ctx, rc, limiter)
	}
}

// ParseRate parses a rate such as "512K", "10M" or "1G" (binary units,
// optional trailing "B" or "/s"). Empty or "0" means unlimited.
func ParseRate(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.TrimSuffix(s, "/S")
	s = strings.TrimSuffix(s, "B")
	if s == "" {
		return 0, nil
	}

	mult := int64(1)
	switch s[len(s)-1] {
	case 'K':
		mult = 1 << 10
	case 'M':
		mult = 1 << 20
	case 'G':
		mult = 1 << 30
	}
	if mult > 1 {
		s = s[:len(s)-1]
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("invalid rate %q", s)
	}
	return int64(v * float64(mult)), nil
}
