package compare

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sdejongh/binsight/pkg/logging"
	"github.com/sdejongh/binsight/pkg/models"
	"github.com/sdejongh/binsight/pkg/storage"
	"github.com/sdejongh/binsight/pkg/toolchain"
)

// Thresholds drive the overall assessment flags
type Thresholds struct {
	// SizePercent is the maximum size difference (percent of the original)
	SizePercent float64
	// StringJaccard is the jaccard percentage above which strings are "highly similar"
	StringJaccard float64
	// ByteRatio is the byte-similarity ratio above which binaries are "highly similar"
	ByteRatio float64
}

// DefaultThresholds returns the standard assessment thresholds
func DefaultThresholds() Thresholds {
	return Thresholds{
		SizePercent:   10,
		StringJaccard: 70,
		ByteRatio:     0.7,
	}
}

// Options configures a Comparator
type Options struct {
	Algorithm   models.DigestAlgorithm
	PrefixBytes int
	BufferSize  int
	Thresholds  Thresholds
}

// Comparator produces a ComparisonReport from an original artifact and a
// reconstructed candidate
type Comparator struct {
	backend   storage.Backend
	extractor toolchain.StringExtractor
	digester  *Digester
	opts      Options
	logger    logging.Logger
}

// NewComparator creates a comparator reading artifacts through backend and
// extracting strings with extractor
func NewComparator(backend storage.Backend, extractor toolchain.StringExtractor, opts Options, logger logging.Logger) (*Comparator, error) {
	if opts.PrefixBytes <= 0 {
		opts.PrefixBytes = DefaultPrefixBytes
	}
	if opts.Thresholds == (Thresholds{}) {
		opts.Thresholds = DefaultThresholds()
	}
	if logger == nil {
		logger = logging.NewNullLogger()
	}

	digester, err := NewDigester(opts.Algorithm, opts.BufferSize)
	if err != nil {
		return nil, err
	}
	opts.Algorithm = digester.Algorithm()

	return &Comparator{
		backend:   backend,
		extractor: extractor,
		digester:  digester,
		opts:      opts,
		logger:    logger,
	}, nil
}

// SetReaderWrapper wraps every digest read (e.g., for rate limiting)
func (c *Comparator) SetReaderWrapper(wrapper ReaderWrapper) {
	c.digester.SetReaderWrapper(wrapper)
}

// SetProgressCallback reports hashing progress
func (c *Comparator) SetProgressCallback(callback func(path string, current, total int64)) {
	c.digester.SetProgressCallback(callback)
}

// Compare builds the similarity report. Any I/O failure on either artifact
// returns a *models.ComparisonError naming the path; string extraction
// failures degrade to empty sets.
func (c *Comparator) Compare(ctx context.Context, originalPath, candidatePath string) (*models.ComparisonReport, error) {
	start := time.Now()
	log := c.logger.WithFields(logging.Fields{
		"original":  originalPath,
		"candidate": candidatePath,
	})

	// Stage 1: sizes from metadata only
	original, err := c.stat(ctx, originalPath, models.RoleOriginal)
	if err != nil {
		return nil, err
	}
	candidate, err := c.stat(ctx, candidatePath, models.RoleCandidate)
	if err != nil {
		return nil, err
	}

	report := &models.ComparisonReport{
		ID:         uuid.New().String(),
		Original:   originalPath,
		Candidate:  candidatePath,
		ComparedAt: start,
		Size:       sizeStats(original.Size, candidate.Size),
	}

	// Stage 2: full-content digests, both files in parallel
	var originalHash, candidateHash string
	var originalErr, candidateErr error
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		originalHash, originalErr = c.digester.Sum(ctx, c.backend, originalPath, original.Size)
	}()
	go func() {
		defer wg.Done()
		candidateHash, candidateErr = c.digester.Sum(ctx, c.backend, candidatePath, candidate.Size)
	}()
	wg.Wait()

	if originalErr != nil {
		return nil, &models.ComparisonError{Path: originalPath, Stage: models.StageHash, Err: originalErr}
	}
	if candidateErr != nil {
		return nil, &models.ComparisonError{Path: candidatePath, Stage: models.StageHash, Err: candidateErr}
	}

	report.Hash = models.HashStats{
		Algorithm:    c.digester.Algorithm(),
		HashOriginal: originalHash,
		HashOther:    candidateHash,
		HashMatch:    originalHash == candidateHash,
	}

	// Stage 3: string sets, never fatal
	originalStrings := toolchain.ExtractSet(ctx, c.extractor, originalPath, log)
	candidateStrings := toolchain.ExtractSet(ctx, c.extractor, candidatePath, log)
	report.Strings = StringSetStats(originalStrings, candidateStrings)

	// Stage 4: byte similarity over bounded prefixes
	originalPrefix, err := c.backend.ReadPrefix(ctx, originalPath, c.opts.PrefixBytes)
	if err != nil {
		return nil, &models.ComparisonError{Path: originalPath, Stage: models.StageRead, Err: err}
	}
	candidatePrefix, err := c.backend.ReadPrefix(ctx, candidatePath, c.opts.PrefixBytes)
	if err != nil {
		return nil, &models.ComparisonError{Path: candidatePath, Stage: models.StageRead, Err: err}
	}
	report.ByteSimilarity = models.ByteSimilarity{
		Ratio:       ByteSimilarity(originalPrefix, candidatePrefix),
		PrefixBytes: c.opts.PrefixBytes,
	}

	// Stage 5: overall flags
	report.Overall = assess(report, c.opts.Thresholds)

	log.Debug(ctx, "comparison complete", logging.Fields{
		"hash_match":      report.Hash.HashMatch,
		"jaccard_percent": report.Strings.JaccardIndexPercent,
		"byte_similarity": report.ByteSimilarity.Ratio,
		"duration_ms":     time.Since(start).Milliseconds(),
	})

	return report, nil
}

func (c *Comparator) stat(ctx context.Context, path string, role models.ArtifactRole) (*models.Artifact, error) {
	info, err := c.backend.Stat(ctx, path)
	if err != nil {
		return nil, &models.ComparisonError{Path: path, Stage: models.StageSize, Err: err}
	}
	if !info.IsRegular {
		return nil, &models.ComparisonError{
			Path:  path,
			Stage: models.StageSize,
			Err:   fmt.Errorf("not a regular file"),
		}
	}
	return &models.Artifact{Path: path, Size: info.Size, ModTime: info.ModTime, Role: role}, nil
}

func sizeStats(original, other int64) models.SizeStats {
	diff := original - other
	if diff < 0 {
		diff = -diff
	}
	stats := models.SizeStats{
		SizeOriginal: original,
		SizeOther:    other,
		SizeDiff:     diff,
	}
	if original > 0 {
		pct := float64(diff) / float64(original) * 100
		stats.SizeDiffPercent = &pct
	}
	return stats
}

func assess(report *models.ComparisonReport, t Thresholds) models.Overall {
	closely := report.Size.SizeOther == 0
	if report.Size.SizeDiffPercent != nil {
		closely = *report.Size.SizeDiffPercent < t.SizePercent
	}

	return models.Overall{
		HashMatch:            report.Hash.HashMatch,
		SizeCloselyMatches:   closely,
		HighStringSimilarity: report.Strings.JaccardIndexPercent > t.StringJaccard,
		HighBinarySimilarity: report.ByteSimilarity.Ratio > t.ByteRatio,
	}
}
