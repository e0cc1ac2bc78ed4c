package compare

import (
	"github.com/sdejongh/binsight/pkg/models"
)

// StringSetStats compares the printable-string sets of two artifacts.
// Every ratio has a defined value for empty inputs:
//   - jaccard is 0 when the union is empty
//   - overlap is 0 when either set is empty
//   - coverage is 100 when both sets are empty, 0 when only the original is
func StringSetStats(original, candidate models.StringSet) models.StringStats {
	common := 0
	for tok := range original {
		if candidate.Contains(tok) {
			common++
		}
	}

	stats := models.StringStats{
		OriginalCount:   len(original),
		CandidateCount:  len(candidate),
		Common:          common,
		UniqueOriginal:  len(original) - common,
		UniqueCandidate: len(candidate) - common,
	}

	union := len(original) + len(candidate) - common
	if union > 0 {
		stats.JaccardIndexPercent = percent(common, union)
	}

	smaller := min(len(original), len(candidate))
	if smaller > 0 {
		stats.OverlapCoefficientPercent = percent(common, smaller)
	}

	switch {
	case len(original) > 0:
		stats.CoverageOfOriginalPercent = percent(common, len(original))
	case len(candidate) == 0:
		stats.CoverageOfOriginalPercent = 100
	}

	return stats
}

func percent(part, whole int) float64 {
	return float64(part) / float64(whole) * 100
}
