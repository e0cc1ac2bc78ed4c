package toolchain

import (
	"strings"

	"github.com/sdejongh/binsight/pkg/models"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// DiffSources computes line-level diff statistics between the original
// source and the decompiled one
func DiffSources(original, decompiled string) models.SourceDiff {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(original, decompiled)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var stats models.SourceDiff
	for _, d := range diffs {
		n := countLines(d.Text)
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			stats.LinesEqual += n
		case diffmatchpatch.DiffInsert:
			stats.LinesInserted += n
		case diffmatchpatch.DiffDelete:
			stats.LinesDeleted += n
		}
	}

	total := 2*stats.LinesEqual + stats.LinesInserted + stats.LinesDeleted
	if total == 0 {
		stats.Similarity = 1.0
	} else {
		stats.Similarity = float64(2*stats.LinesEqual) / float64(total)
	}
	stats.Identical = stats.LinesInserted == 0 && stats.LinesDeleted == 0
	return stats
}

func countLines(text string) int {
	if text == "" {
		return 0
	}
	n := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}
