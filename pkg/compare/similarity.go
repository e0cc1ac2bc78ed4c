package compare

import (
	"bytes"

	"github.com/pmezard/go-difflib/difflib"
)

// DefaultPrefixBytes bounds the byte-similarity input
const DefaultPrefixBytes = 10000

// ByteSimilarity returns the Ratcliff/Obershelp matching-blocks ratio of
// two byte slices, 2*M/(len(a)+len(b)). Callers bound the cost by passing
// prefixes.
func ByteSimilarity(a, b []byte) float64 {
	// The matcher's popularity heuristic can junk every byte of long,
	// low-entropy inputs, so equality is decided up front.
	if bytes.Equal(a, b) {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	matcher := difflib.NewMatcher(byteTokens(a), byteTokens(b))
	return matcher.Ratio()
}

// byteTable interns one string per byte value
var byteTable = func() [256]string {
	var t [256]string
	for i := range t {
		t[i] = string([]byte{byte(i)})
	}
	return t
}()

func byteTokens(data []byte) []string {
	tokens := make([]string, len(data))
	for i, b := range data {
		tokens[i] = byteTable[b]
	}
	return tokens
}
