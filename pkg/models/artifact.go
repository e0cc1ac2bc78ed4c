package models

import (
	"time"
)

// Artifact is a binary file under comparison. It is read once per
// comparison and never modified.
type Artifact struct {
	// Path identifies the artifact on disk
	Path string

	// Size in bytes, taken from filesystem metadata
	Size int64

	// ModTime is the last modification time
	ModTime time.Time

	// Role tells whether this is the original or the rebuilt candidate
	Role ArtifactRole
}

// ArtifactRole distinguishes the two sides of a comparison
type ArtifactRole string

const (
	// RoleOriginal is the binary the user asked to reverse
	RoleOriginal ArtifactRole = "original"
	// RoleCandidate is the binary rebuilt from decompiled source
	RoleCandidate ArtifactRole = "candidate"
)

// StringSet is the set of printable tokens extracted from an artifact.
// Order is irrelevant and duplicates collapse.
type StringSet map[string]struct{}

// NewStringSet builds a set from extracted tokens
func NewStringSet(tokens []string) StringSet {
	set := make(StringSet, len(tokens))
	for _, tok := range tokens {
		set[tok] = struct{}{}
	}
	return set
}

// Contains reports whether tok is in the set
func (s StringSet) Contains(tok string) bool {
	_, ok := s[tok]
	return ok
}
