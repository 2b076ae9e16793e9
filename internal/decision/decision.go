// Package decision holds the size rules that decide whether a generated
// thumbnail is kept, and whether an existing thumbnail should be replaced by
// its original during reconciliation.
package decision

// Comparison is the three-way result of comparing two sizes.
type Comparison int

// Comparison values.
const (
	Less    Comparison = -1
	Equal   Comparison = 0
	Greater Comparison = 1
)

// String returns "less", "equal" or "greater".
func (c Comparison) String() string {
	switch c {
	case Less:
		return "less"
	case Greater:
		return "greater"
	default:
		return "equal"
	}
}

// Compare orders a against b.
func Compare(a, b int64) Comparison {
	switch {
	case a < b:
		return Less
	case a > b:
		return Greater
	default:
		return Equal
	}
}

// AcceptThumbnail reports whether a thumbnail is worth keeping: it must be
// strictly smaller than the original. Equal sizes are rejected.
func AcceptThumbnail(thumbSize, originalSize int64) bool {
	return Compare(thumbSize, originalSize) == Less
}

// Action is what reconciliation does with one source/destination pair.
type Action int

const (
	// Skip leaves the destination file alone.
	Skip Action = iota
	// ReplaceWithOriginal copies the original over the destination file.
	ReplaceWithOriginal
)

// String returns "skip" or "replace".
func (a Action) String() string {
	if a == ReplaceWithOriginal {
		return "replace"
	}
	return "skip"
}

// Reconcile decides the fate of a destination file given the size of its
// original. A thumbnail that did not come out smaller than the original
// (including one of equal size) is replaced by the original.
func Reconcile(originalSize, destSize int64) Action {
	if Compare(originalSize, destSize) == Greater {
		return Skip
	}
	return ReplaceWithOriginal
}
