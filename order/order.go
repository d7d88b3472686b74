// Package order computes sibling ordering keys. Keys are fractional so an item
// can be placed between two neighbours without renumbering the list.
package order

import "math"

const (
	// Step is the distance between consecutive keys of a freshly numbered list.
	Step = 100.0
	// MinGap is the smallest neighbour distance that still yields a distinct
	// midpoint. Below it the scope is renumbered.
	MinGap = 1e-6
)

// Append returns the key for an item added after last. A nil last means the
// list is empty.
func Append(last *float64) float64 {
	if last == nil {
		return Step
	}
	return *last + Step
}

// Between returns a key strictly between prev and next. Either neighbour may be
// nil for an insertion at a list boundary.
func Between(prev, next *float64) float64 {
	switch {
	case prev == nil && next == nil:
		return Step
	case prev == nil:
		return *next - Step
	case next == nil:
		return *prev + Step
	default:
		return *prev + (*next-*prev)/2
	}
}

// Seed returns the midpoint of prev and next truncated toward zero. It is used
// right after a list was renumbered so new keys stay integral.
func Seed(prev, next float64) float64 {
	return math.Trunc((prev + next) / 2)
}

// Exhausted reports whether the gap between two neighbours is too narrow to
// hold another distinct key.
func Exhausted(prev, next *float64) bool {
	if prev == nil || next == nil {
		return false
	}
	gap := *next - *prev
	if gap <= MinGap {
		return true
	}
	mid := *prev + gap/2
	return mid <= *prev || mid >= *next
}

// Renumber returns fresh keys for a list of n items: Step, 2*Step, ...
func Renumber(n int) []float64 {
	keys := make([]float64, n)
	for i := range keys {
		keys[i] = Step * float64(i+1)
	}
	return keys
}

// Insert computes the key for an item placed at index within keys, the
// ordered keys of its future siblings (the item itself excluded). When the
// neighbours are too close the whole list is renumbered; renumbered then holds
// the new sibling keys and must be applied by the caller.
func Insert(keys []float64, index int) (key float64, renumbered []float64) {
	if index < 0 {
		index = 0
	}
	if index > len(keys) {
		index = len(keys)
	}
	var prev, next *float64
	if index > 0 {
		prev = &keys[index-1]
	}
	if index < len(keys) {
		next = &keys[index]
	}
	if !Exhausted(prev, next) {
		return Between(prev, next), nil
	}
	renumbered = Renumber(len(keys))
	return Seed(renumbered[index-1], renumbered[index]), renumbered
}
