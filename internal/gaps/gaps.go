// Package gaps finds missing sequence numbers in a drained record stream.
package gaps

import (
	"errors"
	"slices"
)

// ErrEmptyInput is returned when no sequence numbers were observed
var ErrEmptyInput = errors.New("no sequence numbers observed")

// SequenceSet holds the distinct positive sequence numbers seen so far
type SequenceSet struct {
	seen map[int32]struct{}
	max  int32
}

// NewSequenceSet creates an empty set
func NewSequenceSet() *SequenceSet {
	return &SequenceSet{seen: make(map[int32]struct{})}
}

// Of builds a set from the given sequence numbers
func Of(seqs ...int32) *SequenceSet {
	s := NewSequenceSet()
	for _, seq := range seqs {
		s.Add(seq)
	}
	return s
}

// Add inserts seq. Non-positive values are not valid sequence numbers and
// are rejected.
func (s *SequenceSet) Add(seq int32) bool {
	if seq <= 0 {
		return false
	}
	s.seen[seq] = struct{}{}
	if seq > s.max {
		s.max = seq
	}
	return true
}

// Contains reports whether seq was observed
func (s *SequenceSet) Contains(seq int32) bool {
	_, ok := s.seen[seq]
	return ok
}

// Len returns the number of distinct sequence numbers
func (s *SequenceSet) Len() int {
	return len(s.seen)
}

// Max returns the highest sequence number, or 0 for an empty set
func (s *SequenceSet) Max() int32 {
	return s.max
}

// Sorted returns the members in ascending order
func (s *SequenceSet) Sorted() []int32 {
	out := make([]int32, 0, len(s.seen))
	for seq := range s.seen {
		out = append(out, seq)
	}
	slices.Sort(out)
	return out
}

// FindMissing returns every sequence in [1, max] that is not in the set, in
// ascending order. It runs in O(max) using set membership.
func FindMissing(s *SequenceSet) ([]int32, error) {
	if s == nil || s.Len() == 0 {
		return nil, ErrEmptyInput
	}

	missing := make([]int32, 0)
	for i := int32(1); i <= s.max && i > 0; i++ {
		if !s.Contains(i) {
			missing = append(missing, i)
		}
	}
	return missing, nil
}
