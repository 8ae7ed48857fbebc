package verify

import (
	"errors"
	"sort"
	"sync"

	"github.com/ismaiel54/tick-gapfill/internal/gaps"
	"github.com/ismaiel54/tick-gapfill/internal/msg"
)

// SessionResult is the verdict for one published session
type SessionResult struct {
	SessionID  string
	Ticks      int
	Recovered  int
	MaxSeq     int32
	Missing    []int32
	Duplicates map[int32]int
}

// OK reports whether the session's published stream is gap-free and duplicate-free
func (r SessionResult) OK() bool {
	return len(r.Missing) == 0 && len(r.Duplicates) == 0
}

type sessionState struct {
	seqs      *gaps.SequenceSet
	counts    map[int32]int
	ticks     int
	recovered int
}

// Tracker accumulates published ticks per session
type Tracker struct {
	mu       sync.Mutex
	sessions map[string]*sessionState
}

// NewTracker creates an empty tracker
func NewTracker() *Tracker {
	return &Tracker{sessions: make(map[string]*sessionState)}
}

// Add records one consumed tick
func (t *Tracker) Add(m msg.TickMsg) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[m.SessionID]
	if !ok {
		s = &sessionState{seqs: gaps.NewSequenceSet(), counts: make(map[int32]int)}
		t.sessions[m.SessionID] = s
	}
	s.ticks++
	if m.Source == msg.SourceRecovered {
		s.recovered++
	}
	s.counts[m.Sequence]++
	s.seqs.Add(m.Sequence)
}

// Results returns one verdict per session, ordered by session id
func (t *Tracker) Results() []SessionResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	results := make([]SessionResult, 0, len(t.sessions))
	for id, s := range t.sessions {
		r := SessionResult{
			SessionID:  id,
			Ticks:      s.ticks,
			Recovered:  s.recovered,
			MaxSeq:     s.seqs.Max(),
			Duplicates: make(map[int32]int),
		}
		missing, err := gaps.FindMissing(s.seqs)
		if err != nil && !errors.Is(err, gaps.ErrEmptyInput) {
			continue
		}
		r.Missing = missing
		for seq, n := range s.counts {
			if n > 1 {
				r.Duplicates[seq] = n
			}
		}
		results = append(results, r)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].SessionID < results[j].SessionID })
	return results
}
