package session

import (
	"cmp"
	"slices"
	"time"

	"github.com/ismaiel54/tick-gapfill/internal/codec"
	"github.com/ismaiel54/tick-gapfill/internal/recovery"
)

// Reporter receives the session's externally visible results
type Reporter interface {
	recovery.Observer
	// GapList is called once with the computed gap list
	GapList(gaps []int32)
	// Summary is called in the reporting state
	Summary(r *Report)
	// Error is called for every surfaced error, fatal or not
	Error(err error)
}

// Report is everything one session observed
type Report struct {
	SessionID string
	Started   time.Time
	Finished  time.Time

	// Live holds records decoded during the drain, in stream order
	Live []codec.Record
	// Gaps is the missing-sequence list computed from the drain
	Gaps []int32
	// NoData is set when the drain produced no valid sequence numbers
	NoData bool

	Recovered    map[int32]codec.Record
	Mismatches   []recovery.Mismatch
	SendFailures []*recovery.SendError
	Requested    int

	// Framing holds incomplete trailing bytes seen at end of stream
	Framing []*codec.FramingError

	// Trace lists every state entered, in order
	Trace []State
}

// Outstanding returns the gaps that recovery did not fill
func (r *Report) Outstanding() []int32 {
	out := make([]int32, 0)
	for _, seq := range r.Gaps {
		if _, ok := r.Recovered[seq]; !ok {
			out = append(out, seq)
		}
	}
	return out
}

// Entry is one record of the reconstructed stream
type Entry struct {
	Record    codec.Record
	Recovered bool
}

// Merged returns the reconstructed stream: live and recovered records ordered
// by sequence, one entry per sequence. A live record wins over a recovered
// one with the same sequence.
func (r *Report) Merged() []Entry {
	bySeq := make(map[int32]Entry, len(r.Live)+len(r.Recovered))
	for seq, rec := range r.Recovered {
		bySeq[seq] = Entry{Record: rec, Recovered: true}
	}
	for _, rec := range r.Live {
		bySeq[rec.Sequence] = Entry{Record: rec}
	}

	merged := make([]Entry, 0, len(bySeq))
	for seq, e := range bySeq {
		if seq > 0 {
			merged = append(merged, e)
		}
	}
	slices.SortFunc(merged, func(a, b Entry) int {
		return cmp.Compare(a.Record.Sequence, b.Record.Sequence)
	})
	return merged
}

// Reported reports whether the session reached the reporting state
func (r *Report) Reported() bool {
	return slices.Contains(r.Trace, StateReporting)
}
