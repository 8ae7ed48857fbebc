package verify

import (
	"testing"

	"github.com/ismaiel54/tick-gapfill/internal/msg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tick(session string, seq int32, source string) msg.TickMsg {
	return msg.TickMsg{SessionID: session, Sequence: seq, Source: source}
}

func TestTracker_CleanSession(t *testing.T) {
	tr := NewTracker()
	for _, seq := range []int32{1, 2, 4} {
		tr.Add(tick("a", seq, msg.SourceLive))
	}
	tr.Add(tick("a", 3, msg.SourceRecovered))

	results := tr.Results()
	require.Len(t, results, 1)
	r := results[0]
	assert.True(t, r.OK())
	assert.Equal(t, 4, r.Ticks)
	assert.Equal(t, 1, r.Recovered)
	assert.Equal(t, int32(4), r.MaxSeq)
	assert.Empty(t, r.Missing)
}

func TestTracker_GapsAndDuplicates(t *testing.T) {
	tr := NewTracker()
	for _, seq := range []int32{1, 2, 2, 5} {
		tr.Add(tick("b", seq, msg.SourceLive))
	}
	tr.Add(tick("a", 1, msg.SourceLive))

	results := tr.Results()
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].SessionID)
	assert.True(t, results[0].OK())

	b := results[1]
	assert.False(t, b.OK())
	assert.Equal(t, []int32{3, 4}, b.Missing)
	assert.Equal(t, map[int32]int{2: 2}, b.Duplicates)
}

func TestTracker_Empty(t *testing.T) {
	assert.Empty(t, NewTracker().Results())
}
