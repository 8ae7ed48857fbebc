package report

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/ismaiel54/tick-gapfill/internal/codec"
	"github.com/ismaiel54/tick-gapfill/internal/recovery"
	"github.com/ismaiel54/tick-gapfill/internal/session"
	"github.com/ismaiel54/tick-gapfill/internal/transport"
)

// Console prints session results as plain text lines
type Console struct {
	mu sync.Mutex
	w  io.Writer
	// Stream prints the reconstructed stream in the summary
	Stream bool
}

// NewConsole creates a console reporter writing to w
func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

// GapList prints the computed gap list and its length
func (c *Console) GapList(gaps []int32) {
	c.printf("Missed seq numbers: [%s] (%d)\n", joinSeqs(gaps), len(gaps))
}

// RecordReceived prints one recovered record as it arrives
func (c *Console) RecordReceived(requested int32, rec codec.Record) {
	c.printf("Missed record received: requested=%d %s\n", requested, rec)
}

// SequenceMismatch prints a response whose sequence differs from the request
func (c *Console) SequenceMismatch(m recovery.Mismatch) {
	c.printf("Sequence mismatch: requested=%d received=%d\n", m.Requested, m.Actual)
}

// Error prints a surfaced error with its category
func (c *Console) Error(err error) {
	c.printf("Error (%s): %v\n", Category(err), err)
}

// Summary prints the session totals and, with Stream set, the merged stream
func (c *Console) Summary(r *session.Report) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.w, "Session %s\n", r.SessionID)
	if r.NoData {
		fmt.Fprintln(c.w, "  no data received")
		return
	}

	outstanding := r.Outstanding()
	fmt.Fprintf(c.w, "  live records:        %d\n", len(r.Live))
	fmt.Fprintf(c.w, "  gaps:                %d\n", len(r.Gaps))
	fmt.Fprintf(c.w, "  retransmit requests: %d\n", r.Requested)
	fmt.Fprintf(c.w, "  recovered:           %d\n", len(r.Recovered))
	fmt.Fprintf(c.w, "  mismatches:          %d\n", len(r.Mismatches))
	fmt.Fprintf(c.w, "  send failures:       %d\n", len(r.SendFailures))
	fmt.Fprintf(c.w, "  outstanding:         [%s]\n", joinSeqs(outstanding))

	if c.Stream {
		for _, e := range r.Merged() {
			source := "live"
			if e.Recovered {
				source = "recovered"
			}
			fmt.Fprintf(c.w, "  %-9s %s\n", source, e.Record)
		}
	}
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, format, args...)
}

// Category names the class of a session error
func Category(err error) string {
	var connErr *transport.ConnectionError
	var sendErr *recovery.SendError
	var recvErr *recovery.ReceiveError
	var framingErr *codec.FramingError

	switch {
	case errors.As(err, &connErr):
		return "connection"
	case errors.As(err, &sendErr):
		return "send"
	case errors.As(err, &recvErr):
		return "receive"
	case errors.As(err, &framingErr):
		return "framing"
	default:
		return "session"
	}
}

func joinSeqs(seqs []int32) string {
	parts := make([]string, len(seqs))
	for i, s := range seqs {
		parts[i] = fmt.Sprint(s)
	}
	return strings.Join(parts, " ")
}
