package report

import (
	"github.com/ismaiel54/tick-gapfill/internal/codec"
	"github.com/ismaiel54/tick-gapfill/internal/observability"
	"github.com/ismaiel54/tick-gapfill/internal/recovery"
	"github.com/ismaiel54/tick-gapfill/internal/session"
)

// Multi fans every callback out to each reporter in order
type Multi []session.Reporter

func (m Multi) GapList(gaps []int32) {
	for _, r := range m {
		r.GapList(gaps)
	}
}

func (m Multi) RecordReceived(requested int32, rec codec.Record) {
	for _, r := range m {
		r.RecordReceived(requested, rec)
	}
}

func (m Multi) SequenceMismatch(mm recovery.Mismatch) {
	for _, r := range m {
		r.SequenceMismatch(mm)
	}
}

func (m Multi) Summary(rep *session.Report) {
	for _, r := range m {
		r.Summary(rep)
	}
}

func (m Multi) Error(err error) {
	for _, r := range m {
		r.Error(err)
	}
}

// Metrics feeds session outcomes into prometheus counters
type Metrics struct {
	m *observability.SessionMetrics
}

// NewMetrics creates a reporter updating m
func NewMetrics(m *observability.SessionMetrics) *Metrics {
	return &Metrics{m: m}
}

func (r *Metrics) GapList(gaps []int32) {
	r.m.GapsDetected.Add(float64(len(gaps)))
}

func (r *Metrics) RecordReceived(int32, codec.Record) {
	r.m.RecordsRecovered.Inc()
}

func (r *Metrics) SequenceMismatch(recovery.Mismatch) {
	r.m.SequenceMismatches.Inc()
}

func (r *Metrics) Summary(rep *session.Report) {
	r.m.Outstanding.Set(float64(len(rep.Outstanding())))
	result := "ok"
	switch {
	case rep.NoData:
		result = "no_data"
	case len(rep.Outstanding()) > 0:
		result = "incomplete"
	}
	r.m.Sessions.WithLabelValues(result).Inc()
}

func (r *Metrics) Error(err error) {
	r.m.Errors.WithLabelValues(Category(err)).Inc()
}
