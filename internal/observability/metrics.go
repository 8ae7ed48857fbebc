package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tick_gapfill"

// FeedMetrics counts what the feed simulator serves
type FeedMetrics struct {
	Connections        *prometheus.CounterVec
	RecordsStreamed    prometheus.Counter
	RecordsDropped     prometheus.Counter
	RetransmitsServed  prometheus.Counter
	RetransmitsUnknown prometheus.Counter
	UnknownRequests    prometheus.Counter
}

// NewFeedMetrics creates the feed counters and registers them with reg
func NewFeedMetrics(reg prometheus.Registerer) *FeedMetrics {
	m := &FeedMetrics{
		Connections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "connections_total",
			Help:      "Total connections accepted, by first request type",
		}, []string{"request"}),
		RecordsStreamed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "records_streamed_total",
			Help:      "Total records written on live streams",
		}),
		RecordsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "records_dropped_total",
			Help:      "Total records withheld from live streams by loss injection",
		}),
		RetransmitsServed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "retransmits_served_total",
			Help:      "Total retransmit requests answered with a record",
		}),
		RetransmitsUnknown: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "retransmits_unknown_total",
			Help:      "Total retransmit requests for sequences the feed never produced",
		}),
		UnknownRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "unknown_requests_total",
			Help:      "Total requests with an unrecognised type byte",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.Connections,
			m.RecordsStreamed,
			m.RecordsDropped,
			m.RetransmitsServed,
			m.RetransmitsUnknown,
			m.UnknownRequests,
		)
	}
	return m
}

// SessionMetrics counts gap-fill session outcomes for the client
type SessionMetrics struct {
	Sessions           *prometheus.CounterVec
	GapsDetected       prometheus.Counter
	RecordsRecovered   prometheus.Counter
	SequenceMismatches prometheus.Counter
	Outstanding        prometheus.Gauge
	Errors             *prometheus.CounterVec
}

// NewSessionMetrics creates the session counters and registers them with reg
func NewSessionMetrics(reg prometheus.Registerer) *SessionMetrics {
	m := &SessionMetrics{
		Sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "runs_total",
			Help:      "Total sessions run, by result",
		}, []string{"result"}),
		GapsDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "gaps_detected_total",
			Help:      "Total missing sequence numbers detected after the live stream",
		}),
		RecordsRecovered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "records_recovered_total",
			Help:      "Total records obtained through retransmit requests",
		}),
		SequenceMismatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "sequence_mismatches_total",
			Help:      "Total retransmit responses whose sequence differed from the request",
		}),
		Outstanding: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "outstanding_gaps",
			Help:      "Gaps still unfilled at the end of the last session",
		}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "errors_total",
			Help:      "Total surfaced session errors, by category",
		}, []string{"category"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.Sessions,
			m.GapsDetected,
			m.RecordsRecovered,
			m.SequenceMismatches,
			m.Outstanding,
			m.Errors,
		)
	}
	return m
}
