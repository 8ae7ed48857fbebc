package msg

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Record sources
const (
	SourceLive      = "live"
	SourceRecovered = "recovered"
)

// TickMsg is one record of a reconstructed stream
type TickMsg struct {
	EventID      string `json:"event_id"`
	SessionID    string `json:"session_id"`
	Symbol       string `json:"symbol"`
	Side         string `json:"side"` // "B" or "S"
	Quantity     int32  `json:"quantity"`
	Price        int32  `json:"price"`
	Sequence     int32  `json:"sequence"`
	Source       string `json:"source"` // "live" or "recovered"
	TsUnixMillis int64  `json:"ts_unix_millis"`
}

// Key returns the partition key; all ticks of a session share a partition
func (m TickMsg) Key() string {
	return m.SessionID
}

// SessionMsg summarises one gap-fill session
type SessionMsg struct {
	EventID      string  `json:"event_id"`
	SessionID    string  `json:"session_id"`
	LiveCount    int     `json:"live_count"`
	Gaps         []int32 `json:"gaps"`
	Recovered    int     `json:"recovered"`
	Outstanding  []int32 `json:"outstanding"`
	Mismatches   int     `json:"mismatches"`
	TsUnixMillis int64   `json:"ts_unix_millis"`
}

// DecodeTick parses a consumed record value as a TickMsg
func DecodeTick(value []byte) (TickMsg, error) {
	var m TickMsg
	if err := json.Unmarshal(value, &m); err != nil {
		return TickMsg{}, fmt.Errorf("failed to unmarshal tick: %w", err)
	}
	if m.SessionID == "" {
		return TickMsg{}, fmt.Errorf("tick %s has no session id", strconv.Quote(m.EventID))
	}
	return m, nil
}
