package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Turn is one completed query/response exchange. Turns are immutable once
// appended to a history.
type Turn struct {
	Query     string
	Response  GenerationResult
	LatencyMs int64
	CreatedAt time.Time
}

// NewTurn builds a Turn, clamping negative latencies to zero.
func NewTurn(query string, resp GenerationResult, latency time.Duration, at time.Time) Turn {
	ms := latency.Milliseconds()
	if ms < 0 {
		ms = 0
	}
	return Turn{
		Query:     query,
		Response:  resp,
		LatencyMs: ms,
		CreatedAt: at,
	}
}

// Mode reports the mode of the turn's response.
func (t Turn) Mode() Mode {
	if t.Response == nil {
		return ""
	}
	return t.Response.Mode()
}

type turnJSON struct {
	Query     string          `json:"query"`
	Response  json.RawMessage `json:"response"`
	LatencyMs int64           `json:"latencyMs"`
	Timestamp time.Time       `json:"timestamp"`
}

// MarshalJSON encodes the turn with a mode-tagged response.
func (t Turn) MarshalJSON() ([]byte, error) {
	resp, err := MarshalResult(t.Response)
	if err != nil {
		return nil, err
	}
	return json.Marshal(turnJSON{
		Query:     t.Query,
		Response:  resp,
		LatencyMs: t.LatencyMs,
		Timestamp: t.CreatedAt,
	})
}

// UnmarshalJSON decodes a turn written by MarshalJSON.
func (t *Turn) UnmarshalJSON(data []byte) error {
	var raw turnJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw.Response) == 0 {
		return fmt.Errorf("decode turn: missing response")
	}
	if raw.LatencyMs < 0 {
		return fmt.Errorf("decode turn: negative latency %d", raw.LatencyMs)
	}

	resp, err := UnmarshalResult(raw.Response)
	if err != nil {
		return err
	}

	*t = Turn{
		Query:     raw.Query,
		Response:  resp,
		LatencyMs: raw.LatencyMs,
		CreatedAt: raw.Timestamp,
	}
	return nil
}
