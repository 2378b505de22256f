// Package models holds the event and report shapes shared between the
// runner, hooks, and persistence.
package models

import "time"

// LineEvent is one line of remote output as published to Kafka. Line is
// the raw bytes of the line (base64 in JSON), so output that is not valid
// UTF-8 survives intact.
type LineEvent struct {
	RunID  string    `json:"run_id" bson:"run_id"`
	Host   string    `json:"host" bson:"host"`
	Stream string    `json:"stream" bson:"stream"`
	Line   []byte    `json:"line" bson:"line"`
	Time   time.Time `json:"time" bson:"time"`
}

// HostReport summarizes one remote task after a run finishes.
type HostReport struct {
	Host       string `json:"host"`
	Status     string `json:"status"`
	ExitCode   int    `json:"exit_code"`
	DurationMS int64  `json:"duration_ms"`
}

// ExecutionReport is the persisted record of a whole run.
type ExecutionReport struct {
	RunID      string       `json:"run_id"`
	Command    []string     `json:"command"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Aggregate  int          `json:"aggregate"`
	Hosts      []HostReport `json:"hosts"`
}
