package models

import "time"

// Row is one destination row. Cells are strings or numbers.
type Row []interface{}

// Run event types.
const (
	EventRunStarted    = "run.started"
	EventRunResumed    = "run.resumed"
	EventRunStopped    = "run.stopped"
	EventRunCompleted  = "run.completed"
	EventItemCompleted = "item.completed"
	EventItemFailed    = "item.failed"
)

// RunEvent is published on run and item lifecycle transitions.
type RunEvent struct {
	Type     string         `json:"type"`
	RunID    string         `json:"runId"`
	Symbol   string         `json:"symbol,omitempty"`
	Modes    ModeSet        `json:"modes,omitempty"`
	Message  string         `json:"message,omitempty"`
	Results  []SymbolResult `json:"results,omitempty"`
	Progress *Progress      `json:"progress,omitempty"`
	Time     time.Time      `json:"time"`
}
