package models

import "time"

// ItemStatus is the processing state of a queue item.
type ItemStatus string

const (
	ItemPending   ItemStatus = "pending"
	ItemCompleted ItemStatus = "completed"
	ItemError     ItemStatus = "error"
)

// QueueItem is one symbol of a run with the modes requested for it.
type QueueItem struct {
	Symbol   string     `json:"symbol"`
	Modes    ModeSet    `json:"modes"`
	Status   ItemStatus `json:"status"`
	Position int        `json:"position"`
}

// Progress counts queue items by status.
type Progress struct {
	Pending   int `json:"pending"`
	Completed int `json:"completed"`
	Error     int `json:"error"`
}

// Total is the number of items in the run.
func (p Progress) Total() int { return p.Pending + p.Completed + p.Error }

// RunStatus is the global run flag.
type RunStatus string

const (
	RunIdle    RunStatus = "idle"
	RunRunning RunStatus = "running"
	RunStopped RunStatus = "stopped"
)

// RunState is the process-wide run singleton.
type RunState struct {
	RunID     string    `json:"runId"`
	Status    RunStatus `json:"status"`
	Modes     ModeSet   `json:"modes"`
	EndDate   Date      `json:"endDate"`
	StartedAt time.Time `json:"startedAt"`
	// Initialized holds the per-destination cutover flags.
	Initialized map[Mode]bool `json:"initialized"`
}

// IdleRunState is the state of a store with no run.
func IdleRunState() RunState {
	return RunState{Status: RunIdle, Initialized: map[Mode]bool{}}
}

// IsInitialized reports whether the destination for m was already initialized this run.
func (s RunState) IsInitialized(m Mode) bool { return s.Initialized[m] }

// LogEntry is one run log line.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// Status is the snapshot returned to monitoring.
type Status struct {
	RunID     string     `json:"runId,omitempty"`
	Status    RunStatus  `json:"status"`
	Modes     ModeSet    `json:"modes,omitempty"`
	EndDate   Date       `json:"endDate,omitempty"`
	StartedAt *time.Time `json:"startedAt,omitempty"`
	Log       []string   `json:"log"`
	Pending   int        `json:"pending"`
	Completed int        `json:"completed"`
	Error     int        `json:"error"`
	Total     int        `json:"total"`
}
