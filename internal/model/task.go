package model

import (
	"fmt"
	"time"
)

// Task status constants. The last four are terminal.
const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusFinished  = "finished"
	StatusTimedOut  = "timed_out"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
)

// validTransitions maps each status to the set of statuses it may transition to.
// A queued run that is cancelled while waiting for a slot never reaches running.
var validTransitions = map[string]map[string]bool{
	StatusQueued: {
		StatusRunning:   true,
		StatusCancelled: true,
	},
	StatusRunning: {
		StatusFinished:  true,
		StatusTimedOut:  true,
		StatusCancelled: true,
		StatusFailed:    true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// IsTerminal reports whether status is one of the four run outcomes.
func IsTerminal(status string) bool {
	switch status {
	case StatusFinished, StatusTimedOut, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// TerminalStatuses lists every outcome status in a stable order.
var TerminalStatuses = []string{StatusFinished, StatusTimedOut, StatusCancelled, StatusFailed}

// ProgressInfo is a single progress report emitted by a running task.
type ProgressInfo struct {
	Percentage int    `json:"percentage"`
	Message    string `json:"message"`
}

func (p ProgressInfo) String() string {
	return fmt.Sprintf("[Progress: %d%%, Message: %s]", p.Percentage, p.Message)
}

// Run is the journal entry written when a task run reaches a terminal status.
type Run struct {
	ID         string     `json:"id"`
	Key        string     `json:"key"`
	Status     string     `json:"status"`
	Message    string     `json:"message,omitempty"`
	Error      string     `json:"error,omitempty"`
	TimeoutMS  *int64     `json:"timeout_ms,omitempty"`
	DurationMS int64      `json:"duration_ms"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time  `json:"finished_at"`
}
