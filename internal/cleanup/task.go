// Package cleanup implements asynchronous cascade deletion of a
// knowledge base's documents, chunks and vectors. Each delete request
// is recorded as a Task row that doubles as the audit trail; tasks are
// mutated only by the Executor and never removed by normal API flow.
package cleanup

import (
	"time"

	"github.com/google/uuid"
)

// Status is the closed set of cleanup task states.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// transitions is the explicit state machine: pending → running →
// {completed|failed}; failed → pending only via an external retry.
var transitions = map[Status][]Status{
	StatusPending:   {StatusRunning},
	StatusRunning:   {StatusCompleted, StatusFailed, StatusPending},
	StatusFailed:    {StatusPending},
	StatusCompleted: {},
}

// CanTransition reports whether moving from s to next is legal.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Progress reports how far a task has advanced. Total is nil until the
// document count is known; Percentage is nil whenever Total is nil, so
// clients can show an indeterminate indicator.
type Progress struct {
	Processed int64  `json:"processed"`
	Total     *int64 `json:"total"`
}

// Percentage returns processed/total, or nil while total is unknown.
func (p Progress) Percentage() *float64 {
	if p.Total == nil {
		return nil
	}
	if *p.Total == 0 {
		one := 1.0
		return &one
	}
	pct := float64(p.Processed) / float64(*p.Total)
	return &pct
}

// Task is one asynchronous cascade-delete job for one knowledge base.
type Task struct {
	ID              uuid.UUID
	KnowledgeBaseID uuid.UUID
	Status          Status
	Progress        Progress
	ErrorMessage    *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
