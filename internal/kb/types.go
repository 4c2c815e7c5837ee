// Package kb manages knowledge-base records and their state machine.
// A knowledge base is a named, isolated collection of documents and
// their searchable chunks; its status gates both search visibility and
// document uploads.
package kb

import (
	"time"

	"github.com/google/uuid"
)

// Status is the closed set of knowledge-base states.
type Status string

const (
	StatusEnabled  Status = "enabled"
	StatusDisabled Status = "disabled"
	StatusDeleted  Status = "deleted"
)

// transitions is the explicit state machine. deleted is terminal: once
// a knowledge base is deleted no field may change.
var transitions = map[Status][]Status{
	StatusEnabled:  {StatusDisabled, StatusDeleted},
	StatusDisabled: {StatusEnabled, StatusDeleted},
	StatusDeleted:  {},
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
	case StatusEnabled, StatusDisabled, StatusDeleted:
		return true
	}
	return false
}

// Searchable reports whether the status admits search and new uploads.
// disabled and deleted both exclude the knowledge base from use but
// keep it visible to listing queries as an audit trail.
func (s Status) Searchable() bool { return s == StatusEnabled }

// KnowledgeBase is a named, isolated collection of documents.
type KnowledgeBase struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ListFilter narrows and paginates List queries. Page is 1-based.
type ListFilter struct {
	Page         int
	PageSize     int
	NameContains string
	Status       Status
}

// UpdateParams carries the mutable fields for Update. Nil pointers
// leave the corresponding field unchanged.
type UpdateParams struct {
	Name        *string
	Description *string
	Status      *Status
}
