// Package document manages document records and their lifecycle within
// a knowledge base. A document is created in status processing when its
// file is accepted, and the ingestion pipeline moves it to completed or
// failed. Deletion is a tombstone: the row survives with status deleted
// while its chunks are removed, so later reads can distinguish "never
// existed" from "gone".
package document

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a document.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusDeleted    Status = "deleted"
)

// transitions is the allowed state machine. Deleted is terminal and
// reachable from every non-deleted state, since a user may delete a
// document mid-ingestion or after a failure.
var transitions = map[Status][]Status{
	StatusProcessing: {StatusCompleted, StatusFailed, StatusDeleted},
	StatusCompleted:  {StatusDeleted},
	StatusFailed:     {StatusDeleted},
	StatusDeleted:    {},
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

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Document is one uploaded file within a knowledge base.
type Document struct {
	ID              uuid.UUID `json:"id"`
	KnowledgeBaseID uuid.UUID `json:"knowledge_base_id"`
	Filename        string    `json:"filename"`
	Status          Status    `json:"status"`
	ErrorMessage    *string   `json:"error_message,omitempty"`
	ChunkCount      int32     `json:"chunk_count"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ListFilter narrows and pages a document listing.
type ListFilter struct {
	Page     int
	PageSize int
	Status   Status
}
