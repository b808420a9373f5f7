package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ContextEntryType enumerates the kinds of entries in a project's
// append-only context log.
type ContextEntryType string

const (
	EntryAgentQuestion ContextEntryType = "agent_question"
	EntryUserUpdate    ContextEntryType = "user_update"
	EntryUserResponse  ContextEntryType = "user_response"
	EntryMilestone     ContextEntryType = "milestone"
	EntryFeedback      ContextEntryType = "feedback"
)

// JSONBMap is a map type that handles PostgreSQL JSONB serialization.
type JSONBMap map[string]interface{}

// Value implements driver.Valuer for database serialization.
func (j JSONBMap) Value() (driver.Value, error) {
	if j == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(j)
}

// Scan implements sql.Scanner for database deserialization.
func (j *JSONBMap) Scan(value interface{}) error {
	if value == nil {
		*j = make(map[string]interface{})
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into JSONBMap", value)
	}

	return json.Unmarshal(bytes, j)
}

// ContextEntry is one item in the append-only context log. Entries are never
// reordered or deleted.
type ContextEntry struct {
	ID        uuid.UUID        `json:"id"`
	ContextID uuid.UUID        `json:"context_id"`
	Type      ContextEntryType `json:"type"`
	Content   string           `json:"content"`
	Metadata  JSONBMap         `json:"metadata"`
	CreatedAt time.Time        `json:"created_at"`
}

// ProjectContext is the per-project context state. CurrentPhase is free-form
// text (advisory labels derived from user text by the generative backend),
// seeded as "initial".
type ProjectContext struct {
	ID                 uuid.UUID      `json:"id"`
	ProjectID          uuid.UUID      `json:"project_id"`
	CurrentPhase       string         `json:"current_phase"`
	ProgressPercentage int            `json:"progress_percentage"`
	Entries            []ContextEntry `json:"context_entries"`
	LastUpdated        time.Time      `json:"last_updated"`
}

// LastQuestion returns the most recently appended agent_question entry, or
// nil if none exists.
func (c *ProjectContext) LastQuestion() *ContextEntry {
	for i := len(c.Entries) - 1; i >= 0; i-- {
		if c.Entries[i].Type == EntryAgentQuestion {
			return &c.Entries[i]
		}
	}
	return nil
}

// FindEntry returns the entry with the given id, or nil.
func (c *ProjectContext) FindEntry(id uuid.UUID) *ContextEntry {
	for i := range c.Entries {
		if c.Entries[i].ID == id {
			return &c.Entries[i]
		}
	}
	return nil
}

// RecentEntries returns up to n entries from the tail of the log, oldest first.
func (c *ProjectContext) RecentEntries(n int) []ContextEntry {
	if n <= 0 || len(c.Entries) == 0 {
		return nil
	}
	if len(c.Entries) <= n {
		return c.Entries
	}
	return c.Entries[len(c.Entries)-n:]
}
