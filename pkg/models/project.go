// Package models contains domain types for waypost-engine.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Progress enumerates coarse project states kept in sync with the
// context state machine's percentage estimate.
type Progress string

const (
	ProgressNotStarted Progress = "NotStarted"
	ProgressInProgress Progress = "InProgress"
	ProgressCompleted  Progress = "Completed"
	ProgressOther      Progress = "Other"
)

// ProgressFromPercentage maps a 0-100 estimate onto the coarse enum:
// Completed at >=100, InProgress above zero, NotStarted otherwise.
func ProgressFromPercentage(pct int) Progress {
	switch {
	case pct >= 100:
		return ProgressCompleted
	case pct > 0:
		return ProgressInProgress
	default:
		return ProgressNotStarted
	}
}

// Project represents a user's domain of interest with goals.
type Project struct {
	ID                uuid.UUID `json:"id"`
	UserID            uuid.UUID `json:"user_id"`
	Name              string    `json:"name"`
	Description       string    `json:"description"`
	Domain            string    `json:"domain"`
	Goals             []string  `json:"goals"`
	Interests         []string  `json:"interests"`
	Progress          Progress  `json:"progress"`
	ProgressUpdatedAt time.Time `json:"progress_updated_at"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Milestone is a single achieved (or pending) step in a project's history.
type Milestone struct {
	ID          uuid.UUID  `json:"id"`
	ProjectID   uuid.UUID  `json:"project_id"`
	Description string     `json:"description"`
	Achieved    bool       `json:"achieved"`
	AchievedAt  *time.Time `json:"achieved_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
