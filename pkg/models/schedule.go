package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskType enumerates what a schedule triggers.
type TaskType string

const (
	TaskSearch    TaskType = "search"
	TaskSummarize TaskType = "summarize"
	TaskUpdate    TaskType = "update"
)

// Frequency enumerates how often a schedule fires.
type Frequency string

const (
	FrequencyHourly  Frequency = "hourly"
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// Interval returns the wall-clock duration for one period. Monthly uses the
// calendar month via AddDate, so it is handled in NextRun rather than here.
func (f Frequency) Interval() (time.Duration, error) {
	switch f {
	case FrequencyHourly:
		return time.Hour, nil
	case FrequencyDaily:
		return 24 * time.Hour, nil
	case FrequencyWeekly:
		return 7 * 24 * time.Hour, nil
	case FrequencyMonthly:
		return 0, nil
	default:
		return 0, fmt.Errorf("unknown frequency %q", f)
	}
}

// NextRun computes the deterministic next execution time from a reference
// point. Called after every successful execution or edit.
func (f Frequency) NextRun(from time.Time) (time.Time, error) {
	if f == FrequencyMonthly {
		return from.AddDate(0, 1, 0), nil
	}
	interval, err := f.Interval()
	if err != nil {
		return time.Time{}, err
	}
	return from.Add(interval), nil
}

// Schedule describes a recurring task for a project.
type Schedule struct {
	ID         uuid.UUID  `json:"id"`
	ProjectID  uuid.UUID  `json:"project_id"`
	TaskType   TaskType   `json:"task_type"`
	Frequency  Frequency  `json:"frequency"`
	LastRun    *time.Time `json:"last_run,omitempty"`
	NextRun    time.Time  `json:"next_run"`
	Active     bool       `json:"active"`
	Parameters JSONBMap   `json:"parameters"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}
