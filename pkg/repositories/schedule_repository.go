package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/waypost-ai/waypost-engine/pkg/apperrors"
	"github.com/waypost-ai/waypost-engine/pkg/database"
	"github.com/waypost-ai/waypost-engine/pkg/models"
)

// ScheduleRepository defines data access for recurring task schedules.
type ScheduleRepository interface {
	Create(ctx context.Context, schedule *models.Schedule) error
	Get(ctx context.Context, id uuid.UUID) (*models.Schedule, error)
	ListDue(ctx context.Context, now time.Time) ([]models.Schedule, error)
	MarkRun(ctx context.Context, id uuid.UUID, ranAt, nextRun time.Time) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
}

type scheduleRepository struct {
	db *database.DB
}

// NewScheduleRepository creates a new schedule repository.
func NewScheduleRepository(db *database.DB) ScheduleRepository {
	return &scheduleRepository{db: db}
}

const scheduleColumns = `id, project_id, task_type, frequency, last_run, next_run,
	active, parameters, created_at, updated_at`

// Create inserts a new schedule.
func (r *scheduleRepository) Create(ctx context.Context, schedule *models.Schedule) error {
	if schedule.ID == uuid.Nil {
		schedule.ID = uuid.New()
	}

	now := time.Now()
	schedule.CreatedAt = now
	schedule.UpdatedAt = now
	if schedule.Parameters == nil {
		schedule.Parameters = models.JSONBMap{}
	}
	if schedule.NextRun.IsZero() {
		next, err := schedule.Frequency.NextRun(now)
		if err != nil {
			return fmt.Errorf("invalid schedule frequency: %w", err)
		}
		schedule.NextRun = next
	}

	query := `
		INSERT INTO schedules (id, project_id, task_type, frequency, last_run, next_run,
		                       active, parameters, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.Exec(ctx, query,
		schedule.ID,
		schedule.ProjectID,
		schedule.TaskType,
		schedule.Frequency,
		schedule.LastRun,
		schedule.NextRun,
		schedule.Active,
		schedule.Parameters,
		schedule.CreatedAt,
		schedule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create schedule: %w", err)
	}

	return nil
}

// Get retrieves a schedule by ID.
func (r *scheduleRepository) Get(ctx context.Context, id uuid.UUID) (*models.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules WHERE id = $1`

	s, err := scanSchedule(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}

	return s, nil
}

// ListDue returns active schedules with next_run at or before now, soonest first.
func (r *scheduleRepository) ListDue(ctx context.Context, now time.Time) ([]models.Schedule, error) {
	query := `SELECT ` + scheduleColumns + `
		FROM schedules
		WHERE active AND next_run <= $1
		ORDER BY next_run`

	rows, err := r.db.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list due schedules: %w", err)
	}
	defer rows.Close()

	var schedules []models.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		schedules = append(schedules, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("schedule rows: %w", err)
	}

	return schedules, nil
}

// MarkRun records a successful execution and the recomputed next_run.
func (r *scheduleRepository) MarkRun(ctx context.Context, id uuid.UUID, ranAt, nextRun time.Time) error {
	query := `
		UPDATE schedules
		SET last_run = $2, next_run = $3, updated_at = NOW()
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, ranAt, nextRun)
	if err != nil {
		return fmt.Errorf("failed to mark schedule run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

// SetActive toggles a schedule without deleting its history.
func (r *scheduleRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := r.db.Exec(ctx, `UPDATE schedules SET active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("failed to set schedule active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func scanSchedule(row pgx.Row) (*models.Schedule, error) {
	var s models.Schedule
	err := row.Scan(
		&s.ID,
		&s.ProjectID,
		&s.TaskType,
		&s.Frequency,
		&s.LastRun,
		&s.NextRun,
		&s.Active,
		&s.Parameters,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
