// Package repositories provides PostgreSQL data access for waypost-engine.
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

// ProjectRepository defines the interface for project data access.
type ProjectRepository interface {
	Create(ctx context.Context, project *models.Project) error
	Get(ctx context.Context, id uuid.UUID) (*models.Project, error)
	List(ctx context.Context) ([]models.Project, error)
	UpdateProgress(ctx context.Context, id uuid.UUID, progress models.Progress) error
	AddMilestone(ctx context.Context, milestone *models.Milestone) error
	ListMilestones(ctx context.Context, projectID uuid.UUID) ([]models.Milestone, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// projectRepository implements ProjectRepository using PostgreSQL.
type projectRepository struct {
	db *database.DB
}

// NewProjectRepository creates a new project repository.
func NewProjectRepository(db *database.DB) ProjectRepository {
	return &projectRepository{db: db}
}

// Create inserts a new project. Uses ON CONFLICT for safe retry behavior
// during provisioning.
func (r *projectRepository) Create(ctx context.Context, project *models.Project) error {
	if project.ID == uuid.Nil {
		project.ID = uuid.New()
	}

	now := time.Now()
	project.CreatedAt = now
	project.UpdatedAt = now
	if project.Progress == "" {
		project.Progress = models.ProgressNotStarted
	}
	if project.ProgressUpdatedAt.IsZero() {
		project.ProgressUpdatedAt = now
	}

	query := `
		INSERT INTO projects (id, user_id, name, description, domain, goals, interests,
		                      progress, progress_updated_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    description = EXCLUDED.description,
		    domain = EXCLUDED.domain,
		    goals = EXCLUDED.goals,
		    interests = EXCLUDED.interests,
		    updated_at = EXCLUDED.updated_at`

	_, err := r.db.Exec(ctx, query,
		project.ID,
		project.UserID,
		project.Name,
		project.Description,
		project.Domain,
		project.Goals,
		project.Interests,
		project.Progress,
		project.ProgressUpdatedAt,
		project.CreatedAt,
		project.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}

	return nil
}

// Get retrieves a project by ID.
func (r *projectRepository) Get(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	query := `
		SELECT id, user_id, name, description, domain, goals, interests,
		       progress, progress_updated_at, created_at, updated_at
		FROM projects
		WHERE id = $1`

	var project models.Project
	err := r.db.QueryRow(ctx, query, id).Scan(
		&project.ID,
		&project.UserID,
		&project.Name,
		&project.Description,
		&project.Domain,
		&project.Goals,
		&project.Interests,
		&project.Progress,
		&project.ProgressUpdatedAt,
		&project.CreatedAt,
		&project.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get project: %w", err)
	}

	return &project, nil
}

// UpdateProgress sets the coarse progress enum and bumps the progress timestamp.
func (r *projectRepository) UpdateProgress(ctx context.Context, id uuid.UUID, progress models.Progress) error {
	query := `
		UPDATE projects
		SET progress = $2, progress_updated_at = NOW(), updated_at = NOW()
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, progress)
	if err != nil {
		return fmt.Errorf("failed to update project progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

// AddMilestone appends a milestone to the project's history.
func (r *projectRepository) AddMilestone(ctx context.Context, milestone *models.Milestone) error {
	if milestone.ID == uuid.Nil {
		milestone.ID = uuid.New()
	}
	milestone.CreatedAt = time.Now()

	query := `
		INSERT INTO project_milestones (id, project_id, description, achieved, achieved_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.Exec(ctx, query,
		milestone.ID,
		milestone.ProjectID,
		milestone.Description,
		milestone.Achieved,
		milestone.AchievedAt,
		milestone.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to add milestone: %w", err)
	}

	return nil
}

// ListMilestones returns a project's milestones in creation order.
func (r *projectRepository) ListMilestones(ctx context.Context, projectID uuid.UUID) ([]models.Milestone, error) {
	query := `
		SELECT id, project_id, description, achieved, achieved_at, created_at
		FROM project_milestones
		WHERE project_id = $1
		ORDER BY created_at, id`

	rows, err := r.db.Query(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list milestones: %w", err)
	}
	defer rows.Close()

	var milestones []models.Milestone
	for rows.Next() {
		var m models.Milestone
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.Description, &m.Achieved, &m.AchievedAt, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan milestone: %w", err)
		}
		milestones = append(milestones, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("milestone rows: %w", err)
	}

	return milestones, nil
}

// List returns all projects ordered by creation time.
func (r *projectRepository) List(ctx context.Context) ([]models.Project, error) {
	query := `
		SELECT id, user_id, name, description, domain, goals, interests,
		       progress, progress_updated_at, created_at, updated_at
		FROM projects
		ORDER BY created_at, id`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []models.Project
	for rows.Next() {
		var p models.Project
		if err := rows.Scan(
			&p.ID,
			&p.UserID,
			&p.Name,
			&p.Description,
			&p.Domain,
			&p.Goals,
			&p.Interests,
			&p.Progress,
			&p.ProgressUpdatedAt,
			&p.CreatedAt,
			&p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("project rows: %w", err)
	}

	return projects, nil
}

// Delete removes a project; discoveries, contexts, and schedules cascade.
func (r *projectRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}
