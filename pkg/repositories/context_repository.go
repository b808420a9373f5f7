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

// ContextRepository defines data access for per-project context state.
// The entry log is append-only: there is deliberately no update or delete
// operation for entries.
type ContextRepository interface {
	GetByProject(ctx context.Context, projectID uuid.UUID) (*models.ProjectContext, error)
	Create(ctx context.Context, pctx *models.ProjectContext) error
	UpdateState(ctx context.Context, id uuid.UUID, phase string, progressPercentage int) error
	AppendEntry(ctx context.Context, entry *models.ContextEntry) error
}

type contextRepository struct {
	db *database.DB
}

// NewContextRepository creates a new context repository.
func NewContextRepository(db *database.DB) ContextRepository {
	return &contextRepository{db: db}
}

// GetByProject loads the context and its full entry log in insertion order.
// Returns apperrors.ErrNotFound when the project has no context yet.
func (r *contextRepository) GetByProject(ctx context.Context, projectID uuid.UUID) (*models.ProjectContext, error) {
	query := `
		SELECT id, project_id, current_phase, progress_percentage, last_updated
		FROM project_contexts
		WHERE project_id = $1`

	var pctx models.ProjectContext
	err := r.db.QueryRow(ctx, query, projectID).Scan(
		&pctx.ID,
		&pctx.ProjectID,
		&pctx.CurrentPhase,
		&pctx.ProgressPercentage,
		&pctx.LastUpdated,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get project context: %w", err)
	}

	entries, err := r.listEntries(ctx, pctx.ID)
	if err != nil {
		return nil, err
	}
	pctx.Entries = entries

	return &pctx, nil
}

// Create inserts a fresh context row. Concurrent lazy creation for the same
// project is resolved by the unique constraint on project_id; the loser gets
// apperrors.ErrConflict and should re-read.
func (r *contextRepository) Create(ctx context.Context, pctx *models.ProjectContext) error {
	if pctx.ID == uuid.Nil {
		pctx.ID = uuid.New()
	}
	if pctx.CurrentPhase == "" {
		pctx.CurrentPhase = "initial"
	}
	pctx.LastUpdated = time.Now()

	query := `
		INSERT INTO project_contexts (id, project_id, current_phase, progress_percentage, last_updated)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (project_id) DO NOTHING`

	tag, err := r.db.Exec(ctx, query,
		pctx.ID,
		pctx.ProjectID,
		pctx.CurrentPhase,
		pctx.ProgressPercentage,
		pctx.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("failed to create project context: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrConflict
	}

	return nil
}

// UpdateState writes the derived phase and percentage in one statement so a
// failed analysis never leaves a partial state.
func (r *contextRepository) UpdateState(ctx context.Context, id uuid.UUID, phase string, progressPercentage int) error {
	query := `
		UPDATE project_contexts
		SET current_phase = $2, progress_percentage = $3, last_updated = NOW()
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, phase, progressPercentage)
	if err != nil {
		return fmt.Errorf("failed to update context state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

// AppendEntry appends one entry to the context log.
func (r *contextRepository) AppendEntry(ctx context.Context, entry *models.ContextEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if entry.Metadata == nil {
		entry.Metadata = models.JSONBMap{}
	}

	query := `
		INSERT INTO context_entries (id, context_id, entry_type, content, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.Exec(ctx, query,
		entry.ID,
		entry.ContextID,
		entry.Type,
		entry.Content,
		entry.Metadata,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append context entry: %w", err)
	}

	_, err = r.db.Exec(ctx, `UPDATE project_contexts SET last_updated = NOW() WHERE id = $1`, entry.ContextID)
	if err != nil {
		return fmt.Errorf("failed to touch context: %w", err)
	}

	return nil
}

// listEntries returns all entries for a context, oldest first.
func (r *contextRepository) listEntries(ctx context.Context, contextID uuid.UUID) ([]models.ContextEntry, error) {
	query := `
		SELECT id, context_id, entry_type, content, metadata, created_at
		FROM context_entries
		WHERE context_id = $1
		ORDER BY created_at, id`

	rows, err := r.db.Query(ctx, query, contextID)
	if err != nil {
		return nil, fmt.Errorf("failed to list context entries: %w", err)
	}
	defer rows.Close()

	var entries []models.ContextEntry
	for rows.Next() {
		var e models.ContextEntry
		if err := rows.Scan(&e.ID, &e.ContextID, &e.Type, &e.Content, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan context entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("context entry rows: %w", err)
	}

	return entries, nil
}
