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

// DiscoveryFilter narrows discovery queries.
type DiscoveryFilter struct {
	Unpresented   bool // only rows with presented = false
	UsefulOnly    bool // only rows with feedback_useful = true
	NotUsefulOnly bool // only rows with feedback_not_useful = true
	IncludeHidden bool // include rows with hidden = true
	Limit         int  // 0 means no limit
}

// DiscoveryRepository defines the interface for discovery data access.
// Upsert is the single write path for both ingestion pipelines (newsletter
// and search), so the (project_id, source) dedup invariant holds everywhere.
type DiscoveryRepository interface {
	Upsert(ctx context.Context, d *models.Discovery) (*models.Discovery, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Discovery, error)
	ListByProject(ctx context.Context, projectID uuid.UUID, filter DiscoveryFilter) ([]models.Discovery, error)
	MarkPresented(ctx context.Context, ids []uuid.UUID) error
	MarkViewed(ctx context.Context, id uuid.UUID) error
	Hide(ctx context.Context, id uuid.UUID) error
	SetFeedback(ctx context.Context, id uuid.UUID, feedback models.UserFeedback) error
}

type discoveryRepository struct {
	db *database.DB
}

// NewDiscoveryRepository creates a new discovery repository.
func NewDiscoveryRepository(db *database.DB) DiscoveryRepository {
	return &discoveryRepository{db: db}
}

const discoveryColumns = `id, project_id, title, description, source, relevance_score,
	categories, discovery_type, discovered_at, publication_date,
	viewed, hidden, presented, feedback_useful, feedback_not_useful, feedback_notes`

// Upsert inserts a discovery or merges it into the existing record with the
// same (project_id, source): the relevance score is raised only when the
// candidate's is strictly higher, and categories follow the score. Idempotent
// on score ties. Always returns the stored row.
func (r *discoveryRepository) Upsert(ctx context.Context, d *models.Discovery) (*models.Discovery, error) {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.DiscoveredAt.IsZero() {
		d.DiscoveredAt = time.Now()
	}
	if d.Categories == nil {
		d.Categories = []string{}
	}
	if d.Type == "" {
		d.Type = models.DiscoveryTypeOther
	}

	// The atomic find-or-create-or-update: the unique constraint on
	// (project_id, source) makes concurrent same-source writers safe.
	query := `
		INSERT INTO discoveries (id, project_id, title, description, source, relevance_score,
		                         categories, discovery_type, discovered_at, publication_date,
		                         viewed, hidden, presented, feedback_notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, FALSE, FALSE, FALSE, '')
		ON CONFLICT (project_id, source) DO UPDATE
		SET relevance_score = GREATEST(discoveries.relevance_score, EXCLUDED.relevance_score),
		    categories = CASE
		        WHEN EXCLUDED.relevance_score > discoveries.relevance_score THEN EXCLUDED.categories
		        ELSE discoveries.categories
		    END
		RETURNING ` + discoveryColumns

	row := r.db.QueryRow(ctx, query,
		d.ID,
		d.ProjectID,
		d.Title,
		d.Description,
		d.Source,
		d.RelevanceScore,
		d.Categories,
		d.Type,
		d.DiscoveredAt,
		d.PublicationDate,
	)

	stored, err := scanDiscovery(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert discovery: %w", err)
	}

	return stored, nil
}

// Get retrieves a discovery by ID.
func (r *discoveryRepository) Get(ctx context.Context, id uuid.UUID) (*models.Discovery, error) {
	query := `SELECT ` + discoveryColumns + ` FROM discoveries WHERE id = $1`

	d, err := scanDiscovery(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get discovery: %w", err)
	}

	return d, nil
}

// ListByProject returns a project's discoveries ordered by relevance score
// descending, then discovery time descending.
func (r *discoveryRepository) ListByProject(ctx context.Context, projectID uuid.UUID, filter DiscoveryFilter) ([]models.Discovery, error) {
	query := `SELECT ` + discoveryColumns + ` FROM discoveries WHERE project_id = $1`
	if !filter.IncludeHidden {
		query += ` AND NOT hidden`
	}
	if filter.Unpresented {
		query += ` AND NOT presented`
	}
	if filter.UsefulOnly {
		query += ` AND feedback_useful IS TRUE`
	}
	if filter.NotUsefulOnly {
		query += ` AND feedback_not_useful IS TRUE`
	}
	query += ` ORDER BY relevance_score DESC, discovered_at DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}

	rows, err := r.db.Query(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list discoveries: %w", err)
	}
	defer rows.Close()

	var discoveries []models.Discovery
	for rows.Next() {
		d, err := scanDiscovery(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan discovery: %w", err)
		}
		discoveries = append(discoveries, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("discovery rows: %w", err)
	}

	return discoveries, nil
}

// MarkPresented flags the given discoveries as consumed by a summary, as a
// single batch update.
func (r *discoveryRepository) MarkPresented(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}

	_, err := r.db.Exec(ctx, `UPDATE discoveries SET presented = TRUE WHERE id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("failed to mark discoveries presented: %w", err)
	}
	return nil
}

// MarkViewed flags a discovery as seen by the user.
func (r *discoveryRepository) MarkViewed(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `UPDATE discoveries SET viewed = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark discovery viewed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// Hide removes a discovery from default listings without deleting it.
func (r *discoveryRepository) Hide(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `UPDATE discoveries SET hidden = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to hide discovery: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// SetFeedback records user judgement on a discovery.
func (r *discoveryRepository) SetFeedback(ctx context.Context, id uuid.UUID, feedback models.UserFeedback) error {
	query := `
		UPDATE discoveries
		SET feedback_useful = $2, feedback_not_useful = $3, feedback_notes = $4
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, feedback.Useful, feedback.NotUseful, feedback.Notes)
	if err != nil {
		return fmt.Errorf("failed to set discovery feedback: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// scanDiscovery reads one discovery from a row.
func scanDiscovery(row pgx.Row) (*models.Discovery, error) {
	var d models.Discovery
	err := row.Scan(
		&d.ID,
		&d.ProjectID,
		&d.Title,
		&d.Description,
		&d.Source,
		&d.RelevanceScore,
		&d.Categories,
		&d.Type,
		&d.DiscoveredAt,
		&d.PublicationDate,
		&d.Viewed,
		&d.Hidden,
		&d.Presented,
		&d.Feedback.Useful,
		&d.Feedback.NotUseful,
		&d.Feedback.Notes,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
