package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/waypost-ai/waypost-engine/pkg/apperrors"
	"github.com/waypost-ai/waypost-engine/pkg/models"
	"github.com/waypost-ai/waypost-engine/pkg/repositories"
)

// In-memory repository fakes mirroring the PostgreSQL semantics the
// services rely on: dedup upsert, ordered entry log, filtered listing.

type memProjectRepo struct {
	mu         sync.Mutex
	projects   map[uuid.UUID]*models.Project
	milestones map[uuid.UUID][]models.Milestone
}

func newMemProjectRepo() *memProjectRepo {
	return &memProjectRepo{
		projects:   make(map[uuid.UUID]*models.Project),
		milestones: make(map[uuid.UUID][]models.Milestone),
	}
}

func (r *memProjectRepo) Create(_ context.Context, project *models.Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if project.ID == uuid.Nil {
		project.ID = uuid.New()
	}
	if project.Progress == "" {
		project.Progress = models.ProgressNotStarted
	}
	clone := *project
	r.projects[project.ID] = &clone
	return nil
}

func (r *memProjectRepo) Get(_ context.Context, id uuid.UUID) (*models.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	project, ok := r.projects[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	clone := *project
	return &clone, nil
}

func (r *memProjectRepo) List(_ context.Context) ([]models.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var projects []models.Project
	for _, p := range r.projects {
		projects = append(projects, *p)
	}
	sort.Slice(projects, func(i, j int) bool { return projects[i].Name < projects[j].Name })
	return projects, nil
}

func (r *memProjectRepo) UpdateProgress(_ context.Context, id uuid.UUID, progress models.Progress) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	project, ok := r.projects[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	project.Progress = progress
	project.ProgressUpdatedAt = time.Now()
	return nil
}

func (r *memProjectRepo) AddMilestone(_ context.Context, milestone *models.Milestone) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if milestone.ID == uuid.Nil {
		milestone.ID = uuid.New()
	}
	milestone.CreatedAt = time.Now()
	r.milestones[milestone.ProjectID] = append(r.milestones[milestone.ProjectID], *milestone)
	return nil
}

func (r *memProjectRepo) ListMilestones(_ context.Context, projectID uuid.UUID) ([]models.Milestone, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Milestone(nil), r.milestones[projectID]...), nil
}

func (r *memProjectRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.projects[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(r.projects, id)
	return nil
}

type memDiscoveryRepo struct {
	mu          sync.Mutex
	discoveries []*models.Discovery
	upsertErr   error
}

func newMemDiscoveryRepo() *memDiscoveryRepo {
	return &memDiscoveryRepo{}
}

func (r *memDiscoveryRepo) Upsert(_ context.Context, d *models.Discovery) (*models.Discovery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.upsertErr != nil {
		return nil, r.upsertErr
	}

	for _, existing := range r.discoveries {
		if existing.ProjectID == d.ProjectID && existing.Source == d.Source {
			if d.RelevanceScore > existing.RelevanceScore {
				existing.RelevanceScore = d.RelevanceScore
				existing.Categories = d.Categories
			}
			clone := *existing
			return &clone, nil
		}
	}

	clone := *d
	if clone.ID == uuid.Nil {
		clone.ID = uuid.New()
	}
	clone.DiscoveredAt = time.Now()
	r.discoveries = append(r.discoveries, &clone)
	result := clone
	return &result, nil
}

func (r *memDiscoveryRepo) Get(_ context.Context, id uuid.UUID) (*models.Discovery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.discoveries {
		if d.ID == id {
			clone := *d
			return &clone, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r *memDiscoveryRepo) ListByProject(_ context.Context, projectID uuid.UUID, filter repositories.DiscoveryFilter) ([]models.Discovery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []models.Discovery
	for _, d := range r.discoveries {
		if d.ProjectID != projectID {
			continue
		}
		if !filter.IncludeHidden && d.Hidden {
			continue
		}
		if filter.Unpresented && d.Presented {
			continue
		}
		if filter.UsefulOnly && (d.Feedback.Useful == nil || !*d.Feedback.Useful) {
			continue
		}
		if filter.NotUsefulOnly && (d.Feedback.NotUseful == nil || !*d.Feedback.NotUseful) {
			continue
		}
		result = append(result, *d)
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].RelevanceScore > result[j].RelevanceScore
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (r *memDiscoveryRepo) MarkPresented(_ context.Context, ids []uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	wanted := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	for _, d := range r.discoveries {
		if wanted[d.ID] {
			d.Presented = true
		}
	}
	return nil
}

func (r *memDiscoveryRepo) MarkViewed(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.discoveries {
		if d.ID == id {
			d.Viewed = true
			return nil
		}
	}
	return apperrors.ErrNotFound
}

func (r *memDiscoveryRepo) Hide(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.discoveries {
		if d.ID == id {
			d.Hidden = true
			return nil
		}
	}
	return apperrors.ErrNotFound
}

func (r *memDiscoveryRepo) SetFeedback(_ context.Context, id uuid.UUID, feedback models.UserFeedback) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.discoveries {
		if d.ID == id {
			d.Feedback = feedback
			return nil
		}
	}
	return apperrors.ErrNotFound
}

func (r *memDiscoveryRepo) all() []models.Discovery {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]models.Discovery, len(r.discoveries))
	for i, d := range r.discoveries {
		result[i] = *d
	}
	return result
}

type memContextRepo struct {
	mu       sync.Mutex
	contexts map[uuid.UUID]*models.ProjectContext
}

func newMemContextRepo() *memContextRepo {
	return &memContextRepo{contexts: make(map[uuid.UUID]*models.ProjectContext)}
}

func (r *memContextRepo) GetByProject(_ context.Context, projectID uuid.UUID) (*models.ProjectContext, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pctx, ok := r.contexts[projectID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	clone := *pctx
	clone.Entries = append([]models.ContextEntry(nil), pctx.Entries...)
	return &clone, nil
}

func (r *memContextRepo) Create(_ context.Context, pctx *models.ProjectContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.contexts[pctx.ProjectID]; ok {
		return apperrors.ErrConflict
	}
	if pctx.ID == uuid.Nil {
		pctx.ID = uuid.New()
	}
	if pctx.CurrentPhase == "" {
		pctx.CurrentPhase = "initial"
	}
	pctx.LastUpdated = time.Now()
	clone := *pctx
	r.contexts[pctx.ProjectID] = &clone
	return nil
}

func (r *memContextRepo) UpdateState(_ context.Context, id uuid.UUID, phase string, progressPercentage int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, pctx := range r.contexts {
		if pctx.ID == id {
			pctx.CurrentPhase = phase
			pctx.ProgressPercentage = progressPercentage
			pctx.LastUpdated = time.Now()
			return nil
		}
	}
	return apperrors.ErrNotFound
}

func (r *memContextRepo) AppendEntry(_ context.Context, entry *models.ContextEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, pctx := range r.contexts {
		if pctx.ID == entry.ContextID {
			if entry.ID == uuid.Nil {
				entry.ID = uuid.New()
			}
			entry.CreatedAt = time.Now()
			pctx.Entries = append(pctx.Entries, *entry)
			pctx.LastUpdated = entry.CreatedAt
			return nil
		}
	}
	return apperrors.ErrNotFound
}

func (r *memContextRepo) entriesOf(projectID uuid.UUID) []models.ContextEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	pctx, ok := r.contexts[projectID]
	if !ok {
		return nil
	}
	return append([]models.ContextEntry(nil), pctx.Entries...)
}

// stubValidator approves or rejects sources by exact match.
type stubValidator struct {
	rejected map[string]error
}

func (v *stubValidator) Validate(_ context.Context, source string) error {
	if err, ok := v.rejected[source]; ok {
		return err
	}
	return nil
}

type memScheduleRepo struct {
	mu        sync.Mutex
	schedules map[uuid.UUID]*models.Schedule
}

func newMemScheduleRepo() *memScheduleRepo {
	return &memScheduleRepo{schedules: make(map[uuid.UUID]*models.Schedule)}
}

func (r *memScheduleRepo) Create(_ context.Context, schedule *models.Schedule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if schedule.ID == uuid.Nil {
		schedule.ID = uuid.New()
	}
	clone := *schedule
	r.schedules[schedule.ID] = &clone
	return nil
}

func (r *memScheduleRepo) Get(_ context.Context, id uuid.UUID) (*models.Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	schedule, ok := r.schedules[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	clone := *schedule
	return &clone, nil
}

func (r *memScheduleRepo) ListDue(_ context.Context, now time.Time) ([]models.Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []models.Schedule
	for _, schedule := range r.schedules {
		if schedule.Active && !schedule.NextRun.After(now) {
			due = append(due, *schedule)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextRun.Before(due[j].NextRun) })
	return due, nil
}

func (r *memScheduleRepo) MarkRun(_ context.Context, id uuid.UUID, ranAt, nextRun time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	schedule, ok := r.schedules[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	at := ranAt
	schedule.LastRun = &at
	schedule.NextRun = nextRun
	return nil
}

func (r *memScheduleRepo) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	schedule, ok := r.schedules[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	schedule.Active = active
	return nil
}
