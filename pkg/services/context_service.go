package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/waypost-ai/waypost-engine/pkg/apperrors"
	"github.com/waypost-ai/waypost-engine/pkg/jsonutil"
	"github.com/waypost-ai/waypost-engine/pkg/llm"
	"github.com/waypost-ai/waypost-engine/pkg/models"
	"github.com/waypost-ai/waypost-engine/pkg/repositories"
)

// seedQuestion opens every fresh context so there is always a live question.
const seedQuestion = "What are you currently working on for this project, and what would you like to achieve next?"

// milestoneThreshold is the progress-percentage jump that records a
// milestone entry.
const milestoneThreshold = 10

// ContextService maintains the per-project context log and its derived
// phase/progress state. Context mutations for one project are serialized
// through a per-project mutex: the log is append-only and must keep
// issuance order, and the phase update is read-modify-write.
type ContextService struct {
	contexts    repositories.ContextRepository
	projects    repositories.ProjectRepository
	discoveries repositories.DiscoveryRepository
	llmClient   llm.LLMClient
	logger      *zap.Logger

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

// NewContextService creates a context service.
func NewContextService(
	contexts repositories.ContextRepository,
	projects repositories.ProjectRepository,
	discoveries repositories.DiscoveryRepository,
	llmClient llm.LLMClient,
	logger *zap.Logger,
) *ContextService {
	return &ContextService{
		contexts:    contexts,
		projects:    projects,
		discoveries: discoveries,
		llmClient:   llmClient,
		logger:      logger,
	}
}

func (s *ContextService) projectLock(projectID uuid.UUID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locks == nil {
		s.locks = make(map[uuid.UUID]*sync.Mutex)
	}
	lock, ok := s.locks[projectID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[projectID] = lock
	}
	return lock
}

// GetOrCreateContext returns the project's context, lazily creating it with
// a seed question on first access. Idempotent: a creation race resolves to
// the winner's row.
func (s *ContextService) GetOrCreateContext(ctx context.Context, projectID uuid.UUID) (*models.ProjectContext, error) {
	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	return s.getOrCreateLocked(ctx, projectID)
}

func (s *ContextService) getOrCreateLocked(ctx context.Context, projectID uuid.UUID) (*models.ProjectContext, error) {
	pctx, err := s.contexts.GetByProject(ctx, projectID)
	if err == nil {
		return pctx, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}

	pctx = &models.ProjectContext{ProjectID: projectID}
	if err := s.contexts.Create(ctx, pctx); err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			// Lost a creation race with another process; use theirs.
			return s.contexts.GetByProject(ctx, projectID)
		}
		return nil, err
	}

	entry := &models.ContextEntry{
		ContextID: pctx.ID,
		Type:      models.EntryAgentQuestion,
		Content:   seedQuestion,
		Metadata:  models.JSONBMap{"seed": true},
	}
	if err := s.contexts.AppendEntry(ctx, entry); err != nil {
		return nil, err
	}
	pctx.Entries = append(pctx.Entries, *entry)

	s.logger.Info("Created project context",
		zap.String("project_id", projectID.String()))

	return pctx, nil
}

// AddUserUpdate appends a user_update entry and generates a follow-up
// question. Progress is not re-scored for plain updates.
func (s *ContextService) AddUserUpdate(ctx context.Context, projectID uuid.UUID, text string, metadata models.JSONBMap) (*models.ProjectContext, string, error) {
	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	pctx, err := s.getOrCreateLocked(ctx, projectID)
	if err != nil {
		return nil, "", err
	}

	entry := &models.ContextEntry{
		ContextID: pctx.ID,
		Type:      models.EntryUserUpdate,
		Content:   text,
		Metadata:  metadata,
	}
	if err := s.contexts.AppendEntry(ctx, entry); err != nil {
		return nil, "", err
	}
	pctx.Entries = append(pctx.Entries, *entry)

	question, err := s.generateFollowUpLocked(ctx, pctx)
	if err != nil {
		return nil, "", err
	}

	return pctx, question, nil
}

// AddUserResponse records an answer to a question. The target question is
// resolved by exact id, falling back to the most recent agent_question, or
// to a free-standing update when the project has never been asked anything.
// The response then triggers a progress re-score and a fresh follow-up
// question. A failed progress analysis is logged and skipped; the log
// itself is already consistent and the next response re-scores anyway.
func (s *ContextService) AddUserResponse(ctx context.Context, projectID uuid.UUID, questionID *uuid.UUID, text string, metadata models.JSONBMap) (*models.ProjectContext, string, error) {
	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	pctx, err := s.getOrCreateLocked(ctx, projectID)
	if err != nil {
		return nil, "", err
	}

	question := s.resolveQuestion(pctx, questionID)

	entryType := models.EntryUserResponse
	if metadata == nil {
		metadata = models.JSONBMap{}
	}
	if question != nil {
		metadata["question"] = question.Content
		metadata["question_id"] = question.ID.String()
	} else {
		// Never asked anything: record the response as a plain update.
		entryType = models.EntryUserUpdate
	}

	entry := &models.ContextEntry{
		ContextID: pctx.ID,
		Type:      entryType,
		Content:   text,
		Metadata:  metadata,
	}
	if err := s.contexts.AppendEntry(ctx, entry); err != nil {
		return nil, "", err
	}
	pctx.Entries = append(pctx.Entries, *entry)

	if err := s.updateProgressLocked(ctx, pctx, text); err != nil {
		s.logger.Warn("Progress analysis failed, keeping previous state",
			zap.String("project_id", projectID.String()),
			zap.Error(err))
	}

	newQuestion, err := s.generateFollowUpLocked(ctx, pctx)
	if err != nil {
		return nil, "", err
	}

	return pctx, newQuestion, nil
}

// resolveQuestion finds the question a response refers to: exact id first,
// then the most recently asked question.
func (s *ContextService) resolveQuestion(pctx *models.ProjectContext, questionID *uuid.UUID) *models.ContextEntry {
	if questionID != nil {
		if entry := pctx.FindEntry(*questionID); entry != nil && entry.Type == models.EntryAgentQuestion {
			return entry
		}
	}
	return pctx.LastQuestion()
}

type progressAnalysis struct {
	Phase              json.RawMessage `json:"phase"`
	ProgressPercentage json.RawMessage `json:"progressPercentage"`
	Reasoning          json.RawMessage `json:"reasoning"`
}

const progressSystemMessage = `You analyze a project's conversation log and estimate its state. ` +
	`Respond with a single JSON object: {"phase": "initial|planning|development|testing|deployment|maintenance", ` +
	`"progressPercentage": 0-100, "reasoning": "..."}. Respond with JSON only.`

// UpdateProgress re-derives the phase and progress percentage from the
// entry log plus the latest response text. On an unusable backend response
// the context is left untouched and ErrProgressAnalysis is returned.
func (s *ContextService) UpdateProgress(ctx context.Context, projectID uuid.UUID, latestText string) error {
	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	pctx, err := s.getOrCreateLocked(ctx, projectID)
	if err != nil {
		return err
	}
	return s.updateProgressLocked(ctx, pctx, latestText)
}

func (s *ContextService) updateProgressLocked(ctx context.Context, pctx *models.ProjectContext, latestText string) error {
	prompt := fmt.Sprintf(`Current phase: %s
Current progress: %d%%

Conversation log:
%s

Latest response:
%s`,
		pctx.CurrentPhase,
		pctx.ProgressPercentage,
		formatEntries(pctx.Entries),
		latestText)

	response, err := s.llmClient.GenerateResponse(ctx, prompt, progressSystemMessage, 0.2)
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrProgressAnalysis, err)
	}

	parsed, err := llm.ParseJSONResponse[progressAnalysis](response)
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrProgressAnalysis, err)
	}

	phase := jsonutil.FlexibleStringValue(parsed.Phase)
	percentage, ok := jsonutil.FlexibleIntValue(parsed.ProgressPercentage)
	if phase == "" || !ok {
		return fmt.Errorf("%w: response missing phase or percentage", apperrors.ErrProgressAnalysis)
	}
	if percentage < 0 {
		percentage = 0
	}
	if percentage > 100 {
		percentage = 100
	}

	previousPhase := pctx.CurrentPhase
	previousPercentage := pctx.ProgressPercentage

	if err := s.contexts.UpdateState(ctx, pctx.ID, phase, percentage); err != nil {
		return err
	}
	pctx.CurrentPhase = phase
	pctx.ProgressPercentage = percentage

	delta := percentage - previousPercentage
	if delta < 0 {
		delta = -delta
	}
	if delta >= milestoneThreshold {
		entry := &models.ContextEntry{
			ContextID: pctx.ID,
			Type:      models.EntryMilestone,
			Content:   fmt.Sprintf("Progress moved from %d%% to %d%% (%s)", previousPercentage, percentage, phase),
			Metadata: models.JSONBMap{
				"previous_percentage": previousPercentage,
				"new_percentage":      percentage,
				"reasoning":           jsonutil.FlexibleStringValue(parsed.Reasoning),
			},
		}
		if err := s.contexts.AppendEntry(ctx, entry); err != nil {
			return err
		}
		pctx.Entries = append(pctx.Entries, *entry)
	}

	if err := s.syncProject(ctx, pctx.ProjectID, phase, previousPhase, percentage); err != nil {
		s.logger.Warn("Failed to sync project progress",
			zap.String("project_id", pctx.ProjectID.String()),
			zap.Error(err))
	}

	s.logger.Info("Updated project progress",
		zap.String("project_id", pctx.ProjectID.String()),
		zap.String("phase", phase),
		zap.Int("percentage", percentage))

	return nil
}

// syncProject mirrors the derived percentage onto the project's coarse
// progress enum and records one project milestone per distinct phase name.
func (s *ContextService) syncProject(ctx context.Context, projectID uuid.UUID, phase, previousPhase string, percentage int) error {
	if err := s.projects.UpdateProgress(ctx, projectID, models.ProgressFromPercentage(percentage)); err != nil {
		return err
	}

	if strings.EqualFold(phase, previousPhase) {
		return nil
	}

	description := fmt.Sprintf("Entered %s phase", phase)
	milestones, err := s.projects.ListMilestones(ctx, projectID)
	if err != nil {
		return err
	}
	for _, m := range milestones {
		if m.Description == description {
			return nil
		}
	}

	now := time.Now()
	return s.projects.AddMilestone(ctx, &models.Milestone{
		ProjectID:   projectID,
		Description: description,
		Achieved:    true,
		AchievedAt:  &now,
	})
}

// GenerateFollowUpQuestion produces and records the next question to ask
// the user. It never fails to produce a question: any backend failure falls
// back to a static phase-keyed default, which is still appended so the
// project always has a live open question.
func (s *ContextService) GenerateFollowUpQuestion(ctx context.Context, projectID uuid.UUID) (string, error) {
	lock := s.projectLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	pctx, err := s.getOrCreateLocked(ctx, projectID)
	if err != nil {
		return "", err
	}
	return s.generateFollowUpLocked(ctx, pctx)
}

func (s *ContextService) generateFollowUpLocked(ctx context.Context, pctx *models.ProjectContext) (string, error) {
	question := s.askForQuestion(ctx, pctx)
	if question == "" {
		question = fallbackQuestion(pctx.CurrentPhase)
		s.logger.Debug("Using fallback follow-up question",
			zap.String("project_id", pctx.ProjectID.String()),
			zap.String("phase", pctx.CurrentPhase))
	}

	entry := &models.ContextEntry{
		ContextID: pctx.ID,
		Type:      models.EntryAgentQuestion,
		Content:   question,
	}
	if err := s.contexts.AppendEntry(ctx, entry); err != nil {
		return "", err
	}
	pctx.Entries = append(pctx.Entries, *entry)

	return question, nil
}

// askForQuestion builds the follow-up prompt from recent context and
// discovery feedback. Returns "" on any failure.
func (s *ContextService) askForQuestion(ctx context.Context, pctx *models.ProjectContext) string {
	recent, err := s.discoveries.ListByProject(ctx, pctx.ProjectID, repositories.DiscoveryFilter{Limit: 5})
	if err != nil {
		recent = nil
	}
	useful, err := s.discoveries.ListByProject(ctx, pctx.ProjectID, repositories.DiscoveryFilter{UsefulOnly: true, Limit: 5})
	if err != nil {
		useful = nil
	}

	prompt := fmt.Sprintf(`Current phase: %s (progress %d%%)

Recent conversation:
%s

Recent discoveries:
%s

Discoveries the user found useful:
%s

Ask the user one short, specific follow-up question that moves the project forward. Respond with the question text only.`,
		pctx.CurrentPhase,
		pctx.ProgressPercentage,
		formatEntries(pctx.RecentEntries(5)),
		formatDiscoveries(recent),
		formatDiscoveries(useful))

	response, err := s.llmClient.GenerateResponse(ctx, prompt,
		"You are a project assistant keeping track of a user's side projects.", 0.7)
	if err != nil {
		s.logger.Debug("Follow-up question generation failed",
			zap.String("project_id", pctx.ProjectID.String()),
			zap.Error(err))
		return ""
	}

	return strings.TrimSpace(strings.Trim(strings.TrimSpace(response), `"`))
}

// fallbackQuestion picks a static question for the phase so question
// generation survives backend outages.
func fallbackQuestion(phase string) string {
	p := strings.ToLower(phase)
	switch {
	case strings.Contains(p, "initial"), strings.Contains(p, "planning"):
		return "What requirements or goals do you still need to pin down for this project?"
	case strings.Contains(p, "development"), strings.Contains(p, "implementation"):
		return "What challenges are you running into with the current implementation?"
	case strings.Contains(p, "testing"):
		return "How is testing going, and have you found any issues that need attention?"
	case strings.Contains(p, "deployment"), strings.Contains(p, "launch"):
		return "What is your deployment plan, and what remains before launch?"
	case strings.Contains(p, "maintenance"), strings.Contains(p, "completed"):
		return "What outcomes have you seen so far, and is there anything you would improve?"
	default:
		return "What progress have you made recently, and what are you focusing on next?"
	}
}

type queriesResponse struct {
	Queries json.RawMessage `json:"queries"`
}

// GenerateContextualSearchQueries builds up to five search queries from the
// project's metadata, recent context, and discovery feedback. Queries never
// contain date-relative language: a post-generation scrub removes year
// tokens and temporal adjectives regardless of what the backend produced.
func (s *ContextService) GenerateContextualSearchQueries(ctx context.Context, projectID uuid.UUID) ([]string, error) {
	project, err := s.projects.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}

	pctx, err := s.GetOrCreateContext(ctx, projectID)
	if err != nil {
		return nil, err
	}

	useful, _ := s.discoveries.ListByProject(ctx, projectID, repositories.DiscoveryFilter{UsefulOnly: true, Limit: 5})
	notUseful, _ := s.discoveries.ListByProject(ctx, projectID, repositories.DiscoveryFilter{NotUsefulOnly: true, Limit: 5})

	prompt := fmt.Sprintf(`Project: %s
Domain: %s
Goals: %s
Interests: %s
Current phase: %s

Recent conversation:
%s

Discoveries the user found useful:
%s

Discoveries the user marked not useful (avoid similar content):
%s

Generate up to 5 web search queries to find content relevant to this project.
Queries must be timeless: no years, no words like "recent" or "latest".
Respond with a single JSON object: {"queries": ["...", "..."]}.`,
		project.Name,
		project.Domain,
		strings.Join(project.Goals, "; "),
		strings.Join(project.Interests, "; "),
		pctx.CurrentPhase,
		formatEntries(pctx.RecentEntries(5)),
		formatDiscoveries(useful),
		formatDiscoveries(notUseful))

	queries := s.requestQueries(ctx, prompt)
	if len(queries) == 0 {
		queries = defaultQueries(project)
	}

	queries = ScrubTemporalAll(queries)
	if len(queries) > 5 {
		queries = queries[:5]
	}

	s.logger.Debug("Generated search queries",
		zap.String("project_id", projectID.String()),
		zap.Strings("queries", queries))

	return queries, nil
}

func (s *ContextService) requestQueries(ctx context.Context, prompt string) []string {
	response, err := s.llmClient.GenerateResponse(ctx, prompt,
		"You generate web search queries. Respond with JSON only.", 0.5)
	if err != nil {
		s.logger.Debug("Query generation failed, using project metadata", zap.Error(err))
		return nil
	}

	parsed, err := llm.ParseJSONResponse[queriesResponse](response)
	if err != nil {
		s.logger.Debug("Query generation returned unparseable JSON", zap.Error(err))
		return nil
	}

	return jsonutil.FlexibleStringSlice(parsed.Queries)
}

// defaultQueries derives queries directly from project metadata when the
// backend gives nothing usable.
func defaultQueries(project *models.Project) []string {
	var queries []string
	for _, interest := range project.Interests {
		queries = append(queries, strings.TrimSpace(project.Domain+" "+interest))
		if len(queries) == 5 {
			return queries
		}
	}
	for _, goal := range project.Goals {
		queries = append(queries, strings.TrimSpace(project.Domain+" "+goal))
		if len(queries) == 5 {
			return queries
		}
	}
	if len(queries) == 0 && project.Domain != "" {
		queries = append(queries, project.Domain)
	}
	return queries
}

func formatEntries(entries []models.ContextEntry) string {
	if len(entries) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, entry := range entries {
		fmt.Fprintf(&b, "[%s] %s\n", entry.Type, entry.Content)
	}
	return strings.TrimSpace(b.String())
}

func formatDiscoveries(discoveries []models.Discovery) string {
	if len(discoveries) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, d := range discoveries {
		fmt.Fprintf(&b, "- %s (score %d): %s\n", d.Title, d.RelevanceScore, d.Description)
	}
	return strings.TrimSpace(b.String())
}
