package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/waypost-ai/waypost-engine/pkg/jsonutil"
	"github.com/waypost-ai/waypost-engine/pkg/llm"
	"github.com/waypost-ai/waypost-engine/pkg/models"
	"github.com/waypost-ai/waypost-engine/pkg/repositories"
	"github.com/waypost-ai/waypost-engine/pkg/search"
)

// persistScoreThreshold is the minimum relevance score a search result
// needs to be stored. Inclusive at the threshold.
const persistScoreThreshold = 5

// summaryBatchSize caps how many unpresented discoveries feed one summary.
const summaryBatchSize = 10

// SearchService orchestrates contextual discovery: query generation, web
// search, relevance scoring, and persistence through the dedup upsert.
type SearchService struct {
	projects       repositories.ProjectRepository
	discoveries    repositories.DiscoveryRepository
	contextService *ContextService
	searcher       search.WebSearcher
	llmClient      llm.LLMClient
	logger         *zap.Logger
}

// NewSearchService creates a search service.
func NewSearchService(
	projects repositories.ProjectRepository,
	discoveries repositories.DiscoveryRepository,
	contextService *ContextService,
	searcher search.WebSearcher,
	llmClient llm.LLMClient,
	logger *zap.Logger,
) *SearchService {
	return &SearchService{
		projects:       projects,
		discoveries:    discoveries,
		contextService: contextService,
		searcher:       searcher,
		llmClient:      llmClient,
		logger:         logger,
	}
}

// PerformProjectSearch runs the full discovery pass for one project:
// contextual queries, one web search per query (a failed query is logged
// and skipped), a relevance score per result (a failed scoring call
// defaults to the midpoint rather than aborting the batch), then
// persistence of everything at or above the score threshold.
func (s *SearchService) PerformProjectSearch(ctx context.Context, project *models.Project) ([]models.Discovery, error) {
	queries, err := s.contextService.GenerateContextualSearchQueries(ctx, project.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to generate search queries: %w", err)
	}

	var results []search.Result
	seen := make(map[string]bool)
	for _, query := range queries {
		hits, err := s.searcher.Search(ctx, query)
		if err != nil {
			s.logger.Warn("Search query failed, skipping",
				zap.String("project_id", project.ID.String()),
				zap.String("query", query),
				zap.Error(err))
			continue
		}
		for _, hit := range hits {
			if hit.URL == "" || seen[hit.URL] {
				continue
			}
			seen[hit.URL] = true
			results = append(results, hit)
		}
	}

	candidates := make([]models.Discovery, 0, len(results))
	for _, result := range results {
		candidates = append(candidates, s.scoreResult(ctx, project, result))
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].RelevanceScore > candidates[j].RelevanceScore
	})

	var persisted []models.Discovery
	for _, candidate := range candidates {
		if candidate.RelevanceScore < persistScoreThreshold {
			continue
		}
		stored, err := s.discoveries.Upsert(ctx, &candidate)
		if err != nil {
			s.logger.Warn("Failed to persist discovery",
				zap.String("source", candidate.Source),
				zap.Error(err))
			continue
		}
		persisted = append(persisted, *stored)
	}

	s.logger.Info("Project search complete",
		zap.String("project_id", project.ID.String()),
		zap.Int("queries", len(queries)),
		zap.Int("results", len(results)),
		zap.Int("persisted", len(persisted)))

	return persisted, nil
}

type scoreResponse struct {
	RelevanceScore json.RawMessage `json:"relevanceScore"`
	Categories     json.RawMessage `json:"categories"`
	Type           json.RawMessage `json:"type"`
}

const scoreSystemMessage = `You rate how relevant a piece of content is to a project. ` +
	`Respond with a single JSON object: {"relevanceScore": 0-10, "categories": ["..."], ` +
	`"type": "Article|Discussion|News|Research|Tool|Other"}. Respond with JSON only.`

// scoreResult asks the backend to rate one raw search result. Any failure
// defaults the score to the midpoint with no categories; a single opaque
// result never sinks the batch.
func (s *SearchService) scoreResult(ctx context.Context, project *models.Project, result search.Result) models.Discovery {
	discovery := models.Discovery{
		ProjectID:      project.ID,
		Title:          result.Title,
		Description:    result.Description,
		Source:         result.URL,
		RelevanceScore: models.DefaultRelevanceScore,
		Categories:     []string{},
		Type:           models.DiscoveryTypeOther,
	}

	prompt := fmt.Sprintf(`Project: %s
Domain: %s
Goals: %s
Interests: %s

Rate this content:
Title: %s
Description: %s
URL: %s`,
		project.Name,
		project.Domain,
		strings.Join(project.Goals, "; "),
		strings.Join(project.Interests, "; "),
		result.Title,
		result.Description,
		result.URL)

	response, err := s.llmClient.GenerateResponse(ctx, prompt, scoreSystemMessage, 0.2)
	if err != nil {
		s.logger.Debug("Relevance scoring failed, using default score",
			zap.String("url", result.URL),
			zap.Error(err))
		return discovery
	}

	parsed, err := llm.ParseJSONResponse[scoreResponse](response)
	if err != nil {
		s.logger.Debug("Relevance scoring returned unparseable JSON, using default score",
			zap.String("url", result.URL),
			zap.Error(err))
		return discovery
	}

	if value, ok := jsonutil.FlexibleIntValue(parsed.RelevanceScore); ok {
		discovery.RelevanceScore = models.ClampRelevanceScore(value)
	}
	if categories := jsonutil.FlexibleStringSlice(parsed.Categories); categories != nil {
		discovery.Categories = categories
	}
	if rawType := jsonutil.FlexibleStringValue(parsed.Type); rawType != "" {
		discovery.Type = models.NormalizeDiscoveryType(rawType)
	}

	return discovery
}

// GenerateProjectSummary synthesizes the project's unpresented discoveries
// into a short narrative. Returns nil with no backend call when nothing is
// waiting. Discoveries are marked presented only after the synthesis call
// succeeds, so a failed call leaves them eligible for the next run.
func (s *SearchService) GenerateProjectSummary(ctx context.Context, project *models.Project) (*string, error) {
	pending, err := s.discoveries.ListByProject(ctx, project.ID, repositories.DiscoveryFilter{
		Unpresented: true,
		Limit:       summaryBatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list unpresented discoveries: %w", err)
	}
	if len(pending) == 0 {
		return nil, nil
	}

	prompt := fmt.Sprintf(`Project: %s (%s)
Goals: %s

Summarize these findings for the user in a few short paragraphs, grouping related items:

%s`,
		project.Name,
		project.Domain,
		strings.Join(project.Goals, "; "),
		formatDiscoveries(pending))

	summary, err := s.llmClient.GenerateResponse(ctx, prompt,
		"You write concise, useful research summaries for a project owner.", 0.6)
	if err != nil {
		return nil, fmt.Errorf("failed to generate summary: %w", err)
	}

	ids := make([]uuid.UUID, len(pending))
	for i, d := range pending {
		ids[i] = d.ID
	}
	if err := s.discoveries.MarkPresented(ctx, ids); err != nil {
		return nil, fmt.Errorf("failed to mark discoveries presented: %w", err)
	}

	s.logger.Info("Generated project summary",
		zap.String("project_id", project.ID.String()),
		zap.Int("discoveries", len(pending)))

	summary = strings.TrimSpace(summary)
	return &summary, nil
}
