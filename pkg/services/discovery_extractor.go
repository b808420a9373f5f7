// Package services contains the discovery pipeline: newsletter ingestion,
// contextual search, the per-project context log, and schedule execution.
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/waypost-ai/waypost-engine/pkg/jsonutil"
	"github.com/waypost-ai/waypost-engine/pkg/llm"
	"github.com/waypost-ai/waypost-engine/pkg/models"
)

// maxContentLength bounds how much raw content goes into one extraction
// prompt. Longer inputs are cut at this point with a marker appended.
const maxContentLength = 15000

const truncationMarker = "\n[content truncated]"

// SourceValidator probes a candidate source URL for reachability.
type SourceValidator interface {
	Validate(ctx context.Context, source string) error
}

// DiscoveryExtractor turns unstructured content into scored discovery
// records via the generative backend. The backend's output is untrusted:
// every field goes through defensive parsing with defaults, and a response
// that fails to parse at all yields zero discoveries rather than an error.
type DiscoveryExtractor struct {
	llmClient llm.LLMClient
	validator SourceValidator
	logger    *zap.Logger
}

// NewDiscoveryExtractor creates an extractor. validator may be nil to skip
// source probing (tests).
func NewDiscoveryExtractor(llmClient llm.LLMClient, validator SourceValidator, logger *zap.Logger) *DiscoveryExtractor {
	return &DiscoveryExtractor{
		llmClient: llmClient,
		validator: validator,
		logger:    logger,
	}
}

// rawDiscovery tolerates the shape drift LLMs produce: numbers as strings,
// single values where arrays belong, fields missing entirely.
type rawDiscovery struct {
	Title          json.RawMessage `json:"title"`
	Description    json.RawMessage `json:"description"`
	Source         json.RawMessage `json:"source"`
	RelevanceScore json.RawMessage `json:"relevanceScore"`
	Type           json.RawMessage `json:"type"`
	Categories     json.RawMessage `json:"categories"`
}

type discoveryListResponse struct {
	Discoveries []rawDiscovery `json:"discoveries"`
}

const extractSystemMessage = `You identify content relevant to a user's project. ` +
	`Respond with a single JSON object of the form ` +
	`{"discoveries": [{"title": "...", "description": "...", "source": "https://...", ` +
	`"relevanceScore": 0-10, "type": "Article|Discussion|News|Research|Tool|Other", "categories": ["..."]}]}. ` +
	`Only include items genuinely relevant to the project. Respond with JSON only, no other text.`

// ExtractDiscoveries sends content plus project framing to the backend and
// parses the structured discovery list out of the response. Candidates with
// an unreachable or malformed source are dropped with a logged reason.
func (e *DiscoveryExtractor) ExtractDiscoveries(ctx context.Context, content string, project *models.Project) []models.Discovery {
	content = TruncateContent(content)

	prompt := fmt.Sprintf(`Project: %s
Domain: %s
Goals: %s
Interests: %s

Analyze the following content and extract items relevant to this project:

%s`,
		project.Name,
		project.Domain,
		strings.Join(project.Goals, "; "),
		strings.Join(project.Interests, "; "),
		content)

	response, err := e.llmClient.GenerateResponse(ctx, prompt, extractSystemMessage, 0.3)
	if err != nil {
		e.logger.Warn("Discovery extraction call failed",
			zap.String("project_id", project.ID.String()),
			zap.Error(err))
		return nil
	}

	parsed, err := llm.ParseJSONResponse[discoveryListResponse](response)
	if err != nil {
		e.logger.Warn("Discovery extraction returned unparseable JSON, continuing with zero results",
			zap.String("project_id", project.ID.String()),
			zap.Error(err))
		return nil
	}

	discoveries := make([]models.Discovery, 0, len(parsed.Discoveries))
	for _, raw := range parsed.Discoveries {
		d, ok := e.buildDiscovery(ctx, project.ID, raw)
		if !ok {
			continue
		}
		discoveries = append(discoveries, d)
	}

	e.logger.Info("Extracted discoveries from content",
		zap.String("project_id", project.ID.String()),
		zap.Int("candidates", len(parsed.Discoveries)),
		zap.Int("kept", len(discoveries)))

	return discoveries
}

// buildDiscovery applies field defaults and the source reachability filter
// to one raw candidate.
func (e *DiscoveryExtractor) buildDiscovery(ctx context.Context, projectID uuid.UUID, raw rawDiscovery) (models.Discovery, bool) {
	title := jsonutil.FlexibleStringValue(raw.Title)
	source := jsonutil.FlexibleStringValue(raw.Source)
	if title == "" || source == "" {
		return models.Discovery{}, false
	}

	score := models.DefaultRelevanceScore
	if value, ok := jsonutil.FlexibleIntValue(raw.RelevanceScore); ok {
		score = models.ClampRelevanceScore(value)
	}

	if e.validator != nil {
		if err := e.validator.Validate(ctx, source); err != nil {
			e.logger.Debug("Dropping discovery with invalid source",
				zap.String("source", source),
				zap.String("reason", err.Error()))
			return models.Discovery{}, false
		}
	}

	categories := jsonutil.FlexibleStringSlice(raw.Categories)
	if categories == nil {
		categories = []string{}
	}

	return models.Discovery{
		ProjectID:      projectID,
		Title:          title,
		Description:    jsonutil.FlexibleStringValue(raw.Description),
		Source:         source,
		RelevanceScore: score,
		Categories:     categories,
		Type:           models.NormalizeDiscoveryType(jsonutil.FlexibleStringValue(raw.Type)),
	}, true
}

// TruncateContent cuts content at the extraction size cap, appending a
// marker so the backend knows the text is incomplete.
func TruncateContent(content string) string {
	if len(content) <= maxContentLength {
		return content
	}
	return content[:maxContentLength] + truncationMarker
}
