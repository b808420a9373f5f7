package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/waypost-ai/waypost-engine/pkg/llm"
	"github.com/waypost-ai/waypost-engine/pkg/models"
	"github.com/waypost-ai/waypost-engine/pkg/newsletter"
)

func testProject() *models.Project {
	return &models.Project{
		ID:        uuid.New(),
		Name:      "Birdhouse Monitor",
		Domain:    "iot",
		Goals:     []string{"monitor nesting activity"},
		Interests: []string{"esp32", "low-power sensors"},
	}
}

func TestExtractDiscoveries_ParsesAndDefaults(t *testing.T) {
	mock := &llm.MockLLMClient{
		GenerateResponseFunc: func(context.Context, string, string, float64) (string, error) {
			return `{"discoveries": [
				{"title": "ESP32 deep sleep guide", "description": "Power tuning", "source": "https://example.com/sleep", "relevanceScore": 8, "type": "Article", "categories": ["power"]},
				{"title": "Stringly scored", "source": "https://example.com/str", "relevanceScore": "7"},
				{"title": "Out of range", "source": "https://example.com/oor", "relevanceScore": 42, "type": "Sculpture"}
			]}`, nil
		},
	}
	extractor := NewDiscoveryExtractor(mock, nil, zap.NewNop())

	discoveries := extractor.ExtractDiscoveries(context.Background(), "newsletter text", testProject())
	require.Len(t, discoveries, 3)

	assert.Equal(t, 8, discoveries[0].RelevanceScore)
	assert.Equal(t, models.DiscoveryTypeArticle, discoveries[0].Type)
	assert.Equal(t, []string{"power"}, discoveries[0].Categories)

	// A quoted number still parses.
	assert.Equal(t, 7, discoveries[1].RelevanceScore)
	assert.Equal(t, models.DiscoveryTypeOther, discoveries[1].Type)
	assert.Empty(t, discoveries[1].Categories)

	// Out-of-range score falls back to the default; unknown type maps to Other.
	assert.Equal(t, models.DefaultRelevanceScore, discoveries[2].RelevanceScore)
	assert.Equal(t, models.DiscoveryTypeOther, discoveries[2].Type)
}

func TestExtractDiscoveries_UnparseableResponseYieldsNothing(t *testing.T) {
	mock := &llm.MockLLMClient{
		GenerateResponseFunc: func(context.Context, string, string, float64) (string, error) {
			return "I could not find anything relevant, sorry!", nil
		},
	}
	extractor := NewDiscoveryExtractor(mock, nil, zap.NewNop())

	discoveries := extractor.ExtractDiscoveries(context.Background(), "content", testProject())
	assert.Empty(t, discoveries)
}

func TestExtractDiscoveries_BackendErrorYieldsNothing(t *testing.T) {
	mock := &llm.MockLLMClient{
		GenerateResponseFunc: func(context.Context, string, string, float64) (string, error) {
			return "", errors.New("backend down")
		},
	}
	extractor := NewDiscoveryExtractor(mock, nil, zap.NewNop())

	discoveries := extractor.ExtractDiscoveries(context.Background(), "content", testProject())
	assert.Empty(t, discoveries)
}

func TestExtractDiscoveries_InvalidSourceDropped(t *testing.T) {
	mock := &llm.MockLLMClient{
		GenerateResponseFunc: func(context.Context, string, string, float64) (string, error) {
			return `{"discoveries": [
				{"title": "Alive", "source": "https://example.com/alive", "relevanceScore": 6},
				{"title": "Dead", "source": "https://example.com/dead", "relevanceScore": 9}
			]}`, nil
		},
	}
	validator := &stubValidator{rejected: map[string]error{
		"https://example.com/dead": newsletter.ErrSourceUnavailable,
	}}
	extractor := NewDiscoveryExtractor(mock, validator, zap.NewNop())

	discoveries := extractor.ExtractDiscoveries(context.Background(), "content", testProject())
	require.Len(t, discoveries, 1)
	assert.Equal(t, "Alive", discoveries[0].Title)
}

func TestExtractDiscoveries_MissingTitleOrSourceSkipped(t *testing.T) {
	mock := &llm.MockLLMClient{
		GenerateResponseFunc: func(context.Context, string, string, float64) (string, error) {
			return `{"discoveries": [
				{"description": "no title", "source": "https://example.com/x"},
				{"title": "no source"},
				{"title": "kept", "source": "https://example.com/kept"}
			]}`, nil
		},
	}
	extractor := NewDiscoveryExtractor(mock, nil, zap.NewNop())

	discoveries := extractor.ExtractDiscoveries(context.Background(), "content", testProject())
	require.Len(t, discoveries, 1)
	assert.Equal(t, "kept", discoveries[0].Title)
}

func TestExtractDiscoveries_TruncatesLongContent(t *testing.T) {
	var seenPrompt string
	mock := &llm.MockLLMClient{
		GenerateResponseFunc: func(_ context.Context, prompt, _ string, _ float64) (string, error) {
			seenPrompt = prompt
			return `{"discoveries": []}`, nil
		},
	}
	extractor := NewDiscoveryExtractor(mock, nil, zap.NewNop())

	long := strings.Repeat("x", maxContentLength+500)
	extractor.ExtractDiscoveries(context.Background(), long, testProject())

	assert.Contains(t, seenPrompt, truncationMarker)
	assert.NotContains(t, seenPrompt, strings.Repeat("x", maxContentLength+1))
}

func TestTruncateContent(t *testing.T) {
	short := "short content"
	assert.Equal(t, short, TruncateContent(short))

	long := strings.Repeat("a", maxContentLength+100)
	truncated := TruncateContent(long)
	assert.Len(t, truncated, maxContentLength+len(truncationMarker))
	assert.True(t, strings.HasSuffix(truncated, truncationMarker))
}
