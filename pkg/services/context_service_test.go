package services

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/waypost-ai/waypost-engine/pkg/apperrors"
	"github.com/waypost-ai/waypost-engine/pkg/llm"
	"github.com/waypost-ai/waypost-engine/pkg/models"
)

type contextFixture struct {
	service     *ContextService
	projects    *memProjectRepo
	contexts    *memContextRepo
	discoveries *memDiscoveryRepo
	llm         *llm.MockLLMClient
	project     *models.Project
}

func newContextFixture(t *testing.T, mock *llm.MockLLMClient) *contextFixture {
	t.Helper()
	projects := newMemProjectRepo()
	contexts := newMemContextRepo()
	discoveries := newMemDiscoveryRepo()

	project := testProject()
	require.NoError(t, projects.Create(context.Background(), project))

	return &contextFixture{
		service:     NewContextService(contexts, projects, discoveries, mock, zap.NewNop()),
		projects:    projects,
		contexts:    contexts,
		discoveries: discoveries,
		llm:         mock,
		project:     project,
	}
}

func entriesOfType(entries []models.ContextEntry, entryType models.ContextEntryType) []models.ContextEntry {
	var result []models.ContextEntry
	for _, e := range entries {
		if e.Type == entryType {
			result = append(result, e)
		}
	}
	return result
}

func TestGetOrCreateContext_SeedsQuestion(t *testing.T) {
	f := newContextFixture(t, &llm.MockLLMClient{})
	ctx := context.Background()

	pctx, err := f.service.GetOrCreateContext(ctx, f.project.ID)
	require.NoError(t, err)
	assert.Equal(t, "initial", pctx.CurrentPhase)
	require.Len(t, pctx.Entries, 1)
	assert.Equal(t, models.EntryAgentQuestion, pctx.Entries[0].Type)
	assert.Equal(t, seedQuestion, pctx.Entries[0].Content)

	// Second call reuses the existing context; no second seed question.
	again, err := f.service.GetOrCreateContext(ctx, f.project.ID)
	require.NoError(t, err)
	assert.Equal(t, pctx.ID, again.ID)
	assert.Len(t, again.Entries, 1)
}

func TestAddUserUpdate_AppendsAndAsksFollowUp(t *testing.T) {
	mock := &llm.MockLLMClient{
		GenerateResponseFunc: func(context.Context, string, string, float64) (string, error) {
			return "What sensor are you planning to add next?", nil
		},
	}
	f := newContextFixture(t, mock)

	pctx, question, err := f.service.AddUserUpdate(context.Background(), f.project.ID,
		"Wired up the first temperature sensor", models.JSONBMap{"via": "cli"})
	require.NoError(t, err)
	assert.Equal(t, "What sensor are you planning to add next?", question)

	entries := f.contexts.entriesOf(f.project.ID)
	require.Len(t, entries, 3) // seed question, update, follow-up
	assert.Equal(t, models.EntryUserUpdate, entries[1].Type)
	assert.Equal(t, models.EntryAgentQuestion, entries[2].Type)
	assert.Equal(t, question, entries[2].Content)
	assert.Equal(t, pctx.Entries[len(pctx.Entries)-1].Content, question)
}

func progressThenQuestion(phase string, percentage int, question string) func(context.Context, string, string, float64) (string, error) {
	return func(_ context.Context, _ string, systemMessage string, _ float64) (string, error) {
		if strings.Contains(systemMessage, "progressPercentage") {
			return `{"phase": "` + phase + `", "progressPercentage": ` + strconv.Itoa(percentage) + `, "reasoning": "test"}`, nil
		}
		return question, nil
	}
}

func TestAddUserResponse_ResolvesExactQuestion(t *testing.T) {
	mock := &llm.MockLLMClient{
		GenerateResponseFunc: progressThenQuestion("development", 30, "How far along is the enclosure?"),
	}
	f := newContextFixture(t, mock)
	ctx := context.Background()

	pctx, err := f.service.GetOrCreateContext(ctx, f.project.ID)
	require.NoError(t, err)
	questionID := pctx.Entries[0].ID

	_, newQuestion, err := f.service.AddUserResponse(ctx, f.project.ID, &questionID,
		"I finished the sensor wiring", nil)
	require.NoError(t, err)
	assert.Equal(t, "How far along is the enclosure?", newQuestion)

	entries := f.contexts.entriesOf(f.project.ID)
	responses := entriesOfType(entries, models.EntryUserResponse)
	require.Len(t, responses, 1)
	assert.Equal(t, seedQuestion, responses[0].Metadata["question"])
	assert.Equal(t, questionID.String(), responses[0].Metadata["question_id"])
}

func TestAddUserResponse_UnknownIDFallsBackToLastQuestion(t *testing.T) {
	mock := &llm.MockLLMClient{
		GenerateResponseFunc: progressThenQuestion("development", 30, "Next question?"),
	}
	f := newContextFixture(t, mock)
	ctx := context.Background()

	_, err := f.service.GetOrCreateContext(ctx, f.project.ID)
	require.NoError(t, err)

	bogusID := uuid.New()
	_, _, err = f.service.AddUserResponse(ctx, f.project.ID, &bogusID, "an answer", nil)
	require.NoError(t, err)

	responses := entriesOfType(f.contexts.entriesOf(f.project.ID), models.EntryUserResponse)
	require.Len(t, responses, 1)
	assert.Equal(t, seedQuestion, responses[0].Metadata["question"])
}

func TestAddUserResponse_NoQuestionsBecomesUpdate(t *testing.T) {
	mock := &llm.MockLLMClient{
		GenerateResponseFunc: progressThenQuestion("planning", 10, "What next?"),
	}
	f := newContextFixture(t, mock)
	ctx := context.Background()

	// Create a context with no seed question to simulate a legacy row.
	pctx := &models.ProjectContext{ProjectID: f.project.ID}
	require.NoError(t, f.contexts.Create(ctx, pctx))

	_, question, err := f.service.AddUserResponse(ctx, f.project.ID, nil, "working on plans", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, question)

	entries := f.contexts.entriesOf(f.project.ID)
	assert.Empty(t, entriesOfType(entries, models.EntryUserResponse))
	updates := entriesOfType(entries, models.EntryUserUpdate)
	require.Len(t, updates, 1)
	assert.NotContains(t, updates[0].Metadata, "question")
}

func TestUpdateProgress_MilestoneAndProjectSync(t *testing.T) {
	mock := &llm.MockLLMClient{
		GenerateResponseFunc: progressThenQuestion("development", 45, "ignored"),
	}
	f := newContextFixture(t, mock)
	ctx := context.Background()

	_, err := f.service.GetOrCreateContext(ctx, f.project.ID)
	require.NoError(t, err)

	require.NoError(t, f.service.UpdateProgress(ctx, f.project.ID, "built the main loop"))

	pctx, err := f.contexts.GetByProject(ctx, f.project.ID)
	require.NoError(t, err)
	assert.Equal(t, "development", pctx.CurrentPhase)
	assert.Equal(t, 45, pctx.ProgressPercentage)

	// Jump of 45 points records a milestone entry.
	milestoneEntries := entriesOfType(pctx.Entries, models.EntryMilestone)
	require.Len(t, milestoneEntries, 1)

	// The coarse project enum follows the percentage.
	project, err := f.projects.Get(ctx, f.project.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProgressInProgress, project.Progress)

	// One project milestone per distinct phase name.
	milestones, err := f.projects.ListMilestones(ctx, f.project.ID)
	require.NoError(t, err)
	require.Len(t, milestones, 1)
	assert.Equal(t, "Entered development phase", milestones[0].Description)

	// Same phase again: no duplicate project milestone.
	require.NoError(t, f.service.UpdateProgress(ctx, f.project.ID, "more of the same"))
	milestones, err = f.projects.ListMilestones(ctx, f.project.ID)
	require.NoError(t, err)
	assert.Len(t, milestones, 1)
}

func TestUpdateProgress_SmallDeltaNoMilestone(t *testing.T) {
	mock := &llm.MockLLMClient{
		GenerateResponseFunc: progressThenQuestion("development", 5, "ignored"),
	}
	f := newContextFixture(t, mock)
	ctx := context.Background()

	_, err := f.service.GetOrCreateContext(ctx, f.project.ID)
	require.NoError(t, err)
	require.NoError(t, f.service.UpdateProgress(ctx, f.project.ID, "small step"))

	pctx, err := f.contexts.GetByProject(ctx, f.project.ID)
	require.NoError(t, err)
	assert.Empty(t, entriesOfType(pctx.Entries, models.EntryMilestone))
}

func TestUpdateProgress_CompletedAtHundred(t *testing.T) {
	mock := &llm.MockLLMClient{
		GenerateResponseFunc: progressThenQuestion("completed", 100, "ignored"),
	}
	f := newContextFixture(t, mock)
	ctx := context.Background()

	require.NoError(t, f.service.UpdateProgress(ctx, f.project.ID, "shipped it"))

	project, err := f.projects.Get(ctx, f.project.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ProgressCompleted, project.Progress)
}

func TestUpdateProgress_UnparseableResponseFails(t *testing.T) {
	mock := &llm.MockLLMClient{
		GenerateResponseFunc: func(context.Context, string, string, float64) (string, error) {
			return "no json here", nil
		},
	}
	f := newContextFixture(t, mock)
	ctx := context.Background()

	pctx, err := f.service.GetOrCreateContext(ctx, f.project.ID)
	require.NoError(t, err)

	err = f.service.UpdateProgress(ctx, f.project.ID, "some text")
	assert.ErrorIs(t, err, apperrors.ErrProgressAnalysis)

	// No partial state write.
	after, err := f.contexts.GetByProject(ctx, f.project.ID)
	require.NoError(t, err)
	assert.Equal(t, pctx.CurrentPhase, after.CurrentPhase)
	assert.Equal(t, pctx.ProgressPercentage, after.ProgressPercentage)
}

func TestAddUserResponse_SurvivesProgressFailure(t *testing.T) {
	mock := &llm.MockLLMClient{
		GenerateResponseFunc: func(_ context.Context, _ string, systemMessage string, _ float64) (string, error) {
			if strings.Contains(systemMessage, "progressPercentage") {
				return "", errors.New("backend down")
			}
			return "Still a question", nil
		},
	}
	f := newContextFixture(t, mock)

	_, question, err := f.service.AddUserResponse(context.Background(), f.project.ID, nil, "answer", nil)
	require.NoError(t, err)
	assert.Equal(t, "Still a question", question)
}

func TestGenerateFollowUpQuestion_FallbackOnBackendFailure(t *testing.T) {
	mock := &llm.MockLLMClient{
		GenerateResponseFunc: func(context.Context, string, string, float64) (string, error) {
			return "", errors.New("backend down")
		},
	}
	f := newContextFixture(t, mock)
	ctx := context.Background()

	_, err := f.service.GetOrCreateContext(ctx, f.project.ID)
	require.NoError(t, err)
	before := len(f.contexts.entriesOf(f.project.ID))

	question, err := f.service.GenerateFollowUpQuestion(ctx, f.project.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, question)
	assert.Equal(t, fallbackQuestion("initial"), question)

	entries := f.contexts.entriesOf(f.project.ID)
	assert.Len(t, entries, before+1)
	assert.Equal(t, models.EntryAgentQuestion, entries[len(entries)-1].Type)
}

func TestFallbackQuestion_PhaseKeyed(t *testing.T) {
	assert.Contains(t, fallbackQuestion("initial"), "requirements")
	assert.Contains(t, fallbackQuestion("Planning the MVP"), "requirements")
	assert.Contains(t, fallbackQuestion("development"), "challenges")
	assert.Contains(t, fallbackQuestion("implementation sprint"), "challenges")
	assert.Contains(t, fallbackQuestion("testing"), "testing")
	assert.Contains(t, fallbackQuestion("deployment"), "deployment")
	assert.Contains(t, fallbackQuestion("maintenance"), "outcomes")
	assert.Contains(t, fallbackQuestion("somewhere strange"), "progress")
}

func TestGenerateContextualSearchQueries_ScrubsBannedTokens(t *testing.T) {
	mock := &llm.MockLLMClient{
		GenerateResponseFunc: func(_ context.Context, _ string, systemMessage string, _ float64) (string, error) {
			if strings.Contains(systemMessage, "search queries") {
				return `{"queries": ["latest esp32 sensors 2025", "recent low-power designs", "esp32 deep sleep tuning"]}`, nil
			}
			return "q", nil
		},
	}
	f := newContextFixture(t, mock)

	queries, err := f.service.GenerateContextualSearchQueries(context.Background(), f.project.ID)
	require.NoError(t, err)
	require.NotEmpty(t, queries)
	assert.LessOrEqual(t, len(queries), 5)

	for _, query := range queries {
		lower := strings.ToLower(query)
		assert.NotRegexp(t, `\b\d{4}\b`, query)
		for _, banned := range []string{"recent", "latest", "new", "current", "today", "upcoming", "modern", "emerging"} {
			assert.NotContains(t, strings.Fields(lower), banned, "query %q", query)
		}
	}
	assert.Contains(t, queries, "esp32 deep sleep tuning")
}

func TestGenerateContextualSearchQueries_FeedbackShapesPrompt(t *testing.T) {
	var queryPrompt string
	mock := &llm.MockLLMClient{
		GenerateResponseFunc: func(_ context.Context, prompt string, systemMessage string, _ float64) (string, error) {
			if strings.Contains(systemMessage, "search queries") {
				queryPrompt = prompt
				return `{"queries": ["esp32 power profiling"]}`, nil
			}
			return "ok", nil
		},
	}
	f := newContextFixture(t, mock)
	ctx := context.Background()

	liked, err := f.discoveries.Upsert(ctx, &models.Discovery{
		ProjectID: f.project.ID, Title: "Deep sleep current draw guide",
		Source: "https://example.com/sleep", RelevanceScore: 8,
	})
	require.NoError(t, err)
	disliked, err := f.discoveries.Upsert(ctx, &models.Discovery{
		ProjectID: f.project.ID, Title: "Smart fridge unboxing video",
		Source: "https://example.com/fridge", RelevanceScore: 4,
	})
	require.NoError(t, err)

	yes := true
	require.NoError(t, f.discoveries.SetFeedback(ctx, liked.ID, models.UserFeedback{Useful: &yes}))
	require.NoError(t, f.discoveries.SetFeedback(ctx, disliked.ID, models.UserFeedback{NotUseful: &yes}))

	_, err = f.service.GenerateContextualSearchQueries(ctx, f.project.ID)
	require.NoError(t, err)

	require.NotEmpty(t, queryPrompt)
	assert.Contains(t, queryPrompt, "Deep sleep current draw guide")
	assert.Contains(t, queryPrompt, "Smart fridge unboxing video")
	usefulSection := strings.Index(queryPrompt, "found useful")
	avoidSection := strings.Index(queryPrompt, "avoid similar content")
	require.Greater(t, avoidSection, usefulSection)
	assert.Greater(t, strings.Index(queryPrompt, "Smart fridge unboxing video"), avoidSection)
}

func TestGenerateContextualSearchQueries_FallbackFromMetadata(t *testing.T) {
	mock := &llm.MockLLMClient{
		GenerateResponseFunc: func(context.Context, string, string, float64) (string, error) {
			return "", errors.New("backend down")
		},
	}
	f := newContextFixture(t, mock)

	queries, err := f.service.GenerateContextualSearchQueries(context.Background(), f.project.ID)
	require.NoError(t, err)
	require.NotEmpty(t, queries)
	assert.Contains(t, queries, "iot esp32")
}
