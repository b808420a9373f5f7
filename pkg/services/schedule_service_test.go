package services

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/waypost-ai/waypost-engine/pkg/llm"
	"github.com/waypost-ai/waypost-engine/pkg/models"
	"github.com/waypost-ai/waypost-engine/pkg/search"
	"github.com/waypost-ai/waypost-engine/pkg/services/workqueue"
)

type scheduleFixture struct {
	service   *ScheduleService
	schedules *memScheduleRepo
	projects  *memProjectRepo
	queue     *workqueue.Queue
	llm       *llm.MockLLMClient
	searcher  *search.MockWebSearcher
}

func newScheduleFixture(t *testing.T, mock *llm.MockLLMClient) *scheduleFixture {
	t.Helper()
	schedules := newMemScheduleRepo()
	projects := newMemProjectRepo()
	contexts := newMemContextRepo()
	discoveries := newMemDiscoveryRepo()

	searcher := &search.MockWebSearcher{
		SearchFunc: func(context.Context, string) ([]search.Result, error) {
			return nil, nil
		},
	}

	contextService := NewContextService(contexts, projects, discoveries, mock, zap.NewNop())
	searchService := NewSearchService(projects, discoveries, contextService, searcher, mock, zap.NewNop())
	queue := workqueue.New(zap.NewNop())
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = queue.Shutdown(shutdownCtx)
	})

	return &scheduleFixture{
		service:   NewScheduleService(schedules, projects, searchService, contextService, queue, zap.NewNop()),
		schedules: schedules,
		projects:  projects,
		queue:     queue,
		llm:       mock,
		searcher:  searcher,
	}
}

func dueSchedule(project *models.Project, taskType models.TaskType, due time.Time) *models.Schedule {
	return &models.Schedule{
		ProjectID: project.ID,
		TaskType:  taskType,
		Frequency: models.FrequencyDaily,
		NextRun:   due,
		Active:    true,
	}
}

func waitForQueueIdle(t *testing.T, queue *workqueue.Queue) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if queue.RunningCount() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("queue never drained")
}

func TestRunDue_EnqueuesAndAdvancesSchedule(t *testing.T) {
	mock := &llm.MockLLMClient{
		GenerateResponseFunc: func(_ context.Context, _, systemMessage string, _ float64) (string, error) {
			if strings.Contains(systemMessage, "search queries") {
				return `{"queries": ["esp32 sensors"]}`, nil
			}
			return "a question", nil
		},
	}
	f := newScheduleFixture(t, mock)
	ctx := context.Background()

	project := testProject()
	require.NoError(t, f.projects.Create(ctx, project))

	now := time.Now()
	schedule := dueSchedule(project, models.TaskSearch, now.Add(-time.Minute))
	require.NoError(t, f.schedules.Create(ctx, schedule))

	enqueued, err := f.service.RunDue(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, enqueued)

	stored, err := f.schedules.Get(ctx, schedule.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastRun)
	assert.WithinDuration(t, now, *stored.LastRun, time.Second)
	assert.WithinDuration(t, now.Add(24*time.Hour), stored.NextRun, time.Second)

	waitForQueueIdle(t, f.queue)
	assert.NotEmpty(t, f.searcher.Queries())

	// Advanced past now: a second sweep finds nothing.
	enqueued, err = f.service.RunDue(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, enqueued)
}

func TestRunDue_MissingProjectSkipped(t *testing.T) {
	f := newScheduleFixture(t, &llm.MockLLMClient{})
	ctx := context.Background()

	orphan := dueSchedule(&models.Project{ID: uuid.New()}, models.TaskSearch, time.Now().Add(-time.Minute))
	require.NoError(t, f.schedules.Create(ctx, orphan))

	enqueued, err := f.service.RunDue(ctx, time.Now())
	require.NoError(t, err)
	assert.Zero(t, enqueued)

	// Not advanced: the schedule stays due until its project exists again.
	stored, err := f.schedules.Get(ctx, orphan.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.LastRun)
}

func TestRunDue_BusyProjectNotDoubleDispatched(t *testing.T) {
	release := make(chan struct{})
	var once sync.Once
	mock := &llm.MockLLMClient{
		GenerateResponseFunc: func(ctx context.Context, _, systemMessage string, _ float64) (string, error) {
			if strings.Contains(systemMessage, "search queries") {
				// Hold the first task so the project slot stays occupied.
				select {
				case <-release:
				case <-ctx.Done():
					return "", ctx.Err()
				}
				return `{"queries": []}`, nil
			}
			return "a question", nil
		},
	}
	f := newScheduleFixture(t, mock)
	ctx := context.Background()
	defer once.Do(func() { close(release) })

	project := testProject()
	require.NoError(t, f.projects.Create(ctx, project))

	now := time.Now()
	first := dueSchedule(project, models.TaskSearch, now.Add(-2*time.Minute))
	second := dueSchedule(project, models.TaskUpdate, now.Add(-time.Minute))
	require.NoError(t, f.schedules.Create(ctx, first))
	require.NoError(t, f.schedules.Create(ctx, second))

	enqueued, err := f.service.RunDue(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, enqueued)

	// The loser keeps its original next_run and fires on the next sweep.
	stored, err := f.schedules.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.LastRun)

	once.Do(func() { close(release) })
	waitForQueueIdle(t, f.queue)

	later := now.Add(time.Minute)
	enqueued, err = f.service.RunDue(ctx, later)
	require.NoError(t, err)
	assert.Equal(t, 1, enqueued)
}

func TestRunDue_InactiveScheduleIgnored(t *testing.T) {
	f := newScheduleFixture(t, &llm.MockLLMClient{})
	ctx := context.Background()

	project := testProject()
	require.NoError(t, f.projects.Create(ctx, project))

	schedule := dueSchedule(project, models.TaskSearch, time.Now().Add(-time.Minute))
	schedule.Active = false
	require.NoError(t, f.schedules.Create(ctx, schedule))

	enqueued, err := f.service.RunDue(ctx, time.Now())
	require.NoError(t, err)
	assert.Zero(t, enqueued)
}

func TestRunDue_SummarizeWithNothingPendingSucceeds(t *testing.T) {
	mock := &llm.MockLLMClient{}
	f := newScheduleFixture(t, mock)
	ctx := context.Background()

	project := testProject()
	require.NoError(t, f.projects.Create(ctx, project))

	schedule := dueSchedule(project, models.TaskSummarize, time.Now().Add(-time.Minute))
	require.NoError(t, f.schedules.Create(ctx, schedule))

	enqueued, err := f.service.RunDue(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, enqueued)

	waitForQueueIdle(t, f.queue)
	assert.Zero(t, mock.CallCount())
}
