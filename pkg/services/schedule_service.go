package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/waypost-ai/waypost-engine/pkg/models"
	"github.com/waypost-ai/waypost-engine/pkg/repositories"
	"github.com/waypost-ai/waypost-engine/pkg/services/workqueue"
)

// ScheduleService executes due schedules by handing each one to the work
// queue. The queue's per-project guard means a schedule that is still
// running when the next tick fires is skipped, not doubled.
type ScheduleService struct {
	schedules      repositories.ScheduleRepository
	projects       repositories.ProjectRepository
	searchService  *SearchService
	contextService *ContextService
	queue          *workqueue.Queue
	logger         *zap.Logger
}

// NewScheduleService creates a schedule service.
func NewScheduleService(
	schedules repositories.ScheduleRepository,
	projects repositories.ProjectRepository,
	searchService *SearchService,
	contextService *ContextService,
	queue *workqueue.Queue,
	logger *zap.Logger,
) *ScheduleService {
	return &ScheduleService{
		schedules:      schedules,
		projects:       projects,
		searchService:  searchService,
		contextService: contextService,
		queue:          queue,
		logger:         logger,
	}
}

// RunDue enqueues every schedule whose next_run has passed. A failure on
// one schedule never stops the sweep; the number of enqueued tasks is
// returned.
func (s *ScheduleService) RunDue(ctx context.Context, now time.Time) (int, error) {
	due, err := s.schedules.ListDue(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to list due schedules: %w", err)
	}

	enqueued := 0
	for i := range due {
		schedule := due[i]
		if s.dispatch(ctx, schedule, now) {
			enqueued++
		}
	}

	if len(due) > 0 {
		s.logger.Info("Schedule sweep complete",
			zap.Int("due", len(due)),
			zap.Int("enqueued", enqueued))
	}

	return enqueued, nil
}

func (s *ScheduleService) dispatch(ctx context.Context, schedule models.Schedule, now time.Time) bool {
	project, err := s.projects.Get(ctx, schedule.ProjectID)
	if err != nil {
		s.logger.Warn("Skipping schedule with missing project",
			zap.String("schedule_id", schedule.ID.String()),
			zap.String("project_id", schedule.ProjectID.String()),
			zap.Error(err))
		return false
	}

	task := workqueue.NewFuncTask(
		fmt.Sprintf("%s:%s", schedule.TaskType, project.Name),
		project.ID,
		func(taskCtx context.Context) error {
			return s.runTask(taskCtx, schedule, project)
		},
	)
	if !s.queue.Enqueue(task) {
		return false
	}

	// The slot is claimed: advance next_run so the schedule is not re-listed
	// while the task runs.
	nextRun, err := schedule.Frequency.NextRun(now)
	if err != nil {
		s.logger.Error("Schedule has invalid frequency",
			zap.String("schedule_id", schedule.ID.String()),
			zap.String("frequency", string(schedule.Frequency)),
			zap.Error(err))
		return false
	}
	if err := s.schedules.MarkRun(ctx, schedule.ID, now, nextRun); err != nil {
		s.logger.Error("Failed to advance schedule",
			zap.String("schedule_id", schedule.ID.String()),
			zap.Error(err))
	}

	return true
}

func (s *ScheduleService) runTask(ctx context.Context, schedule models.Schedule, project *models.Project) error {
	switch schedule.TaskType {
	case models.TaskSearch:
		_, err := s.searchService.PerformProjectSearch(ctx, project)
		return err
	case models.TaskSummarize:
		summary, err := s.searchService.GenerateProjectSummary(ctx, project)
		if err != nil {
			return err
		}
		if summary == nil {
			s.logger.Debug("No unpresented discoveries, skipping summary",
				zap.String("project_id", project.ID.String()))
		}
		return nil
	case models.TaskUpdate:
		_, err := s.contextService.GenerateFollowUpQuestion(ctx, project.ID)
		return err
	default:
		return fmt.Errorf("unknown task type %q", schedule.TaskType)
	}
}
