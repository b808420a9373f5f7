package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/waypost-ai/waypost-engine/pkg/apperrors"
	"github.com/waypost-ai/waypost-engine/pkg/config"
	"github.com/waypost-ai/waypost-engine/pkg/database"
	"github.com/waypost-ai/waypost-engine/pkg/llm"
	"github.com/waypost-ai/waypost-engine/pkg/logging"
	"github.com/waypost-ai/waypost-engine/pkg/mail"
	"github.com/waypost-ai/waypost-engine/pkg/newsletter"
	"github.com/waypost-ai/waypost-engine/pkg/repositories"
	"github.com/waypost-ai/waypost-engine/pkg/search"
	"github.com/waypost-ai/waypost-engine/pkg/services"
	"github.com/waypost-ai/waypost-engine/pkg/services/workqueue"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("database", cfg.Database.Database),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.Bool("mailbox_enabled", cfg.Mailbox.Enabled),
		zap.Int("tick_seconds", cfg.Scheduler.TickSeconds))

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Engine failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	migrateDB, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		return err
	}
	if err := database.Migrate(migrateDB, cfg.MigrationsPath, logger); err != nil {
		_ = migrateDB.Close()
		return err
	}
	_ = migrateDB.Close()

	db, err := database.Connect(ctx, &cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	projects := repositories.NewProjectRepository(db)
	discoveries := repositories.NewDiscoveryRepository(db)
	contexts := repositories.NewContextRepository(db)
	schedules := repositories.NewScheduleRepository(db)

	llmClient, err := llm.NewClient(&cfg.LLM, logger)
	if err != nil {
		return err
	}

	validator := newsletter.NewSourceValidator(logger)
	extractor := services.NewDiscoveryExtractor(llmClient, validator, logger)
	contextService := services.NewContextService(contexts, projects, discoveries, llmClient, logger)

	searcher := search.NewHTTPSearcher(&cfg.Search, logger)
	searchService := services.NewSearchService(projects, discoveries, contextService, searcher, llmClient, logger)

	queue := workqueue.New(logger)
	scheduleService := services.NewScheduleService(schedules, projects, searchService, contextService, queue, logger)

	var mailboxService *services.MailboxService
	if cfg.Mailbox.Enabled {
		poller := mail.NewPoller(&cfg.Mailbox, nil, logger)
		registry := newsletter.NewRegistry(logger)
		mailboxService = services.NewMailboxService(poller, registry, extractor, projects, discoveries, logger)
	}

	tick := time.Duration(cfg.Scheduler.TickSeconds) * time.Second
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	logger.Info("Engine started", zap.Duration("tick", tick))

	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := queue.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Work queue did not drain before deadline", zap.Error(err))
			}
			return nil
		case now := <-ticker.C:
			runTick(ctx, now, scheduleService, mailboxService, logger)
		}
	}
}

func runTick(
	ctx context.Context,
	now time.Time,
	scheduleService *services.ScheduleService,
	mailboxService *services.MailboxService,
	logger *zap.Logger,
) {
	enqueued, err := scheduleService.RunDue(ctx, now)
	if err != nil {
		logger.Error("Schedule sweep failed", zap.Error(err))
	} else if enqueued > 0 {
		logger.Info("Dispatched scheduled tasks", zap.Int("count", enqueued))
	}

	if mailboxService == nil {
		return
	}

	result, err := mailboxService.CheckMailbox(ctx)
	if err != nil {
		// An unreachable mailbox is reported and retried on the next tick,
		// never inside this one.
		if errors.Is(err, apperrors.ErrMailboxUnavailable) {
			logger.Warn("Mailbox unavailable", zap.String("error", logging.SanitizeError(err)))
		} else {
			logger.Error("Mailbox check failed", zap.String("error", logging.SanitizeError(err)))
		}
		return
	}
	if result.EmailsProcessed > 0 || result.Failures > 0 {
		logger.Info("Mailbox checked",
			zap.Int("emails_processed", result.EmailsProcessed),
			zap.Int("failures", result.Failures))
	}
}
