package scheduler

import (
	"context"
	"time"

	"futures-rollover-bot/internal/catalog"
	"futures-rollover-bot/internal/config"
	"futures-rollover-bot/internal/credentials"
	"futures-rollover-bot/internal/queue"
	"futures-rollover-bot/internal/registry"
	"github.com/adhocore/gronx"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Scheduler drives the periodic sweeps: daily access-token refresh, daily
// symbol-master ingestion with expired-instrument cleanup, the per-minute
// rollover-due check and hourly job pruning. Each sweep is a cron expression
// evaluated once a minute.
type Scheduler struct {
	cfg         *config.Config
	queue       *queue.Queue
	registry    *registry.Registry
	credentials *credentials.Store
	catalog     *catalog.Catalog
	httpClient  *resty.Client
	logger      *zap.Logger
	gron        *gronx.Gronx
}

// NewScheduler creates a scheduler over the given collaborators.
func NewScheduler(cfg *config.Config, q *queue.Queue, reg *registry.Registry, creds *credentials.Store, cat *catalog.Catalog, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cfg:         cfg,
		queue:       q,
		registry:    reg,
		credentials: creds,
		catalog:     cat,
		httpClient: resty.New().
			SetTimeout(time.Duration(cfg.Fyers.RequestTimeoutSec) * time.Second),
		logger: logger.Named("scheduler"),
		gron:   gronx.New(),
	}
}

// Run blocks, evaluating the cron entries every minute until ctx is
// cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("Scheduler started")
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped")
			return
		case now := <-ticker.C:
			s.dispatch(ctx, now)
		}
	}
}

func (s *Scheduler) dispatch(ctx context.Context, now time.Time) {
	s.runIfDue(s.cfg.Scheduler.RolloverSweepCron, now, func() { s.sweepRollovers(now) })
	s.runIfDue(s.cfg.Scheduler.TokenRefreshCron, now, func() { s.credentials.RefreshAll(ctx) })
	s.runIfDue(s.cfg.Scheduler.IngestionCron, now, func() { s.ingest(ctx, now) })
	s.runIfDue(s.cfg.Scheduler.JobPruneCron, now, func() {
		if err := s.queue.Prune(); err != nil {
			s.logger.Error("Job pruning failed", zap.Error(err))
		}
	})
}

func (s *Scheduler) runIfDue(expr string, now time.Time, fn func()) {
	due, err := s.gron.IsDue(expr, now)
	if err != nil {
		s.logger.Error("Invalid cron expression", zap.String("expr", expr), zap.Error(err))
		return
	}
	if due {
		go fn()
	}
}

// sweepRollovers enqueues a rollover for every running strategy whose
// rollover date has arrived, skipping strategies that already have one
// queued or in flight.
func (s *Scheduler) sweepRollovers(now time.Time) {
	due, err := s.registry.ListRolloverDue(now)
	if err != nil {
		s.logger.Error("Rollover sweep failed", zap.Error(err))
		return
	}

	for _, strategy := range due {
		queued, err := s.queue.HasQueuedRollover(strategy.ID)
		if err != nil {
			s.logger.Error("Rollover dedup check failed",
				zap.Uint("strategy_id", strategy.ID), zap.Error(err))
			continue
		}
		if queued {
			continue
		}

		jobID, err := s.queue.EnqueueRollover(strategy.ID, strategy.InstrumentID)
		if err != nil {
			s.logger.Error("Failed to enqueue due rollover",
				zap.Uint("strategy_id", strategy.ID), zap.Error(err))
			continue
		}
		s.logger.Info("Rollover due, job enqueued",
			zap.Uint("strategy_id", strategy.ID),
			zap.String("name", strategy.Name),
			zap.String("job_id", jobID))
	}
}

func (s *Scheduler) ingest(ctx context.Context, now time.Time) {
	if len(s.cfg.Fyers.SymbolMasterURLs) == 0 {
		return
	}
	if err := s.catalog.Ingest(ctx, s.httpClient, s.cfg.Fyers.SymbolMasterURLs); err != nil {
		s.logger.Error("Symbol master ingestion failed", zap.Error(err))
	}
	if _, err := s.catalog.CleanupExpired(now); err != nil {
		s.logger.Error("Expired instrument cleanup failed", zap.Error(err))
	}
}
