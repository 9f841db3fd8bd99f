package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"futures-rollover-bot/internal/config"
	"futures-rollover-bot/internal/models"
	"go.uber.org/zap"
)

// Handler executes one claimed job to completion. Returning a plain error
// triggers retry with backoff; an error wrapped with Permanent fails the job
// immediately.
type Handler func(ctx context.Context, job *models.Job) error

// Pool runs fixed-size worker sets per job kind against one queue. Workers
// execute handlers serially; per-strategy exclusion is enforced here because
// the trade and rollover worker sets are otherwise independent.
type Pool struct {
	queue    *Queue
	cfg      *config.Queue
	logger   *zap.Logger
	locks    *StrategyLocks
	handlers map[string]Handler
}

// NewPool creates a worker pool over the given queue.
func NewPool(q *Queue, cfg *config.Queue, locks *StrategyLocks, logger *zap.Logger) *Pool {
	return &Pool{
		queue:    q,
		cfg:      cfg,
		logger:   logger.Named("worker"),
		locks:    locks,
		handlers: make(map[string]Handler),
	}
}

// Register binds a handler to a job kind. Must be called before Run.
func (p *Pool) Register(kind string, handler Handler) {
	p.handlers[kind] = handler
}

// Run starts the workers and blocks until ctx is cancelled and all in-flight
// jobs have finished.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup

	start := func(kind string, count int) {
		for i := 0; i < count; i++ {
			wg.Add(1)
			go func(worker int) {
				defer wg.Done()
				p.workerLoop(ctx, kind, worker)
			}(i)
		}
	}

	start(models.JobKindTrade, p.cfg.TradeWorkers)
	start(models.JobKindRollover, p.cfg.RolloverWorkers)

	p.logger.Info("Worker pool started",
		zap.Int("trade_workers", p.cfg.TradeWorkers),
		zap.Int("rollover_workers", p.cfg.RolloverWorkers))

	wg.Wait()
	p.logger.Info("Worker pool stopped")
}

func (p *Pool) workerLoop(ctx context.Context, kind string, worker int) {
	l := p.logger.With(zap.String("kind", kind), zap.Int("worker", worker))
	interval := time.Duration(p.cfg.PollIntervalMs) * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := p.queue.Claim(kind)
		if err != nil {
			l.Error("Claim failed", zap.Error(err))
		}
		if job == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(interval):
			}
			continue
		}

		p.execute(ctx, job, l)
	}
}

// execute runs one job under the strategy lock, converting panics into failed
// jobs so a single bad job never takes down the worker.
func (p *Pool) execute(ctx context.Context, job *models.Job, l *zap.Logger) {
	handler, ok := p.handlers[job.Kind]
	if !ok {
		_ = p.queue.Fail(job, Permanent(fmt.Errorf("no handler registered for kind %q", job.Kind)))
		return
	}

	p.locks.Lock(job.StrategyID)
	defer p.locks.Unlock(job.StrategyID)

	var handlerErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				handlerErr = Permanent(fmt.Errorf("handler panicked: %v", r))
				l.Error("Handler panic recovered",
					zap.String("job_id", job.ID), zap.Any("panic", r))
			}
		}()
		handlerErr = handler(ctx, job)
	}()

	if handlerErr != nil {
		if err := p.queue.Fail(job, handlerErr); err != nil {
			l.Error("Failed to record job failure", zap.Error(err))
		}
		return
	}
	if err := p.queue.Complete(job); err != nil {
		l.Error("Failed to record job completion", zap.Error(err))
	}
}
