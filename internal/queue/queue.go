package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"futures-rollover-bot/internal/config"
	"futures-rollover-bot/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrJobNotFound is returned when a job id is unknown (possibly pruned).
var ErrJobNotFound = errors.New("queue: job not found")

// Queue is a durable job queue persisted in the jobs table. Pending rows with
// RunAt in the past are claimable; claiming flips them to active inside a
// transaction so two workers can never take the same job.
type Queue struct {
	db     *gorm.DB
	cfg    *config.Queue
	logger *zap.Logger
}

// NewQueue creates a queue backed by the given database.
func NewQueue(db *gorm.DB, cfg *config.Queue, logger *zap.Logger) *Queue {
	return &Queue{db: db, cfg: cfg, logger: logger.Named("queue")}
}

// EnqueueTrade queues a trade job for immediate execution.
func (q *Queue) EnqueueTrade(payload TradePayload) (string, error) {
	return q.enqueue(models.JobKindTrade, payload.StrategyID, payload, time.Now())
}

// EnqueueRollover queues a rollover job for immediate execution. instrumentID
// is the strategy's instrument at enqueue time.
func (q *Queue) EnqueueRollover(strategyID, instrumentID uint) (string, error) {
	return q.enqueue(models.JobKindRollover, strategyID,
		RolloverPayload{StrategyID: strategyID, InstrumentID: instrumentID}, time.Now())
}

// ScheduleRollover queues a rollover job that becomes claimable at the given
// time.
func (q *Queue) ScheduleRollover(strategyID, instrumentID uint, at time.Time) (string, error) {
	return q.enqueue(models.JobKindRollover, strategyID,
		RolloverPayload{StrategyID: strategyID, InstrumentID: instrumentID}, at)
}

func (q *Queue) enqueue(kind string, strategyID uint, payload interface{}, runAt time.Time) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("queue: failed to encode payload: %w", err)
	}

	job := models.Job{
		ID:          uuid.NewString(),
		Kind:        kind,
		StrategyID:  strategyID,
		Payload:     string(raw),
		Status:      models.JobStatusPending,
		MaxAttempts: q.cfg.MaxAttempts,
		RunAt:       runAt,
	}
	if err := q.db.Create(&job).Error; err != nil {
		return "", fmt.Errorf("queue: failed to enqueue %s job: %w", kind, err)
	}

	q.logger.Info("Job enqueued",
		zap.String("job_id", job.ID),
		zap.String("kind", kind),
		zap.Uint("strategy_id", strategyID),
		zap.Time("run_at", runAt))
	return job.ID, nil
}

// Claim takes the oldest claimable job of the given kind, marking it active
// and counting the attempt. Returns nil when nothing is claimable.
func (q *Queue) Claim(kind string) (*models.Job, error) {
	var job models.Job
	err := q.db.Transaction(func(tx *gorm.DB) error {
		err := tx.
			Where("kind = ? AND status = ? AND run_at <= ?",
				kind, models.JobStatusPending, time.Now()).
			Order("created_at asc").
			First(&job).Error
		if err != nil {
			return err
		}

		now := time.Now()
		res := tx.Model(&models.Job{}).
			Where("id = ? AND status = ?", job.ID, models.JobStatusPending).
			Updates(map[string]interface{}{
				"status":     models.JobStatusActive,
				"started_at": now,
				"attempts":   gorm.Expr("attempts + 1"),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		job.Status = models.JobStatusActive
		job.StartedAt = &now
		job.Attempts++
		return nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: claim failed: %w", err)
	}
	return &job, nil
}

// Complete marks a job as successfully finished.
func (q *Queue) Complete(job *models.Job) error {
	now := time.Now()
	err := q.db.Model(&models.Job{}).
		Where("id = ?", job.ID).
		Updates(map[string]interface{}{
			"status":       models.JobStatusCompleted,
			"completed_at": now,
			"result":       job.Result,
			"last_error":   "",
		}).Error
	if err != nil {
		return fmt.Errorf("queue: failed to complete job %s: %w", job.ID, err)
	}

	duration := time.Duration(0)
	if job.StartedAt != nil {
		duration = now.Sub(*job.StartedAt)
	}
	q.logger.Info("Job completed",
		zap.String("job_id", job.ID),
		zap.String("kind", job.Kind),
		zap.Duration("duration", duration))
	return nil
}

// Fail records a handler failure. Retryable failures below the attempt
// ceiling go back to pending with exponential backoff; everything else is
// marked permanently failed with the last error preserved.
func (q *Queue) Fail(job *models.Job, handlerErr error) error {
	retryable := !IsPermanent(handlerErr) && job.Attempts < job.MaxAttempts

	if retryable {
		backoff := time.Duration(q.cfg.BackoffBaseMs) * time.Millisecond *
			time.Duration(math.Pow(2, float64(job.Attempts-1)))
		runAt := time.Now().Add(backoff)

		err := q.db.Model(&models.Job{}).
			Where("id = ?", job.ID).
			Updates(map[string]interface{}{
				"status":     models.JobStatusPending,
				"run_at":     runAt,
				"last_error": handlerErr.Error(),
			}).Error
		if err != nil {
			return fmt.Errorf("queue: failed to re-enqueue job %s: %w", job.ID, err)
		}
		q.logger.Warn("Job failed, retrying",
			zap.String("job_id", job.ID),
			zap.Int("attempt", job.Attempts),
			zap.Duration("backoff", backoff),
			zap.Error(handlerErr))
		return nil
	}

	err := q.db.Model(&models.Job{}).
		Where("id = ?", job.ID).
		Updates(map[string]interface{}{
			"status":       models.JobStatusFailed,
			"completed_at": time.Now(),
			"last_error":   handlerErr.Error(),
		}).Error
	if err != nil {
		return fmt.Errorf("queue: failed to mark job %s failed: %w", job.ID, err)
	}
	q.logger.Error("Job permanently failed",
		zap.String("job_id", job.ID),
		zap.String("kind", job.Kind),
		zap.Int("attempts", job.Attempts),
		zap.Error(handlerErr))
	return nil
}

// Status is the queryable outcome of a job.
type Status struct {
	ID        string
	Kind      string
	Status    string
	Attempts  int
	Result    string
	LastError string
}

// JobStatus returns the current status of a job by id.
func (q *Queue) JobStatus(id string) (*Status, error) {
	var job models.Job
	if err := q.db.First(&job, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("queue: failed to load job %s: %w", id, err)
	}
	return &Status{
		ID:        job.ID,
		Kind:      job.Kind,
		Status:    job.Status,
		Attempts:  job.Attempts,
		Result:    job.Result,
		LastError: job.LastError,
	}, nil
}

// HasQueuedRollover reports whether a pending or active rollover job already
// exists for the strategy. The scheduler uses this to avoid double-enqueueing
// a due rollover on every sweep.
func (q *Queue) HasQueuedRollover(strategyID uint) (bool, error) {
	var count int64
	err := q.db.Model(&models.Job{}).
		Where("kind = ? AND strategy_id = ? AND status IN ?",
			models.JobKindRollover, strategyID,
			[]string{models.JobStatusPending, models.JobStatusActive}).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("queue: rollover lookup failed: %w", err)
	}
	return count > 0, nil
}

// Prune trims completed and failed jobs down to their retention ceilings,
// keeping the most recent rows of each.
func (q *Queue) Prune() error {
	if err := q.pruneStatus(models.JobStatusCompleted, q.cfg.RetainedCompleted); err != nil {
		return err
	}
	return q.pruneStatus(models.JobStatusFailed, q.cfg.RetainedFailed)
}

func (q *Queue) pruneStatus(status string, keep int) error {
	var cutoff models.Job
	err := q.db.
		Where("status = ?", status).
		Order("completed_at desc").
		Offset(keep).
		First(&cutoff).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil // nothing beyond the retention ceiling
	}
	if err != nil {
		return fmt.Errorf("queue: prune lookup failed: %w", err)
	}

	res := q.db.
		Where("status = ? AND completed_at <= ?", status, cutoff.CompletedAt).
		Delete(&models.Job{})
	if res.Error != nil {
		return fmt.Errorf("queue: prune failed: %w", res.Error)
	}
	q.logger.Info("Pruned jobs",
		zap.String("status", status), zap.Int64("deleted", res.RowsAffected))
	return nil
}
