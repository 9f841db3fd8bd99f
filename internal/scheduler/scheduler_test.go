package scheduler

import (
	"testing"
	"time"

	"futures-rollover-bot/internal/config"
	"futures-rollover-bot/internal/models"
	"futures-rollover-bot/internal/queue"
	"futures-rollover-bot/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupScheduler(t *testing.T) (*Scheduler, *gorm.DB, *queue.Queue) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.Instrument{}, &models.BrokerCredential{}, &models.Strategy{}, &models.Job{}))

	cfg := &config.Config{
		Fyers: config.Fyers{RequestTimeoutSec: 5},
		Queue: config.Queue{MaxAttempts: 3, BackoffBaseMs: 1000,
			RetainedCompleted: 100, RetainedFailed: 100},
	}
	q := queue.NewQueue(db, &cfg.Queue, zap.NewNop())
	reg := registry.NewRegistry(db, zap.NewNop())
	return NewScheduler(cfg, q, reg, nil, nil, zap.NewNop()), db, q
}

func seedDueStrategy(t *testing.T, db *gorm.DB, name string) models.Strategy {
	instrument := models.Instrument{
		Underlying: "NIFTY", Exchange: "NSE",
		Expiry:        time.Now().AddDate(0, 1, 0),
		ExchangeToken: "tok-" + name, BrokerSymbol: "NSE:" + name,
	}
	require.NoError(t, db.Create(&instrument).Error)

	due := time.Now().Add(-time.Hour)
	strategy := models.Strategy{
		Name: name, InstrumentID: instrument.ID, BrokerCredentialID: 1,
		Status: models.StrategyStatusRunning, RolloverOn: &due,
	}
	require.NoError(t, db.Create(&strategy).Error)
	return strategy
}

func TestSweepRolloversEnqueuesDue(t *testing.T) {
	sched, db, q := setupScheduler(t)
	strategy := seedDueStrategy(t, db, "NIFTY25JANFUT")

	sched.sweepRollovers(time.Now())

	queued, err := q.HasQueuedRollover(strategy.ID)
	require.NoError(t, err)
	assert.True(t, queued)

	// The payload carries the instrument the strategy held at sweep time.
	job, err := q.Claim(models.JobKindRollover)
	require.NoError(t, err)
	require.NotNil(t, job)
	payload, err := queue.DecodeRolloverPayload(job.Payload)
	require.NoError(t, err)
	assert.Equal(t, strategy.InstrumentID, payload.InstrumentID)
}

func TestSweepRolloversDeduplicates(t *testing.T) {
	sched, db, _ := setupScheduler(t)
	strategy := seedDueStrategy(t, db, "NIFTY25JANFUT")

	sched.sweepRollovers(time.Now())
	sched.sweepRollovers(time.Now())

	var count int64
	require.NoError(t, db.Model(&models.Job{}).
		Where("strategy_id = ? AND kind = ?", strategy.ID, models.JobKindRollover).
		Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestSweepRolloversSkipsNotDue(t *testing.T) {
	sched, db, q := setupScheduler(t)

	instrument := models.Instrument{
		Underlying: "NIFTY", Exchange: "NSE",
		Expiry:        time.Now().AddDate(0, 2, 0),
		ExchangeToken: "53001", BrokerSymbol: "NSE:NIFTY25FEBFUT",
	}
	require.NoError(t, db.Create(&instrument).Error)

	future := time.Now().AddDate(0, 1, 0)
	strategy := models.Strategy{
		Name: "not-yet", InstrumentID: instrument.ID, BrokerCredentialID: 1,
		Status: models.StrategyStatusRunning, RolloverOn: &future,
	}
	require.NoError(t, db.Create(&strategy).Error)

	sched.sweepRollovers(time.Now())

	queued, err := q.HasQueuedRollover(strategy.ID)
	require.NoError(t, err)
	assert.False(t, queued)
}
