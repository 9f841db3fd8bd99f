package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"futures-rollover-bot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// setupPoolQueue uses a named shared-cache in-memory database so the pool's
// goroutines all see the same data.
func setupPoolQueue(t *testing.T, name string) *Queue {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Job{}))
	return NewQueue(db, testQueueConfig(), zap.NewNop())
}

func TestPoolExecutesJobs(t *testing.T) {
	q := setupPoolQueue(t, "pool_exec")

	var handled int32
	pool := NewPool(q, testQueueConfig(), NewStrategyLocks(), zap.NewNop())
	pool.Register(models.JobKindTrade, func(ctx context.Context, job *models.Job) error {
		atomic.AddInt32(&handled, 1)
		job.Result = "done"
		return nil
	})

	id, err := q.EnqueueTrade(TradePayload{StrategyID: 1, Qty: 10, Side: "buy"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		pool.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		status, err := q.JobStatus(id)
		require.NoError(t, err)
		return status.Status == models.JobStatusCompleted
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&handled))
	status, err := q.JobStatus(id)
	require.NoError(t, err)
	assert.Equal(t, "done", status.Result)
}

func TestPoolSerializesPerStrategy(t *testing.T) {
	q := setupPoolQueue(t, "pool_serial")

	// Trade and rollover handlers share the strategy locks; if both touch
	// the same strategy they must never overlap.
	var inFlight int32
	var overlapped int32
	handler := func(ctx context.Context, job *models.Job) error {
		if atomic.AddInt32(&inFlight, 1) > 1 {
			atomic.StoreInt32(&overlapped, 1)
		}
		time.Sleep(30 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return nil
	}

	pool := NewPool(q, testQueueConfig(), NewStrategyLocks(), zap.NewNop())
	pool.Register(models.JobKindTrade, handler)
	pool.Register(models.JobKindRollover, handler)

	tradeID, err := q.EnqueueTrade(TradePayload{StrategyID: 42, Qty: 10, Side: "buy"})
	require.NoError(t, err)
	rolloverID, err := q.EnqueueRollover(42, 10)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		pool.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		tradeStatus, err := q.JobStatus(tradeID)
		require.NoError(t, err)
		rolloverStatus, err := q.JobStatus(rolloverID)
		require.NoError(t, err)
		return tradeStatus.Status == models.JobStatusCompleted &&
			rolloverStatus.Status == models.JobStatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	wg.Wait()

	assert.Zero(t, atomic.LoadInt32(&overlapped), "jobs for the same strategy ran concurrently")
}

func TestPoolRecoversFromPanic(t *testing.T) {
	q := setupPoolQueue(t, "pool_panic")

	pool := NewPool(q, testQueueConfig(), NewStrategyLocks(), zap.NewNop())
	pool.Register(models.JobKindTrade, func(ctx context.Context, job *models.Job) error {
		panic("boom")
	})

	id, err := q.EnqueueTrade(TradePayload{StrategyID: 1, Qty: 10, Side: "buy"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		pool.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		status, err := q.JobStatus(id)
		require.NoError(t, err)
		return status.Status == models.JobStatusFailed
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	wg.Wait()

	status, err := q.JobStatus(id)
	require.NoError(t, err)
	assert.Contains(t, status.LastError, "handler panicked")
}

func TestPoolUnregisteredKindFailsJob(t *testing.T) {
	q := setupPoolQueue(t, "pool_unregistered")

	pool := NewPool(q, testQueueConfig(), NewStrategyLocks(), zap.NewNop())
	// Only the trade handler is registered.
	pool.Register(models.JobKindTrade, func(ctx context.Context, job *models.Job) error { return nil })

	id, err := q.EnqueueRollover(1, 10)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		pool.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		status, err := q.JobStatus(id)
		require.NoError(t, err)
		return status.Status == models.JobStatusFailed
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	wg.Wait()
}
