package models

import (
	"time"
)

// Job kinds.
const (
	JobKindTrade    = "trade"
	JobKindRollover = "rollover"
)

// Job statuses.
const (
	JobStatusPending   = "pending"
	JobStatusActive    = "active"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// Job is one queued unit of work. The row doubles as the durable queue entry:
// pending rows with RunAt in the past are claimable, completed/failed rows are
// kept for observability until pruned.
type Job struct {
	ID          string `gorm:"primaryKey"`
	Kind        string `gorm:"not null;index"`
	StrategyID  uint   `gorm:"not null;index"`
	Payload     string // json-encoded kind-specific payload
	Status      string `gorm:"not null;index;default:pending"`
	Attempts    int
	MaxAttempts int
	RunAt       time.Time `gorm:"not null;index"`
	Result      string    // e.g. broker order id for completed trade jobs
	LastError   string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}
