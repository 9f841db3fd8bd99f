package models

import (
	"time"

	"gorm.io/gorm"
)

// Strategy statuses.
const (
	StrategyStatusRunning = "running"
	StrategyStatusStopped = "stopped"
)

// Strategy binds one instrument and one broker credential to a webhook-driven
// trading setup. RolloverOn, when set, schedules a contract rollover strictly
// before the instrument's expiry.
type Strategy struct {
	gorm.Model
	Name               string `gorm:"not null"`
	Description        string
	InstrumentID       uint       `gorm:"not null;index"`
	Instrument         Instrument `gorm:"foreignKey:InstrumentID"`
	BrokerCredentialID uint       `gorm:"not null;index"`
	Status             string     `gorm:"default:running"`
	RolloverOn         *time.Time
}
