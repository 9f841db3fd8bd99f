package models

import (
	"time"

	"gorm.io/gorm"
)

// Instrument is a single futures contract as published in the broker's symbol
// master. The rollover chain for an underlying is the set of instruments
// sharing (underlying, exchange), ordered by expiry ascending.
type Instrument struct {
	gorm.Model
	Underlying    string    `gorm:"not null;index:idx_underlying_exchange"`
	Exchange      string    `gorm:"not null;index:idx_underlying_exchange"`
	Expiry        time.Time `gorm:"not null"`
	ExchangeToken string    `gorm:"uniqueIndex;not null"`
	BrokerSymbol  string    `gorm:"uniqueIndex;not null"` // broker's tradable symbol, e.g. NSE:NIFTY25JANFUT
	DisplayName   string    // exchange symbol name, e.g. NIFTY25JANFUT
}
