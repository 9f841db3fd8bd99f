package catalog

import (
	"testing"
	"time"

	"futures-rollover-bot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupCatalog(t *testing.T) (*Catalog, *gorm.DB) {
	// Use a new, non-shared in-memory database for each test to ensure isolation.
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Instrument{}))
	return NewCatalog(db, zap.NewNop()), db
}

func contract(underlying, exchange, symbol string, expiry time.Time) models.Instrument {
	return models.Instrument{
		Underlying:    underlying,
		Exchange:      exchange,
		Expiry:        expiry,
		ExchangeToken: symbol, // unique enough for tests
		BrokerSymbol:  "NSE:" + symbol,
		DisplayName:   symbol,
	}
}

func TestFindNextContract(t *testing.T) {
	cat, db := setupCatalog(t)

	jan := time.Date(2025, 1, 30, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2025, 2, 27, 0, 0, 0, 0, time.UTC)
	mar := time.Date(2025, 3, 27, 0, 0, 0, 0, time.UTC)

	janFut := contract("NIFTY", "NSE", "NIFTY25JANFUT", jan)
	febFut := contract("NIFTY", "NSE", "NIFTY25FEBFUT", feb)
	marFut := contract("NIFTY", "NSE", "NIFTY25MARFUT", mar)
	// Same underlying, different exchange: must never show up in the chain.
	otherExchange := contract("NIFTY", "BSE", "NIFTY25FEBFUT-BSE", feb)
	// Different underlying on the same exchange.
	bankNifty := contract("BANKNIFTY", "NSE", "BANKNIFTY25FEBFUT", feb)

	require.NoError(t, db.Create(&janFut).Error)
	require.NoError(t, db.Create(&febFut).Error)
	require.NoError(t, db.Create(&marFut).Error)
	require.NoError(t, db.Create(&otherExchange).Error)
	require.NoError(t, db.Create(&bankNifty).Error)

	t.Run("ReturnsImmediateSuccessor", func(t *testing.T) {
		next, err := cat.FindNextContract(janFut.ID)
		require.NoError(t, err)
		assert.Equal(t, febFut.ID, next.ID)

		next, err = cat.FindNextContract(febFut.ID)
		require.NoError(t, err)
		assert.Equal(t, marFut.ID, next.ID)
	})

	t.Run("ChainExhausted", func(t *testing.T) {
		// The last contract in the chain signals exhaustion explicitly,
		// never a wrap-around.
		_, err := cat.FindNextContract(marFut.ID)
		assert.ErrorIs(t, err, ErrNoNextContract)
	})

	t.Run("UnknownInstrument", func(t *testing.T) {
		_, err := cat.FindNextContract(99999)
		assert.ErrorIs(t, err, ErrInstrumentNotFound)
	})
}

func TestCleanupExpired(t *testing.T) {
	cat, db := setupCatalog(t)

	now := time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)
	expired := contract("NIFTY", "NSE", "NIFTY25JANFUT", now.AddDate(0, 0, -3))
	live := contract("NIFTY", "NSE", "NIFTY25FEBFUT", now.AddDate(0, 0, 26))
	require.NoError(t, db.Create(&expired).Error)
	require.NoError(t, db.Create(&live).Error)

	deleted, err := cat.CleanupExpired(now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	var remaining []models.Instrument
	require.NoError(t, db.Find(&remaining).Error)
	require.Len(t, remaining, 1)
	assert.Equal(t, live.ID, remaining[0].ID)
}
