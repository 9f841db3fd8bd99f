package registry

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

func setupRegistry(t *testing.T) (*Registry, *gorm.DB) {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Instrument{}, &models.BrokerCredential{}, &models.Strategy{}))
	return NewRegistry(db, zap.NewNop()), db
}

func seedInstrument(t *testing.T, db *gorm.DB, symbol string, expiry time.Time) models.Instrument {
	instrument := models.Instrument{
		Underlying:    "NIFTY",
		Exchange:      "NSE",
		Expiry:        expiry,
		ExchangeToken: symbol,
		BrokerSymbol:  "NSE:" + symbol,
		DisplayName:   symbol,
	}
	require.NoError(t, db.Create(&instrument).Error)
	return instrument
}

func TestCreateValidation(t *testing.T) {
	reg, db := setupRegistry(t)

	future := time.Now().AddDate(0, 1, 0)
	live := seedInstrument(t, db, "NIFTY25FEBFUT", future)
	expired := seedInstrument(t, db, "NIFTY24DECFUT", time.Now().AddDate(0, -1, 0))

	t.Run("Valid", func(t *testing.T) {
		rollover := future.AddDate(0, 0, -5)
		strategy := models.Strategy{
			Name:               "nifty-momentum",
			InstrumentID:       live.ID,
			BrokerCredentialID: 1,
			RolloverOn:         &rollover,
		}
		require.NoError(t, reg.Create(&strategy))
		assert.Equal(t, models.StrategyStatusRunning, strategy.Status)
	})

	t.Run("MissingInstrument", func(t *testing.T) {
		strategy := models.Strategy{Name: "x", InstrumentID: 99999, BrokerCredentialID: 1}
		assert.ErrorIs(t, reg.Create(&strategy), ErrInstrumentMissing)
	})

	t.Run("ExpiredInstrument", func(t *testing.T) {
		strategy := models.Strategy{Name: "x", InstrumentID: expired.ID, BrokerCredentialID: 1}
		assert.ErrorIs(t, reg.Create(&strategy), ErrInstrumentExpired)
	})

	t.Run("RolloverAfterExpiry", func(t *testing.T) {
		rollover := future.AddDate(0, 0, 5)
		strategy := models.Strategy{
			Name: "x", InstrumentID: live.ID, BrokerCredentialID: 1, RolloverOn: &rollover,
		}
		assert.ErrorIs(t, reg.Create(&strategy), ErrRolloverAfterExpiry)
	})

	t.Run("RolloverInPast", func(t *testing.T) {
		rollover := time.Now().AddDate(0, 0, -1)
		strategy := models.Strategy{
			Name: "x", InstrumentID: live.ID, BrokerCredentialID: 1, RolloverOn: &rollover,
		}
		assert.ErrorIs(t, reg.Create(&strategy), ErrRolloverInPast)
	})
}

func TestAdvanceInstrument(t *testing.T) {
	reg, db := setupRegistry(t)

	jan := seedInstrument(t, db, "NIFTY25JANFUT", time.Now().AddDate(0, 1, 0))
	feb := seedInstrument(t, db, "NIFTY25FEBFUT", time.Now().AddDate(0, 2, 0))

	rollover := time.Now().AddDate(0, 0, 20)
	strategy := models.Strategy{
		Name: "s", InstrumentID: jan.ID, BrokerCredentialID: 1, RolloverOn: &rollover,
	}
	require.NoError(t, reg.Create(&strategy))

	require.NoError(t, reg.AdvanceInstrument(strategy.ID, feb.ID))

	got, err := reg.Get(strategy.ID)
	require.NoError(t, err)
	assert.Equal(t, feb.ID, got.InstrumentID)
	assert.Nil(t, got.RolloverOn)

	assert.ErrorIs(t, reg.AdvanceInstrument(99999, feb.ID), ErrStrategyNotFound)
}

func TestClearRollover(t *testing.T) {
	reg, db := setupRegistry(t)

	jan := seedInstrument(t, db, "NIFTY25JANFUT", time.Now().AddDate(0, 1, 0))
	rollover := time.Now().AddDate(0, 0, 20)
	strategy := models.Strategy{
		Name: "s", InstrumentID: jan.ID, BrokerCredentialID: 1, RolloverOn: &rollover,
	}
	require.NoError(t, reg.Create(&strategy))

	require.NoError(t, reg.ClearRollover(strategy.ID))

	got, err := reg.Get(strategy.ID)
	require.NoError(t, err)
	// Instrument untouched, only the rollover date consumed.
	assert.Equal(t, jan.ID, got.InstrumentID)
	assert.Nil(t, got.RolloverOn)
}

func TestListRolloverDue(t *testing.T) {
	reg, db := setupRegistry(t)

	jan := seedInstrument(t, db, "NIFTY25JANFUT", time.Now().AddDate(0, 2, 0))

	past := time.Now().Add(-time.Hour)
	future := time.Now().AddDate(0, 1, 0)

	// Bypass Create validation to seed a due (past) rollover date.
	due := models.Strategy{Name: "due", InstrumentID: jan.ID, BrokerCredentialID: 1,
		Status: models.StrategyStatusRunning, RolloverOn: &past}
	notYet := models.Strategy{Name: "not-yet", InstrumentID: jan.ID, BrokerCredentialID: 1,
		Status: models.StrategyStatusRunning, RolloverOn: &future}
	stopped := models.Strategy{Name: "stopped", InstrumentID: jan.ID, BrokerCredentialID: 1,
		Status: models.StrategyStatusStopped, RolloverOn: &past}
	noDate := models.Strategy{Name: "no-date", InstrumentID: jan.ID, BrokerCredentialID: 1,
		Status: models.StrategyStatusRunning}
	require.NoError(t, db.Create(&due).Error)
	require.NoError(t, db.Create(&notYet).Error)
	require.NoError(t, db.Create(&stopped).Error)
	require.NoError(t, db.Create(&noDate).Error)

	strategies, err := reg.ListRolloverDue(time.Now())
	require.NoError(t, err)
	require.Len(t, strategies, 1)
	assert.Equal(t, "due", strategies[0].Name)
}
