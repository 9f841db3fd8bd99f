package registry

import (
	"errors"
	"fmt"
	"time"

	"futures-rollover-bot/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrStrategyNotFound = errors.New("registry: strategy not found")

	// Validation errors, rejected at the API boundary before anything is
	// persisted or queued.
	ErrInstrumentMissing   = errors.New("registry: referenced instrument does not exist")
	ErrInstrumentExpired   = errors.New("registry: instrument is already expired")
	ErrRolloverAfterExpiry = errors.New("registry: rollover date must be before instrument expiry")
	ErrRolloverInPast      = errors.New("registry: rollover date must not be in the past")
)

// Registry owns the strategy records: the binding of instrument, broker
// credential, status and optional rollover date that the queue jobs read and
// mutate.
type Registry struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewRegistry creates a strategy registry backed by the given database.
func NewRegistry(db *gorm.DB, logger *zap.Logger) *Registry {
	return &Registry{db: db, logger: logger.Named("registry")}
}

// Get loads one strategy by id.
func (r *Registry) Get(id uint) (*models.Strategy, error) {
	var strategy models.Strategy
	if err := r.db.First(&strategy, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrStrategyNotFound
		}
		return nil, fmt.Errorf("failed to load strategy %d: %w", id, err)
	}
	return &strategy, nil
}

// List returns all strategies with their instruments preloaded.
func (r *Registry) List() ([]models.Strategy, error) {
	var strategies []models.Strategy
	if err := r.db.Preload("Instrument").Find(&strategies).Error; err != nil {
		return nil, fmt.Errorf("failed to list strategies: %w", err)
	}
	return strategies, nil
}

// validate enforces the strategy invariants against the referenced
// instrument: the instrument must not be expired, and a rollover date must
// fall strictly before expiry and not in the past.
func (r *Registry) validate(strategy *models.Strategy, now time.Time) error {
	var instrument models.Instrument
	if err := r.db.First(&instrument, strategy.InstrumentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrInstrumentMissing
		}
		return err
	}
	if !instrument.Expiry.After(now) {
		return ErrInstrumentExpired
	}
	if strategy.RolloverOn != nil {
		if !strategy.RolloverOn.Before(instrument.Expiry) {
			return ErrRolloverAfterExpiry
		}
		if strategy.RolloverOn.Before(now) {
			return ErrRolloverInPast
		}
	}
	return nil
}

// Create validates and persists a new strategy.
func (r *Registry) Create(strategy *models.Strategy) error {
	if err := r.validate(strategy, time.Now()); err != nil {
		return err
	}
	if strategy.Status == "" {
		strategy.Status = models.StrategyStatusRunning
	}
	if err := r.db.Create(strategy).Error; err != nil {
		return fmt.Errorf("failed to create strategy: %w", err)
	}
	r.logger.Info("Strategy created",
		zap.Uint("strategy_id", strategy.ID), zap.String("name", strategy.Name))
	return nil
}

// Update validates and persists changes to an existing strategy.
func (r *Registry) Update(strategy *models.Strategy) error {
	if err := r.validate(strategy, time.Now()); err != nil {
		return err
	}
	if err := r.db.Save(strategy).Error; err != nil {
		return fmt.Errorf("failed to update strategy: %w", err)
	}
	return nil
}

// Delete removes a strategy.
func (r *Registry) Delete(id uint) error {
	res := r.db.Delete(&models.Strategy{}, id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete strategy %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStrategyNotFound
	}
	return nil
}

// AdvanceInstrument moves the strategy onto a new contract and consumes the
// rollover date in one write. This is the only place a rollover mutates the
// strategy record, and it runs only after the order sequence has been
// attempted: a crash mid-rollover leaves the strategy on the old, still
// consistent instrument.
func (r *Registry) AdvanceInstrument(id uint, instrumentID uint) error {
	res := r.db.Model(&models.Strategy{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"instrument_id": instrumentID,
			"rollover_on":   nil,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to advance strategy %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStrategyNotFound
	}
	return nil
}

// ClearRollover nulls the rollover date without touching the instrument.
// Used when a scheduled rollover ran but found nothing to migrate.
func (r *Registry) ClearRollover(id uint) error {
	res := r.db.Model(&models.Strategy{}).
		Where("id = ?", id).
		Update("rollover_on", nil)
	if res.Error != nil {
		return fmt.Errorf("failed to clear rollover date on strategy %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStrategyNotFound
	}
	return nil
}

// ListRolloverDue returns running strategies whose rollover date has arrived.
func (r *Registry) ListRolloverDue(now time.Time) ([]models.Strategy, error) {
	var strategies []models.Strategy
	err := r.db.
		Where("status = ? AND rollover_on IS NOT NULL AND rollover_on <= ?",
			models.StrategyStatusRunning, now).
		Find(&strategies).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list rollover-due strategies: %w", err)
	}
	return strategies, nil
}
