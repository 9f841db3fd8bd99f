package catalog

import (
	"errors"
	"fmt"

	"futures-rollover-bot/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Lookup errors. ErrNoNextContract means the chain is exhausted: the current
// instrument exists but nothing expires after it. Callers must be able to
// tell that apart from the instrument itself being missing.
var (
	ErrInstrumentNotFound = errors.New("catalog: instrument not found")
	ErrNoNextContract     = errors.New("catalog: no next contract in chain")
)

// Catalog provides read access to the instrument table and owns the
// symbol-master ingestion that populates it.
type Catalog struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewCatalog creates a catalog backed by the given database.
func NewCatalog(db *gorm.DB, logger *zap.Logger) *Catalog {
	return &Catalog{db: db, logger: logger.Named("catalog")}
}

// Get loads one instrument by id.
func (c *Catalog) Get(id uint) (*models.Instrument, error) {
	var instrument models.Instrument
	if err := c.db.First(&instrument, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInstrumentNotFound
		}
		return nil, fmt.Errorf("failed to load instrument %d: %w", id, err)
	}
	return &instrument, nil
}

// FindNextContract returns the contract immediately following the current one
// in the (underlying, exchange) chain ordered by expiry ascending.
func (c *Catalog) FindNextContract(currentID uint) (*models.Instrument, error) {
	current, err := c.Get(currentID)
	if err != nil {
		return nil, err
	}

	var next models.Instrument
	err = c.db.
		Where("underlying = ? AND exchange = ? AND expiry > ?",
			current.Underlying, current.Exchange, current.Expiry).
		Order("expiry asc").
		First(&next).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoNextContract
		}
		return nil, fmt.Errorf("failed to query next contract: %w", err)
	}
	return &next, nil
}
