package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"

	"futures-rollover-bot/internal/broker"
	"futures-rollover-bot/internal/broker/fyers"
	"futures-rollover-bot/internal/config"
	"futures-rollover-bot/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Resolution errors. These are terminal for the job that hit them: retrying
// cannot change the outcome without external intervention.
var (
	ErrStrategyNotFound  = errors.New("credentials: strategy not found")
	ErrBrokerNotFound    = errors.New("credentials: broker credential not found")
	ErrBrokerInactive    = errors.New("credentials: broker credential is inactive")
	ErrUnsupportedBroker = errors.New("credentials: unsupported broker type")
)

// AdapterFactory builds a broker adapter from a credential record.
type AdapterFactory func(cred *models.BrokerCredential) (broker.Broker, error)

// Store owns the broker credential records and their token lifecycle. It is
// the single chokepoint through which execution obtains broker adapters; the
// adapter is constructed fresh per resolution so a stale token can never be
// served from a cached instance.
type Store struct {
	db         *gorm.DB
	cfg        *config.Fyers
	logger     *zap.Logger
	newAdapter AdapterFactory
}

// NewStore creates a credential store backed by the given database.
func NewStore(db *gorm.DB, cfg *config.Fyers, logger *zap.Logger) *Store {
	s := &Store{
		db:     db,
		cfg:    cfg,
		logger: logger.Named("credentials"),
	}
	s.newAdapter = s.defaultFactory
	return s
}

// SetAdapterFactory overrides adapter construction. Used by tests to inject
// fakes without touching the resolution logic.
func (s *Store) SetAdapterFactory(factory AdapterFactory) {
	s.newAdapter = factory
}

// defaultFactory matches exhaustively on the credential's broker type.
func (s *Store) defaultFactory(cred *models.BrokerCredential) (broker.Broker, error) {
	switch cred.BrokerType {
	case models.BrokerTypeFyers:
		return fyers.NewClient(s.cfg, cred.ClientID, cred.AccessToken, cred.RefreshToken, s.logger.Named("fyers"))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBroker, cred.BrokerType)
	}
}

// Resolve loads the strategy's credential and returns an initialized broker
// adapter for it. All order execution must go through this method.
func (s *Store) Resolve(ctx context.Context, strategyID uint) (broker.Broker, error) {
	var strategy models.Strategy
	if err := s.db.First(&strategy, strategyID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrStrategyNotFound
		}
		return nil, fmt.Errorf("failed to load strategy %d: %w", strategyID, err)
	}

	var cred models.BrokerCredential
	if err := s.db.First(&cred, strategy.BrokerCredentialID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBrokerNotFound
		}
		return nil, fmt.Errorf("failed to load credential %d: %w", strategy.BrokerCredentialID, err)
	}

	if !cred.IsActive {
		return nil, ErrBrokerInactive
	}

	adapter, err := s.newAdapter(&cred)
	if err != nil {
		return nil, err
	}
	if err := adapter.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("broker initialization failed: %w", err)
	}
	return adapter, nil
}

// Get loads one credential by id.
func (s *Store) Get(id uint) (*models.BrokerCredential, error) {
	var cred models.BrokerCredential
	if err := s.db.First(&cred, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBrokerNotFound
		}
		return nil, err
	}
	return &cred, nil
}

// Deactivate marks a credential inactive. Jobs bound to it fail fast with
// ErrBrokerInactive until the user re-authorizes.
func (s *Store) Deactivate(id uint) error {
	return s.db.Model(&models.BrokerCredential{}).
		Where("id = ?", id).
		Update("is_active", false).Error
}

// StoreToken persists a freshly issued access token and resets the issue
// timestamp, keeping the credential in the active state.
func (s *Store) StoreToken(id uint, accessToken string, issuedAt time.Time) error {
	return s.db.Model(&models.BrokerCredential{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"access_token":    accessToken,
			"token_issued_at": issuedAt,
			"is_active":       true,
		}).Error
}

// RefreshAll rotates the access token of every active credential. Credentials
// whose refresh token has aged past the validity window are deactivated
// without calling the remote endpoint; a failed refresh also deactivates,
// so there is no retry storm against a dead refresh token.
func (s *Store) RefreshAll(ctx context.Context) {
	var creds []models.BrokerCredential
	if err := s.db.Where("is_active = ?", true).Find(&creds).Error; err != nil {
		s.logger.Error("Failed to list active credentials", zap.Error(err))
		return
	}

	validity := time.Duration(s.cfg.TokenValidityDays) * 24 * time.Hour
	now := time.Now()

	for _, cred := range creds {
		l := s.logger.With(zap.Uint("credential_id", cred.ID), zap.String("broker", cred.BrokerType))

		if now.Sub(cred.TokenIssuedAt) >= validity {
			l.Warn("Refresh token past validity window, deactivating; user must re-authorize")
			if err := s.Deactivate(cred.ID); err != nil {
				l.Error("Failed to deactivate credential", zap.Error(err))
			}
			continue
		}

		adapter, err := s.newAdapter(&cred)
		if err != nil {
			l.Error("Failed to construct adapter for refresh", zap.Error(err))
			continue
		}

		token, err := adapter.RefreshAccessToken(ctx)
		if err != nil {
			l.Error("Token refresh failed, deactivating credential", zap.Error(err))
			if derr := s.Deactivate(cred.ID); derr != nil {
				l.Error("Failed to deactivate credential", zap.Error(derr))
			}
			continue
		}

		if err := s.StoreToken(cred.ID, token, now); err != nil {
			l.Error("Failed to persist refreshed token", zap.Error(err))
			continue
		}
		l.Info("Access token refreshed")
	}
}
