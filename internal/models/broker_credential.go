package models

import (
	"time"

	"gorm.io/gorm"
)

// Supported broker types. The credential record is tagged by type so the
// resolution boundary can match exhaustively instead of probing fields.
const (
	BrokerTypeFyers = "fyers"
)

// BrokerCredential holds the stored authentication material for one broker
// account. While IsActive is true the access token is assumed valid; once the
// refresh token ages past its validity window the record is deactivated and a
// human must re-authorize through the OAuth flow.
type BrokerCredential struct {
	gorm.Model
	BrokerType string `gorm:"not null;index"`
	// No column default on IsActive: a default tag makes gorm omit false from
	// the INSERT, silently persisting a deactivated credential as active.
	// Creation sites set the value explicitly.
	IsActive      bool      `gorm:"index"`
	TokenIssuedAt time.Time `gorm:"not null"`

	// Fyers credential fields, meaningful when BrokerType == BrokerTypeFyers.
	ClientID     string
	SecretKey    string
	AccessToken  string
	RefreshToken string
	AccountID    string
}
