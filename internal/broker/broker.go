package broker

import (
	"context"
	"errors"
)

// Order sides as used across the core. The adapter translates these to the
// broker's wire representation.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Product types for order placement.
const (
	ProductIntraday = "INTRADAY"
	ProductMargin   = "MARGIN"
)

// Sentinel errors for adapter failures. Broker-level order rejection is NOT an
// error: it is reported through OrderResponse so callers can treat it as a
// normal, expected outcome.
var (
	ErrInvalidCredentials = errors.New("broker: credentials missing required fields")
	ErrAuthFailed         = errors.New("broker: authentication rejected by remote")
	ErrRefreshFailed      = errors.New("broker: access token refresh failed")
)

// OrderRequest is a generic order intent.
type OrderRequest struct {
	Symbol      string
	Qty         int
	Side        string // SideBuy or SideSell
	ProductType string // defaults to ProductIntraday when empty
	OrderTag    string
}

// OrderResponse is the structured outcome of an order placement. Success is
// false when the broker rejected the order; Code and Message then carry the
// broker's verbatim rejection.
type OrderResponse struct {
	Success bool
	OrderID string
	Code    int
	Message string
}

// Position is one currently-open position at the broker.
type Position struct {
	Symbol string
	Side   string // SideBuy or SideSell
	Qty    int
}

// Profile is the minimal account identity returned by GetProfile.
type Profile struct {
	Name  string
	Email string
}

// Funds is the available-balance summary returned by GetFunds.
type Funds struct {
	Available float64
	Utilized  float64
}

// Broker is the capability contract every broker integration must satisfy.
// Transport failures surface as Go errors; business rejections surface as
// data in the response types.
type Broker interface {
	// Initialize validates the stored credentials against a lightweight
	// remote endpoint before the instance is used for anything else.
	Initialize(ctx context.Context) error

	// PlaceOrder submits a market order. A nil error with Success == false
	// means the broker rejected the order.
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error)

	// GetOpenPositions returns only currently-open entries; the broker's
	// open-status filtering happens inside the adapter.
	GetOpenPositions(ctx context.Context) ([]Position, error)

	// RefreshAccessToken exchanges the stored refresh token for a new access
	// token. The caller is responsible for persisting it.
	RefreshAccessToken(ctx context.Context) (string, error)

	GetProfile(ctx context.Context) (*Profile, error)
	GetFunds(ctx context.Context) (*Funds, error)
}
