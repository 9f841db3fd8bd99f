package fyers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"futures-rollover-bot/internal/broker"
	"futures-rollover-bot/internal/config"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	orderTypeMarket = 2
	sideCodeBuy     = 1
	sideCodeSell    = -1

	// Order book status code Fyers uses for open orders. Filtered here so the
	// broker-specific code never leaks to callers.
	orderStatusOpen = 2

	statusOK = "ok"
)

// Client is a client for the Fyers REST API. It implements broker.Broker.
// Instances are constructed per resolved credential and must not be shared
// across credentials: a cached instance could carry a stale access token.
type Client struct {
	client      *resty.Client
	clientID    string
	accessToken string
	refreshTok  string
	logger      *zap.Logger
	limiter     *rate.Limiter
}

var _ broker.Broker = (*Client)(nil)

// NewClient creates a new Fyers REST API client for one credential.
func NewClient(cfg *config.Fyers, clientID, accessToken, refreshToken string, logger *zap.Logger) (*Client, error) {
	if clientID == "" || accessToken == "" {
		return nil, broker.ErrInvalidCredentials
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(time.Duration(cfg.RequestTimeoutSec) * time.Second).
		SetHeader("Content-Type", "application/json").
		// Fyers expects "appId:accessToken" as the auth header.
		SetHeader("Authorization", fmt.Sprintf("%s:%s", clientID, accessToken))

	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)

	return &Client{
		client:      client,
		clientID:    clientID,
		accessToken: accessToken,
		refreshTok:  refreshToken,
		logger:      logger,
		limiter:     limiter,
	}, nil
}

// doRequest executes a request behind the rate limiter. Requests flagged
// idempotent are retried once on 429, honoring Retry-After; order placement
// changes remote account state and is never retried here.
func (c *Client) doRequest(ctx context.Context, method, url string, req *resty.Request, idempotent bool) (*resty.Response, error) {
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("path", url))
		resp, err := req.SetContext(ctx).Execute(method, url)
		if err != nil {
			return nil, fmt.Errorf("request failed: %w", err)
		}

		if resp.StatusCode() == http.StatusTooManyRequests && idempotent && attempt == 0 {
			retryAfter := time.Second
			if seconds, perr := strconv.Atoi(resp.Header().Get("Retry-After")); perr == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
			c.logger.Warn("Rate limited by broker, retrying", zap.Duration("retry_after", retryAfter))
			select {
			case <-time.After(retryAfter):
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		if resp.StatusCode() >= http.StatusInternalServerError {
			return nil, fmt.Errorf("broker returned status %s: %s", resp.Status(), resp.String())
		}

		return resp, nil
	}
}

type profileResponse struct {
	S       string `json:"s"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Name  string `json:"name"`
		Email string `json:"email_id"`
	} `json:"data"`
}

// Initialize validates the credential by fetching the account profile.
func (c *Client) Initialize(ctx context.Context) error {
	var result profileResponse
	req := c.client.R().SetResult(&result)

	_, err := c.doRequest(ctx, "GET", "/profile", req, true)
	if err != nil {
		return err
	}
	if result.S != statusOK {
		c.logger.Warn("Credential validation rejected",
			zap.Int("code", result.Code), zap.String("message", result.Message))
		return fmt.Errorf("%w: %s", broker.ErrAuthFailed, result.Message)
	}
	return nil
}

// GetProfile fetches the account identity.
func (c *Client) GetProfile(ctx context.Context) (*broker.Profile, error) {
	var result profileResponse
	req := c.client.R().SetResult(&result)

	_, err := c.doRequest(ctx, "GET", "/profile", req, true)
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	if result.S != statusOK {
		return nil, fmt.Errorf("%w: %s", broker.ErrAuthFailed, result.Message)
	}
	return &broker.Profile{Name: result.Data.Name, Email: result.Data.Email}, nil
}

type orderResponse struct {
	S       string `json:"s"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	ID      string `json:"id"`
}

// PlaceOrder submits a market order. Broker rejection comes back as a
// structured response with Success == false, not as an error.
func (c *Client) PlaceOrder(ctx context.Context, order broker.OrderRequest) (*broker.OrderResponse, error) {
	productType := order.ProductType
	if productType == "" {
		productType = broker.ProductIntraday
	}
	orderTag := order.OrderTag
	if orderTag == "" {
		orderTag = "algo_trade"
	}

	sideCode := sideCodeBuy
	if order.Side == broker.SideSell {
		sideCode = sideCodeSell
	}

	body := map[string]interface{}{
		"symbol":       order.Symbol,
		"qty":          order.Qty,
		"type":         orderTypeMarket,
		"side":         sideCode,
		"productType":  productType,
		"limitPrice":   0,
		"stopPrice":    0,
		"validity":     "DAY",
		"disclosedQty": 0,
		"offlineOrder": false,
		"stopLoss":     0,
		"takeProfit":   0,
		"orderTag":     orderTag,
	}

	var result orderResponse
	req := c.client.R().SetBody(body).SetResult(&result)

	_, err := c.doRequest(ctx, "POST", "/orders/sync", req, false)
	if err != nil {
		c.logger.Error("Order placement transport failure",
			zap.String("symbol", order.Symbol), zap.Error(err))
		return nil, fmt.Errorf("failed to place order: %w", err)
	}

	if result.S != statusOK {
		c.logger.Warn("Order rejected by broker",
			zap.String("symbol", order.Symbol),
			zap.Int("code", result.Code),
			zap.String("message", result.Message))
		return &broker.OrderResponse{
			Success: false,
			Code:    result.Code,
			Message: result.Message,
		}, nil
	}

	c.logger.Info("Order placed",
		zap.String("symbol", order.Symbol),
		zap.String("side", order.Side),
		zap.Int("qty", order.Qty),
		zap.String("order_id", result.ID))

	return &broker.OrderResponse{
		Success: true,
		OrderID: result.ID,
		Message: result.Message,
	}, nil
}

type orderBookResponse struct {
	S         string `json:"s"`
	Code      int    `json:"code"`
	Message   string `json:"message"`
	OrderBook []struct {
		Symbol string `json:"symbol"`
		Status int    `json:"status"`
		Side   int    `json:"side"`
		Qty    int    `json:"qty"`
	} `json:"orderBook"`
}

// GetOpenPositions returns the currently-open entries from the order book.
func (c *Client) GetOpenPositions(ctx context.Context) ([]broker.Position, error) {
	var result orderBookResponse
	req := c.client.R().SetResult(&result)

	_, err := c.doRequest(ctx, "GET", "/orders", req, true)
	if err != nil {
		return nil, fmt.Errorf("failed to get open positions: %w", err)
	}
	if result.S != statusOK {
		return nil, fmt.Errorf("broker refused order book: %s (code %d)", result.Message, result.Code)
	}

	var positions []broker.Position
	for _, entry := range result.OrderBook {
		if entry.Status != orderStatusOpen {
			continue
		}
		side := broker.SideBuy
		if entry.Side == sideCodeSell {
			side = broker.SideSell
		}
		positions = append(positions, broker.Position{
			Symbol: entry.Symbol,
			Side:   side,
			Qty:    entry.Qty,
		})
	}
	return positions, nil
}

type tokenResponse struct {
	S           string `json:"s"`
	Code        int    `json:"code"`
	Message     string `json:"message"`
	AccessToken string `json:"access_token"`
}

// RefreshAccessToken exchanges the stored refresh token for a new access
// token. Persisting the new token is the caller's responsibility.
func (c *Client) RefreshAccessToken(ctx context.Context) (string, error) {
	body := map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": c.refreshTok,
	}

	var result tokenResponse
	req := c.client.R().SetBody(body).SetResult(&result)

	_, err := c.doRequest(ctx, "POST", "/token", req, false)
	if err != nil {
		return "", fmt.Errorf("%w: %v", broker.ErrRefreshFailed, err)
	}
	if result.AccessToken == "" {
		c.logger.Error("Token refresh rejected",
			zap.String("client_id", c.clientID), zap.String("message", result.Message))
		return "", fmt.Errorf("%w: %s", broker.ErrRefreshFailed, result.Message)
	}
	return result.AccessToken, nil
}

type fundsResponse struct {
	S         string `json:"s"`
	Code      int    `json:"code"`
	Message   string `json:"message"`
	FundLimit []struct {
		Title        string  `json:"title"`
		EquityAmount float64 `json:"equityAmount"`
	} `json:"fund_limit"`
}

// GetFunds fetches the available-balance summary.
func (c *Client) GetFunds(ctx context.Context) (*broker.Funds, error) {
	var result fundsResponse
	req := c.client.R().SetResult(&result)

	_, err := c.doRequest(ctx, "GET", "/funds", req, true)
	if err != nil {
		return nil, fmt.Errorf("failed to get funds: %w", err)
	}
	if result.S != statusOK {
		return nil, fmt.Errorf("broker refused funds query: %s (code %d)", result.Message, result.Code)
	}

	funds := &broker.Funds{}
	for _, limit := range result.FundLimit {
		switch limit.Title {
		case "Available Balance":
			funds.Available = limit.EquityAmount
		case "Utilized Amount":
			funds.Utilized = limit.EquityAmount
		}
	}
	return funds, nil
}
