package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"futures-rollover-bot/internal/models"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"gorm.io/gorm/clause"
)

// masterEntry is one record of the Fyers public symbol master feed.
type masterEntry struct {
	ExToken    int64  `json:"exToken"`
	ExSymName  string `json:"exSymName"`
	Exchange   int    `json:"exchange"`
	UnderSym   string `json:"underSym"`
	ExpiryDate string `json:"expiryDate"` // epoch seconds
}

// Exchange codes used in the symbol master feed.
var exchangeNames = map[int]string{
	10: "NSE",
	11: "MCX",
	12: "BSE",
}

// Ingest downloads the configured symbol-master feeds and upserts every
// futures contract into the instrument table, keyed by exchange token.
func (c *Catalog) Ingest(ctx context.Context, client *resty.Client, urls []string) error {
	for _, url := range urls {
		if err := c.ingestURL(ctx, client, url); err != nil {
			// One broken feed should not stop the others.
			c.logger.Error("Symbol master ingestion failed", zap.String("url", url), zap.Error(err))
		}
	}
	return nil
}

func (c *Catalog) ingestURL(ctx context.Context, client *resty.Client, url string) error {
	resp, err := client.R().SetContext(ctx).Get(url)
	if err != nil {
		return fmt.Errorf("failed to fetch symbol master: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("symbol master fetch returned status %s", resp.Status())
	}

	var entries map[string]masterEntry
	if err := json.Unmarshal(resp.Body(), &entries); err != nil {
		return fmt.Errorf("failed to decode symbol master: %w", err)
	}

	upserted := 0
	for ticker, entry := range entries {
		if !isFuture(ticker) {
			continue
		}
		exchange, ok := exchangeNames[entry.Exchange]
		if !ok {
			continue
		}
		epoch, err := strconv.ParseInt(entry.ExpiryDate, 10, 64)
		if err != nil {
			c.logger.Warn("Skipping instrument with bad expiry",
				zap.String("ticker", ticker), zap.String("expiry", entry.ExpiryDate))
			continue
		}

		instrument := models.Instrument{
			Underlying:    entry.UnderSym,
			Exchange:      exchange,
			Expiry:        time.Unix(epoch, 0),
			ExchangeToken: strconv.FormatInt(entry.ExToken, 10),
			BrokerSymbol:  ticker,
			DisplayName:   entry.ExSymName,
		}

		err = c.db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "exchange_token"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"underlying", "exchange", "expiry", "broker_symbol", "display_name", "updated_at",
			}),
		}).Create(&instrument).Error
		if err != nil {
			c.logger.Error("Failed to upsert instrument",
				zap.String("ticker", ticker), zap.Error(err))
			continue
		}
		upserted++
	}

	c.logger.Info("Symbol master processed", zap.String("url", url), zap.Int("futures", upserted))
	return nil
}

// CleanupExpired deletes instruments whose expiry has passed. Strategies are
// never auto-deleted; a strategy left pointing at a deleted instrument is an
// operator problem surfaced through job failures.
func (c *Catalog) CleanupExpired(now time.Time) (int64, error) {
	res := c.db.Where("expiry < ?", now.Truncate(24*time.Hour)).Delete(&models.Instrument{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to clean up expired instruments: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		c.logger.Info("Cleaned up expired instruments", zap.Int64("count", res.RowsAffected))
	}
	return res.RowsAffected, nil
}

func isFuture(ticker string) bool {
	return strings.HasSuffix(ticker, "FUT")
}
