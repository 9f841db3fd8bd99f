package catalog

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"futures-rollover-bot/internal/models"
	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIngest(t *testing.T) {
	cat, db := setupCatalog(t)

	expiry := time.Date(2025, 1, 30, 0, 0, 0, 0, time.UTC)
	master := fmt.Sprintf(`{
		"NSE:NIFTY25JANFUT": {"exToken": 53001, "exSymName": "NIFTY25JANFUT", "exchange": 10, "underSym": "NIFTY", "expiryDate": "%d"},
		"NSE:NIFTY25JAN22000CE": {"exToken": 53002, "exSymName": "NIFTY25JAN22000CE", "exchange": 10, "underSym": "NIFTY", "expiryDate": "%d"},
		"MCX:CRUDEOIL25FEBFUT": {"exToken": 43001, "exSymName": "CRUDEOIL25FEBFUT", "exchange": 11, "underSym": "CRUDEOIL", "expiryDate": "%d"}
	}`, expiry.Unix(), expiry.Unix(), expiry.AddDate(0, 1, 0).Unix())

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(master))
	}))
	defer server.Close()

	client := resty.New()
	require.NoError(t, cat.Ingest(context.Background(), client, []string{server.URL}))

	// Only futures make it in; the option contract is filtered out.
	var instruments []models.Instrument
	require.NoError(t, db.Order("exchange_token asc").Find(&instruments).Error)
	require.Len(t, instruments, 2)

	assert.Equal(t, "43001", instruments[0].ExchangeToken)
	assert.Equal(t, "MCX", instruments[0].Exchange)
	assert.Equal(t, "CRUDEOIL", instruments[0].Underlying)

	assert.Equal(t, "53001", instruments[1].ExchangeToken)
	assert.Equal(t, "NSE", instruments[1].Exchange)
	assert.Equal(t, "NSE:NIFTY25JANFUT", instruments[1].BrokerSymbol)
	assert.Equal(t, "NIFTY25JANFUT", instruments[1].DisplayName)

	t.Run("UpsertByExchangeToken", func(t *testing.T) {
		// A second run with a changed symbol name updates in place instead
		// of inserting a duplicate.
		require.NoError(t, cat.Ingest(context.Background(), client, []string{server.URL}))

		var count int64
		require.NoError(t, db.Model(&models.Instrument{}).Count(&count).Error)
		assert.Equal(t, int64(2), count)
	})
}
