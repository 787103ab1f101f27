package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"ibkr-copilot/internal/api"
	"ibkr-copilot/internal/types"
)

const (
	defaultHistoryPeriod = "1m"
	defaultHistoryBar    = "1d"
)

// PriceHistory fetches OHLCV bars for conid. Period and bar use the gateway's
// duration syntax ("1d", "1w", "6m", "5min") and default to one month of
// daily bars.
func (c *Client) PriceHistory(ctx context.Context, conid int64, period, bar string) (types.PriceHistory, error) {
	if conid <= 0 {
		return types.PriceHistory{}, invalid("conid", "must be a positive contract id")
	}
	if period == "" {
		period = defaultHistoryPeriod
	}
	if bar == "" {
		bar = defaultHistoryBar
	}

	req := api.NewRequest("GET", "/v1/api/iserver/marketdata/history").
		WithContext(ctx).
		WithTimeout(lookupTimeout).
		WithQuery("conid", strconv.FormatInt(conid, 10)).
		WithQuery("period", period).
		WithQuery("bar", bar)
	resp, err := c.http.Do(req)
	if err != nil {
		return types.PriceHistory{}, fmt.Errorf("price history %d: %w", conid, err)
	}

	var hist types.PriceHistory
	if err := json.Unmarshal(resp.Body, &hist); err != nil {
		return types.PriceHistory{}, fmt.Errorf("failed to parse price history: %w", err)
	}
	hist.Conid = conid
	hist.Period = period
	hist.Bar = bar
	return hist, nil
}
