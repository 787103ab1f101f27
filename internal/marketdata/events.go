package marketdata

import (
	"context"

	"github.com/bytedance/sonic"

	"ibkr-copilot/internal/logger"
	"ibkr-copilot/internal/types"
)

// Event types published to subscribers.
const (
	EventConnected  = "connected"
	EventMarketData = "marketData"
	EventError      = "error"
)

type statusEvent struct {
	Type   string `json:"type"`
	Status bool   `json:"status"`
}

type quoteEvent struct {
	Type      string   `json:"type"`
	Symbol    string   `json:"symbol"`
	Last      float64  `json:"last"`
	Bid       *float64 `json:"bid"`
	Ask       *float64 `json:"ask"`
	Chg       *float64 `json:"chg"`
	IsDelayed bool     `json:"isDelayed"`
}

type errorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func newQuoteEvent(q types.Quote) quoteEvent {
	return quoteEvent{
		Type:      EventMarketData,
		Symbol:    q.Symbol,
		Last:      q.Last,
		Bid:       q.Bid,
		Ask:       q.Ask,
		Chg:       q.Chg,
		IsDelayed: q.IsDelayed,
	}
}

func encodeEvent(v any) []byte {
	b, err := sonic.Marshal(v)
	if err != nil {
		logger.ErrorWithErr(context.Background(), "Failed to encode relay event", err)
		return nil
	}
	return b
}
