package tools

import (
	"context"

	"ibkr-copilot/internal/interfaces"
	"ibkr-copilot/internal/ta"
)

// IndicatorTools computes indicators from gateway price history.
func IndicatorTools(src interfaces.HistorySource) []Tool {
	return []Tool{
		{
			Definition: Definition{
				Name:        "get_technical_indicators",
				Description: "Compute technical indicators (SMA 20/50, RSI 14, Bollinger bands, ATR 14) from historical bars for a contract, with a trend and momentum reading. Requires a contract ID (conid); use search_contract first if you only have a ticker symbol.",
				InputSchema: object([]string{"conid"}, map[string]any{
					"conid":  prop("integer", "Contract ID to analyze."),
					"period": prop("string", "History window in gateway syntax, e.g. '1w', '1m', '6m', '1y'. Defaults to '1m'."),
					"bar":    prop("string", "Bar size, e.g. '5min', '1h', '1d'. Defaults to '1d'."),
				}),
				Annotations: readOnly("Get Technical Indicators", true),
			},
			Handler: func(ctx context.Context, args []byte) (any, error) {
				var a struct {
					Conid  int64  `json:"conid"`
					Period string `json:"period"`
					Bar    string `json:"bar"`
				}
				if err := decode(args, &a); err != nil {
					return nil, err
				}
				hist, err := src.PriceHistory(ctx, a.Conid, a.Period, a.Bar)
				if err != nil {
					return nil, err
				}
				return map[string]any{
					"symbol":     hist.Symbol,
					"conid":      hist.Conid,
					"period":     hist.Period,
					"bar":        hist.Bar,
					"indicators": ta.Summarize(hist.Bars, ta.DefaultPeriods()),
				}, nil
			},
		},
	}
}
