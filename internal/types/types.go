package types

import (
	"encoding/json"
	"time"
)

// OrderRequest is an order as the agent layer describes it. Optional prices
// are pointers so that "absent" and zero stay distinct.
type OrderRequest struct {
	AccountID    string   `json:"account_id,omitempty"`
	Symbol       string   `json:"symbol"`
	Side         string   `json:"side"`
	Quantity     float64  `json:"quantity"`
	OrderType    string   `json:"order_type"`
	LimitPrice   *float64 `json:"limit_price,omitempty"`
	AuxPrice     *float64 `json:"aux_price,omitempty"`
	TrailingAmt  *float64 `json:"trailing_amt,omitempty"`
	TrailingType string   `json:"trailing_type,omitempty"`
	AllOrNone    *bool    `json:"all_or_none,omitempty"`
	OutsideRTH   *bool    `json:"outside_rth,omitempty"`
}

// OrderResult is the gateway's reply to an order submission, passed through as-is.
type OrderResult map[string]any

type Contract struct {
	Symbol     string `json:"symbol"`
	Name       string `json:"name"`
	Conid      string `json:"conid"`
	AssetClass string `json:"assetClass"`
}

type Positions struct {
	AccountID string          `json:"account_id"`
	Positions json.RawMessage `json:"positions"`
}

type AccountSummary struct {
	AccountID string          `json:"account_id"`
	Summary   json.RawMessage `json:"summary"`
}

type AuthStatus struct {
	Authenticated bool   `json:"authenticated"`
	Connected     bool   `json:"connected"`
	Competing     bool   `json:"competing"`
	Message       string `json:"message,omitempty"`
}

// Quote is the normalized view of one instrument's streaming state.
type Quote struct {
	Symbol    string   `json:"symbol"`
	Conid     int64    `json:"conid"`
	Last      float64  `json:"last"`
	Bid       *float64 `json:"bid"`
	Ask       *float64 `json:"ask"`
	Chg       *float64 `json:"chg"`
	IsDelayed bool     `json:"isDelayed"`
}

type PendingTrade struct {
	Token     string       `json:"token"`
	Order     OrderRequest `json:"order"`
	CreatedAt time.Time    `json:"created_at"`
	ExpiresAt time.Time    `json:"expires_at"`
}

type Headline struct {
	Title       string `json:"title"`
	Link        string `json:"link"`
	Summary     string `json:"summary,omitempty"`
	PublishedAt string `json:"published_at,omitempty"`
	Source      string `json:"source"`
}

// Bar is one OHLCV candle from the history endpoint. T is epoch milliseconds.
type Bar struct {
	T int64   `json:"t"`
	O float64 `json:"o"`
	H float64 `json:"h"`
	L float64 `json:"l"`
	C float64 `json:"c"`
	V float64 `json:"v"`
}

type PriceHistory struct {
	Symbol string `json:"symbol"`
	Conid  int64  `json:"conid"`
	Period string `json:"period"`
	Bar    string `json:"bar"`
	Bars   []Bar  `json:"data"`
}
