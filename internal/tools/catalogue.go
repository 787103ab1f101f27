package tools

import (
	"ibkr-copilot/internal/interfaces"
	"ibkr-copilot/internal/trades"
)

// Deps are the components backing the catalogue. Nil members leave their
// tools out, except Gateway which is required.
type Deps struct {
	Gateway    interfaces.Gateway
	Trades     *trades.Book
	MarketData interfaces.MarketData
	Answerer   interfaces.Answerer
	News       interfaces.HeadlineSource
	Briefer    Briefer
}

// Catalogue builds the full registry in publication order.
func Catalogue(d Deps) *Registry {
	r := NewRegistry(GatewayTools(d.Gateway)...)
	r.Register(IndicatorTools(d.Gateway)...)
	if d.Trades != nil {
		r.Register(TradeTools(d.Trades, d.Gateway)...)
	}
	if d.MarketData != nil {
		r.Register(MarketDataTools(d.MarketData)...)
	}
	if d.Answerer != nil {
		r.Register(AnalystTools(d.Answerer)...)
	}
	if d.News != nil {
		r.Register(NewsTools(d.News, d.Briefer)...)
	}
	return r
}
