package marketdata

import (
	"sort"
	"strings"
	"sync"
)

// Instrument is one symbol to contract id mapping.
type Instrument struct {
	Symbol string `json:"symbol"`
	Conid  int64  `json:"conid"`
}

// DefaultSymbols returns the instruments every relay starts with.
func DefaultSymbols() map[string]int64 {
	return map[string]int64{
		"AAPL":    265598,
		"MSFT":    272093,
		"TSLA":    76792991,
		"NVDA":    4815747,
		"AMZN":    3691937,
		"EUR.USD": 12087792,
		"GBP.USD": 12087797,
		"USD.JPY": 15016059,
	}
}

// normalizeSymbol upper-cases a symbol and writes FX pairs with a dot.
func normalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	return strings.NewReplacer("/", ".", " ", ".").Replace(s)
}

// SymbolMap is a bidirectional symbol <-> conid map. Entries are never
// replaced or removed.
type SymbolMap struct {
	mu       sync.RWMutex
	bySymbol map[string]int64
	byConid  map[int64]string
}

// NewSymbolMap creates a map pre-seeded with seed.
func NewSymbolMap(seed map[string]int64) *SymbolMap {
	m := &SymbolMap{
		bySymbol: make(map[string]int64, len(seed)),
		byConid:  make(map[int64]string, len(seed)),
	}
	for symbol, conid := range seed {
		m.Add(symbol, conid)
	}
	return m
}

// Add records symbol -> conid unless either side is already mapped. It
// returns the conid now associated with symbol and whether it was added.
func (m *SymbolMap) Add(symbol string, conid int64) (int64, bool) {
	symbol = normalizeSymbol(symbol)

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.bySymbol[symbol]; ok {
		return existing, false
	}
	if _, ok := m.byConid[conid]; ok {
		// the conid already belongs to another spelling; alias it
		m.bySymbol[symbol] = conid
		return conid, true
	}
	m.bySymbol[symbol] = conid
	m.byConid[conid] = symbol
	return conid, true
}

// Conid returns the contract id mapped to symbol.
func (m *SymbolMap) Conid(symbol string) (int64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conid, ok := m.bySymbol[normalizeSymbol(symbol)]
	return conid, ok
}

// Symbol returns the symbol mapped to conid.
func (m *SymbolMap) Symbol(conid int64) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	symbol, ok := m.byConid[conid]
	return symbol, ok
}

// Entries returns one instrument per conid, ordered by symbol.
func (m *SymbolMap) Entries() []Instrument {
	m.mu.RLock()
	out := make([]Instrument, 0, len(m.byConid))
	for conid, symbol := range m.byConid {
		out = append(out, Instrument{Symbol: symbol, Conid: conid})
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
