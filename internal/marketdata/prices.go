package marketdata

import (
	"math"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"ibkr-copilot/internal/types"
)

// Upstream field codes.
const (
	FieldLast   = "31"
	FieldBid    = "84"
	FieldAsk    = "86"
	FieldChange = "82"
)

// DefaultFields is the field set requested for every subscription.
var DefaultFields = []string{FieldLast, FieldBid, FieldAsk, FieldChange}

// ParsePrice parses an upstream price. Delayed and closing quotes carry a
// non-numeric prefix ("C", "H") which is stripped first. Empty or unparseable input yields
// ok == false, never zero.
func ParsePrice(raw string) (float64, bool) {
	v, _, ok := parsePrice(raw)
	return v, ok
}

func startsNumber(r rune) bool {
	return unicode.IsDigit(r) || r == '-' || r == '+' || r == '.'
}

func parsePrice(raw string) (value float64, tagged bool, ok bool) {
	s := strings.TrimSpace(raw)
	start := strings.IndexFunc(s, startsNumber)
	if start < 0 {
		return 0, s != "", false
	}
	tagged = start > 0
	trimmed := strings.ReplaceAll(strings.TrimSpace(s[start:]), ",", "")
	if trimmed == "" {
		return 0, tagged, false
	}
	v, err := strconv.ParseFloat(trimmed, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, tagged, false
	}
	return v, tagged, true
}

// PriceStore keeps the latest raw value of every field per conid.
type PriceStore struct {
	mu     sync.RWMutex
	fields map[int64]map[string]string
}

func NewPriceStore() *PriceStore {
	return &PriceStore{fields: make(map[int64]map[string]string)}
}

// Merge overlays fields onto the stored state of conid. Fields not present in
// the update keep their previous value.
func (p *PriceStore) Merge(conid int64, fields map[string]string) {
	if len(fields) == 0 {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	state, ok := p.fields[conid]
	if !ok {
		state = make(map[string]string, len(fields))
		p.fields[conid] = state
	}
	for code, raw := range fields {
		state[code] = raw
	}
}

// Field returns the raw stored value of a field.
func (p *PriceStore) Field(conid int64, code string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	raw, ok := p.fields[conid][code]
	return raw, ok
}

// Quote builds a normalized quote for conid. ok is false until a last price
// has been seen.
func (p *PriceStore) Quote(conid int64) (types.Quote, bool) {
	p.mu.RLock()
	state := p.fields[conid]
	last, delayed, ok := parsePrice(state[FieldLast])
	bid := optionalPrice(state[FieldBid])
	ask := optionalPrice(state[FieldAsk])
	chg := optionalPrice(state[FieldChange])
	p.mu.RUnlock()

	if !ok {
		return types.Quote{}, false
	}
	return types.Quote{
		Conid:     conid,
		Last:      last,
		Bid:       bid,
		Ask:       ask,
		Chg:       chg,
		IsDelayed: delayed,
	}, true
}

func optionalPrice(raw string) *float64 {
	v, ok := ParsePrice(raw)
	if !ok {
		return nil
	}
	return &v
}
