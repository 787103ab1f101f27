// Package ta computes trailing technical indicators over gateway price bars.
package ta

import (
	"math"

	"ibkr-copilot/internal/types"
)

// Periods configures the indicator windows used by Summarize.
type Periods struct {
	SMAFast   int
	SMASlow   int
	RSI       int
	Bollinger int
	BandWidth float64
	ATR       int
}

func DefaultPeriods() Periods {
	return Periods{SMAFast: 20, SMASlow: 50, RSI: 14, Bollinger: 20, BandWidth: 2, ATR: 14}
}

// Summary holds the latest value of each indicator. A nil field means the
// history was too short for its window.
type Summary struct {
	Bars      int      `json:"bars"`
	Last      float64  `json:"last"`
	SMAFast   *float64 `json:"sma_fast"`
	SMASlow   *float64 `json:"sma_slow"`
	RSI       *float64 `json:"rsi"`
	BBMid     *float64 `json:"bollinger_mid"`
	BBUpper   *float64 `json:"bollinger_upper"`
	BBLower   *float64 `json:"bollinger_lower"`
	ATR       *float64 `json:"atr"`
	Trend     string   `json:"trend"`
	Momentum  string   `json:"momentum"`
	Periods   Periods  `json:"periods"`
	FirstTime int64    `json:"first_time,omitempty"`
	LastTime  int64    `json:"last_time,omitempty"`
}

func Closes(bars []types.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.C
	}
	return out
}

// Summarize evaluates every indicator on the trailing end of bars.
func Summarize(bars []types.Bar, p Periods) Summary {
	s := Summary{Bars: len(bars), Periods: p, Trend: "unknown", Momentum: "unknown"}
	if len(bars) == 0 {
		return s
	}
	s.Last = bars[len(bars)-1].C
	s.FirstTime = bars[0].T
	s.LastTime = bars[len(bars)-1].T

	closes := Closes(bars)
	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	for i, b := range bars {
		highs[i], lows[i] = b.H, b.L
	}

	s.SMAFast = value(SMA(closes, p.SMAFast))
	s.SMASlow = value(SMA(closes, p.SMASlow))
	s.RSI = value(RSI(closes, p.RSI))
	mid, up, low := Bollinger(closes, p.Bollinger, p.BandWidth)
	s.BBMid, s.BBUpper, s.BBLower = value(mid), value(up), value(low)
	s.ATR = value(ATR(highs, lows, closes, p.ATR))

	if s.SMAFast != nil && s.SMASlow != nil {
		switch {
		case *s.SMAFast > *s.SMASlow:
			s.Trend = "up"
		case *s.SMAFast < *s.SMASlow:
			s.Trend = "down"
		default:
			s.Trend = "flat"
		}
	}
	if s.RSI != nil {
		switch {
		case *s.RSI >= 70:
			s.Momentum = "overbought"
		case *s.RSI <= 30:
			s.Momentum = "oversold"
		default:
			s.Momentum = "neutral"
		}
	}
	return s
}

func value(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// SMA is the mean of the last n values, NaN when fewer are available.
func SMA(closes []float64, n int) float64 {
	if len(closes) < n || n <= 0 {
		return math.NaN()
	}
	sum := 0.0
	for _, c := range closes[len(closes)-n:] {
		sum += c
	}
	return sum / float64(n)
}

// RSI uses simple averages of gains and losses over the last period changes.
func RSI(closes []float64, period int) float64 {
	if len(closes) < period+1 || period <= 0 {
		return math.NaN()
	}
	gain, loss := 0.0, 0.0
	for i := len(closes) - period; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gain += d
		} else {
			loss -= d
		}
	}
	if loss == 0 {
		return 100.0
	}
	rs := gain / loss
	return 100.0 - (100.0 / (1.0 + rs))
}

func StdDev(vals []float64, n int) float64 {
	m := SMA(vals, n)
	if math.IsNaN(m) {
		return m
	}
	s := 0.0
	for _, v := range vals[len(vals)-n:] {
		d := v - m
		s += d * d
	}
	return math.Sqrt(s / float64(n))
}

func Bollinger(closes []float64, n int, k float64) (mid, up, low float64) {
	mid = SMA(closes, n)
	sd := StdDev(closes, n)
	return mid, mid + k*sd, mid - k*sd
}

// ATR averages the true range of the last period bars. Each bar needs the
// previous close, so period+1 bars are required.
func ATR(highs, lows, closes []float64, period int) float64 {
	if len(highs) != len(lows) || len(lows) != len(closes) {
		return math.NaN()
	}
	if period <= 0 || len(closes) < period+1 {
		return math.NaN()
	}
	sum := 0.0
	for i := len(closes) - period; i < len(closes); i++ {
		prev := closes[i-1]
		sum += math.Max(highs[i]-lows[i], math.Max(math.Abs(highs[i]-prev), math.Abs(lows[i]-prev)))
	}
	return sum / float64(period)
}
