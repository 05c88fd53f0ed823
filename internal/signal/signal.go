// Package signal turns candles into trade signals. A Strategy looks at the
// latest indicator values; a Gate wraps it so each signal fires once and
// must clear before it can fire again.
package signal

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/baguette88/polymarket-trading-bot/internal/marketdata"
	"github.com/baguette88/polymarket-trading-bot/internal/model"
)

// ErrUnknownStrategy is returned by New for an unregistered strategy name.
var ErrUnknownStrategy = errors.New("signal: unknown strategy")

// Signal is a strategy verdict. The zero value means no signal.
type Signal string

const (
	None  Signal = ""
	Long  Signal = Signal(model.DirectionLong)
	Short Signal = Signal(model.DirectionShort)
)

// Direction maps the signal onto a trade direction.
func (s Signal) Direction() model.Direction { return model.Direction(s) }

func (s Signal) String() string {
	if s == None {
		return "none"
	}
	return string(s)
}

// Engine turns a candle series, oldest first, into a signal.
type Engine interface {
	Process(candles []marketdata.Candle) Signal
}

// Indicators are the latest indicator values a strategy sees.
type Indicators struct {
	Close float64

	RSI14  float64
	HasRSI bool

	MACD       float64
	MACDSignal float64
	MACDHist   float64
	HasMACD    bool
}

// Compute derives the latest indicators from candles.
func Compute(candles []marketdata.Candle) Indicators {
	closes := marketdata.Closes(candles)
	var ind Indicators
	if len(closes) > 0 {
		ind.Close = closes[len(closes)-1]
	}
	ind.RSI14, ind.HasRSI = RSI(closes, 14)
	ind.MACD, ind.MACDSignal, ind.MACDHist, ind.HasMACD = MACD(closes, 12, 26, 9)
	return ind
}

// Strategy decides on the current indicators alone.
type Strategy interface {
	Name() string
	Check(ind Indicators) Signal
}

// Gate is the Engine most callers want: it runs a Strategy and suppresses
// repeats of a signal that is still active.
type Gate struct {
	strategy Strategy
	last     Signal
}

// NewGate wraps strategy. last seeds the gate so a signal that was already
// active before a restart does not fire again.
func NewGate(strategy Strategy, last Signal) *Gate {
	return &Gate{strategy: strategy, last: last}
}

// Process computes indicators and applies the fire-once rule.
func (g *Gate) Process(candles []marketdata.Candle) Signal {
	return g.apply(g.strategy.Check(Compute(candles)))
}

func (g *Gate) apply(s Signal) Signal {
	if s == None {
		if g.last != None {
			slog.Debug("signal reset", "was", g.last.String())
			g.last = None
		}
		return None
	}
	if s == g.last {
		slog.Debug("signal still active, waiting for reset", "signal", s.String())
		return None
	}
	slog.Info("new signal", "signal", s.String(), "strategy", g.strategy.Name())
	g.last = s
	return s
}

// Last returns the most recent raw signal state.
func (g *Gate) Last() Signal { return g.last }

// Strategy returns the wrapped strategy.
func (g *Gate) Strategy() Strategy { return g.strategy }

// Params tunes the built-in strategies.
type Params struct {
	Oversold   float64
	Overbought float64
}

// New returns a built-in strategy by name.
func New(name string, p Params) (Strategy, error) {
	switch name {
	case "mean_reversion", "":
		mr := MeanReversion{Oversold: p.Oversold, Overbought: p.Overbought}
		if mr.Oversold == 0 {
			mr.Oversold = 30
		}
		if mr.Overbought == 0 {
			mr.Overbought = 70
		}
		return mr, nil
	case "momentum":
		return Momentum{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
}

// MeanReversion goes long when RSI(14) is oversold and short when
// overbought.
type MeanReversion struct {
	Oversold   float64
	Overbought float64
}

func (MeanReversion) Name() string { return "mean_reversion" }

func (m MeanReversion) Check(ind Indicators) Signal {
	if !ind.HasRSI {
		return None
	}
	switch {
	case ind.RSI14 < m.Oversold:
		return Long
	case ind.RSI14 > m.Overbought:
		return Short
	}
	return None
}

// Momentum follows MACD: long when the line is above its signal and above
// zero, short when below both.
type Momentum struct{}

func (Momentum) Name() string { return "momentum" }

func (Momentum) Check(ind Indicators) Signal {
	if !ind.HasMACD {
		return None
	}
	switch {
	case ind.MACD > ind.MACDSignal && ind.MACD > 0:
		return Long
	case ind.MACD < ind.MACDSignal && ind.MACD < 0:
		return Short
	}
	return None
}
