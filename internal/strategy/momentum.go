package strategy

import (
	"fmt"
	"time"

	"vela/internal/ledger"
	"vela/internal/market"

	talib "github.com/markcheno/go-talib"
)

// MomentumParams tunes the MACD momentum strategy.
type MomentumParams struct {
	FastPeriod     int `mapstructure:"fast_period"`
	SlowPeriod     int `mapstructure:"slow_period"`
	SignalPeriod   int `mapstructure:"signal_period"`
	MaxHoldMinutes int `mapstructure:"max_hold_minutes"`
}

func (p *MomentumParams) applyDefaults() {
	if p.FastPeriod <= 0 {
		p.FastPeriod = 12
	}
	if p.SlowPeriod <= 0 {
		p.SlowPeriod = 26
	}
	if p.SignalPeriod <= 0 {
		p.SignalPeriod = 9
	}
}

// Momentum follows MACD/signal-line crosses in trend direction.
type Momentum struct {
	params MomentumParams
}

func NewMomentum(params MomentumParams) *Momentum {
	params.applyDefaults()
	return &Momentum{params: params}
}

func (s *Momentum) Name() string { return "momentum" }

func (s *Momentum) MinBars() int {
	return s.params.SlowPeriod + s.params.SignalPeriod + 5
}

func (s *Momentum) Decide(candles []market.Candle, pos PositionState) *Decision {
	if len(candles) < s.MinBars() {
		return nil
	}
	closeSeries := closes(candles)
	macd, signal, hist := talib.Macd(closeSeries, s.params.FastPeriod, s.params.SlowPeriod, s.params.SignalPeriod)
	last := len(closeSeries) - 1

	crossedUp := macd[last] > signal[last] && macd[last-1] <= signal[last-1]
	crossedDown := macd[last] < signal[last] && macd[last-1] >= signal[last-1]

	snapshot := map[string]float64{
		"macd":      macd[last],
		"signal":    signal[last],
		"histogram": hist[last],
		"close":     closeSeries[last],
	}

	if pos.Open {
		if d := timeStop(pos, time.Duration(s.params.MaxHoldMinutes)*time.Minute); d != nil {
			d.Snapshot = snapshot
			return d
		}
		if pos.Side == "long" && crossedDown {
			return &Decision{
				Action:     ledger.ActionCloseLong,
				Rationale:  "MACD crossed below signal line",
				Snapshot:   snapshot,
				ExitReason: ledger.ExitManual,
			}
		}
		if pos.Side == "short" && crossedUp {
			return &Decision{
				Action:     ledger.ActionCloseShort,
				Rationale:  "MACD crossed above signal line",
				Snapshot:   snapshot,
				ExitReason: ledger.ExitManual,
			}
		}
		return nil
	}

	if crossedUp && hist[last] > 0 {
		return &Decision{
			Action:    ledger.ActionOpenLong,
			Rationale: fmt.Sprintf("MACD bullish cross, histogram %.4f", hist[last]),
			Snapshot:  snapshot,
		}
	}
	if crossedDown && hist[last] < 0 {
		return &Decision{
			Action:    ledger.ActionOpenShort,
			Rationale: fmt.Sprintf("MACD bearish cross, histogram %.4f", hist[last]),
			Snapshot:  snapshot,
		}
	}
	return nil
}
