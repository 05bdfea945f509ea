package strategy

import (
	"fmt"
	"time"

	"vela/internal/ledger"
	"vela/internal/market"

	talib "github.com/markcheno/go-talib"
)

// ScalpParams tunes the EMA-cross scalper.
type ScalpParams struct {
	FastPeriod     int     `mapstructure:"fast_period"`
	SlowPeriod     int     `mapstructure:"slow_period"`
	RSIPeriod      int     `mapstructure:"rsi_period"`
	RSIOverbought  float64 `mapstructure:"rsi_overbought"`
	RSIOversold    float64 `mapstructure:"rsi_oversold"`
	MaxHoldMinutes int     `mapstructure:"max_hold_minutes"`
}

func (p *ScalpParams) applyDefaults() {
	if p.FastPeriod <= 0 {
		p.FastPeriod = 9
	}
	if p.SlowPeriod <= 0 {
		p.SlowPeriod = 21
	}
	if p.RSIPeriod <= 0 {
		p.RSIPeriod = 14
	}
	if p.RSIOverbought <= 0 {
		p.RSIOverbought = 70
	}
	if p.RSIOversold <= 0 {
		p.RSIOversold = 30
	}
}

// Scalp trades EMA crosses with an RSI extreme filter. Entries on a fresh
// cross, exits on the opposite cross or the time stop.
type Scalp struct {
	params ScalpParams
}

func NewScalp(params ScalpParams) *Scalp {
	params.applyDefaults()
	return &Scalp{params: params}
}

func (s *Scalp) Name() string { return "scalp" }

func (s *Scalp) MinBars() int {
	return s.params.SlowPeriod + s.params.RSIPeriod + 1
}

func (s *Scalp) Decide(candles []market.Candle, pos PositionState) *Decision {
	if len(candles) < s.MinBars() {
		return nil
	}
	closeSeries := closes(candles)
	fast := talib.Ema(closeSeries, s.params.FastPeriod)
	slow := talib.Ema(closeSeries, s.params.SlowPeriod)
	rsi := talib.Rsi(closeSeries, s.params.RSIPeriod)

	last := len(closeSeries) - 1
	crossedUp := fast[last] > slow[last] && fast[last-1] <= slow[last-1]
	crossedDown := fast[last] < slow[last] && fast[last-1] >= slow[last-1]

	snapshot := map[string]float64{
		"ema_fast": fast[last],
		"ema_slow": slow[last],
		"rsi":      rsi[last],
		"close":    closeSeries[last],
	}

	if pos.Open {
		if d := timeStop(pos, time.Duration(s.params.MaxHoldMinutes)*time.Minute); d != nil {
			d.Snapshot = snapshot
			return d
		}
		if pos.Side == "long" && crossedDown {
			return &Decision{
				Action:     ledger.ActionCloseLong,
				Rationale:  fmt.Sprintf("EMA%d crossed below EMA%d", s.params.FastPeriod, s.params.SlowPeriod),
				Snapshot:   snapshot,
				ExitReason: ledger.ExitManual,
			}
		}
		if pos.Side == "short" && crossedUp {
			return &Decision{
				Action:     ledger.ActionCloseShort,
				Rationale:  fmt.Sprintf("EMA%d crossed above EMA%d", s.params.FastPeriod, s.params.SlowPeriod),
				Snapshot:   snapshot,
				ExitReason: ledger.ExitManual,
			}
		}
		return nil
	}

	if crossedUp && rsi[last] < s.params.RSIOverbought {
		return &Decision{
			Action:    ledger.ActionOpenLong,
			Rationale: fmt.Sprintf("EMA%d crossed above EMA%d, RSI %.1f", s.params.FastPeriod, s.params.SlowPeriod, rsi[last]),
			Snapshot:  snapshot,
		}
	}
	if crossedDown && rsi[last] > s.params.RSIOversold {
		return &Decision{
			Action:    ledger.ActionOpenShort,
			Rationale: fmt.Sprintf("EMA%d crossed below EMA%d, RSI %.1f", s.params.FastPeriod, s.params.SlowPeriod, rsi[last]),
			Snapshot:  snapshot,
		}
	}
	return nil
}
