package strategy

import (
	"fmt"
	"time"

	"vela/internal/ledger"
	"vela/internal/market"

	talib "github.com/markcheno/go-talib"
)

// RevertParams tunes the RSI mean-reversion strategy.
type RevertParams struct {
	RSIPeriod       int     `mapstructure:"rsi_period"`
	EntryOversold   float64 `mapstructure:"entry_oversold"`
	EntryOverbought float64 `mapstructure:"entry_overbought"`
	ExitNeutral     float64 `mapstructure:"exit_neutral"`
	MaxHoldMinutes  int     `mapstructure:"max_hold_minutes"`
}

func (p *RevertParams) applyDefaults() {
	if p.RSIPeriod <= 0 {
		p.RSIPeriod = 14
	}
	if p.EntryOversold <= 0 {
		p.EntryOversold = 28
	}
	if p.EntryOverbought <= 0 {
		p.EntryOverbought = 72
	}
	if p.ExitNeutral <= 0 {
		p.ExitNeutral = 50
	}
}

// Revert fades RSI extremes: long when oversold, short when overbought, exit
// when RSI normalizes.
type Revert struct {
	params RevertParams
}

func NewRevert(params RevertParams) *Revert {
	params.applyDefaults()
	return &Revert{params: params}
}

func (s *Revert) Name() string { return "revert" }

func (s *Revert) MinBars() int { return s.params.RSIPeriod * 2 }

func (s *Revert) Decide(candles []market.Candle, pos PositionState) *Decision {
	if len(candles) < s.MinBars() {
		return nil
	}
	closeSeries := closes(candles)
	rsi := talib.Rsi(closeSeries, s.params.RSIPeriod)
	last := len(closeSeries) - 1

	snapshot := map[string]float64{
		"rsi":   rsi[last],
		"close": closeSeries[last],
	}

	if pos.Open {
		if d := timeStop(pos, time.Duration(s.params.MaxHoldMinutes)*time.Minute); d != nil {
			d.Snapshot = snapshot
			return d
		}
		if pos.Side == "long" && rsi[last] >= s.params.ExitNeutral {
			return &Decision{
				Action:     ledger.ActionCloseLong,
				Rationale:  fmt.Sprintf("RSI normalized at %.1f", rsi[last]),
				Snapshot:   snapshot,
				ExitReason: ledger.ExitManual,
			}
		}
		if pos.Side == "short" && rsi[last] <= s.params.ExitNeutral {
			return &Decision{
				Action:     ledger.ActionCloseShort,
				Rationale:  fmt.Sprintf("RSI normalized at %.1f", rsi[last]),
				Snapshot:   snapshot,
				ExitReason: ledger.ExitManual,
			}
		}
		return nil
	}

	if rsi[last] <= s.params.EntryOversold {
		return &Decision{
			Action:    ledger.ActionOpenLong,
			Rationale: fmt.Sprintf("RSI oversold at %.1f", rsi[last]),
			Snapshot:  snapshot,
		}
	}
	if rsi[last] >= s.params.EntryOverbought {
		return &Decision{
			Action:    ledger.ActionOpenShort,
			Rationale: fmt.Sprintf("RSI overbought at %.1f", rsi[last]),
			Snapshot:  snapshot,
		}
	}
	return nil
}
