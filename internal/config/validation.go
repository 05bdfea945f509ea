package config

import (
	"fmt"
	"strings"
)

func validate(c *Config) error {
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.Trading.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	return nil
}

func (m *MarketConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(m.Name)) {
	case "binance":
	default:
		return fmt.Errorf("market.name %q is not supported", m.Name)
	}
	if m.WarmupBars > m.MaxCachedBars {
		return fmt.Errorf("market.warmup_bars (%d) cannot exceed market.max_cached_bars (%d)",
			m.WarmupBars, m.MaxCachedBars)
	}
	return nil
}

func (t *TradingConfig) validate() error {
	if t.MinNotionalUSD > t.MaxNotionalUSD {
		return fmt.Errorf("trading.min_notional_usd must be <= trading.max_notional_usd")
	}
	if t.TakerFeeRate >= 0.01 {
		return fmt.Errorf("trading.taker_fee_rate %.4f looks wrong (>= 1%%)", t.TakerFeeRate)
	}
	if t.StopLossPct >= 1 || t.TakeProfitPct >= 1 {
		return fmt.Errorf("trading stop/take percentages must be fractions, not percent values")
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if n.Telegram.Enabled {
		if strings.TrimSpace(n.Telegram.BotToken) == "" || strings.TrimSpace(n.Telegram.ChatID) == "" {
			return fmt.Errorf("notify.telegram requires bot_token and chat_id when enabled")
		}
	}
	return nil
}
