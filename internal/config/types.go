package config

// Config is the top-level configuration carrier.
type Config struct {
	App      AppConfig      `toml:"app"`
	Market   MarketConfig   `toml:"market"`
	Trading  TradingConfig  `toml:"trading"`
	Store    StoreConfig    `toml:"store"`
	Strategy StrategyConfig `toml:"strategy"`
	Notify   NotifyConfig   `toml:"notify"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	HTTPAddr string `toml:"http_addr"`
	LogPath  string `toml:"log_path"`
}

type MarketConfig struct {
	Name               string `toml:"name"`
	RESTBaseURL        string `toml:"rest_base_url"`
	APIKey             string `toml:"api_key"`
	APISecret          string `toml:"api_secret"`
	HTTPTimeoutSeconds int    `toml:"http_timeout_seconds"`
	WarmupBars         int    `toml:"warmup_bars"`
	MaxCachedBars      int    `toml:"max_cached_bars"`
}

type TradingConfig struct {
	DefaultNotionalUSD   float64 `toml:"default_notional_usd"`
	MinNotionalUSD       float64 `toml:"min_notional_usd"`
	MaxNotionalUSD       float64 `toml:"max_notional_usd"`
	TakerFeeRate         float64 `toml:"taker_fee_rate"`
	StopLossPct          float64 `toml:"stop_loss_pct"`
	TakeProfitPct        float64 `toml:"take_profit_pct"`
	SizePrecision        int     `toml:"size_precision"`
	SignalTimeoutSeconds int     `toml:"signal_timeout_seconds"`
	PaperBalanceUSD      float64 `toml:"paper_balance_usd"`
}

type StoreConfig struct {
	Path      string `toml:"path"`
	AuditPath string `toml:"audit_path"`
}

type StrategyConfig struct {
	ParamsPath string `toml:"params_path"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}
