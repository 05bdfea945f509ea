package config

const (
	defaultAppEnv           = "dev"
	defaultAppLogLevel      = "info"
	defaultAppHTTPAddr      = ":9991"
	defaultMarketName       = "binance"
	defaultMarketREST       = "https://fapi.binance.com"
	defaultMarketTimeout    = 15
	defaultWarmupBars       = 50
	defaultMaxCachedBars    = 300
	defaultNotionalUSD      = 1000.0
	defaultMinNotionalUSD   = 100.0
	defaultMaxNotionalUSD   = 10000.0
	defaultTakerFeeRate     = 0.0005
	defaultStopLossPct      = 0.01
	defaultTakeProfitPct    = 0.02
	defaultSizePrecision    = 3
	defaultSignalTimeoutSec = 30
	defaultPaperBalanceUSD  = 10000.0
	defaultStorePath        = "data/vela.db"
	defaultAuditPath        = "data/audit.db"
	defaultParamsPath       = "configs/strategies.yaml"
)

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = defaultAppEnv
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = defaultAppLogLevel
	}
	if c.App.HTTPAddr == "" {
		c.App.HTTPAddr = defaultAppHTTPAddr
	}
	if c.Market.Name == "" {
		c.Market.Name = defaultMarketName
	}
	if c.Market.RESTBaseURL == "" {
		c.Market.RESTBaseURL = defaultMarketREST
	}
	if c.Market.HTTPTimeoutSeconds <= 0 {
		c.Market.HTTPTimeoutSeconds = defaultMarketTimeout
	}
	if c.Market.WarmupBars <= 0 {
		c.Market.WarmupBars = defaultWarmupBars
	}
	if c.Market.MaxCachedBars <= 0 {
		c.Market.MaxCachedBars = defaultMaxCachedBars
	}
	if c.Trading.DefaultNotionalUSD <= 0 {
		c.Trading.DefaultNotionalUSD = defaultNotionalUSD
	}
	if c.Trading.MinNotionalUSD <= 0 {
		c.Trading.MinNotionalUSD = defaultMinNotionalUSD
	}
	if c.Trading.MaxNotionalUSD <= 0 {
		c.Trading.MaxNotionalUSD = defaultMaxNotionalUSD
	}
	if c.Trading.TakerFeeRate <= 0 {
		c.Trading.TakerFeeRate = defaultTakerFeeRate
	}
	if c.Trading.StopLossPct <= 0 {
		c.Trading.StopLossPct = defaultStopLossPct
	}
	if c.Trading.TakeProfitPct <= 0 {
		c.Trading.TakeProfitPct = defaultTakeProfitPct
	}
	if c.Trading.SizePrecision <= 0 {
		c.Trading.SizePrecision = defaultSizePrecision
	}
	if c.Trading.SignalTimeoutSeconds <= 0 {
		c.Trading.SignalTimeoutSeconds = defaultSignalTimeoutSec
	}
	if c.Trading.PaperBalanceUSD <= 0 {
		c.Trading.PaperBalanceUSD = defaultPaperBalanceUSD
	}
	if c.Store.Path == "" {
		c.Store.Path = defaultStorePath
	}
	if c.Store.AuditPath == "" {
		c.Store.AuditPath = defaultAuditPath
	}
	if c.Strategy.ParamsPath == "" {
		c.Strategy.ParamsPath = defaultParamsPath
	}
}
