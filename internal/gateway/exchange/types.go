package exchange

import "time"

// Order sides and types use exchange-neutral spellings; adapters translate.
const (
	SideBuy  = "buy"
	SideSell = "sell"

	TypeMarket     = "market"
	TypeStopMarket = "stop_market"
	TypeTakeProfit = "take_profit_market"
)

// OrderRequest contains parameters for a single order submission.
type OrderRequest struct {
	Symbol     string  // internal form, e.g. "BTC/USDT"
	Side       string  // "buy" or "sell"
	Type       string  // market / stop_market / take_profit_market
	Size       float64 // base asset quantity
	StopPrice  float64 // trigger price for protective orders
	ReduceOnly bool
}

// OrderResult is the outcome of a submission. Status is the exchange's own
// status string, preserved for audit.
type OrderResult struct {
	OrderID   string
	FillPrice float64
	FillSize  float64
	Fee       float64 // reported by the exchange; 0 when not yet known
	Status    string
}

// Position is an open exposure as the exchange reports it.
type Position struct {
	Symbol        string
	Side          string // "long" or "short"
	Size          float64
	EntryPrice    float64
	MarkPrice     float64
	UnrealizedPnL float64
	UpdatedAt     time.Time
}

// Balance is the account's quote-currency funds.
type Balance struct {
	Asset     string
	Total     float64
	Available float64
	UpdatedAt time.Time
}
