// Package binance implements exchange.Gateway on Binance USD-M futures.
package binance

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"vela/internal/gateway/exchange"
	"vela/internal/market"
	symbolpkg "vela/internal/pkg/symbol"

	"github.com/adshao/go-binance/v2/futures"
)

const maxHistoryLimit = 1500

type Gateway struct {
	cfg    Config
	client *futures.Client
}

func New(cfg Config) (*Gateway, error) {
	final := cfg.withDefaults()
	client := futures.NewClient(final.APIKey, final.APISecret)
	client.BaseURL = final.RESTBaseURL
	client.HTTPClient = &http.Client{Timeout: final.HTTPTimeout}
	return &Gateway{cfg: final, client: client}, nil
}

func (g *Gateway) Name() string { return "binance" }

// historyLimit bounds the requested bar count, leaving room for the one
// extra forming bar under Binance's 1500-kline cap.
func historyLimit(limit int) int {
	if limit <= 0 {
		limit = 100
	}
	if limit > maxHistoryLimit-1 {
		limit = maxHistoryLimit - 1
	}
	return limit
}

func (g *Gateway) GetRecentBars(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	limit = historyLimit(limit)
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return nil, fmt.Errorf("interval is required")
	}
	// Binance wants symbols without slashes (e.g. ETHUSDT). Request one extra
	// bar because the last kline is still forming and gets dropped.
	clean := symbolpkg.ToExchange(symbol)
	kls, err := g.client.NewKlinesService().
		Symbol(clean).
		Interval(interval).
		Limit(limit + 1).
		Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.Candle{
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      parseFloat(kl.Open),
			High:      parseFloat(kl.High),
			Low:       parseFloat(kl.Low),
			Close:     parseFloat(kl.Close),
			Volume:    parseFloat(kl.Volume),
			Trades:    kl.TradeNum,
		})
	}
	out = dropUnclosed(out)
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (g *Gateway) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	clean := symbolpkg.ToExchange(symbol)
	idx, err := g.client.NewPremiumIndexService().Symbol(clean).Do(ctx)
	if err != nil {
		return 0, err
	}
	if len(idx) == 0 || idx[0] == nil {
		return 0, fmt.Errorf("no mark price for %s", symbol)
	}
	price := parseFloat(idx[0].MarkPrice)
	if price <= 0 {
		return 0, fmt.Errorf("invalid mark price %q for %s", idx[0].MarkPrice, symbol)
	}
	return price, nil
}

func (g *Gateway) SubmitOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderResult, error) {
	clean := symbolpkg.ToExchange(req.Symbol)
	if clean == "" {
		return nil, fmt.Errorf("invalid symbol %q", req.Symbol)
	}
	side, err := mapSide(req.Side)
	if err != nil {
		return nil, err
	}
	orderType, err := mapOrderType(req.Type)
	if err != nil {
		return nil, err
	}

	svc := g.client.NewCreateOrderService().
		Symbol(clean).
		Side(side).
		Type(orderType).
		Quantity(formatQty(req.Size)).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT)
	if req.StopPrice > 0 {
		svc = svc.StopPrice(formatQty(req.StopPrice))
	}
	if req.ReduceOnly {
		svc = svc.ReduceOnly(true)
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return nil, err
	}
	return &exchange.OrderResult{
		OrderID:   strconv.FormatInt(res.OrderID, 10),
		FillPrice: parseFloat(res.AvgPrice),
		FillSize:  parseFloat(res.ExecutedQuantity),
		Status:    string(res.Status),
	}, nil
}

func (g *Gateway) ListOpenPositions(ctx context.Context) ([]exchange.Position, error) {
	risks, err := g.client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]exchange.Position, 0, len(risks))
	for _, r := range risks {
		if r == nil {
			continue
		}
		amt := parseFloat(r.PositionAmt)
		if amt == 0 {
			continue
		}
		side := "long"
		if amt < 0 {
			side = "short"
			amt = -amt
		}
		out = append(out, exchange.Position{
			Symbol:        symbolpkg.Normalize(r.Symbol),
			Side:          side,
			Size:          amt,
			EntryPrice:    parseFloat(r.EntryPrice),
			MarkPrice:     parseFloat(r.MarkPrice),
			UnrealizedPnL: parseFloat(r.UnRealizedProfit),
		})
	}
	return out, nil
}

func (g *Gateway) GetBalance(ctx context.Context) (exchange.Balance, error) {
	balances, err := g.client.NewGetBalanceService().Do(ctx)
	if err != nil {
		return exchange.Balance{}, err
	}
	for _, b := range balances {
		if b == nil || b.Asset != "USDT" {
			continue
		}
		return exchange.Balance{
			Asset:     b.Asset,
			Total:     parseFloat(b.Balance),
			Available: parseFloat(b.AvailableBalance),
		}, nil
	}
	return exchange.Balance{Asset: "USDT"}, nil
}

func mapSide(side string) (futures.SideType, error) {
	switch strings.ToLower(strings.TrimSpace(side)) {
	case exchange.SideBuy:
		return futures.SideTypeBuy, nil
	case exchange.SideSell:
		return futures.SideTypeSell, nil
	default:
		return "", fmt.Errorf("unknown order side %q", side)
	}
}

func mapOrderType(t string) (futures.OrderType, error) {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case exchange.TypeMarket, "":
		return futures.OrderTypeMarket, nil
	case exchange.TypeStopMarket:
		return futures.OrderTypeStopMarket, nil
	case exchange.TypeTakeProfit:
		return futures.OrderTypeTakeProfitMarket, nil
	default:
		return "", fmt.Errorf("unknown order type %q", t)
	}
}

func formatQty(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}

// dropUnclosed removes the trailing kline when its close time is in the
// future, i.e. the bar is still forming.
func dropUnclosed(candles []market.Candle) []market.Candle {
	if len(candles) == 0 {
		return candles
	}
	last := candles[len(candles)-1]
	if last.CloseTime > nowUnixMilli() {
		return candles[:len(candles)-1]
	}
	return candles
}
