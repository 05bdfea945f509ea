package binance

import (
	"testing"

	"vela/internal/market"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/stretchr/testify/assert"
)

func TestDropUnclosed(t *testing.T) {
	orig := nowUnixMilli
	nowUnixMilli = func() int64 { return 1_000_000 }
	defer func() { nowUnixMilli = orig }()

	t.Run("Drops Forming Bar", func(t *testing.T) {
		candles := []market.Candle{
			{OpenTime: 0, CloseTime: 900_000},
			{OpenTime: 900_000, CloseTime: 1_800_000},
		}
		out := dropUnclosed(candles)
		assert.Len(t, out, 1)
		assert.EqualValues(t, 900_000, out[0].CloseTime)
	})

	t.Run("Keeps Closed Bars", func(t *testing.T) {
		candles := []market.Candle{{OpenTime: 0, CloseTime: 900_000}}
		assert.Len(t, dropUnclosed(candles), 1)
	})

	t.Run("Empty", func(t *testing.T) {
		assert.Empty(t, dropUnclosed(nil))
	})
}

func TestHistoryLimit(t *testing.T) {
	assert.Equal(t, 100, historyLimit(0))
	assert.Equal(t, 200, historyLimit(200))
	// The request adds one bar for the forming kline, so the clamp must
	// keep limit+1 within the exchange cap.
	assert.Equal(t, maxHistoryLimit-1, historyLimit(1500))
	assert.Equal(t, maxHistoryLimit-1, historyLimit(5000))
}

func TestMapSide(t *testing.T) {
	side, err := mapSide("buy")
	assert.NoError(t, err)
	assert.Equal(t, futures.SideTypeBuy, side)

	side, err = mapSide("SELL")
	assert.NoError(t, err)
	assert.Equal(t, futures.SideTypeSell, side)

	_, err = mapSide("hold")
	assert.Error(t, err)
}

func TestMapOrderType(t *testing.T) {
	typ, err := mapOrderType("")
	assert.NoError(t, err)
	assert.Equal(t, futures.OrderTypeMarket, typ)

	typ, err = mapOrderType("stop_market")
	assert.NoError(t, err)
	assert.Equal(t, futures.OrderTypeStopMarket, typ)

	typ, err = mapOrderType("take_profit_market")
	assert.NoError(t, err)
	assert.Equal(t, futures.OrderTypeTakeProfitMarket, typ)

	_, err = mapOrderType("iceberg")
	assert.Error(t, err)
}

func TestFormatQty(t *testing.T) {
	assert.Equal(t, "0.01", formatQty(0.01))
	assert.Equal(t, "97005", formatQty(97005))
}
