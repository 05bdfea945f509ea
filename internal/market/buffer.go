package market

// Buffer is a bounded rolling window of candles for one symbol/interval.
// It is owned by a single runner goroutine and needs no locking.
type Buffer struct {
	max     int
	candles []Candle
}

func NewBuffer(max int) *Buffer {
	if max <= 0 {
		max = 300
	}
	return &Buffer{max: max}
}

// Replace swaps the whole window, keeping at most max candles from the tail.
func (b *Buffer) Replace(candles []Candle) {
	if len(candles) > b.max {
		candles = candles[len(candles)-b.max:]
	}
	b.candles = append(b.candles[:0], candles...)
}

// Append adds a candle, replacing the last one when open times match (the
// exchange re-sends the forming bar until it closes).
func (b *Buffer) Append(c Candle) {
	n := len(b.candles)
	if n > 0 && b.candles[n-1].OpenTime == c.OpenTime {
		b.candles[n-1] = c
		return
	}
	b.candles = append(b.candles, c)
	if len(b.candles) > b.max {
		b.candles = b.candles[len(b.candles)-b.max:]
	}
}

func (b *Buffer) Len() int {
	return len(b.candles)
}

// Candles returns the window as a copy so callers cannot mutate the buffer.
func (b *Buffer) Candles() []Candle {
	out := make([]Candle, len(b.candles))
	copy(out, b.candles)
	return out
}

// Closes returns the close-price series, oldest first.
func (b *Buffer) Closes() []float64 {
	out := make([]float64, len(b.candles))
	for i, c := range b.candles {
		out[i] = c.Close
	}
	return out
}

func (b *Buffer) Last() (Candle, bool) {
	if len(b.candles) == 0 {
		return Candle{}, false
	}
	return b.candles[len(b.candles)-1], true
}
