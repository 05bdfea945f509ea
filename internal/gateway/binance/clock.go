package binance

import "time"

// nowUnixMilli is swapped in tests to pin the unclosed-bar cutoff.
var nowUnixMilli = func() int64 {
	return time.Now().UnixMilli()
}
