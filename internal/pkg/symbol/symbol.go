package symbol

import "strings"

type Symbol struct {
	Base  string
	Quote string
}

// Internal returns the canonical "BASE/QUOTE" form used everywhere inside the
// process. Exchange adapters convert at their boundary.
func (s Symbol) Internal() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + "/" + s.Quote
}

// Exchange returns the concatenated form exchanges expect, e.g. "BTCUSDT".
func (s Symbol) Exchange() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + s.Quote
}

var quoteCurrencies = []string{"USDT", "USDC", "BUSD", "TUSD", "BTC", "ETH", "BNB"}

func Parse(s string) Symbol {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return Symbol{}
	}
	if idx := strings.Index(s, ":"); idx >= 0 {
		s = s[:idx]
	}
	if parts := strings.SplitN(s, "/", 2); len(parts) == 2 {
		return Symbol{
			Base:  strings.TrimSpace(parts[0]),
			Quote: strings.TrimSpace(parts[1]),
		}
	}
	for _, quote := range quoteCurrencies {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return Symbol{Base: s[:len(s)-len(quote)], Quote: quote}
		}
	}
	return Symbol{}
}

// Normalize maps any accepted spelling ("btcusdt", "BTC/USDT") to the internal
// form. Empty string means the input is not a recognizable pair.
func Normalize(s string) string {
	return Parse(s).Internal()
}

// ToExchange converts an internal symbol to the exchange wire form.
func ToExchange(s string) string {
	sym := Parse(s)
	if sym.Base == "" {
		return strings.ToUpper(strings.TrimSpace(strings.ReplaceAll(s, "/", "")))
	}
	return sym.Exchange()
}

func IsValid(s string) bool {
	sym := Parse(s)
	return sym.Base != "" && sym.Quote != ""
}
