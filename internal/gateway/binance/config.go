package binance

import (
	"strings"
	"time"
)

type Config struct {
	APIKey      string
	APISecret   string
	RESTBaseURL string
	HTTPTimeout time.Duration
}

func (c Config) withDefaults() Config {
	final := c
	final.RESTBaseURL = strings.TrimSpace(final.RESTBaseURL)
	if final.RESTBaseURL == "" {
		final.RESTBaseURL = "https://fapi.binance.com"
	}
	if final.HTTPTimeout <= 0 {
		final.HTTPTimeout = 15 * time.Second
	}
	return final
}
