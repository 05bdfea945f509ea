package dashhttp

import (
	"time"

	"vela/internal/ledger"
)

// Snapshot is the full dashboard state for one paper/live partition, sent
// on WebSocket connect and after every ledger mutation.
type Snapshot struct {
	Mode        string            `json:"mode"`
	GeneratedAt time.Time         `json:"generated_at"`
	Instances   []ledger.Instance `json:"instances"`
	Positions   []ledger.Position `json:"positions"`
	Signals     []ledger.Signal   `json:"signals"`
	Trades      []ledger.Trade    `json:"trades"`
	Stats       ledger.Stats      `json:"stats"`
}

// StartRequest is the POST /api/strategies payload.
type StartRequest struct {
	Symbol   string                 `json:"symbol" binding:"required"`
	Mode     string                 `json:"mode" binding:"required"`
	Interval string                 `json:"interval" binding:"required"`
	IsLive   bool                   `json:"is_live"`
	Params   map[string]interface{} `json:"params"`
}

// StopRequest is the POST /api/strategies/stop payload. An empty symbol
// stops every running strategy.
type StopRequest struct {
	Symbol string `json:"symbol"`
}

func modeLabel(isLive bool) string {
	if isLive {
		return "live"
	}
	return "paper"
}

func parseMode(s string) (isLive bool, ok bool) {
	switch s {
	case "", "paper":
		return false, true
	case "live":
		return true, true
	}
	return false, false
}
