package dashhttp

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"vela/internal/ledger"
	"vela/internal/logger"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	refreshPeriod  = 5 * time.Second
	clientSendSize = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The dashboard is served from the same process; cross-origin views
	// (dev frontends) are fine for read-only state.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsClient struct {
	conn   *websocket.Conn
	send   chan []byte
	isLive bool
}

// Hub pushes dashboard snapshots to connected WebSocket clients. Ledger
// mutations mark the state dirty; the loop coalesces bursts so one tick's
// worth of changes becomes one frame.
type Hub struct {
	led *ledger.Ledger

	mu      sync.Mutex
	clients map[*wsClient]struct{}

	dirty chan struct{}
	done  chan struct{}
}

func NewHub(led *ledger.Ledger) *Hub {
	h := &Hub{
		led:     led,
		clients: make(map[*wsClient]struct{}),
		dirty:   make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	led.OnMutation(h.markDirty)
	go h.loop()
	return h
}

func (h *Hub) markDirty() {
	select {
	case h.dirty <- struct{}{}:
	default:
	}
}

func (h *Hub) Close() {
	close(h.done)
	h.mu.Lock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	h.mu.Unlock()
}

// loop broadcasts on mutations and on a slow periodic refresh so clients
// see heartbeat/PnL drift even without trades.
func (h *Hub) loop() {
	ticker := time.NewTicker(refreshPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-h.done:
			return
		case <-h.dirty:
		case <-ticker.C:
		}
		h.broadcast()
	}
}

func (h *Hub) snapshot(isLive bool) Snapshot {
	return Snapshot{
		Mode:        modeLabel(isLive),
		GeneratedAt: time.Now(),
		Instances:   h.led.Instances(),
		Positions:   h.led.Positions(isLive),
		Signals:     h.led.RecentSignals(isLive),
		Trades:      h.led.RecentTrades(isLive),
		Stats:       h.led.Statistics(isLive),
	}
}

func (h *Hub) broadcast() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.clients) == 0 {
		return
	}
	frames := map[bool][]byte{}
	for c := range h.clients {
		frame, ok := frames[c.isLive]
		if !ok {
			data, err := json.Marshal(h.snapshot(c.isLive))
			if err != nil {
				logger.Errorf("ws: snapshot marshal failed: %v", err)
				return
			}
			frame = data
			frames[c.isLive] = frame
		}
		select {
		case c.send <- frame:
		default:
			// Slow consumer: drop it rather than stall the loop.
			close(c.send)
			delete(h.clients, c)
		}
	}
}

// Serve upgrades the request and joins the client to the hub. The first
// frame is always a full snapshot.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, isLive bool) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warnf("ws: upgrade failed: %v", err)
		return
	}
	client := &wsClient{conn: conn, send: make(chan []byte, clientSendSize), isLive: isLive}

	initial, err := json.Marshal(h.snapshot(isLive))
	if err == nil {
		client.send <- initial
	}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	go h.writePump(client)
	go h.readPump(client)
}

func (h *Hub) drop(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		close(c.send)
		delete(h.clients, c)
	}
	h.mu.Unlock()
	_ = c.conn.Close()
}

func (h *Hub) writePump(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains client frames (only pongs are expected) and detects
// disconnects.
func (h *Hub) readPump(c *wsClient) {
	defer h.drop(c)
	c.conn.SetReadLimit(1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
