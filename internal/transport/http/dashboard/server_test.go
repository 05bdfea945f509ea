package dashhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"vela/internal/executor"
	"vela/internal/ledger"
	"vela/internal/scheduler"
	"vela/internal/store/sqlite"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type idleWorker struct{}

func (idleWorker) Run(ctx context.Context) { <-ctx.Done() }

type fakeProtector struct {
	prot executor.Protection
}

func (f *fakeProtector) Protect(ctx context.Context, pos ledger.Position) executor.Protection {
	return f.prot
}

type testEnv struct {
	server *Server
	led    *ledger.Ledger
	sched  *scheduler.Scheduler
	prot   *fakeProtector
}

func newTestServer(t *testing.T) *testEnv {
	t.Helper()
	st, err := sqlite.NewSqliteStore(filepath.Join(t.TempDir(), "vela.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	led := ledger.New()
	sched := scheduler.New(st, led, func(spec scheduler.Spec) (scheduler.Worker, error) {
		return idleWorker{}, nil
	})
	t.Cleanup(sched.Shutdown)

	prot := &fakeProtector{}
	srv, err := NewServer(ServerConfig{
		Scheduler:  sched,
		Ledger:     led,
		Store:      st,
		Protectors: map[bool]Protector{false: prot, true: prot},
		ReportFn: func(ctx context.Context, isLive bool) ([]byte, error) {
			return []byte("<html>report</html>"), nil
		},
	})
	require.NoError(t, err)
	t.Cleanup(srv.hub.Close)
	return &testEnv{server: srv, led: led, sched: sched, prot: prot}
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	env := newTestServer(t)
	w := doJSON(t, env.server.Handler(), http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}

func TestStartStopStrategy(t *testing.T) {
	env := newTestServer(t)
	h := env.server.Handler()

	w := doJSON(t, h, http.MethodPost, "/api/strategies", StartRequest{
		Symbol: "BTCUSDT", Mode: "scalp", Interval: "1m",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// Same symbol again conflicts.
	w = doJSON(t, h, http.MethodPost, "/api/strategies", StartRequest{
		Symbol: "BTC/USDT", Mode: "momentum", Interval: "5m",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doJSON(t, h, http.MethodGet, "/api/strategies", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "BTC/USDT")

	w = doJSON(t, h, http.MethodPost, "/api/strategies/stop", StopRequest{Symbol: "BTCUSDT"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(t, h, http.MethodPost, "/api/strategies/stop", StopRequest{Symbol: "BTCUSDT"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStopAll(t *testing.T) {
	env := newTestServer(t)
	h := env.server.Handler()

	for _, sym := range []string{"BTCUSDT", "ETHUSDT"} {
		w := doJSON(t, h, http.MethodPost, "/api/strategies", StartRequest{
			Symbol: sym, Mode: "scalp", Interval: "1m",
		})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}

	w := doJSON(t, h, http.MethodPost, "/api/strategies/stop", StopRequest{})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"stopped":2`)
	assert.Empty(t, env.sched.List())
}

func TestStartValidation(t *testing.T) {
	env := newTestServer(t)
	h := env.server.Handler()

	w := doJSON(t, h, http.MethodPost, "/api/strategies", map[string]string{"symbol": "BTCUSDT"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "missing mode/interval")

	w = doJSON(t, h, http.MethodPost, "/api/strategies", StartRequest{
		Symbol: "BTCUSDT", Mode: "not_a_mode", Interval: "1m",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDashboardSnapshotModes(t *testing.T) {
	env := newTestServer(t)
	h := env.server.Handler()

	require.NoError(t, env.led.OpenPosition(ledger.Position{
		Symbol: "BTC/USDT", Side: "long", EntryPrice: 100, Size: 1, OpenedAt: time.Now(), IsLive: false,
	}))

	w := doJSON(t, h, http.MethodGet, "/api/dashboard?mode=paper", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var snap Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, "paper", snap.Mode)
	require.Len(t, snap.Positions, 1)

	w = doJSON(t, h, http.MethodGet, "/api/dashboard?mode=live", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Empty(t, snap.Positions, "live partition does not see paper positions")

	w = doJSON(t, h, http.MethodGet, "/api/dashboard?mode=nope", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReportEndpoint(t *testing.T) {
	env := newTestServer(t)
	w := doJSON(t, env.server.Handler(), http.MethodGet, "/api/report?mode=paper", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "report")
}

func TestProtectEndpoint(t *testing.T) {
	env := newTestServer(t)
	h := env.server.Handler()

	w := doJSON(t, h, http.MethodPost, "/api/positions/BTCUSDT/protect", nil)
	assert.Equal(t, http.StatusNotFound, w.Code, "no open position")

	require.NoError(t, env.led.OpenPosition(ledger.Position{
		Symbol: "BTC/USDT", Side: "long", EntryPrice: 100, Size: 1,
		StopLoss: 99, TakeProfit: 102, TakeOrderID: "tp1",
		OpenedAt: time.Now(), IsLive: false,
		Unprotected: true, ProtectionError: "stop_loss failed: down",
	}))
	env.prot.prot = executor.Protection{StopLoss: 99, StopOrderID: "sl2"}

	w = doJSON(t, h, http.MethodPost, "/api/positions/BTCUSDT/protect", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	pos, ok := env.led.Position("BTC/USDT", false)
	require.True(t, ok)
	assert.False(t, pos.Unprotected)
	assert.Equal(t, "sl2", pos.StopOrderID)
	assert.Equal(t, "tp1", pos.TakeOrderID)
}

func TestProtectStillFailing(t *testing.T) {
	env := newTestServer(t)
	h := env.server.Handler()

	require.NoError(t, env.led.OpenPosition(ledger.Position{
		Symbol: "BTC/USDT", Side: "long", EntryPrice: 100, Size: 1,
		OpenedAt: time.Now(), IsLive: false,
		Unprotected: true, ProtectionError: "both failed",
	}))
	env.prot.prot = executor.Protection{ErrDetail: "stop_loss failed: venue down"}

	w := doJSON(t, h, http.MethodPost, "/api/positions/BTCUSDT/protect", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)

	pos, _ := env.led.Position("BTC/USDT", false)
	assert.True(t, pos.Unprotected)
	assert.Contains(t, pos.ProtectionError, "venue down")
}

func TestWebSocketSendsSnapshotOnConnect(t *testing.T) {
	env := newTestServer(t)
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	require.NoError(t, env.led.OpenPosition(ledger.Position{
		Symbol: "ETH/USDT", Side: "short", EntryPrice: 3000, Size: 0.5, OpenedAt: time.Now(), IsLive: false,
	}))

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?mode=paper"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)

	var snap Snapshot
	require.NoError(t, json.Unmarshal(frame, &snap))
	assert.Equal(t, "paper", snap.Mode)
	require.Len(t, snap.Positions, 1)
	assert.Equal(t, "ETH/USDT", snap.Positions[0].Symbol)
}

func TestWebSocketBroadcastsOnMutation(t *testing.T) {
	env := newTestServer(t)
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?mode=paper"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Drain the connect snapshot first.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	require.NoError(t, err)

	require.NoError(t, env.led.OpenPosition(ledger.Position{
		Symbol: "BTC/USDT", Side: "long", EntryPrice: 100, Size: 1, OpenedAt: time.Now(), IsLive: false,
	}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)

	var snap Snapshot
	require.NoError(t, json.Unmarshal(frame, &snap))
	require.Len(t, snap.Positions, 1)
}
