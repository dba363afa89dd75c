package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"scalpbot/internal/account"
	"scalpbot/internal/events"
	"scalpbot/internal/indicators"
	"scalpbot/internal/lifecycle"
	"scalpbot/internal/risk"
	"scalpbot/internal/strategy"
	"scalpbot/pkg/db"
	"scalpbot/pkg/exchange"
)

const testPassword = "operator-secret"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := db.NewMemory()
	if err != nil {
		t.Fatalf("db.NewMemory: %v", err)
	}
	if err := db.ApplyMigrations(store); err != nil {
		t.Fatalf("ApplyMigrations: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	bus := events.NewBus()
	sim := exchange.NewSim(exchange.Balance{Asset: "USDT", Free: 10000})
	ledger := account.NewLedger(store)
	params := risk.NewStore(store)
	ind := indicators.NewEngine(indicators.DefaultConfig())
	limiter := exchange.NewLimiter(100, 100)

	mgr := lifecycle.NewManager(sim, risk.NewGate(params), params, ledger, bus,
		store, limiter, ind, time.Second, 1)
	eng := strategy.NewEngine(ind, ledger, mgr, bus, store)
	if err := eng.Register(strategy.NewMomentumScalp("mom-1", "BTC_USDT", 0.01, 0.005, 0.01)); err != nil {
		t.Fatalf("register strategy: %v", err)
	}

	hash, err := HashPassword(testPassword)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}

	server := NewServer(bus, ledger, params, eng, mgr, sim,
		SystemMeta{Venue: "sim", Pairs: []string{"BTC_USDT"}, SimMode: true, Version: "test"},
		"test-secret", hash)

	ts := httptest.NewServer(server.Router)
	t.Cleanup(ts.Close)
	return ts
}

func loginToken(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"password": testPassword})
	resp, err := http.Post(ts.URL+"/api/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	return out.Token
}

func doAuthed(t *testing.T, ts *httptest.Server, token, method, path string, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, ts.URL+path, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func TestLoginRejectsBadPassword(t *testing.T) {
	ts := newTestServer(t)
	body, _ := json.Marshal(map[string]string{"password": "wrong"})
	resp, err := http.Post(ts.URL+"/api/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestProtectedEndpointsRequireToken(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/positions")
	if err != nil {
		t.Fatalf("get positions: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}

func TestStatusIsPublic(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["trading_enabled"] != true {
		t.Fatalf("trading_enabled = %v, want true on boot", out["trading_enabled"])
	}
	if out["venue"] != "sim" {
		t.Fatalf("venue = %v, want sim", out["venue"])
	}
}

func TestTradingToggle(t *testing.T) {
	ts := newTestServer(t)
	token := loginToken(t, ts)

	resp := doAuthed(t, ts, token, http.MethodPost, "/api/trading/disable", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("disable status = %d", resp.StatusCode)
	}

	status, err := http.Get(ts.URL + "/api/status")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	defer status.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(status.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["trading_enabled"] != false {
		t.Fatal("disable did not take effect")
	}
}

func TestSetRiskParam(t *testing.T) {
	ts := newTestServer(t)
	token := loginToken(t, ts)

	body, _ := json.Marshal(map[string]string{"value": "75"})
	resp := doAuthed(t, ts, token, http.MethodPut, "/api/risk/params/max_daily_loss", body)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out struct {
		Params struct {
			MaxDailyLoss float64 `json:"MaxDailyLoss"`
		} `json:"params"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Params.MaxDailyLoss != 75 {
		t.Fatalf("max daily loss = %f, want 75", out.Params.MaxDailyLoss)
	}

	bad, _ := json.Marshal(map[string]string{"value": "-5"})
	resp = doAuthed(t, ts, token, http.MethodPut, "/api/risk/params/max_daily_loss", bad)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid value status = %d, want 400", resp.StatusCode)
	}
}

func TestPositionSizeAndLeverageShorthand(t *testing.T) {
	ts := newTestServer(t)
	token := loginToken(t, ts)

	body, _ := json.Marshal(map[string]string{"value": "2500"})
	resp := doAuthed(t, ts, token, http.MethodPut, "/api/risk/position-size", body)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("position-size status = %d", resp.StatusCode)
	}
	var out struct {
		Params struct {
			MaxPositionSize float64 `json:"MaxPositionSize"`
			LeverageCap     int     `json:"LeverageCap"`
		} `json:"params"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Params.MaxPositionSize != 2500 {
		t.Fatalf("max position size = %f, want 2500", out.Params.MaxPositionSize)
	}

	body, _ = json.Marshal(map[string]string{"value": "3"})
	resp2 := doAuthed(t, ts, token, http.MethodPut, "/api/risk/leverage", body)
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("leverage status = %d", resp2.StatusCode)
	}
	if err := json.NewDecoder(resp2.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Params.LeverageCap != 3 {
		t.Fatalf("leverage cap = %d, want 3", out.Params.LeverageCap)
	}
}

func TestSetPairs(t *testing.T) {
	ts := newTestServer(t)
	token := loginToken(t, ts)

	body, _ := json.Marshal(map[string][]string{"pairs": {"DOGE_USDT"}})
	resp := doAuthed(t, ts, token, http.MethodPut, "/api/pairs", body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown pair status = %d, want 400", resp.StatusCode)
	}

	body, _ = json.Marshal(map[string][]string{"pairs": {"BTC_USDT"}})
	resp = doAuthed(t, ts, token, http.MethodPut, "/api/pairs", body)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out struct {
		Pairs []string `json:"pairs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Pairs) != 1 || out.Pairs[0] != "BTC_USDT" {
		t.Fatalf("pairs = %v, want [BTC_USDT]", out.Pairs)
	}
}

func TestPauseUnknownStrategy(t *testing.T) {
	ts := newTestServer(t)
	token := loginToken(t, ts)

	resp := doAuthed(t, ts, token, http.MethodPost, "/api/strategies/nope/pause", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}

	resp = doAuthed(t, ts, token, http.MethodPost, "/api/strategies/mom-1/pause", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("known strategy status = %d, want 200", resp.StatusCode)
	}
}
