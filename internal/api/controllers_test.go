package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ladderbot/internal/account"
	"ladderbot/internal/conn"
	"ladderbot/internal/events"
	"ladderbot/internal/feed"
	"ladderbot/internal/ledger"
	"ladderbot/internal/loop"
	"ladderbot/internal/monitor"
	"ladderbot/internal/predict"
	"ladderbot/internal/risk"
	"ladderbot/pkg/config"
	"ladderbot/pkg/db"
	"ladderbot/pkg/exchange"
	"ladderbot/pkg/exchange/paper"

	"github.com/gin-gonic/gin"
)

var venueSeq int

func init() {
	gin.SetMode(gin.TestMode)
}

func testSymbol() config.SymbolConfig {
	return config.SymbolConfig{
		Symbol:       "BTC/USDT",
		Spread:       0.002,
		TakeProfit:   0.02,
		TradeAmount:  0.5,
		MaxOrders:    3,
		MaxDailyLoss: 0.5,
		OrderTimeout: time.Hour,
		LoopInterval: time.Millisecond,
	}
}

func newTestServer(t *testing.T, accounts ...string) (*Server, *ledger.Ledger, *db.Database) {
	t.Helper()
	venueSeq++
	name := fmt.Sprintf("api-test-%d", venueSeq)
	venue := paper.NewVenue()
	venue.SetPrice("BTC/USDT", 100)
	exchange.Register(name, func(creds exchange.Credentials) (exchange.Client, error) {
		return venue.Client(), nil
	})

	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("migrations: %v", err)
	}

	bus := events.NewBus()
	led := ledger.New()
	rc, err := risk.NewControl(risk.DefaultConfig(), bus)
	if err != nil {
		t.Fatalf("NewControl: %v", err)
	}
	f := feed.New(feed.Config{Permits: 4, MaxRetries: 2, BackoffBase: time.Millisecond}, led, bus)
	conns := conn.NewSupervisor(led, rc, bus)
	for _, id := range accounts {
		conns.Register(config.AccountConfig{ID: id, Exchange: name}, []string{"BTC/USDT"})
	}

	opts := loop.DefaultOptions()
	opts.PlacementPause = 0
	opts.InactiveSleep = time.Millisecond
	opts.ErrorSleep = time.Millisecond
	accts := account.NewSupervisor(context.Background(), conns, led, f, rc, predict.NewLocal(), bus,
		opts, []config.SymbolConfig{testSymbol()})

	meta := SystemMeta{DryRun: true, Symbols: []string{"BTC/USDT"}, Version: "test"}
	srv := NewServer(bus, database, led, conns, accts, monitor.NewMetrics(), meta, "test-secret")
	return srv, led, database
}

func doJSON(t *testing.T, srv *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	srv.Router.ServeHTTP(w, req)
	return w
}

func loginToken(t *testing.T, srv *Server) string {
	t.Helper()
	creds := map[string]string{"email": "op@example.com", "password": "hunter22"}
	if _, err := CreateOperator(context.Background(), srv.DB, creds["email"], creds["password"]); err != nil {
		t.Fatalf("CreateOperator: %v", err)
	}
	w := doJSON(t, srv, http.MethodPost, "/api/auth/login", "", creds)
	if w.Code != http.StatusOK {
		t.Fatalf("login = %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.Token == "" {
		t.Fatalf("bad login response: %s", w.Body.String())
	}
	return resp.Token
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)
	w := doJSON(t, srv, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("health = %d", w.Code)
	}
}

func TestCreateOperator(t *testing.T) {
	srv, _, database := newTestServer(t)
	ctx := context.Background()

	if _, err := CreateOperator(ctx, database, "op@example.com", "hunter22"); err != nil {
		t.Fatalf("CreateOperator: %v", err)
	}
	if _, err := CreateOperator(ctx, database, "op@example.com", "hunter22"); err == nil {
		t.Error("duplicate enrollment succeeded")
	}
	if _, err := CreateOperator(ctx, database, "not-an-email", "hunter22"); err == nil {
		t.Error("bad email accepted")
	}
	if _, err := CreateOperator(ctx, database, "op2@example.com", "short"); err == nil {
		t.Error("short password accepted")
	}

	// No open registration endpoint exists.
	if w := doJSON(t, srv, http.MethodPost, "/api/auth/register", "", map[string]string{}); w.Code != http.StatusNotFound {
		t.Errorf("register endpoint = %d, want 404", w.Code)
	}
}

func TestAuthFlow(t *testing.T) {
	srv, _, database := newTestServer(t)

	creds := map[string]string{"email": "op@example.com", "password": "hunter22"}
	if _, err := CreateOperator(context.Background(), database, creds["email"], creds["password"]); err != nil {
		t.Fatalf("CreateOperator: %v", err)
	}

	bad := map[string]string{"email": "op@example.com", "password": "wrong"}
	if w := doJSON(t, srv, http.MethodPost, "/api/auth/login", "", bad); w.Code != http.StatusUnauthorized {
		t.Errorf("bad login = %d, want 401", w.Code)
	}

	// Protected routes reject missing and garbage tokens.
	if w := doJSON(t, srv, http.MethodGet, "/api/pairs", "", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("no token = %d, want 401", w.Code)
	}
	if w := doJSON(t, srv, http.MethodGet, "/api/pairs", "not-a-token", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("bad token = %d, want 401", w.Code)
	}

	w := doJSON(t, srv, http.MethodPost, "/api/auth/login", "", creds)
	if w.Code != http.StatusOK {
		t.Fatalf("login = %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	if w := doJSON(t, srv, http.MethodGet, "/api/pairs", resp.Token, nil); w.Code != http.StatusOK {
		t.Errorf("authorized pairs = %d, want 200", w.Code)
	}
}

func TestGetPairs(t *testing.T) {
	srv, led, _ := newTestServer(t)
	token := loginToken(t, srv)

	led.Book("acct-2", "ETH/USDT").SetLastPrice(2000, time.Now())
	led.Book("acct-1", "BTC/USDT").SetLastPrice(100, time.Now())

	w := doJSON(t, srv, http.MethodGet, "/api/pairs", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("pairs = %d: %s", w.Code, w.Body.String())
	}
	var snaps []ledger.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snaps); err != nil {
		t.Fatalf("decode pairs: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("pairs len = %d, want 2", len(snaps))
	}
	if snaps[0].Account != "acct-1" || snaps[1].Account != "acct-2" {
		t.Errorf("pairs not sorted by account: %s, %s", snaps[0].Account, snaps[1].Account)
	}
}

func TestGetPairBySymbol(t *testing.T) {
	srv, led, _ := newTestServer(t)
	token := loginToken(t, srv)
	led.Book("acct-1", "BTC/USDT").SetLastPrice(100, time.Now())

	w := doJSON(t, srv, http.MethodGet, "/api/pairs/acct-1/BTC/USDT", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("pair = %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Pair ledger.Snapshot `json:"pair"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode pair: %v", err)
	}
	if resp.Pair.Symbol != "BTC/USDT" || resp.Pair.LastPrice != 100 {
		t.Errorf("pair = %+v", resp.Pair)
	}

	if w := doJSON(t, srv, http.MethodGet, "/api/pairs/acct-1/DOGE/USDT", token, nil); w.Code != http.StatusNotFound {
		t.Errorf("missing pair = %d, want 404", w.Code)
	}
}

func TestGetPairReportsDailyLoss(t *testing.T) {
	srv, led, database := newTestServer(t)
	token := loginToken(t, srv)
	led.Book("acct-1", "BTC/USDT").SetLastPrice(100, time.Now())

	// Bought at 100, sold at 95 on 1.0: a 5% loss of invested notional.
	now := time.Now().UTC()
	rows := []db.TradeRow{
		{Account: "acct-1", Symbol: "BTC/USDT", OrderID: "b1", Side: "buy", Kind: "fill", Price: 100, Amount: 1, RecordedAt: now},
		{Account: "acct-1", Symbol: "BTC/USDT", OrderID: "s1", RefID: "b1", Side: "sell", Kind: "place", Price: 95, Amount: 1, RecordedAt: now},
	}
	if err := database.InsertTrades(context.Background(), rows); err != nil {
		t.Fatalf("InsertTrades: %v", err)
	}

	w := doJSON(t, srv, http.MethodGet, "/api/pairs/acct-1/BTC/USDT", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("pair = %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		DailyLoss float64 `json:"daily_loss"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode pair: %v", err)
	}
	if resp.DailyLoss < 0.049 || resp.DailyLoss > 0.051 {
		t.Errorf("daily_loss = %v, want 0.05", resp.DailyLoss)
	}
}

func TestGetTradesFiltered(t *testing.T) {
	srv, _, database := newTestServer(t)
	token := loginToken(t, srv)

	now := time.Now()
	rows := []db.TradeRow{
		{Account: "acct-1", Symbol: "BTC/USDT", OrderID: "1", Side: "buy", Kind: "place", Price: 99.8, Amount: 0.5, RecordedAt: now},
		{Account: "acct-2", Symbol: "BTC/USDT", OrderID: "2", Side: "buy", Kind: "place", Price: 99.6, Amount: 0.5, RecordedAt: now},
	}
	if err := database.InsertTrades(context.Background(), rows); err != nil {
		t.Fatalf("InsertTrades: %v", err)
	}

	w := doJSON(t, srv, http.MethodGet, "/api/trades?account=acct-1", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("trades = %d: %s", w.Code, w.Body.String())
	}
	var got []db.TradeRow
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode trades: %v", err)
	}
	if len(got) != 1 || got[0].OrderID != "1" {
		t.Errorf("filtered trades = %+v, want only order 1", got)
	}
}

func TestAccountStartStop(t *testing.T) {
	srv, _, _ := newTestServer(t, "acct-1")
	token := loginToken(t, srv)

	if w := doJSON(t, srv, http.MethodPost, "/api/accounts/acct-1/start", token, nil); w.Code != http.StatusOK {
		t.Fatalf("start = %d: %s", w.Code, w.Body.String())
	}
	if !srv.Accounts.Running("acct-1") {
		t.Fatal("account not running after start")
	}

	w := doJSON(t, srv, http.MethodGet, "/api/accounts", token, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("accounts = %d", w.Code)
	}
	var accts []struct {
		ID      string `json:"id"`
		Running bool   `json:"running"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &accts); err != nil {
		t.Fatalf("decode accounts: %v", err)
	}
	if len(accts) != 1 || accts[0].ID != "acct-1" || !accts[0].Running {
		t.Errorf("accounts = %+v", accts)
	}

	if w := doJSON(t, srv, http.MethodPost, "/api/accounts/acct-1/stop", token, nil); w.Code != http.StatusOK {
		t.Fatalf("stop = %d: %s", w.Code, w.Body.String())
	}
	if srv.Accounts.Running("acct-1") {
		t.Error("account still running after stop")
	}

	if w := doJSON(t, srv, http.MethodPost, "/api/accounts/nope/start", token, nil); w.Code != http.StatusBadRequest {
		t.Errorf("unknown start = %d, want 400", w.Code)
	}
}

func TestSystemStatusAndMetrics(t *testing.T) {
	srv, _, database := newTestServer(t)

	err := database.InsertTrades(context.Background(), []db.TradeRow{
		{Account: "acct-1", Symbol: "BTC/USDT", OrderID: "b1", Side: "buy", Kind: "fill", Price: 100, Amount: 1, RecordedAt: time.Now().UTC()},
	})
	if err != nil {
		t.Fatalf("InsertTrades: %v", err)
	}

	w := doJSON(t, srv, http.MethodGet, "/api/system/status", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var status struct {
		Mode        string `json:"mode"`
		DryRun      bool   `json:"dry_run"`
		TradesToday int    `json:"trades_today"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.Mode != "DRY_RUN" || !status.DryRun {
		t.Errorf("status = %+v", status)
	}
	if status.TradesToday != 1 {
		t.Errorf("trades_today = %d, want 1", status.TradesToday)
	}

	srv.Metrics.IncrementCycles()
	w = doJSON(t, srv, http.MethodGet, "/api/metrics", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("metrics = %d", w.Code)
	}
	var snap monitor.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode metrics: %v", err)
	}
	if snap.CyclesRun != 1 {
		t.Errorf("CyclesRun = %d, want 1", snap.CyclesRun)
	}
}
