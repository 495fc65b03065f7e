package exchange

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ElTitoMarcos/TITAN-BOT-sub000/internal/domain"
	"github.com/ElTitoMarcos/TITAN-BOT-sub000/internal/infra"
)

// newTestClient wires a client against an httptest server with keys
// set and a limiter generous enough to never block.
func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := infra.DefaultConfig()
	cfg.Binance.RestURL = srv.URL
	cfg.Binance.APIKey = "test-key"
	cfg.Binance.SecretKey = "test-secret"

	limiter := infra.NewRateLimiter(100000, time.Minute)
	return NewClient(cfg, limiter, nil)
}

func TestClient_FetchDepth(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/depth" {
			t.Errorf("path = %s, want /api/v3/depth", r.URL.Path)
		}
		if got := r.URL.Query().Get("symbol"); got != "BTCUSDT" {
			t.Errorf("symbol = %s, want BTCUSDT", got)
		}
		if got := r.URL.Query().Get("limit"); got != "1000" {
			t.Errorf("limit = %s, want 1000", got)
		}
		w.Write([]byte(`{"lastUpdateId":160,"bids":[["100.00","1.0"],["99.00","2.0"]],"asks":[["101.00","1.5"]]}`))
	})

	snap, err := client.FetchDepth(context.Background(), "BTCUSDT", 1000)
	if err != nil {
		t.Fatalf("FetchDepth() error = %v", err)
	}
	if snap.LastUpdateID != 160 {
		t.Errorf("LastUpdateID = %d, want 160", snap.LastUpdateID)
	}
	if len(snap.Bids) != 2 || len(snap.Asks) != 1 {
		t.Errorf("levels = %d bids / %d asks, want 2 / 1", len(snap.Bids), len(snap.Asks))
	}
}

func TestClient_CreateOrder_SignsRequest(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if got := r.Header.Get("X-MBX-APIKEY"); got != "test-key" {
			t.Errorf("X-MBX-APIKEY = %q, want test-key", got)
		}
		q := r.URL.Query()
		if q.Get("signature") == "" {
			t.Error("signature parameter missing")
		}
		if q.Get("timestamp") == "" {
			t.Error("timestamp parameter missing")
		}
		if got := q.Get("type"); got != "LIMIT" {
			t.Errorf("type = %s, want LIMIT", got)
		}
		if got := q.Get("quantity"); got != "0.123" {
			t.Errorf("quantity = %s, want 0.123", got)
		}
		w.Write([]byte(`{"symbol":"BTCUSDT","orderId":42,"status":"NEW","side":"BUY","type":"LIMIT","price":"100.12","origQty":"0.123","executedQty":"0.000","cummulativeQuoteQty":"0.000"}`))
	})

	rec, err := client.CreateOrder(context.Background(), "BTCUSDT", domain.SideBuy, 0.123, 100.12)
	if err != nil {
		t.Fatalf("CreateOrder() error = %v", err)
	}
	if rec.OrderID != 42 {
		t.Errorf("OrderID = %d, want 42", rec.OrderID)
	}
	if rec.Status != "NEW" {
		t.Errorf("Status = %s, want NEW", rec.Status)
	}
}

func TestClient_CreateOrder_AmbiguousTimeout(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGatewayTimeout)
		w.Write([]byte(`{"code":-1007,"msg":"Timeout waiting for response from backend server."}`))
	})

	_, err := client.CreateOrder(context.Background(), "BTCUSDT", domain.SideBuy, 1, 100)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !errors.Is(err, ErrAmbiguousTimeout) {
		t.Errorf("errors.Is(err, ErrAmbiguousTimeout) = false, want true (err = %v)", err)
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("errors.As(*APIError) = false (err = %v)", err)
	}
	if apiErr.Code != -1007 {
		t.Errorf("Code = %d, want -1007", apiErr.Code)
	}
}

func TestClient_CreateOrder_RejectionIsNotAmbiguous(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-2010,"msg":"Account has insufficient balance for requested action."}`))
	})

	_, err := client.CreateOrder(context.Background(), "BTCUSDT", domain.SideSell, 1, 100)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if errors.Is(err, ErrAmbiguousTimeout) {
		t.Error("insufficient balance must not map to ErrAmbiguousTimeout")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != -2010 {
		t.Errorf("want *APIError with code -2010, got %v", err)
	}
}

func TestClient_FetchExchangeInfo(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"symbols":[{"symbol":"BTCUSDT","status":"TRADING","filters":[
			{"filterType":"PRICE_FILTER","tickSize":"0.01000000"},
			{"filterType":"LOT_SIZE","stepSize":"0.00100000"},
			{"filterType":"NOTIONAL","minNotional":"5.00000000"}
		]}]}`))
	})

	f, err := client.FetchExchangeInfo(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("FetchExchangeInfo() error = %v", err)
	}
	if got := f.TickSizeF(); got != 0.01 {
		t.Errorf("TickSize = %v, want 0.01", got)
	}
	if f.StepSize.String() != "0.001" {
		t.Errorf("StepSize = %s, want 0.001", f.StepSize.String())
	}
	if f.MinNotional.String() != "5" {
		t.Errorf("MinNotional = %s, want 5", f.MinNotional.String())
	}
}

func TestClient_FetchTickers24h(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"symbol":"BTCUSDT","lastPrice":"50000.00","priceChangePercent":"2.5","quoteVolume":"1000000.00"},
			{"symbol":"ETHUSDT","lastPrice":"3000.00","priceChangePercent":"-1.2","quoteVolume":"500000.00"}
		]`))
	})

	rows, err := client.FetchTickers24h(context.Background())
	if err != nil {
		t.Fatalf("FetchTickers24h() error = %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2", len(rows))
	}
	if rows[0].Symbol != "BTCUSDT" || rows[0].LastPrice != 50000.0 {
		t.Errorf("rows[0] = %+v, want BTCUSDT @ 50000", rows[0])
	}
	if rows[1].PriceChangePct != -1.2 {
		t.Errorf("PriceChangePct = %v, want -1.2", rows[1].PriceChangePct)
	}
}

func TestClient_CancelOrder(t *testing.T) {
	var gotMethod string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		w.Write([]byte(`{"symbol":"BTCUSDT","orderId":42,"status":"CANCELED"}`))
	})

	if err := client.CancelOrder(context.Background(), "BTCUSDT", "42"); err != nil {
		t.Fatalf("CancelOrder() error = %v", err)
	}
	if gotMethod != http.MethodDelete {
		t.Errorf("method = %s, want DELETE", gotMethod)
	}
}

func TestClient_FetchBalances_SkipsDust(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"balances":[
			{"asset":"USDT","free":"1000.00","locked":"50.00"},
			{"asset":"BTC","free":"0.00000000","locked":"0.00000000"}
		]}`))
	})

	balances, err := client.FetchBalances(context.Background())
	if err != nil {
		t.Fatalf("FetchBalances() error = %v", err)
	}
	if len(balances) != 1 {
		t.Fatalf("len(balances) = %d, want 1 (zero rows skipped)", len(balances))
	}
	if b := balances["USDT"]; b.Free != 1000 || b.Locked != 50 {
		t.Errorf("USDT = %+v, want Free 1000 Locked 50", b)
	}
}

func TestClient_SignedWithoutKeys(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request must not reach the server without credentials")
	}))
	t.Cleanup(srv.Close)

	cfg := infra.DefaultConfig()
	cfg.Binance.RestURL = srv.URL
	client := NewClient(cfg, infra.NewRateLimiter(1000, time.Minute), nil)

	if _, err := client.FetchBalances(context.Background()); err == nil {
		t.Error("expected error for signed call without keys")
	}
}
