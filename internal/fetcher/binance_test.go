package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func p2pAds(prices ...string) map[string]any {
	data := make([]map[string]any, 0, len(prices))
	for _, price := range prices {
		data = append(data, map[string]any{
			"adv":        map[string]any{"advNo": "1", "price": price},
			"advertiser": map[string]any{"nickName": "vendor"},
		})
	}
	return map[string]any{"code": "000000", "message": nil, "data": data}
}

func TestBinanceFetchAveragesAds(t *testing.T) {
	var gotReq advSearchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("expected POST, got %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(p2pAds("36.0", "36.2", "35.8", "36.1", "35.9"))
	}))
	defer srv.Close()

	b := NewBinance(BinanceOptions{
		BaseURL:   srv.URL,
		Asset:     "USDT",
		Fiat:      "VES",
		TradeType: "BUY",
		Rows:      5,
		PayTypes:  []string{"Banesco"},
		Timeout:   time.Second,
	}, noopLogger())

	snap, err := b.FetchP2P(context.Background())
	if err != nil {
		t.Fatalf("FetchP2P: %v", err)
	}

	if !snap.AveragePrice.Equal(decimal.RequireFromString("36")) {
		t.Fatalf("average = %s, want 36", snap.AveragePrice)
	}
	if !snap.FirstPrice.Equal(decimal.RequireFromString("36.0")) {
		t.Fatalf("first price = %s, want 36.0", snap.FirstPrice)
	}
	if !snap.PercentChange.IsZero() {
		t.Fatalf("percent change = %s, want 0", snap.PercentChange)
	}
	if snap.AdsCount != 5 || len(snap.Prices) != 5 {
		t.Fatalf("ads count = %d, prices = %d, want 5", snap.AdsCount, len(snap.Prices))
	}
	if gotReq.Asset != "USDT" || gotReq.Fiat != "VES" || gotReq.TradeType != "BUY" {
		t.Fatalf("unexpected search payload: %+v", gotReq)
	}
	if gotReq.Rows != 5 || len(gotReq.PayTypes) != 1 {
		t.Fatalf("rows/payTypes not forwarded: %+v", gotReq)
	}
}

func TestBinanceFetchPreservesRankOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(p2pAds("37.5", "36.0"))
	}))
	defer srv.Close()

	b := NewBinance(BinanceOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	snap, err := b.FetchP2P(context.Background())
	if err != nil {
		t.Fatalf("FetchP2P: %v", err)
	}

	if !snap.Prices[0].Equal(decimal.RequireFromString("37.5")) {
		t.Fatalf("prices reordered: %v", snap.Prices)
	}
	// avg 36.75 vs first 37.5 -> -2%
	if !snap.PercentChange.Equal(decimal.RequireFromString("-2")) {
		t.Fatalf("percent change = %s, want -2", snap.PercentChange)
	}
}

func TestBinanceFetchEmptyResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(p2pAds())
	}))
	defer srv.Close()

	b := NewBinance(BinanceOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	_, err := b.FetchP2P(context.Background())
	if !errors.Is(err, ErrEmptyResult) {
		t.Fatalf("expected ErrEmptyResult, got %v", err)
	}
}

func TestBinanceFetchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	b := NewBinance(BinanceOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	_, err := b.FetchP2P(context.Background())

	var httpErr *UpstreamHTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected UpstreamHTTPError, got %v", err)
	}
	if httpErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", httpErr.StatusCode)
	}
}

func TestBinanceFetchBadPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(p2pAds("36.0", "not-a-number"))
	}))
	defer srv.Close()

	b := NewBinance(BinanceOptions{BaseURL: srv.URL, Timeout: time.Second}, noopLogger())
	_, err := b.FetchP2P(context.Background())

	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected ParseError, got %v", err)
	}
}
