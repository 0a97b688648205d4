package covalent

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/archon-research/token-cache/internal/domain/entity"
	"github.com/archon-research/token-cache/internal/pkg/httpclient"
	"github.com/archon-research/token-cache/internal/testutil"
)

const usdt = "0xdAC17F958D2ee523a2206206994597C13D831ec7"

func testHTTPConfig() httpclient.Config {
	return httpclient.Config{
		Timeout:        2 * time.Second,
		MaxRetries:     1,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		BackoffFactor:  1,
		RateLimit:      rate.Inf,
		RateBurst:      1,
	}
}

func newTestClient(t *testing.T, srv *httptest.Server, itemIndex int) *Client {
	t.Helper()
	c, err := NewClient(Config{
		URLTemplate: srv.URL + "/v1/{chainId}/tokens/{contractAddress}/?key={apiKey}",
		APIKey:      "secret",
		ItemIndex:   itemIndex,
		HTTP:        testHTTPConfig(),
		Logger:      testutil.DiscardLogger(),
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func serveJSON(body string, status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

const twoItems = `{"data":{"items":[
	{"contract_decimals":6,"contract_name":"Tether USD","contract_ticker_symbol":"USDT","total_supply":"1000000"},
	{"contract_decimals":2,"contract_name":"Other","contract_ticker_symbol":"OTH","total_supply":"1000"}
]}}`

func TestURL_ExpandsTemplate(t *testing.T) {
	c, err := NewClient(Config{APIKey: "k"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	got, err := c.URL(entity.MustHashKey(1, usdt))
	if err != nil {
		t.Fatalf("URL: %v", err)
	}
	want := "https://api.covalenthq.com/v1/1/tokens/" + usdt + "/token_holders_v2/?page-size=100&page-number=0&key=k"
	if got != want {
		t.Errorf("URL = %s, want %s", got, want)
	}
}

func TestFetchMetadata_PicksConfiguredItem(t *testing.T) {
	var gotPath, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.URL.Query().Get("key")
		serveJSON(twoItems, http.StatusOK)(w, r)
	}))
	defer srv.Close()

	tests := []struct {
		index  int
		symbol string
		supply string
	}{
		{0, "USDT", "1000000"},
		{1, "OTH", "1000"},
	}
	for _, tt := range tests {
		md, err := newTestClient(t, srv, tt.index).FetchMetadata(context.Background(), entity.MustHashKey(1, usdt))
		if err != nil {
			t.Fatalf("index %d: FetchMetadata: %v", tt.index, err)
		}
		if md.Symbol != tt.symbol || md.TotalSupply.String() != tt.supply {
			t.Errorf("index %d: got %s/%s, want %s/%s", tt.index, md.Symbol, md.TotalSupply, tt.symbol, tt.supply)
		}
		if md.Address != entity.MustHashKey(1, usdt).Address {
			t.Errorf("index %d: address = %s", tt.index, md.Address.Hex())
		}
	}

	if gotPath != "/v1/1/tokens/"+usdt+"/" {
		t.Errorf("path = %s", gotPath)
	}
	if gotKey != "secret" {
		t.Errorf("key = %s, want secret", gotKey)
	}
}

func TestFetchMetadata_QueryErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		index  int
		reason string
	}{
		{"empty items", `{"data":{"items":[]}}`, 0, "API returned 0 items"},
		{"index past end", twoItems, 2, "need index 2"},
		{"bad supply", `{"data":{"items":[{"contract_decimals":2,"contract_name":"A","contract_ticker_symbol":"A","total_supply":"1e5"}]}}`, 0, "TotalSupply \"1e5\" is not an integer."},
		{"missing decimals", `{"data":{"items":[{"contract_name":"A","contract_ticker_symbol":"A","total_supply":"5"}]}}`, 0, "Decimals is missing."},
		{"decimals out of range", `{"data":{"items":[{"contract_decimals":300,"contract_name":"A","contract_ticker_symbol":"A","total_supply":"5"}]}}`, 0, "Decimals 300 is out of range."},
		{"missing name", `{"data":{"items":[{"contract_decimals":2,"contract_ticker_symbol":"A","total_supply":"5"}]}}`, 0, "Name is missing."},
		{"malformed json", `{"data":`, 0, "malformed API response"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(serveJSON(tt.body, http.StatusOK))
			defer srv.Close()

			md, err := newTestClient(t, srv, tt.index).FetchMetadata(context.Background(), entity.MustHashKey(1, usdt))
			if md != nil {
				t.Errorf("expected no metadata, got %+v", md)
			}
			var qe *entity.QueryError
			if !errors.As(err, &qe) {
				t.Fatalf("err = %v, want *QueryError", err)
			}
			if !strings.Contains(qe.Error(), tt.reason) {
				t.Errorf("error %q does not mention %q", qe.Error(), tt.reason)
			}
		})
	}
}

func TestFetchMetadata_APIErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		serveJSON(`{"error":true,"error_message":"Invalid API key","error_code":401}`, http.StatusUnauthorized)(w, r)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv, 0).FetchMetadata(context.Background(), entity.MustHashKey(1, usdt))
	if err == nil || !strings.Contains(err.Error(), "Invalid API key") {
		t.Fatalf("err = %v, want API error", err)
	}
	var qe *entity.QueryError
	if errors.As(err, &qe) {
		t.Error("API errors should not be reported as QueryError")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestFetchMetadata_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			serveJSON(`oops`, http.StatusBadGateway)(w, r)
			return
		}
		serveJSON(twoItems, http.StatusOK)(w, r)
	}))
	defer srv.Close()

	md, err := newTestClient(t, srv, 0).FetchMetadata(context.Background(), entity.MustHashKey(1, usdt))
	if err != nil {
		t.Fatalf("FetchMetadata: %v", err)
	}
	if md.Decimals != 6 {
		t.Errorf("Decimals = %d, want 6", md.Decimals)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestNewClient_Validation(t *testing.T) {
	if _, err := NewClient(Config{ItemIndex: -1}); err == nil {
		t.Error("expected error for negative item index")
	}
	if _, err := NewClient(Config{URLTemplate: "http://x/{bad"}); err == nil {
		t.Error("expected error for malformed template")
	}
}
