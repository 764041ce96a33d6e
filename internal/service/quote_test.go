package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestNewQuoteClient(t *testing.T) {
	if _, err := NewQuoteClient("", time.Second); err == nil {
		t.Error("expected error for empty endpoint")
	}
	client, err := NewQuoteClient("https://quotes.example.com", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.httpClient.Timeout != 10*time.Second {
		t.Errorf("default timeout = %s", client.httpClient.Timeout)
	}
}

func TestGetQuote(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/quote" {
			t.Errorf("Expected path /quote, got %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("from") != "ETH" || q.Get("to") != "ATOM" || q.Get("amount") != "1.5" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"rate":"250.5"}`))
	}))
	defer server.Close()

	client, err := NewQuoteClient(server.URL, time.Second)
	if err != nil {
		t.Fatalf("NewQuoteClient() error = %v", err)
	}

	quote, err := client.GetQuote(context.Background(), "ETH", "ATOM", decimal.RequireFromString("1.5"))
	if err != nil {
		t.Fatalf("GetQuote() error = %v", err)
	}
	if !quote.Rate.Equal(decimal.RequireFromString("250.5")) {
		t.Errorf("rate = %s", quote.Rate)
	}
	if !quote.ToAmount.Equal(decimal.RequireFromString("375.75")) {
		t.Errorf("to amount = %s", quote.ToAmount)
	}
}

func TestGetQuoteErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `{"error":"down"}`},
		{"invalid json", http.StatusOK, `not json`},
		{"zero rate", http.StatusOK, `{"rate":"0"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client, _ := NewQuoteClient(server.URL, time.Second)
			if _, err := client.GetQuote(context.Background(), "ETH", "ATOM", decimal.NewFromInt(1)); err == nil {
				t.Error("expected error")
			}
		})
	}
}
