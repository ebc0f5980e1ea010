package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func bookServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/book" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("token_id") == "" {
			http.Error(w, "missing token_id", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestMidpoint(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    float64
		wantErr bool
	}{
		{
			name: "two sided book",
			body: `{"bids":[{"price":"0.40","size":"100"},{"price":"0.45","size":"50"}],
			        "asks":[{"price":"0.60","size":"100"},{"price":"0.55","size":"50"}]}`,
			want: 0.50,
		},
		{
			name: "bids only",
			body: `{"bids":[{"price":"0.30","size":"10"}],"asks":[]}`,
			want: 0.30,
		},
		{
			name: "asks only",
			body: `{"bids":[],"asks":[{"price":"0.70","size":"10"}]}`,
			want: 0.70,
		},
		{
			name:    "empty book",
			body:    `{"bids":[],"asks":[]}`,
			wantErr: true,
		},
		{
			name:    "garbage levels",
			body:    `{"bids":[{"price":"wat","size":"10"}],"asks":[{"price":"-1","size":"10"}]}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := bookServer(t, tt.body)
			client := NewClobClient(srv.URL, time.Second)

			got, err := client.Midpoint(context.Background(), "123")
			if tt.wantErr {
				if !errors.Is(err, ErrNoLiquidity) {
					t.Fatalf("err = %v, want ErrNoLiquidity", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("midpoint: %v", err)
			}
			if got != tt.want {
				t.Errorf("midpoint = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMidpointHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClobClient(srv.URL, time.Second)
	if _, err := client.Midpoint(context.Background(), "123"); err == nil {
		t.Fatal("expected error from 503 response")
	}
}
