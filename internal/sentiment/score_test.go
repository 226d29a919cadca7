package sentiment

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestScoreHappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("token_id"); got != "tok" {
			t.Errorf("token_id = %q", got)
		}
		w.Write([]byte(`{"token_id":"tok","confidence":0.8,"rationale":"strong social momentum"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	if got := c.Score(context.Background(), "tok"); got != 0.8 {
		t.Fatalf("score = %v", got)
	}
}

func TestScoreFallsBackToNeutral(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"server error": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		},
		"garbage body": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("not json"))
		},
		"out of range": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"confidence":42}`))
		},
	}
	for name, handler := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(handler)
			defer srv.Close()
			c := NewClient(srv.URL, time.Second)
			if got := c.Score(context.Background(), "tok"); got != Neutral {
				t.Fatalf("score = %v, want neutral", got)
			}
		})
	}
}

func TestScoreUnconfiguredIsNeutral(t *testing.T) {
	c := NewClient("", time.Second)
	if got := c.Score(context.Background(), "tok"); got != Neutral {
		t.Fatalf("score = %v", got)
	}
	var nilClient *Client
	if got := nilClient.Score(context.Background(), "tok"); got != Neutral {
		t.Fatalf("nil client score = %v", got)
	}
}
