package discord

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/bakkerme/dealwatch/internal/outputs/webhook"
)

func TestClientPostsJSON(t *testing.T) {
	var got webhook.Payload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client, err := NewClient(server.URL, time.Second)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	err = client.Post(context.Background(), webhook.Payload{Username: "bot", Content: "hello"})
	if err != nil {
		t.Fatalf("post failed: %v", err)
	}
	if got.Username != "bot" || got.Content != "hello" {
		t.Fatalf("unexpected payload: %+v", got)
	}
}

func TestClientReportsNon2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"message": "You are being rate limited."}`))
	}))
	defer server.Close()

	client, err := NewClient(server.URL, time.Second)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	err = client.Post(context.Background(), webhook.Payload{Content: "x"})
	var statusErr *webhook.StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("unexpected status %d", statusErr.StatusCode)
	}
}

func TestClientTimesOut(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client, err := NewClient(server.URL, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := client.Post(context.Background(), webhook.Payload{Content: "x"}); err == nil {
		t.Fatalf("expected timeout error")
	}
}

func TestNewClientRequiresURL(t *testing.T) {
	if _, err := NewClient("   ", 0); !errors.Is(err, webhook.ErrEmptyURL) {
		t.Fatalf("expected ErrEmptyURL, got %v", err)
	}
}

func TestClientRateLimitHonoursContext(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client, err := NewClient(server.URL, time.Second)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	client.SetRateLimit(rate.Every(time.Hour), 1)

	if err := client.Post(context.Background(), webhook.Payload{Content: "first"}); err != nil {
		t.Fatalf("first post: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := client.Post(ctx, webhook.Payload{Content: "second"}); err == nil {
		t.Fatalf("expected rate limit wait to fail")
	}
	if calls != 1 {
		t.Fatalf("calls=%d want 1", calls)
	}
}
