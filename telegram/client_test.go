package telegram

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testClient(srv *httptest.Server) *Client {
	return &Client{
		token:      "test-token",
		baseURL:    srv.URL,
		httpClient: srv.Client(),
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestSendMessageSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bottest-token/sendMessage" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = io.WriteString(w, `{"ok":true,"result":{}}`)
	}))
	defer srv.Close()

	c := testClient(srv)
	if err := c.SendMessage(context.Background(), 42, "hello", nil); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if !c.Send(context.Background(), 42, "hello") {
		t.Error("Send should report success")
	}
}

func TestSendMessageHonorsRetryAfter(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if hits == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = io.WriteString(w, `{"ok":false,"error_code":429,"description":"Too Many Requests","parameters":{"retry_after":1}}`)
			return
		}
		_, _ = io.WriteString(w, `{"ok":true,"result":{}}`)
	}))
	defer srv.Close()

	c := testClient(srv)
	start := time.Now()
	if err := c.SendMessage(context.Background(), 42, "hello", nil); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if hits != 2 {
		t.Errorf("got %d calls, want 2", hits)
	}
	if elapsed := time.Since(start); elapsed < time.Second {
		t.Errorf("send returned after %v, should have waited the retry_after second", elapsed)
	}
}

func TestSendMessageRateLimitRetriesOnlyOnce(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"ok":false,"error_code":429,"description":"Too Many Requests","parameters":{"retry_after":1}}`)
	}))
	defer srv.Close()

	c := testClient(srv)
	if err := c.SendMessage(context.Background(), 42, "hello", nil); err == nil {
		t.Fatal("expected error when the rate limit persists")
	}
	if hits != 2 {
		t.Errorf("got %d calls, want 2 (one send plus one server-directed retry)", hits)
	}
}

func TestSendMessageGivesUpOnClientError(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`)
	}))
	defer srv.Close()

	c := testClient(srv)
	if err := c.SendMessage(context.Background(), 42, "hello", nil); err == nil {
		t.Fatal("expected error for non-retryable API failure")
	}
	if hits != 1 {
		t.Errorf("got %d calls, want 1 (no retries on 400)", hits)
	}
	if c.Send(context.Background(), 42, "hello") {
		t.Error("Send should report failure without raising")
	}
}

func TestGetUpdates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"ok":true,"result":[
			{"update_id":7,"message":{"message_id":1,"chat":{"id":99},"text":"/start"}},
			{"update_id":8,"callback_query":{"id":"cb1","data":"visa_B1","message":{"message_id":2,"chat":{"id":99}}}}
		]}`)
	}))
	defer srv.Close()

	c := testClient(srv)
	updates, err := c.GetUpdates(context.Background(), 0, 0)
	if err != nil {
		t.Fatalf("GetUpdates: %v", err)
	}
	if len(updates) != 2 {
		t.Fatalf("got %d updates, want 2", len(updates))
	}
	if updates[0].Message == nil || updates[0].Message.Text != "/start" {
		t.Errorf("unexpected first update: %+v", updates[0])
	}
	if updates[1].CallbackQuery == nil || updates[1].CallbackQuery.Data != "visa_B1" {
		t.Errorf("unexpected second update: %+v", updates[1])
	}
}
