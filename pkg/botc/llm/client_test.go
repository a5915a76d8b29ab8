package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"botc/pkg/botc/message"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{
		BaseURL: srv.URL,
		APIKey:  "test-key",
		Model:   "gpt-4o-mini",
		Timeout: 5 * time.Second,
	}, nil)
}

func TestComplete(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q, want /chat/completions", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if len(req.Messages) != 2 {
			t.Errorf("messages = %d, want 2", len(req.Messages))
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"  hi there  "}}]}`))
	})

	got, err := c.Complete(context.Background(), []Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hello", Name: "alice"},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "hi there" {
		t.Errorf("Complete = %q, want trimmed %q", got, "hi there")
	}
}

func TestCompleteAPIError(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	})

	if _, err := c.Complete(context.Background(), []Message{{Role: "user", Content: "x"}}); err == nil {
		t.Fatal("expected error on 429 response")
	}
}

func TestCompleteNoKey(t *testing.T) {
	t.Parallel()

	c := New(Config{Model: "m"}, nil)
	if _, err := c.Complete(context.Background(), nil); err == nil {
		t.Fatal("expected error without API key")
	}
}

func TestDescribeImageSendsVisionParts(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Content []contentPart `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		parts := req.Messages[0].Content
		if len(parts) != 2 || parts[1].Type != "image_url" || parts[1].ImageURL.URL != "https://x/img.png" {
			t.Errorf("unexpected content parts: %+v", parts)
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"a red car"}}]}`))
	})

	got, err := c.DescribeImage(context.Background(), "https://x/img.png")
	if err != nil {
		t.Fatalf("DescribeImage: %v", err)
	}
	if got != "a red car" {
		t.Errorf("DescribeImage = %q", got)
	}
}

func TestPayload(t *testing.T) {
	t.Parallel()

	history := []*message.Message{
		{AuthorName: "alice", Content: "hi", Timestamp: time.Now()},
		{AuthorName: "botc", Content: "hello", FromSelf: true, Timestamp: time.Now()},
	}
	payload := Payload("system prompt", history)

	if len(payload) != 3 {
		t.Fatalf("len(payload) = %d, want 3", len(payload))
	}
	if payload[0].Role != "system" || payload[0].Content != "system prompt" {
		t.Errorf("payload[0] = %+v", payload[0])
	}
	if payload[1].Role != "user" || payload[1].Name != "alice" {
		t.Errorf("payload[1] = %+v", payload[1])
	}
	if payload[2].Role != "assistant" {
		t.Errorf("payload[2].Role = %q, want assistant", payload[2].Role)
	}
	content, ok := payload[1].Content.(string)
	if !ok || !strings.Contains(content, "hi") {
		t.Errorf("payload[1].Content = %v", payload[1].Content)
	}
}
