package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestChatRoundTrip(t *testing.T) {
	var gotAuth string
	var gotBody map[string]interface{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
  "choices": [{"message": {"content": "hello back"}, "finish_reason": "stop"}],
  "usage": {"prompt_tokens": 3, "completion_tokens": 2, "total_tokens": 5}
}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key123", "test-model", 5*time.Second)
	resp, err := c.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hello"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	if resp.Content != "hello back" {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 5 {
		t.Errorf("usage = %+v", resp.Usage)
	}
	if gotAuth != "Bearer key123" {
		t.Errorf("auth = %q", gotAuth)
	}
	if gotBody["model"] != "test-model" {
		t.Errorf("model = %v", gotBody["model"])
	}
	// Chat strips tool definitions even if a caller sets them.
	if _, ok := gotBody["tools"]; ok {
		t.Error("tools must not be sent on Chat")
	}
}

func TestChatWithToolsParsesCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
  "choices": [{
    "message": {
      "content": "",
      "tool_calls": [{
        "id": "call_1",
        "function": {"name": " shell ", "arguments": "{\"command\": \"ls\"}"}
      }]
    },
    "finish_reason": "tool_calls"
  }]
}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "m", 5*time.Second)
	resp, err := c.ChatWithTools(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "list files"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(resp.ToolCalls) != 1 {
		t.Fatalf("tool calls = %+v", resp.ToolCalls)
	}
	call := resp.ToolCalls[0]
	if call.Name != "shell" {
		t.Errorf("name not trimmed: %q", call.Name)
	}
	if call.Arguments["command"] != "ls" {
		t.Errorf("arguments = %v", call.Arguments)
	}
	if resp.FinishReason != "tool_calls" {
		t.Errorf("finish reason = %q", resp.FinishReason)
	}
}

func TestHTTPErrorCarriesRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte("slow down"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "m", 5*time.Second)
	_, err := c.Chat(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})

	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("err = %v", err)
	}
	if httpErr.Status != 429 || !httpErr.Retryable() {
		t.Errorf("err = %+v", httpErr)
	}
	if httpErr.RetryAfter != 7*time.Second {
		t.Errorf("retry after = %v", httpErr.RetryAfter)
	}
}

func TestParseRetryAfter(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"30", 30 * time.Second},
		{"-1", 0},
		{"Wed, 21 Oct 2015 07:28:00 GMT", 0},
	}
	for _, tc := range cases {
		if got := ParseRetryAfter(tc.in); got != tc.want {
			t.Errorf("ParseRetryAfter(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestWithToolCallMessages(t *testing.T) {
	c := NewClient("http://localhost:1", "", "m", time.Second)
	if !c.SupportsToolCallMessages() {
		t.Error("default must support tool messages")
	}
	if c.WithToolCallMessages(false).SupportsToolCallMessages() {
		t.Error("toggle off failed")
	}
}
