package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newOpenAIServer(t *testing.T, handler http.HandlerFunc) *OpenAI {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	o, err := NewOpenAI("test-key",
		WithOpenAIBaseURL(srv.URL+"/v1/"),
		WithOpenAIModel("gpt-test"),
		WithOpenAITimeout(time.Second),
	)
	if err != nil {
		t.Fatalf("NewOpenAI: %v", err)
	}
	return o
}

const completionBody = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1700000000,
  "model": "gpt-test",
  "choices": [{
    "index": 0,
    "finish_reason": "stop",
    "message": {"role": "assistant", "content": " It is noon. ", "refusal": null}
  }]
}`

func TestOpenAI_Success(t *testing.T) {
	o := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization = %q", got)
		}

		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.Model != "gpt-test" {
			t.Errorf("model = %q", body.Model)
		}
		if len(body.Messages) != 2 || body.Messages[0].Role != "system" || body.Messages[1].Content != "what time is it" {
			t.Errorf("messages = %+v", body.Messages)
		}

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, completionBody)
	})

	reply, err := o.Ask(context.Background(), "what time is it")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if reply != "It is noon." {
		t.Fatalf("reply = %q", reply)
	}
}

func TestOpenAI_StatusErrorNoRetry(t *testing.T) {
	var calls int
	o := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"error":{"message":"boom","type":"server_error"}}`)
	})

	_, err := o.Ask(context.Background(), "hi")
	var ae *Error
	if !errors.As(err, &ae) {
		t.Fatalf("err = %v (%T), want *Error", err, err)
	}
	if ae.StatusCode != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d", ae.StatusCode)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestOpenAI_NoChoices(t *testing.T) {
	o := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"x","object":"chat.completion","created":1,"model":"gpt-test","choices":[]}`)
	})

	_, err := o.Ask(context.Background(), "hi")
	var ae *Error
	if !errors.As(err, &ae) || ae.Reason != "response has no choices" {
		t.Fatalf("err = %v, want no choices", err)
	}
}

func TestOpenAI_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	o, _ := NewOpenAI("k", WithOpenAIBaseURL(srv.URL+"/v1/"), WithOpenAITimeout(50*time.Millisecond))
	_, err := o.Ask(context.Background(), "hi")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		err  *Error
		want string
	}{
		{&Error{Provider: "gemini", StatusCode: 500, Reason: "internal"}, "gemini: status 500: internal"},
		{&Error{Provider: "gemini", Reason: "empty reply"}, "gemini: empty reply"},
		{&Error{Provider: "openai", Reason: "request failed", Err: errors.New("refused")}, "openai: request failed: refused"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}
