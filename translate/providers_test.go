package translate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/minios-linux/lokstudio/model"
	"github.com/minios-linux/lokstudio/tools"
)

func noBackoff(t *testing.T) {
	t.Helper()
	orig := backoff
	backoff = func(int) time.Duration { return 0 }
	t.Cleanup(func() { backoff = orig })
}

func readAll(t *testing.T, s Stream) string {
	t.Helper()
	defer s.Close()
	var b strings.Builder
	for {
		chunk, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return b.String()
		}
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		b.WriteString(chunk)
	}
}

func TestNewGenerator(t *testing.T) {
	tests := []struct {
		name    string
		prov    Provider
		wantErr string
	}{
		{"openai default model", Provider{ID: ProviderOpenAI, APIKey: "k"}, ""},
		{"openai without key", Provider{ID: ProviderOpenAI}, "API key"},
		{"custom without url", Provider{ID: ProviderCustomOpenAI, APIKey: "k", Model: "m"}, "base URL"},
		{"openrouter without model", Provider{ID: ProviderOpenRouter, APIKey: "k"}, "model"},
		{"ollama", Provider{ID: ProviderOllama, Model: "llama3"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGenerator(tt.prov)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// OpenAI-compatible
// ---------------------------------------------------------------------------

func TestOpenAI_GenerateWithToolCall(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req struct {
			Messages []struct {
				Role       string `json:"role"`
				Content    string `json:"content"`
				ToolCallID string `json:"tool_call_id"`
			} `json:"messages"`
			Tools          []json.RawMessage `json:"tools"`
			ResponseFormat *struct {
				Type string `json:"type"`
			} `json:"response_format"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Tools) != len(tools.Definitions) {
			t.Errorf("tools = %d", len(req.Tools))
		}
		if req.ResponseFormat == nil || req.ResponseFormat.Type != "json_object" {
			t.Errorf("response_format = %+v", req.ResponseFormat)
		}
		w.Header().Set("Content-Type", "application/json")
		if atomic.AddInt32(&calls, 1) == 1 {
			fmt.Fprint(w, `{"id":"1","object":"chat.completion","choices":[{"index":0,"finish_reason":"tool_calls","message":{"role":"assistant","content":"","tool_calls":[{"id":"call_1","type":"function","function":{"name":"lookup_term","arguments":"{\"query\":\"acme\"}"}}]}}]}`)
			return
		}
		last := req.Messages[len(req.Messages)-1]
		if last.Role != "tool" || last.ToolCallID != "call_1" || !strings.Contains(last.Content, "Acme Cloud") {
			t.Errorf("tool result message = %+v", last)
		}
		fmt.Fprint(w, `{"id":"2","object":"chat.completion","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"{\"terms\":[]}"}}]}`)
	}))
	defer srv.Close()

	gen, err := NewGenerator(Provider{ID: ProviderCustomOpenAI, Name: "test", BaseURL: srv.URL + "/v1", APIKey: "k", Model: "m"})
	if err != nil {
		t.Fatal(err)
	}
	tb := tools.New([]model.Term{{ID: "acme", OriginalText: "Acme Cloud", Translation: "Acme Cloud"}}, nil)
	text, err := gen.Generate(context.Background(), Prompt{System: "s", User: "u", JSON: true, Tools: tb})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != `{"terms":[]}` {
		t.Errorf("text = %q", text)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func writeChunks(w http.ResponseWriter, chunks ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, c := range chunks {
		fmt.Fprintf(w, "data: %s\n\n", c)
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
}

func TestOpenAI_StreamWithToolCall(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if atomic.AddInt32(&calls, 1) == 1 {
			writeChunks(w,
				`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"role":"assistant","tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"lookup_prev_lines","arguments":""}}]}}]}`,
				`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"index\":1,"}}]}}]}`,
				`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"count\":1}"}}]}}]}`,
			)
			return
		}
		if !strings.Contains(string(body), `"role":"tool"`) || !strings.Contains(string(body), "first line") {
			t.Errorf("follow-up request lacks tool result: %s", body)
		}
		writeChunks(w,
			`{"id":"2","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"{\"translations\":"}}]}`,
			`{"id":"2","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"[]}"}}]}`,
		)
	}))
	defer srv.Close()

	gen, err := NewGenerator(Provider{ID: ProviderCustomOpenAI, BaseURL: srv.URL, APIKey: "k", Model: "m"})
	if err != nil {
		t.Fatal(err)
	}
	entries := []model.FlatEntry{
		{Index: 0, ResourceID: "r", Entry: &model.TranslationEntry{ID: "a", SourceText: "first line"}},
		{Index: 1, ResourceID: "r", Entry: &model.TranslationEntry{ID: "b", SourceText: "second line"}},
	}
	s, err := gen.Stream(context.Background(), Prompt{System: "s", User: "u", JSON: true, Tools: tools.New(nil, entries)})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if got := readAll(t, s); got != `{"translations":[]}` {
		t.Errorf("stream text = %q", got)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestOpenAI_ClientErrorNotRetried(t *testing.T) {
	noBackoff(t)
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"model not found","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	gen, _ := NewGenerator(Provider{ID: ProviderCustomOpenAI, BaseURL: srv.URL, APIKey: "k", Model: "m"})
	_, err := gen.Generate(context.Background(), Prompt{User: "u"})
	var se *statusError
	if !errors.As(err, &se) || se.Status != http.StatusBadRequest {
		t.Fatalf("err = %v, want status 400", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

// ---------------------------------------------------------------------------
// Ollama
// ---------------------------------------------------------------------------

func TestOllama_Generate(t *testing.T) {
	noBackoff(t)
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		if req["format"] != "json" || req["stream"] != false || req["model"] != "llama3" {
			t.Errorf("request = %v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"message":{"role":"assistant","content":"{\"terms\":[]}"},"done":true}`)
	}))
	defer srv.Close()

	gen, err := NewGenerator(Provider{ID: ProviderOllama, BaseURL: srv.URL, Model: "llama3", MaxRetries: 2})
	if err != nil {
		t.Fatal(err)
	}
	text, err := gen.Generate(context.Background(), Prompt{System: "s", User: "u", JSON: true})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != `{"terms":[]}` || calls != 2 {
		t.Errorf("text = %q after %d calls", text, calls)
	}
}

func TestOllama_Stream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"{\"transl"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"ations\":[]}"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":""},"done":true}`)
	}))
	defer srv.Close()

	gen, _ := NewGenerator(Provider{ID: ProviderOllama, BaseURL: srv.URL, Model: "llama3"})
	s, err := gen.Stream(context.Background(), Prompt{User: "u", JSON: true})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if got := readAll(t, s); got != `{"translations":[]}` {
		t.Errorf("stream text = %q", got)
	}
}

func TestOllama_StreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"error":"model 'nope' not found"}`)
	}))
	defer srv.Close()

	gen, _ := NewGenerator(Provider{ID: ProviderOllama, BaseURL: srv.URL, Model: "nope"})
	s, err := gen.Stream(context.Background(), Prompt{User: "u"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer s.Close()
	if _, err := s.Recv(); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("Recv err = %v", err)
	}
}

func TestWithRetry_ExhaustsOnServerErrors(t *testing.T) {
	noBackoff(t)
	p := &Provider{Name: "test", MaxRetries: 2}
	n := 0
	err := withRetry(context.Background(), p, &rateLimitState{}, func() error {
		n++
		return &statusError{Provider: "test", Status: 502}
	})
	if err == nil || !strings.Contains(err.Error(), "exhausted all 2 retries") {
		t.Fatalf("err = %v", err)
	}
	if n != 3 {
		t.Errorf("attempts = %d, want 3", n)
	}
}

func TestWithRetry_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := withRetry(ctx, &Provider{}, &rateLimitState{}, func() error {
		t.Error("call made after cancel")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v", err)
	}
}
