package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/szefer-piotr/eco-data-extractor/internal/extraction"
)

// TestNew tests the provider factory.
func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name:    "openai with key",
			cfg:     Config{Name: "openai", APIKey: "sk-test123"},
			wantErr: false,
		},
		{
			name:    "openai without key",
			cfg:     Config{Name: "openai"},
			wantErr: true,
		},
		{
			name:    "deepseek with key",
			cfg:     Config{Name: "deepseek", APIKey: "sk-test123"},
			wantErr: false,
		},
		{
			name:    "grok with key",
			cfg:     Config{Name: "grok", APIKey: "xai-test123"},
			wantErr: false,
		},
		{
			name:    "ollama needs no key",
			cfg:     Config{Name: "ollama"},
			wantErr: false,
		},
		{
			name:    "unknown provider",
			cfg:     Config{Name: "palantir"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && p == nil {
				t.Error("New() returned nil provider")
			}
		})
	}
}

func chatResponse(content string) string {
	resp := map[string]any{
		"id":    "chatcmpl-test",
		"model": "gpt-4o-mini",
		"choices": []map[string]any{
			{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": content},
				"finish_reason": "stop",
			},
		},
	}
	data, _ := json.Marshal(resp)
	return string(data)
}

// TestOpenAIGenerate tests the success path against a fake server.
func TestOpenAIGenerate(t *testing.T) {
	var gotAuth string
	var gotBody openAIRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write([]byte(chatResponse(`{"habitat": {"value": "forest"}}`))); err != nil {
			t.Errorf("failed to write response: %v", err)
		}
	}))
	defer server.Close()

	p, err := New(Config{Name: "openai", APIKey: "sk-test", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	got, err := p.Generate(context.Background(), extraction.Request{System: "sys", User: "usr"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got != `{"habitat": {"value": "forest"}}` {
		t.Errorf("Generate() = %q", got)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("Authorization = %q, want bearer token", gotAuth)
	}
	if len(gotBody.Messages) != 2 || gotBody.Messages[0].Role != "system" || gotBody.Messages[1].Role != "user" {
		t.Errorf("unexpected messages: %+v", gotBody.Messages)
	}
}

// TestOpenAIErrorClassification checks transient vs fatal typing.
func TestOpenAIErrorClassification(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		wantTransient bool
	}{
		{
			name:          "rate limited is transient",
			status:        http.StatusTooManyRequests,
			body:          `{"error": {"message": "rate limit"}}`,
			wantTransient: true,
		},
		{
			name:          "server error is transient",
			status:        http.StatusBadGateway,
			body:          "bad gateway",
			wantTransient: true,
		},
		{
			name:          "auth failure is fatal",
			status:        http.StatusUnauthorized,
			body:          `{"error": {"message": "invalid api key"}}`,
			wantTransient: false,
		},
		{
			name:          "invalid request is fatal",
			status:        http.StatusBadRequest,
			body:          `{"error": {"message": "bad request"}}`,
			wantTransient: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				if _, err := w.Write([]byte(tt.body)); err != nil {
					t.Errorf("failed to write response: %v", err)
				}
			}))
			defer server.Close()

			p, err := New(Config{Name: "openai", APIKey: "sk-test", BaseURL: server.URL})
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}

			_, err = p.Generate(context.Background(), extraction.Request{User: "x"})
			if err == nil {
				t.Fatal("Generate() expected error")
			}
			if IsTransient(err) != tt.wantTransient {
				t.Errorf("IsTransient(%v) = %v, want %v", err, IsTransient(err), tt.wantTransient)
			}
		})
	}
}

// TestOpenAINetworkErrorIsTransient covers unreachable servers.
func TestOpenAINetworkErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // tear down immediately so the address refuses connections

	p, err := New(Config{Name: "openai", APIKey: "sk-test", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = p.Generate(context.Background(), extraction.Request{User: "x"})
	if err == nil {
		t.Fatal("Generate() expected error")
	}
	if !IsTransient(err) {
		t.Errorf("network error should be transient, got %v", err)
	}
}

// TestOllamaGenerate tests the Ollama chat endpoint.
func TestOllamaGenerate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %q, want /api/chat", r.URL.Path)
		}
		resp := map[string]any{
			"model":   "llama3.1",
			"message": map[string]string{"role": "assistant", "content": `{"species": {"value": "Pinus sylvestris"}}`},
			"done":    true,
		}
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Errorf("failed to encode response: %v", err)
		}
	}))
	defer server.Close()

	p, err := New(Config{Name: "ollama", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	got, err := p.Generate(context.Background(), extraction.Request{System: "sys", User: "usr"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got != `{"species": {"value": "Pinus sylvestris"}}` {
		t.Errorf("Generate() = %q", got)
	}
}

// TestTimeoutFrom checks that the configured duration flows through
// unchanged and that zero falls back to the default.
func TestTimeoutFrom(t *testing.T) {
	if got := timeoutFrom(Config{Timeout: 5 * time.Second}); got != 5*time.Second {
		t.Errorf("timeoutFrom() = %v, want 5s", got)
	}
	if got := timeoutFrom(Config{}); got != defaultTimeout {
		t.Errorf("timeoutFrom() = %v, want default %v", got, defaultTimeout)
	}
}

func TestIsTransient(t *testing.T) {
	if IsTransient(nil) {
		t.Error("IsTransient(nil) = true")
	}
	if IsTransient(context.Canceled) {
		t.Error("plain errors must not be transient")
	}
	wrapped := &transientError{err: context.DeadlineExceeded}
	if !IsTransient(wrapped) {
		t.Error("transientError must be transient")
	}
}
