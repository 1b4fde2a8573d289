package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spherical/mdload/internal/domain"
	"github.com/spherical/mdload/internal/observability"
)

func fastRetry() *RetryConfig {
	return &RetryConfig{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

func writeImages(t *testing.T, n int) []string {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, n)
	for i := range paths {
		paths[i] = filepath.Join(dir, fmt.Sprintf("page_%05d.jpg", i))
		if err := os.WriteFile(paths[i], []byte{0xFF, 0xD8, 0xFF, byte(i)}, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return paths
}

func sse(chunks ...string) string {
	var b strings.Builder
	b.WriteString(": OPENROUTER PROCESSING\n\n")
	for _, c := range chunks {
		fmt.Fprintf(&b, "data: %s\n\n", c)
	}
	return b.String()
}

func delta(content string) string {
	payload, _ := json.Marshal(Response{Choices: []Choice{{Delta: Delta{Content: content}}}})
	return string(payload)
}

const finishStop = `{"choices":[{"delta":{"content":""},"finish_reason":"stop"}]}`

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := NewClient(Config{
		APIKey:    "sk-or-test-key",
		BaseURL:   url,
		Model:     "openai/gpt-4o-mini",
		TierName:  "fast",
		Version:   "v1",
		Signature: "backend=openrouter",
		Retry:     fastRetry(),
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		wantError bool
	}{
		{
			name: "valid",
			cfg:  Config{APIKey: "sk-or-test-key", Model: "google/gemini-2.5-pro", TierName: "strong"},
		},
		{
			name:      "empty api key",
			cfg:       Config{Model: "google/gemini-2.5-pro"},
			wantError: true,
		},
		{
			name:      "empty model",
			cfg:       Config{APIKey: "sk-or-test-key"},
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(tt.cfg)
			if tt.wantError {
				if err == nil {
					t.Fatal("Expected error")
				}
				if !domain.IsType(err, domain.ErrorTypeConfig) {
					t.Errorf("Expected config error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if client.endpoint != DefaultBaseURL+"/chat/completions" {
				t.Errorf("Unexpected endpoint %s", client.endpoint)
			}
			if got := client.Identity(); got.TierName != "strong" || got.ModelID != "google/gemini-2.5-pro" {
				t.Errorf("Unexpected identity %+v", got)
			}
		})
	}
}

func TestBuildRequest(t *testing.T) {
	client := newTestClient(t, "http://unused")
	paths := writeImages(t, 3)

	req, err := client.buildRequest(paths)
	if err != nil {
		t.Fatalf("buildRequest failed: %v", err)
	}

	if req.Model != "openai/gpt-4o-mini" {
		t.Errorf("Unexpected model %s", req.Model)
	}
	if !req.Stream {
		t.Error("Stream should be enabled")
	}
	if len(req.Messages) != 1 {
		t.Fatalf("Expected one message, got %d", len(req.Messages))
	}

	parts := req.Messages[0].Content
	if len(parts) != 4 {
		t.Fatalf("Expected prompt plus 3 images, got %d parts", len(parts))
	}
	if parts[0].Type != "text" || !strings.Contains(parts[0].Text, "3 consecutive") {
		t.Errorf("Prompt should describe the page count: %q", parts[0].Text)
	}
	for i, p := range parts[1:] {
		if p.Type != "image_url" || !strings.HasPrefix(p.ImageURL.URL, "data:image/jpeg;base64,") {
			t.Errorf("Part %d is not an inline jpeg", i+1)
		}
	}

	if _, err := client.buildRequest([]string{filepath.Join(t.TempDir(), "missing.jpg")}); err == nil {
		t.Error("Expected error for missing image")
	}
}

func TestBuildPrompt(t *testing.T) {
	prompt := strings.ToLower(buildPrompt(1))

	for _, term := range []string{"markdown", "table", "this document page"} {
		if !strings.Contains(prompt, term) {
			t.Errorf("Prompt missing required term: %s", term)
		}
	}
}

func TestConvert_StreamsMarkdown(t *testing.T) {
	var gotAuth, gotModel string
	var gotImages int

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")

		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotModel = req.Model
		gotImages = len(req.Messages[0].Content) - 1

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sse(delta("# Title\n\n"), delta("Body text."), finishStop, "[DONE]"))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	text, err := client.Convert(context.Background(), domain.Unit{Index: domain.PageIndex(0), Images: writeImages(t, 1)})
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}

	if text != "# Title\n\nBody text." {
		t.Errorf("Unexpected text %q", text)
	}
	if gotAuth != "Bearer sk-or-test-key" {
		t.Errorf("Unexpected auth header %q", gotAuth)
	}
	if gotModel != "openai/gpt-4o-mini" {
		t.Errorf("Unexpected model %q", gotModel)
	}
	if gotImages != 1 {
		t.Errorf("Expected 1 image, got %d", gotImages)
	}
}

func TestConvert_RetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, sse(delta("ok text"), "[DONE]"))
	}))
	defer srv.Close()

	text, err := newTestClient(t, srv.URL).Convert(context.Background(), domain.Unit{Images: writeImages(t, 1)})
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	if text != "ok text" {
		t.Errorf("Unexpected text %q", text)
	}
	if calls.Load() != 3 {
		t.Errorf("Expected 3 calls, got %d", calls.Load())
	}
}

func TestConvert_RetryLogCarriesRunID(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, sse(delta("ok text"), "[DONE]"))
	}))
	defer srv.Close()

	var buf bytes.Buffer
	c, err := NewClient(Config{
		APIKey:   "sk-or-test-key",
		BaseURL:  srv.URL,
		Model:    "openai/gpt-4o-mini",
		TierName: "fast",
		Version:  "v1",
		Retry:    fastRetry(),
		Logger:   observability.NewLogger(observability.LogConfig{Level: "debug", Format: "json", Output: &buf}),
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	ctx := observability.ContextWithRunID(context.Background(), "run-42")
	if _, err := c.Convert(ctx, domain.Unit{Images: writeImages(t, 1)}); err != nil {
		t.Fatalf("Convert failed: %v", err)
	}

	var warned bool
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("Invalid log line %q: %v", line, err)
		}
		if entry["run_id"] != "run-42" {
			t.Errorf("Log line missing run id: %s", line)
		}
		if entry["message"] == "Request failed, retrying" {
			warned = true
		}
	}
	if !warned {
		t.Errorf("Expected a retry warning, got %s", buf.String())
	}
}

func TestConvert_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		check   func(error) bool
	}{
		{
			name: "non-retryable status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "bad key", http.StatusUnauthorized)
			},
			check: func(err error) bool { return domain.IsType(err, domain.ErrorTypeAPI) },
		},
		{
			name: "retries exhausted",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
			},
			check: func(err error) bool { return domain.IsType(err, domain.ErrorTypeAPI) },
		},
		{
			name: "truncated stream",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, sse(delta("partial")))
			},
			check: func(err error) bool { return errors.Is(err, ErrTruncatedStream) },
		},
		{
			name: "error payload",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, sse(delta("x"), `{"error":{"code":502,"message":"provider down"}}`))
			},
			check: func(err error) bool { return strings.Contains(err.Error(), "provider down") },
		},
		{
			name: "token limit",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, sse(`{"choices":[{"delta":{"content":"cut"},"finish_reason":"length"}]}`))
			},
			check: func(err error) bool { return domain.IsType(err, domain.ErrorTypeConverter) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := newTestClient(t, srv.URL).Convert(context.Background(), domain.Unit{Images: writeImages(t, 1)})
			if err == nil {
				t.Fatal("Expected error")
			}
			if !tt.check(err) {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}

func TestConvert_NoImages(t *testing.T) {
	client := newTestClient(t, "http://unused")
	_, err := client.Convert(context.Background(), domain.Unit{Index: domain.PageIndex(4)})
	if !domain.IsType(err, domain.ErrorTypeConverter) {
		t.Fatalf("Expected converter failure, got %v", err)
	}
}

func TestConvert_Canceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestClient(t, srv.URL).Convert(ctx, domain.Unit{Images: writeImages(t, 1)})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
}

func TestShouldRetry(t *testing.T) {
	for _, code := range []int{429, 500, 502, 503, 504} {
		if !shouldRetry(code) {
			t.Errorf("Expected %d to be retryable", code)
		}
	}
	for _, code := range []int{200, 400, 401, 404} {
		if shouldRetry(code) {
			t.Errorf("Expected %d not to be retryable", code)
		}
	}
}

func TestCalculateBackoff(t *testing.T) {
	cfg := &RetryConfig{InitialBackoff: time.Second, MaxBackoff: 5 * time.Second}

	if got := calculateBackoff(0, cfg); got != time.Second {
		t.Errorf("attempt 0: got %v", got)
	}
	if got := calculateBackoff(2, cfg); got != 4*time.Second {
		t.Errorf("attempt 2: got %v", got)
	}
	if got := calculateBackoff(10, cfg); got != 5*time.Second {
		t.Errorf("attempt 10 should be capped: got %v", got)
	}
}

func TestRetryAfter(t *testing.T) {
	cfg := &RetryConfig{MaxBackoff: 10 * time.Second}
	resp := &http.Response{Header: http.Header{"Retry-After": []string{"3"}}}
	if d, ok := retryAfter(resp, cfg); !ok || d != 3*time.Second {
		t.Errorf("Expected 3s, got %v %v", d, ok)
	}
	resp.Header.Set("Retry-After", "120")
	if d, _ := retryAfter(resp, cfg); d != 10*time.Second {
		t.Errorf("Expected cap at 10s, got %v", d)
	}
	resp.Header.Del("Retry-After")
	if _, ok := retryAfter(resp, cfg); ok {
		t.Error("Expected no Retry-After")
	}
}
