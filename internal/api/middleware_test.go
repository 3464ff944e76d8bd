package api

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/time/rate"
)

const testAPIKey = "test-secret-key-12345"

// mockHandler is a simple handler that records if it was called
func mockHandler() (http.Handler, *bool) {
	called := false
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}), &called
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	handler, called := mockHandler()
	middleware := AuthMiddleware(testAPIKey)(handler)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/commits", nil)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	w := httptest.NewRecorder()

	middleware.ServeHTTP(w, req)

	if !*called {
		t.Error("handler was not called for valid token")
	}
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestAuthMiddleware_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		apiKey string
		header string
	}{
		{"missing header", testAPIKey, ""},
		{"wrong token", testAPIKey, "Bearer wrong-key"},
		{"no bearer prefix", testAPIKey, testAPIKey},
		{"lowercase bearer", testAPIKey, "bearer " + testAPIKey},
		{"empty token", testAPIKey, "Bearer "},
		{"whitespace token", testAPIKey, "Bearer    "},
		{"server without key", "", "Bearer "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, called := mockHandler()
			middleware := AuthMiddleware(tt.apiKey)(handler)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/commits", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()

			middleware.ServeHTTP(w, req)

			if *called {
				t.Error("handler should not be called")
			}
			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}
		})
	}
}

func TestAuthMiddleware_ResponseFormat_RFC7807(t *testing.T) {
	handler, _ := mockHandler()
	middleware := AuthMiddleware(testAPIKey)(handler)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/commits", nil)
	w := httptest.NewRecorder()

	middleware.ServeHTTP(w, req)

	if ct := w.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("Content-Type = %q, want application/problem+json", ct)
	}
	var p Problem
	if err := json.NewDecoder(w.Body).Decode(&p); err != nil {
		t.Fatalf("failed to decode problem: %v", err)
	}
	if p.Type != "https://ripple.dev/errors/unauthorized" {
		t.Errorf("type = %v", p.Type)
	}
	if p.Instance != "/api/v1/commits" {
		t.Errorf("instance = %v, want /api/v1/commits", p.Instance)
	}
	if strings.Contains(w.Body.String(), testAPIKey) {
		t.Error("response leaks the API key")
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"", ""},
		{"Bearer abc", "abc"},
		{"Bearer  abc ", "abc"},
		{"Basic abc", ""},
		{"Bearerabc", ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		if got := extractBearerToken(req); got != tt.want {
			t.Errorf("extractBearerToken(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestConstantTimeEqual(t *testing.T) {
	if !constantTimeEqual("abc", "abc") {
		t.Error("equal strings reported unequal")
	}
	if constantTimeEqual("abc", "abd") || constantTimeEqual("abc", "abcd") {
		t.Error("different strings reported equal")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	handler, _ := mockHandler()
	middleware := RateLimitMiddleware(rate.NewLimiter(rate.Every(1e12), 2))(handler)

	codes := make([]int, 3)
	for i := range codes {
		w := httptest.NewRecorder()
		middleware.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/queue/drain", nil))
		codes[i] = w.Code
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Errorf("burst requests = %v, want 200s", codes[:2])
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Errorf("third request = %d, want 429", codes[2])
	}
}

func TestLoggingMiddleware_NoAuthHeaderLeak(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	defer slog.SetDefault(prev)

	handler, _ := mockHandler()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/queue", nil)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	LoggingMiddleware(handler).ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	if strings.Contains(out, testAPIKey) {
		t.Error("request log leaks the API key")
	}
	if !strings.Contains(out, `"component":"api"`) || !strings.Contains(out, `"status":200`) {
		t.Errorf("log output = %s", out)
	}
}

func TestRecoveryMiddleware_Panic(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	defer slog.SetDefault(prev)

	panicky := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("secret internal state")
	})
	w := httptest.NewRecorder()

	RecoveryMiddleware(panicky).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/queue", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if strings.Contains(w.Body.String(), "secret internal state") {
		t.Error("panic value leaked to client")
	}
	if !strings.Contains(buf.String(), "panic recovered") {
		t.Error("panic was not logged")
	}
}
