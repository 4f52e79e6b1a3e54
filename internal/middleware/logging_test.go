package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func parseLogEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON log: %v\nraw: %s", err, buf.String())
	}
	return entry
}

// TestLoggingMiddleware_LogsRequestFields はリクエストログに必要なフィールドが含まれることを検証する。
func TestLoggingMiddleware_LogsRequestFields(t *testing.T) {
	var buf bytes.Buffer
	handler := NewLoggingMiddleware(newTestLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello"))
	}))

	serve(handler, httptest.NewRequest(http.MethodGet, "/api/products", nil))

	entry := parseLogEntry(t, &buf)
	if entry["msg"] != "http_request" {
		t.Errorf("msg = %v, want http_request", entry["msg"])
	}
	if entry["method"] != "GET" {
		t.Errorf("method = %v, want GET", entry["method"])
	}
	if entry["path"] != "/api/products" {
		t.Errorf("path = %v, want /api/products", entry["path"])
	}
	if entry["status"] != float64(200) {
		t.Errorf("status = %v, want 200", entry["status"])
	}
	if entry["bytes"] != float64(5) {
		t.Errorf("bytes = %v, want 5", entry["bytes"])
	}
	if _, ok := entry["duration_ms"]; !ok {
		t.Error("duration_ms がログに含まれていない")
	}
	if _, ok := entry["user_id"]; ok {
		t.Error("未認証リクエストに user_id を出力してはならない")
	}
}

func TestLoggingMiddleware_LevelByStatus(t *testing.T) {
	tests := []struct {
		status    int
		wantLevel string
	}{
		{status: http.StatusOK, wantLevel: "INFO"},
		{status: http.StatusCreated, wantLevel: "INFO"},
		{status: http.StatusNotFound, wantLevel: "WARN"},
		{status: http.StatusConflict, wantLevel: "WARN"},
		{status: http.StatusInternalServerError, wantLevel: "ERROR"},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			var buf bytes.Buffer
			handler := NewLoggingMiddleware(newTestLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))

			serve(handler, httptest.NewRequest(http.MethodPost, "/api/orders", nil))

			entry := parseLogEntry(t, &buf)
			if entry["level"] != tt.wantLevel {
				t.Errorf("level = %v, want %s", entry["level"], tt.wantLevel)
			}
			if entry["status"] != float64(tt.status) {
				t.Errorf("status = %v, want %d", entry["status"], tt.status)
			}
		})
	}
}

// TestLoggingMiddleware_RouteAndRequestID はchiのルートパターンとリクエストIDが記録されることを検証する。
func TestLoggingMiddleware_RouteAndRequestID(t *testing.T) {
	var buf bytes.Buffer
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(NewLoggingMiddleware(newTestLogger(&buf)))
	r.Get("/api/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	serve(r, httptest.NewRequest(http.MethodGet, "/api/orders/order-42", nil))

	entry := parseLogEntry(t, &buf)
	if entry["route"] != "/api/orders/{id}" {
		t.Errorf("route = %v, want /api/orders/{id}", entry["route"])
	}
	if entry["path"] != "/api/orders/order-42" {
		t.Errorf("path = %v", entry["path"])
	}
	if reqID, _ := entry["request_id"].(string); reqID == "" {
		t.Error("request_id がログに含まれていない")
	}
}

// TestLoggingMiddleware_UserIDFromSession はセッションミドルウェアが解決したユーザーIDが記録されることを検証する。
func TestLoggingMiddleware_UserIDFromSession(t *testing.T) {
	var buf bytes.Buffer
	r := chi.NewRouter()
	r.Use(NewLoggingMiddleware(newTestLogger(&buf)))
	r.Group(func(r chi.Router) {
		r.Use(NewSessionMiddleware(sessionStore("user-77")))
		r.Get("/api/cart", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	serve(r, withSession(httptest.NewRequest(http.MethodGet, "/api/cart", nil), "valid-session"))

	entry := parseLogEntry(t, &buf)
	if entry["user_id"] != "user-77" {
		t.Errorf("user_id = %v, want user-77", entry["user_id"])
	}
}

func TestLoggingMiddleware_OneLinePerRequest(t *testing.T) {
	var buf bytes.Buffer
	handler := NewLoggingMiddleware(newTestLogger(&buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		serve(handler, httptest.NewRequest(http.MethodGet, "/health", nil))
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Errorf("log lines = %d, want 3", len(lines))
	}
}

func TestStatusRecorder_FirstWriteHeaderWins(t *testing.T) {
	rec := newStatusRecorder(httptest.NewRecorder())
	rec.WriteHeader(http.StatusTeapot)
	rec.WriteHeader(http.StatusOK)

	if rec.statusCode != http.StatusTeapot {
		t.Errorf("statusCode = %d, want %d", rec.statusCode, http.StatusTeapot)
	}
	if newStatusRecorder(rec) != rec {
		t.Error("既存のstatusRecorderは再利用されるべき")
	}
}
