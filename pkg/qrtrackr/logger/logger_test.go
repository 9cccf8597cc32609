package logger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestDebugGatedByFlag(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Options{Output: &buf, NoColor: true})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	l.Debug("cache", "hidden")
	l.Info("cache", "shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("Expected debug line to be suppressed")
	}
	if !strings.Contains(out, "INFO") || !strings.Contains(out, "[CACHE") || !strings.Contains(out, "shown") {
		t.Errorf("Unexpected output: %q", out)
	}

	buf.Reset()
	l, _ = New(Options{Output: &buf, NoColor: true, Debug: true})
	l.Debug("cache", "visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Error("Expected debug line when debug is enabled")
	}
}

func TestLogFileWritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "qrtrackr.log")
	l, err := New(Options{Output: &bytes.Buffer{}, NoColor: true, LogFile: path})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	l.Warn("redirect", "counter write failed")
	l.Close()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Failed to open log file: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		t.Fatal("Expected one log line")
	}
	var entry LogEntry
	if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
		t.Fatalf("Log line is not JSON: %v", err)
	}
	if entry.Level != "WARN" || entry.Category != "REDIRECT" {
		t.Errorf("Unexpected entry: %+v", entry)
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	var l *Logger
	l.Info("x", "y")
	l.Debug("x", "y")
	l.Close()
}

func TestMiddlewareSetsRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	l, _ := New(Options{Output: &buf, NoColor: true})

	r := gin.New()
	r.Use(Middleware(l))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	req := httptest.NewRequest("GET", "/ping", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Header().Get(RequestIDHeader) == "" {
		t.Error("Expected a generated request id")
	}
	if !strings.Contains(buf.String(), "GET /ping - 200") {
		t.Errorf("Expected request to be logged, got %q", buf.String())
	}

	req = httptest.NewRequest("GET", "/ping", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if got := w.Header().Get(RequestIDHeader); got != "abc-123" {
		t.Errorf("Expected client request id to be echoed, got %s", got)
	}
}
