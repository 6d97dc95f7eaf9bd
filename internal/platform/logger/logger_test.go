package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"info":  slog.LevelInfo,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewWriter_json_component(t *testing.T) {
	var buf bytes.Buffer
	log := Component(NewWriter(&buf, "info", "json"), "engine")
	log.Debug("hidden")
	log.Info("visible", slog.Int("channel", 2))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %d: %s", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("not json: %v", err)
	}
	if rec["component"] != "engine" || rec["msg"] != "visible" || rec["channel"] != float64(2) {
		t.Errorf("unexpected record: %v", rec)
	}
}

func TestNewWriter_text(t *testing.T) {
	var buf bytes.Buffer
	NewWriter(&buf, "debug", "text").Debug("hello")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Errorf("expected text output, got %q", buf.String())
	}
}

func TestRequestLogger_quiet_paths(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "info", "json")
	h := RequestLogger(log, "/metrics")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("tea"))
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/status", nil))
	if !strings.Contains(buf.String(), `"status":418`) || !strings.Contains(buf.String(), `"size":3`) {
		t.Errorf("expected status and size logged: %s", buf.String())
	}

	buf.Reset()
	ok := RequestLogger(log, "/metrics")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	ok.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if buf.Len() != 0 {
		t.Errorf("metrics scrape should log at debug only: %s", buf.String())
	}
}
