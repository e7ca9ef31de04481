package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func TestLoggerEmitsStructuredRequestEvent(t *testing.T) {
	var buf bytes.Buffer
	l := zerolog.New(&buf)

	h := RequestID(Logger(l)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})))

	req := httptest.NewRequest(http.MethodPost, "/v1/books", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)

	var event struct {
		RequestID string `json:"request_id"`
		Method    string `json:"method"`
		Path      string `json:"path"`
		Status    int    `json:"status"`
	}
	if err := json.Unmarshal(buf.Bytes(), &event); err != nil {
		t.Fatalf("decode log event: %v (raw %q)", err, buf.String())
	}
	if event.RequestID == "" {
		t.Fatal("log event missing request_id")
	}
	if event.Method != http.MethodPost || event.Path != "/v1/books" {
		t.Fatalf("event = %+v", event)
	}
	if event.Status != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", event.Status, http.StatusAccepted)
	}
}
