package alerting

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func sampleNotification() Notification {
	return Notification{
		Bucket:          time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		Rate:            decimal.RequireFromString("103.50"),
		PreviousRate:    decimal.RequireFromString("100.00"),
		ChangePct:       decimal.RequireFromString("3.5"),
		ThresholdPct:    decimal.RequireFromString("2"),
		Trend:           "ALCISTA",
		ConsecutiveDays: 1,
		Advice:          "🚨 ¡Atención! El dólar subió 3.5% hoy.",
		Channels:        []string{"telegram"},
	}
}

func TestTelegramNotifierSendsMessage(t *testing.T) {
	var gotPath string
	var gotBody map[string]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(raw, &gotBody); err != nil {
			t.Errorf("unmarshal request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok": true}`))
	}))
	defer server.Close()

	notifier := NewTelegramNotifier("test-token", "12345", server.URL, 5*time.Second, zerolog.Nop())

	if err := notifier.Notify(context.Background(), sampleNotification()); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}

	if gotPath != "/bottest-token/sendMessage" {
		t.Errorf("path = %q, want /bottest-token/sendMessage", gotPath)
	}
	if gotBody["chat_id"] != "12345" {
		t.Errorf("chat_id = %q, want 12345", gotBody["chat_id"])
	}
	text := gotBody["text"]
	for _, want := range []string{"103.50 Bs/USDT", "ALCISTA", "umbral 2.00%", "¡Atención!"} {
		if !strings.Contains(text, want) {
			t.Errorf("message text missing %q:\n%s", want, text)
		}
	}
}

func TestTelegramNotifierAPIFalse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok": false}`))
	}))
	defer server.Close()

	notifier := NewTelegramNotifier("token", "1", server.URL, time.Second, zerolog.Nop())
	if err := notifier.Notify(context.Background(), sampleNotification()); err == nil {
		t.Fatal("Notify() expected error on ok=false")
	}
}

func TestTelegramNotifierHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	notifier := NewTelegramNotifier("token", "1", server.URL, time.Second, zerolog.Nop())
	err := notifier.Notify(context.Background(), sampleNotification())
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("Notify() error = %v, want status 502 error", err)
	}
}

func TestRenderMessageOmitsEmptyFields(t *testing.T) {
	note := sampleNotification()
	note.PreviousRate = decimal.Zero
	note.ConsecutiveDays = 0
	note.Advice = ""

	text := renderMessage(note)
	if strings.Contains(text, "Tasa ayer") {
		t.Error("message should omit previous rate when zero")
	}
	if strings.Contains(text, "Días consecutivos") {
		t.Error("message should omit consecutive days when zero")
	}
}
