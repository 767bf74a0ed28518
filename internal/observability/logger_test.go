package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/querypilot/querypilot/internal/config"
)

func TestNewLoggerTagsServiceAndRedactsCredentials(t *testing.T) {
	cfg := config.Config{
		Profile:       config.ProfileProd,
		Service:       config.ServiceConfig{Name: "querypilot-api"},
		Observability: config.ObservabilityConfig{LogLevel: slog.LevelInfo, LogJSON: true},
	}
	var buf bytes.Buffer
	NewLogger(cfg, &buf).Info("ask_received", slog.String("api_credential", "sk-live-123"), slog.String("session", "s1"))

	if strings.Contains(buf.String(), "sk-live-123") {
		t.Fatalf("credential leaked: %s", buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log decode: %v", err)
	}
	if entry["service"] != "querypilot-api" || entry["profile"] != "prod" || entry["session"] != "s1" {
		t.Fatalf("entry = %#v", entry)
	}
	if entry["api_credential"] != "[redacted]" {
		t.Fatalf("api_credential = %#v", entry["api_credential"])
	}
}

func TestForRequestAddsTraceID(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))
	ctx := ContextWithTraceID(context.Background(), "trace-9")

	ForRequest(ctx, base, slog.String("session", "s2")).Info("agent_run")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log decode: %v", err)
	}
	if entry["trace_id"] != "trace-9" || entry["session"] != "s2" {
		t.Fatalf("entry = %#v", entry)
	}
	if ForRequest(context.Background(), nil) == nil {
		t.Fatal("ForRequest(nil logger) = nil")
	}
}
