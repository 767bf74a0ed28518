package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaultsForDevProfile(t *testing.T) {
	cfg, err := Load("querypilot-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileDev {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileDev)
	}
	if cfg.HTTP.Address != ":8080" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.Observability.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Dataset.TableName != "uploaded_table" {
		t.Fatalf("Dataset.TableName = %q", cfg.Dataset.TableName)
	}
	if cfg.Dataset.MaxUploadBytes != 50<<20 {
		t.Fatalf("Dataset.MaxUploadBytes = %d", cfg.Dataset.MaxUploadBytes)
	}
	if cfg.Dataset.SampleRows != 3 {
		t.Fatalf("Dataset.SampleRows = %d", cfg.Dataset.SampleRows)
	}
	if !cfg.Dataset.DefaultSample {
		t.Fatal("Dataset.DefaultSample should default to true in dev")
	}
	if cfg.Query.Timeout != 30*time.Second {
		t.Fatalf("Query.Timeout = %s", cfg.Query.Timeout)
	}
	if cfg.Query.RowCap != 10000 {
		t.Fatalf("Query.RowCap = %d", cfg.Query.RowCap)
	}
	if cfg.Agent.MaxSteps != 10 {
		t.Fatalf("Agent.MaxSteps = %d", cfg.Agent.MaxSteps)
	}
	if cfg.AI.Provider != "anthropic" {
		t.Fatalf("AI.Provider = %q", cfg.AI.Provider)
	}
	if cfg.Audit.Enabled {
		t.Fatal("Audit.Enabled should default to false")
	}
	if cfg.ObjectStore.Enabled {
		t.Fatal("ObjectStore.Enabled should default to false")
	}
}

func TestLoadProdProfileDefaults(t *testing.T) {
	cfg, err := Load("querypilot-api", mapLookup(map[string]string{"QUERYPILOT_PROFILE": "prod"}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileProd {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileProd)
	}
	if cfg.Observability.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Dataset.DefaultSample {
		t.Fatal("Dataset.DefaultSample should default to false in prod")
	}
	if !cfg.ObjectStore.UseSSL {
		t.Fatal("ObjectStore.UseSSL should default to true in prod")
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	lookup := mapLookup(map[string]string{
		"QUERYPILOT_PROFILE":                  "test",
		"QUERYPILOT_SERVICE_NAME":             "querypilot-custom",
		"QUERYPILOT_HTTP_ADDR":                ":9999",
		"QUERYPILOT_HTTP_READ_TIMEOUT":        "2s",
		"QUERYPILOT_LOG_LEVEL":                "error",
		"QUERYPILOT_DATASET_TABLE_NAME":       "sales",
		"QUERYPILOT_DATASET_MAX_UPLOAD_BYTES": "1024",
		"QUERYPILOT_DATASET_SAMPLE_ROWS":      "5",
		"QUERYPILOT_DATASET_DEFAULT_SAMPLE":   "false",
		"QUERYPILOT_DATASET_WORK_DIR":         "/var/lib/querypilot",
		"QUERYPILOT_QUERY_TIMEOUT":            "5s",
		"QUERYPILOT_QUERY_ROW_CAP":            "250",
		"QUERYPILOT_AGENT_MAX_STEPS":          "4",
		"QUERYPILOT_AGENT_HISTORY_BUDGET":     "900",
		"QUERYPILOT_AGENT_MAX_HISTORY_TURNS":  "3",
		"QUERYPILOT_AI_PROVIDER":              "openai",
		"QUERYPILOT_AI_BASE_URL":              "https://api.example.com",
		"QUERYPILOT_AI_API_KEY":               "secret-key",
		"QUERYPILOT_AI_MODEL":                 "gpt-5.2",
		"QUERYPILOT_AI_TEMPERATURE":           "0.3",
		"QUERYPILOT_AI_MAX_TOKENS":            "512",
		"QUERYPILOT_AI_TIMEOUT":               "21s",
		"QUERYPILOT_SESSION_TTL":              "2h",
		"QUERYPILOT_AUDIT_ENABLED":            "true",
		"QUERYPILOT_AUDIT_DSN":                "postgres://example",
		"QUERYPILOT_AUDIT_MAX_OPEN_CONNS":     "42",
		"QUERYPILOT_OBJECTSTORE_ENABLED":      "true",
		"QUERYPILOT_OBJECTSTORE_ENDPOINT":     "s3.example.com",
		"QUERYPILOT_OBJECTSTORE_BUCKET":       "datasets-prod",
		"QUERYPILOT_OBJECTSTORE_PREFIX":       "uploads",
		"QUERYPILOT_OBJECTSTORE_USE_SSL":      "true",
	})
	cfg, err := Load("querypilot-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Service.Name != "querypilot-custom" {
		t.Fatalf("Service.Name = %q", cfg.Service.Name)
	}
	if cfg.HTTP.Address != ":9999" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.HTTP.ReadTimeout != 2*time.Second {
		t.Fatalf("HTTP.ReadTimeout = %s", cfg.HTTP.ReadTimeout)
	}
	if cfg.Observability.LogLevel != slog.LevelError {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Dataset.TableName != "sales" || cfg.Dataset.MaxUploadBytes != 1024 || cfg.Dataset.SampleRows != 5 {
		t.Fatalf("Dataset = %+v", cfg.Dataset)
	}
	if cfg.Dataset.DefaultSample {
		t.Fatal("Dataset.DefaultSample = true, want false")
	}
	if cfg.Dataset.WorkDir != "/var/lib/querypilot" {
		t.Fatalf("Dataset.WorkDir = %q", cfg.Dataset.WorkDir)
	}
	if cfg.Query.Timeout != 5*time.Second || cfg.Query.RowCap != 250 {
		t.Fatalf("Query = %+v", cfg.Query)
	}
	if cfg.Agent.MaxSteps != 4 || cfg.Agent.HistoryBudget != 900 || cfg.Agent.MaxHistoryTurns != 3 {
		t.Fatalf("Agent = %+v", cfg.Agent)
	}
	if cfg.AI.Provider != "openai" {
		t.Fatalf("AI.Provider = %q", cfg.AI.Provider)
	}
	if cfg.AI.BaseURL != "https://api.example.com" {
		t.Fatalf("AI.BaseURL = %q", cfg.AI.BaseURL)
	}
	if cfg.AI.APIKey != "secret-key" {
		t.Fatalf("AI.APIKey = %q", cfg.AI.APIKey)
	}
	if cfg.AI.Model != "gpt-5.2" {
		t.Fatalf("AI.Model = %q", cfg.AI.Model)
	}
	if cfg.AI.Temperature != 0.3 {
		t.Fatalf("AI.Temperature = %f", cfg.AI.Temperature)
	}
	if cfg.AI.MaxTokens != 512 {
		t.Fatalf("AI.MaxTokens = %d", cfg.AI.MaxTokens)
	}
	if cfg.AI.Timeout != 21*time.Second {
		t.Fatalf("AI.Timeout = %s", cfg.AI.Timeout)
	}
	if cfg.Session.TTL != 2*time.Hour {
		t.Fatalf("Session.TTL = %s", cfg.Session.TTL)
	}
	if !cfg.Audit.Enabled || cfg.Audit.DSN != "postgres://example" || cfg.Audit.MaxOpenConns != 42 {
		t.Fatalf("Audit = %+v", cfg.Audit)
	}
	if !cfg.ObjectStore.Enabled || cfg.ObjectStore.Endpoint != "s3.example.com" || cfg.ObjectStore.Bucket != "datasets-prod" {
		t.Fatalf("ObjectStore = %+v", cfg.ObjectStore)
	}
	if cfg.ObjectStore.Prefix != "uploads" || !cfg.ObjectStore.UseSSL {
		t.Fatalf("ObjectStore = %+v", cfg.ObjectStore)
	}
}

func TestLoadErrorsOnInvalidValues(t *testing.T) {
	tests := []map[string]string{
		{"QUERYPILOT_PROFILE": "oops"},
		{"QUERYPILOT_HTTP_READ_TIMEOUT": "NaN"},
		{"QUERYPILOT_QUERY_ROW_CAP": "oops"},
		{"QUERYPILOT_QUERY_ROW_CAP": "0"},
		{"QUERYPILOT_AGENT_MAX_STEPS": "0"},
		{"QUERYPILOT_DATASET_MAX_UPLOAD_BYTES": "-1"},
		{"QUERYPILOT_AI_TEMPERATURE": "bad"},
		{"QUERYPILOT_AI_PROVIDER": "gemini"},
		{"QUERYPILOT_AUDIT_ENABLED": "not-bool"},
		{"QUERYPILOT_AUDIT_ENABLED": "true", "QUERYPILOT_AUDIT_DSN": ""},
		{"QUERYPILOT_OBJECTSTORE_ENABLED": "true", "QUERYPILOT_OBJECTSTORE_BUCKET": ""},
		{"QUERYPILOT_LOG_LEVEL": "verbose"},
	}
	for _, env := range tests {
		_, err := Load("querypilot-api", mapLookup(env))
		if err == nil {
			t.Fatalf("Load() expected error for env %#v", env)
		}
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
