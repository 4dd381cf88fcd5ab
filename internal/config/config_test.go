package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsForDevProfile(t *testing.T) {
	cfg, err := Load("kpisync-api", mapLookup(map[string]string{}))
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
	if cfg.Auth.Required {
		t.Fatal("Auth.Required should default to false in dev")
	}
	if cfg.Store.DataDir != "data" {
		t.Fatalf("Store.DataDir = %q", cfg.Store.DataDir)
	}
	if cfg.AI.Provider != ProviderOllama {
		t.Fatalf("AI.Provider = %q", cfg.AI.Provider)
	}
	if cfg.AI.Timeout != 120*time.Second {
		t.Fatalf("AI.Timeout = %s", cfg.AI.Timeout)
	}
	if cfg.AI.MaxTokens != 900 {
		t.Fatalf("AI.MaxTokens = %d", cfg.AI.MaxTokens)
	}
	if cfg.Assistant.MaxTables != 15 {
		t.Fatalf("Assistant.MaxTables = %d", cfg.Assistant.MaxTables)
	}
	if !cfg.Assistant.Summarize {
		t.Fatal("Assistant.Summarize should default to true")
	}
	if cfg.Catalog.Describer != DescriberTemplated {
		t.Fatalf("Catalog.Describer = %q", cfg.Catalog.Describer)
	}
	if cfg.ObjectStore.Enabled() {
		t.Fatal("ObjectStore should be disabled without an endpoint")
	}
	if cfg.Remote.DefaultDriver != "mysql" {
		t.Fatalf("Remote.DefaultDriver = %q", cfg.Remote.DefaultDriver)
	}
}

func TestLoadProdProfileDefaults(t *testing.T) {
	cfg, err := Load("kpisync-api", mapLookup(map[string]string{"KPISYNC_PROFILE": "prod"}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Auth.Required {
		t.Fatal("Auth.Required should default to true in prod")
	}
	if cfg.Observability.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if len(cfg.HTTP.CORSOrigins) != 0 {
		t.Fatalf("HTTP.CORSOrigins = %v, want none in prod", cfg.HTTP.CORSOrigins)
	}
	if !cfg.ObjectStore.UseSSL {
		t.Fatal("ObjectStore.UseSSL should default to true in prod")
	}
	if !cfg.Store.DisableExternalAccess {
		t.Fatal("Store.DisableExternalAccess should default to true in prod")
	}
}

func TestLoadTestProfileDisablesCompletion(t *testing.T) {
	cfg, err := Load("kpisync-api", mapLookup(map[string]string{"KPISYNC_PROFILE": "test"}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.AI.Provider != ProviderNone {
		t.Fatalf("AI.Provider = %q", cfg.AI.Provider)
	}
	if cfg.Assistant.Summarize {
		t.Fatal("Assistant.Summarize should be off in test")
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	lookup := mapLookup(map[string]string{
		"KPISYNC_PROFILE":                "test",
		"KPISYNC_SERVICE_NAME":           "kpisync-custom",
		"KPISYNC_HTTP_ADDR":              ":9999",
		"KPISYNC_HTTP_READ_TIMEOUT":      "2s",
		"KPISYNC_HTTP_CORS_ORIGINS":      "https://a.example, ,https://b.example",
		"KPISYNC_STORE_DATA_DIR":         "/var/lib/kpisync",
		"KPISYNC_STORE_MAX_OPEN_CONNS":   "8",
		"KPISYNC_REMOTE_DEFAULT_DRIVER":  "POSTGRES",
		"KPISYNC_REMOTE_CONNECT_TIMEOUT": "3s",
		"KPISYNC_AI_PROVIDER":            "OpenAI",
		"KPISYNC_AI_BASE_URL":            "https://openrouter.ai/api/v1",
		"KPISYNC_AI_API_KEY":             "secret-key",
		"KPISYNC_AI_MODEL":               "meta-llama/llama-3.3-70b-instruct",
		"KPISYNC_AI_TEMPERATURE":         "0.3",
		"KPISYNC_AI_MAX_TOKENS":          "1200",
		"KPISYNC_AI_TIMEOUT":             "90s",
		"KPISYNC_ASSISTANT_MAX_TABLES":   "5",
		"KPISYNC_ASSISTANT_ROW_LIMIT":    "50",
		"KPISYNC_ASSISTANT_SUMMARIZE":    "true",
		"KPISYNC_ASSISTANT_SUMMARY_ROWS": "7",
		"KPISYNC_CATALOG_DESCRIBER":      "completion",
		"KPISYNC_OBJECTSTORE_ENDPOINT":   "s3.example.com",
		"KPISYNC_OBJECTSTORE_BUCKET":     "kpi-snapshots",
		"KPISYNC_OBJECTSTORE_PREFIX":     "tenant-root",
		"KPISYNC_EXPORT_ON_SYNC":         "true",
		"KPISYNC_LOG_LEVEL":              "error",
		"KPISYNC_LOG_JSON":               "false",
		"KPISYNC_AUTH_REQUIRED":          "true",
		"KPISYNC_AUTH_STATIC_KEYS":       "k1:acme:analyst",
	})
	cfg, err := Load("kpisync-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Service.Name != "kpisync-custom" {
		t.Fatalf("Service.Name = %q", cfg.Service.Name)
	}
	if cfg.HTTP.Address != ":9999" || cfg.HTTP.ReadTimeout != 2*time.Second {
		t.Fatalf("HTTP = %+v", cfg.HTTP)
	}
	if len(cfg.HTTP.CORSOrigins) != 2 || cfg.HTTP.CORSOrigins[1] != "https://b.example" {
		t.Fatalf("HTTP.CORSOrigins = %v", cfg.HTTP.CORSOrigins)
	}
	if cfg.Store.DataDir != "/var/lib/kpisync" || cfg.Store.MaxOpenConns != 8 {
		t.Fatalf("Store = %+v", cfg.Store)
	}
	if cfg.Remote.DefaultDriver != "postgres" || cfg.Remote.ConnectTimeout != 3*time.Second {
		t.Fatalf("Remote = %+v", cfg.Remote)
	}
	if cfg.AI.Provider != ProviderOpenAI {
		t.Fatalf("AI.Provider = %q", cfg.AI.Provider)
	}
	if cfg.AI.APIKey != "secret-key" || cfg.AI.MaxTokens != 1200 || cfg.AI.Timeout != 90*time.Second {
		t.Fatalf("AI = %+v", cfg.AI)
	}
	if cfg.AI.Temperature != 0.3 {
		t.Fatalf("AI.Temperature = %f", cfg.AI.Temperature)
	}
	if cfg.Assistant.MaxTables != 5 || cfg.Assistant.RowLimit != 50 || !cfg.Assistant.Summarize || cfg.Assistant.SummaryRows != 7 {
		t.Fatalf("Assistant = %+v", cfg.Assistant)
	}
	if cfg.Catalog.Describer != DescriberCompletion {
		t.Fatalf("Catalog.Describer = %q", cfg.Catalog.Describer)
	}
	if !cfg.ObjectStore.Enabled() || !cfg.ObjectStore.ExportOnSync || cfg.ObjectStore.Prefix != "tenant-root" {
		t.Fatalf("ObjectStore = %+v", cfg.ObjectStore)
	}
	if cfg.Observability.LogLevel != slog.LevelError || cfg.Observability.LogJSON {
		t.Fatalf("Observability = %+v", cfg.Observability)
	}
	if !cfg.Auth.Required || cfg.Auth.StaticKeys != "k1:acme:analyst" {
		t.Fatalf("Auth = %+v", cfg.Auth)
	}
}

func TestLoadErrorsOnInvalidValues(t *testing.T) {
	tests := []map[string]string{
		{"KPISYNC_PROFILE": "oops"},
		{"KPISYNC_HTTP_READ_TIMEOUT": "NaN"},
		{"KPISYNC_STORE_MAX_OPEN_CONNS": "oops"},
		{"KPISYNC_STORE_DATA_DIR": ""},
		{"KPISYNC_AI_TEMPERATURE": "bad"},
		{"KPISYNC_AI_PROVIDER": "anthropic"},
		{"KPISYNC_AI_MAX_TOKENS": "0"},
		{"KPISYNC_AI_TIMEOUT": "0s"},
		{"KPISYNC_ASSISTANT_ROW_LIMIT": "-1"},
		{"KPISYNC_CATALOG_DESCRIBER": "magic"},
		{"KPISYNC_CATALOG_DESCRIBER": "completion", "KPISYNC_AI_PROVIDER": "none"},
		{"KPISYNC_REMOTE_DEFAULT_DRIVER": "oracle"},
		{"KPISYNC_AUTH_REQUIRED": "not-bool"},
		{"KPISYNC_LOG_LEVEL": "verbose"},
	}
	for _, env := range tests {
		if _, err := Load("kpisync-api", mapLookup(env)); err == nil {
			t.Fatalf("Load() expected error for env %#v", env)
		}
	}
}

func TestLoadFromEnvReadsDotenvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kpisync.env")
	content := "KPISYNC_ASSISTANT_ROW_LIMIT=77\nKPISYNC_AI_MODEL=from-file\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("KPISYNC_ENV_FILE", path)
	t.Setenv("KPISYNC_AI_MODEL", "from-env")
	t.Cleanup(func() { _ = os.Unsetenv("KPISYNC_ASSISTANT_ROW_LIMIT") })

	cfg, err := LoadFromEnv("kpisync-api")
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.Assistant.RowLimit != 77 {
		t.Fatalf("Assistant.RowLimit = %d, want value from file", cfg.Assistant.RowLimit)
	}
	if cfg.AI.Model != "from-env" {
		t.Fatalf("AI.Model = %q, environment should win over file", cfg.AI.Model)
	}
}

func TestLoadFromEnvIgnoresMissingDotenvFile(t *testing.T) {
	t.Setenv("KPISYNC_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	if _, err := LoadFromEnv("kpisync-api"); err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
