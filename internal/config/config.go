package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

const envPrefix = "KPISYNC_"

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Store         StoreConfig
	Remote        RemoteConfig
	AI            AIConfig
	Assistant     AssistantConfig
	Catalog       CatalogConfig
	ObjectStore   ObjectStoreConfig
	Observability ObservabilityConfig
	Auth          AuthConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	CORSOrigins  []string
}

// StoreConfig locates the per-user DuckDB files.
type StoreConfig struct {
	DataDir      string
	MaxOpenConns int
	// DisableExternalAccess blocks SQL file and URL readers inside the store.
	DisableExternalAccess bool
}

type RemoteConfig struct {
	DefaultDriver  string
	ConnectTimeout time.Duration
}

type AIConfig struct {
	Provider    string
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

type AssistantConfig struct {
	MaxTables   int
	RowLimit    int
	Summarize   bool
	SummaryRows int
}

type CatalogConfig struct {
	Describer string
}

type ObjectStoreConfig struct {
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
	ExportOnSync     bool
}

// Enabled reports whether snapshot export has somewhere to write.
func (c ObjectStoreConfig) Enabled() bool {
	return strings.TrimSpace(c.Endpoint) != "" && strings.TrimSpace(c.Bucket) != ""
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

type AuthConfig struct {
	Required   bool
	StaticKeys string
}

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderNone   = "none"

	DescriberTemplated  = "templated"
	DescriberHeuristic  = "heuristic"
	DescriberCompletion = "completion"
)

// LoadFromEnv reads the optional dotenv file named by KPISYNC_ENV_FILE (default .env) and then
// the process environment. Variables already set in the environment win over the file.
func LoadFromEnv(serviceName string) (Config, error) {
	envFile := ".env"
	if raw, ok := os.LookupEnv(envPrefix + "ENV_FILE"); ok && strings.TrimSpace(raw) != "" {
		envFile = strings.TrimSpace(raw)
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", envFile, err)
	}
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup(envPrefix + "PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid %sPROFILE: %q", envPrefix, profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	env := func(name string) string { return envPrefix + name }
	applied := []error{
		applyString(lookup, env("SERVICE_NAME"), &cfg.Service.Name),
		applyString(lookup, env("HTTP_ADDR"), &cfg.HTTP.Address),
		applyDuration(lookup, env("HTTP_READ_TIMEOUT"), &cfg.HTTP.ReadTimeout),
		applyDuration(lookup, env("HTTP_WRITE_TIMEOUT"), &cfg.HTTP.WriteTimeout),
		applyDuration(lookup, env("HTTP_IDLE_TIMEOUT"), &cfg.HTTP.IdleTimeout),
		applyList(lookup, env("HTTP_CORS_ORIGINS"), &cfg.HTTP.CORSOrigins),
		applyString(lookup, env("STORE_DATA_DIR"), &cfg.Store.DataDir),
		applyInt(lookup, env("STORE_MAX_OPEN_CONNS"), &cfg.Store.MaxOpenConns),
		applyBool(lookup, env("STORE_DISABLE_EXTERNAL_ACCESS"), &cfg.Store.DisableExternalAccess),
		applyString(lookup, env("REMOTE_DEFAULT_DRIVER"), &cfg.Remote.DefaultDriver),
		applyDuration(lookup, env("REMOTE_CONNECT_TIMEOUT"), &cfg.Remote.ConnectTimeout),
		applyString(lookup, env("AI_PROVIDER"), &cfg.AI.Provider),
		applyString(lookup, env("AI_BASE_URL"), &cfg.AI.BaseURL),
		applyString(lookup, env("AI_API_KEY"), &cfg.AI.APIKey),
		applyString(lookup, env("AI_MODEL"), &cfg.AI.Model),
		applyFloat(lookup, env("AI_TEMPERATURE"), &cfg.AI.Temperature),
		applyInt(lookup, env("AI_MAX_TOKENS"), &cfg.AI.MaxTokens),
		applyDuration(lookup, env("AI_TIMEOUT"), &cfg.AI.Timeout),
		applyInt(lookup, env("ASSISTANT_MAX_TABLES"), &cfg.Assistant.MaxTables),
		applyInt(lookup, env("ASSISTANT_ROW_LIMIT"), &cfg.Assistant.RowLimit),
		applyBool(lookup, env("ASSISTANT_SUMMARIZE"), &cfg.Assistant.Summarize),
		applyInt(lookup, env("ASSISTANT_SUMMARY_ROWS"), &cfg.Assistant.SummaryRows),
		applyString(lookup, env("CATALOG_DESCRIBER"), &cfg.Catalog.Describer),
		applyString(lookup, env("OBJECTSTORE_ENDPOINT"), &cfg.ObjectStore.Endpoint),
		applyString(lookup, env("OBJECTSTORE_REGION"), &cfg.ObjectStore.Region),
		applyString(lookup, env("OBJECTSTORE_BUCKET"), &cfg.ObjectStore.Bucket),
		applyString(lookup, env("OBJECTSTORE_ACCESS_KEY"), &cfg.ObjectStore.AccessKeyID),
		applyString(lookup, env("OBJECTSTORE_SECRET_KEY"), &cfg.ObjectStore.SecretAccessKey),
		applyBool(lookup, env("OBJECTSTORE_USE_SSL"), &cfg.ObjectStore.UseSSL),
		applyString(lookup, env("OBJECTSTORE_PREFIX"), &cfg.ObjectStore.Prefix),
		applyBool(lookup, env("OBJECTSTORE_AUTO_CREATE_BUCKET"), &cfg.ObjectStore.AutoCreateBucket),
		applyBool(lookup, env("EXPORT_ON_SYNC"), &cfg.ObjectStore.ExportOnSync),
		applyBool(lookup, env("LOG_JSON"), &cfg.Observability.LogJSON),
		applyLogLevel(lookup, env("LOG_LEVEL"), &cfg.Observability.LogLevel),
		applyBool(lookup, env("AUTH_REQUIRED"), &cfg.Auth.Required),
		applyString(lookup, env("AUTH_STATIC_KEYS"), &cfg.Auth.StaticKeys),
	}
	for _, err := range applied {
		if err != nil {
			return Config{}, err
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	c.AI.Provider = strings.ToLower(c.AI.Provider)
	c.Catalog.Describer = strings.ToLower(c.Catalog.Describer)
	c.Remote.DefaultDriver = strings.ToLower(c.Remote.DefaultDriver)

	switch {
	case c.Service.Name == "":
		return fmt.Errorf("service name is required")
	case c.HTTP.Address == "":
		return fmt.Errorf("http address is required")
	case c.Store.DataDir == "":
		return fmt.Errorf("store data dir is required")
	case c.Assistant.MaxTables <= 0:
		return fmt.Errorf("%sASSISTANT_MAX_TABLES must be > 0", envPrefix)
	case c.Assistant.RowLimit <= 0:
		return fmt.Errorf("%sASSISTANT_ROW_LIMIT must be > 0", envPrefix)
	case c.AI.MaxTokens <= 0:
		return fmt.Errorf("%sAI_MAX_TOKENS must be > 0", envPrefix)
	case c.AI.Timeout <= 0:
		return fmt.Errorf("%sAI_TIMEOUT must be > 0", envPrefix)
	}

	switch c.AI.Provider {
	case ProviderOpenAI, ProviderOllama, ProviderNone:
	default:
		return fmt.Errorf("invalid %sAI_PROVIDER: %q", envPrefix, c.AI.Provider)
	}
	switch c.Catalog.Describer {
	case DescriberTemplated, DescriberHeuristic, DescriberCompletion:
	default:
		return fmt.Errorf("invalid %sCATALOG_DESCRIBER: %q", envPrefix, c.Catalog.Describer)
	}
	if c.Catalog.Describer == DescriberCompletion && c.AI.Provider == ProviderNone {
		return fmt.Errorf("%sCATALOG_DESCRIBER=completion requires an AI provider", envPrefix)
	}
	switch c.Remote.DefaultDriver {
	case "mysql", "postgres":
	default:
		return fmt.Errorf("invalid %sREMOTE_DEFAULT_DRIVER: %q", envPrefix, c.Remote.DefaultDriver)
	}
	return nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "kpisync-api"},
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Minute,
			IdleTimeout:  60 * time.Second,
			CORSOrigins:  []string{"*"},
		},
		Store: StoreConfig{
			DataDir:      "data",
			MaxOpenConns: 4,
		},
		Remote: RemoteConfig{
			DefaultDriver:  "mysql",
			ConnectTimeout: 10 * time.Second,
		},
		AI: AIConfig{
			Provider:    ProviderOllama,
			BaseURL:     "http://localhost:11434",
			Model:       "llama3",
			Temperature: 0.2,
			MaxTokens:   900,
			Timeout:     120 * time.Second,
		},
		Assistant: AssistantConfig{
			MaxTables:   15,
			RowLimit:    500,
			Summarize:   true,
			SummaryRows: 20,
		},
		Catalog: CatalogConfig{
			Describer: DescriberTemplated,
		},
		ObjectStore: ObjectStoreConfig{
			Region:           "us-east-1",
			Bucket:           "kpisync",
			AutoCreateBucket: true,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.AI.Provider = ProviderNone
		cfg.Assistant.Summarize = false
		cfg.Observability.LogLevel = slog.LevelWarn
	case ProfileProd:
		cfg.HTTP.CORSOrigins = nil
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Auth.Required = true
		cfg.Store.DisableExternalAccess = true
		cfg.ObjectStore.UseSSL = true
		cfg.ObjectStore.AutoCreateBucket = false
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

// applyList splits a comma separated value, dropping empty items.
func applyList(lookup LookupFunc, key string, dst *[]string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	var items []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			items = append(items, part)
		}
	}
	*dst = items
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
