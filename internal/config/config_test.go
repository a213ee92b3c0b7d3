package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaultsForDevProfile(t *testing.T) {
	cfg, err := Load("sqlagent-api", mapLookup(map[string]string{}))
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
	if cfg.Observability.LogJSON {
		t.Fatal("LogJSON should default to false in dev")
	}
	if cfg.Auth.Required {
		t.Fatal("Auth.Required should default to false in dev")
	}
	if cfg.Database.URL != "sqlite:///sqlagent.db" {
		t.Fatalf("Database.URL = %q", cfg.Database.URL)
	}
	if cfg.Database.SampleRows != 3 {
		t.Fatalf("Database.SampleRows = %d", cfg.Database.SampleRows)
	}
	if cfg.Conversation.Backend != ConversationBackendMemory {
		t.Fatalf("Conversation.Backend = %q", cfg.Conversation.Backend)
	}
	if cfg.Conversation.IdleTTL != 24*time.Hour {
		t.Fatalf("Conversation.IdleTTL = %s", cfg.Conversation.IdleTTL)
	}
	if cfg.Agent.MaxIterations != 10 {
		t.Fatalf("Agent.MaxIterations = %d", cfg.Agent.MaxIterations)
	}
	if cfg.Agent.MaxEmptyReplies != 3 {
		t.Fatalf("Agent.MaxEmptyReplies = %d", cfg.Agent.MaxEmptyReplies)
	}
	if cfg.AI.Model != "gpt-4.1-mini" {
		t.Fatalf("AI.Model = %q", cfg.AI.Model)
	}
	if cfg.AI.Temperature != nil {
		t.Fatalf("AI.Temperature = %v, want nil", *cfg.AI.Temperature)
	}
}

func TestLoadProdProfileDefaults(t *testing.T) {
	cfg, err := Load("sqlagent-api", mapLookup(map[string]string{"SQLAGENT_PROFILE": "prod"}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileProd {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileProd)
	}
	if !cfg.Auth.Required {
		t.Fatal("Auth.Required should default to true in prod")
	}
	if cfg.Observability.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.Observability.LogJSON {
		t.Fatal("LogJSON should default to true in prod")
	}
	if !cfg.ObjectStore.UseSSL {
		t.Fatal("ObjectStore.UseSSL should default to true in prod")
	}
}

func TestLoadTestProfileUsesMemoryDatabase(t *testing.T) {
	cfg, err := Load("sqlagent-api", mapLookup(map[string]string{"SQLAGENT_PROFILE": "TEST"}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.URL != "sqlite://" {
		t.Fatalf("Database.URL = %q", cfg.Database.URL)
	}
	if cfg.Conversation.IdleTTL != 0 {
		t.Fatalf("Conversation.IdleTTL = %s", cfg.Conversation.IdleTTL)
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	lookup := mapLookup(map[string]string{
		"SQLAGENT_PROFILE":                     "test",
		"SQLAGENT_SERVICE_NAME":                "sqlagent-custom",
		"SQLAGENT_HTTP_ADDR":                   ":9999",
		"SQLAGENT_HTTP_READ_TIMEOUT":           "2s",
		"SQLAGENT_HTTP_WRITE_TIMEOUT":          "3s",
		"SQLAGENT_LOG_LEVEL":                   "error",
		"SQLAGENT_LOG_JSON":                    "true",
		"SQLAGENT_OTLP_ENDPOINT":               "http://collector:4318",
		"SQLAGENT_AUTH_REQUIRED":               "true",
		"SQLAGENT_AUTH_STATIC_KEYS":            "k1:alice:agent_user",
		"SQLAGENT_DATABASE_URL":                "postgres://example",
		"SQLAGENT_DATABASE_MAX_OPEN_CONNS":     "42",
		"SQLAGENT_DATABASE_MAX_IDLE_CONNS":     "17",
		"SQLAGENT_DATABASE_SAMPLE_ROWS":        "5",
		"SQLAGENT_DATABASE_MAX_RESULT_ROWS":    "200",
		"SQLAGENT_DATABASE_DATASETS":           "events=data/events.parquet",
		"SQLAGENT_CONVERSATION_BACKEND":        "Postgres",
		"SQLAGENT_CONVERSATION_DSN":            "postgres://threads",
		"SQLAGENT_CONVERSATION_OBJECT_PREFIX":  "chats",
		"SQLAGENT_CONVERSATION_IDLE_TTL":       "2h",
		"SQLAGENT_CONVERSATION_SWEEP_SCHEDULE": "@every 1m",
		"SQLAGENT_OBJECTSTORE_ENDPOINT":        "s3.example.com",
		"SQLAGENT_OBJECTSTORE_BUCKET":          "agent-prod",
		"SQLAGENT_OBJECTSTORE_USE_SSL":         "true",
		"SQLAGENT_OBJECTSTORE_PREFIX":          "root",
		"SQLAGENT_AGENT_MAX_ITERATIONS":        "4",
		"SQLAGENT_AGENT_MAX_EMPTY_REPLIES":     "0",
		"SQLAGENT_AI_BASE_URL":                 "https://api.example.com/v1",
		"SQLAGENT_AI_API_KEY":                  "secret-key",
		"SQLAGENT_AI_MODEL":                    "gpt-4.1",
		"SQLAGENT_AI_TEMPERATURE":              "0.3",
		"SQLAGENT_AI_TIMEOUT":                  "21s",
		"SQLAGENT_AI_MAX_RETRIES":              "5",
	})
	cfg, err := Load("sqlagent-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Service.Name != "sqlagent-custom" {
		t.Fatalf("Service.Name = %q", cfg.Service.Name)
	}
	if cfg.HTTP.Address != ":9999" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.HTTP.ReadTimeout != 2*time.Second || cfg.HTTP.WriteTimeout != 3*time.Second {
		t.Fatalf("HTTP timeouts = %s/%s", cfg.HTTP.ReadTimeout, cfg.HTTP.WriteTimeout)
	}
	if cfg.Observability.LogLevel != slog.LevelError {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.Observability.LogJSON {
		t.Fatal("LogJSON = false, want true")
	}
	if cfg.Observability.OTLPEndpoint != "http://collector:4318" {
		t.Fatalf("OTLPEndpoint = %q", cfg.Observability.OTLPEndpoint)
	}
	if !cfg.Auth.Required || cfg.Auth.StaticKeys != "k1:alice:agent_user" {
		t.Fatalf("Auth = %+v", cfg.Auth)
	}
	if cfg.Database.URL != "postgres://example" {
		t.Fatalf("Database.URL = %q", cfg.Database.URL)
	}
	if cfg.Database.MaxOpenConns != 42 || cfg.Database.MaxIdleConns != 17 {
		t.Fatalf("Database pool = %d/%d", cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	}
	if cfg.Database.SampleRows != 5 || cfg.Database.MaxResultRows != 200 {
		t.Fatalf("Database rows = %d/%d", cfg.Database.SampleRows, cfg.Database.MaxResultRows)
	}
	if cfg.Database.Datasets != "events=data/events.parquet" {
		t.Fatalf("Database.Datasets = %q", cfg.Database.Datasets)
	}
	if cfg.Conversation.Backend != ConversationBackendPostgres {
		t.Fatalf("Conversation.Backend = %q", cfg.Conversation.Backend)
	}
	if cfg.Conversation.DSN != "postgres://threads" {
		t.Fatalf("Conversation.DSN = %q", cfg.Conversation.DSN)
	}
	if cfg.Conversation.ObjectPrefix != "chats" {
		t.Fatalf("Conversation.ObjectPrefix = %q", cfg.Conversation.ObjectPrefix)
	}
	if cfg.Conversation.IdleTTL != 2*time.Hour {
		t.Fatalf("Conversation.IdleTTL = %s", cfg.Conversation.IdleTTL)
	}
	if cfg.Conversation.SweepSchedule != "@every 1m" {
		t.Fatalf("Conversation.SweepSchedule = %q", cfg.Conversation.SweepSchedule)
	}
	if cfg.ObjectStore.Endpoint != "s3.example.com" || cfg.ObjectStore.Bucket != "agent-prod" {
		t.Fatalf("ObjectStore = %+v", cfg.ObjectStore)
	}
	if !cfg.ObjectStore.UseSSL || cfg.ObjectStore.Prefix != "root" {
		t.Fatalf("ObjectStore = %+v", cfg.ObjectStore)
	}
	if cfg.Agent.MaxIterations != 4 || cfg.Agent.MaxEmptyReplies != 0 {
		t.Fatalf("Agent = %+v", cfg.Agent)
	}
	if cfg.AI.BaseURL != "https://api.example.com/v1" {
		t.Fatalf("AI.BaseURL = %q", cfg.AI.BaseURL)
	}
	if cfg.AI.APIKey != "secret-key" {
		t.Fatalf("AI.APIKey = %q", cfg.AI.APIKey)
	}
	if cfg.AI.Model != "gpt-4.1" {
		t.Fatalf("AI.Model = %q", cfg.AI.Model)
	}
	if cfg.AI.Temperature == nil || *cfg.AI.Temperature != 0.3 {
		t.Fatalf("AI.Temperature = %v", cfg.AI.Temperature)
	}
	if cfg.AI.Timeout != 21*time.Second {
		t.Fatalf("AI.Timeout = %s", cfg.AI.Timeout)
	}
	if cfg.AI.MaxRetries != 5 {
		t.Fatalf("AI.MaxRetries = %d", cfg.AI.MaxRetries)
	}
}

func TestLoadErrorsOnInvalidValues(t *testing.T) {
	tests := []map[string]string{
		{"SQLAGENT_PROFILE": "oops"},
		{"SQLAGENT_HTTP_READ_TIMEOUT": "NaN"},
		{"SQLAGENT_DATABASE_MAX_OPEN_CONNS": "oops"},
		{"SQLAGENT_DATABASE_URL": ""},
		{"SQLAGENT_CONVERSATION_BACKEND": "redis"},
		{"SQLAGENT_AGENT_MAX_ITERATIONS": "0"},
		{"SQLAGENT_AGENT_MAX_EMPTY_REPLIES": "-1"},
		{"SQLAGENT_AI_TEMPERATURE": "bad"},
		{"SQLAGENT_AUTH_REQUIRED": "not-bool"},
		{"SQLAGENT_LOG_LEVEL": "verbose"},
	}
	for _, env := range tests {
		_, err := Load("sqlagent-api", mapLookup(env))
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
