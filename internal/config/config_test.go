package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("SITECREW_LOG_LEVEL", "")
	t.Setenv("SITECREW_TRACE_STREAM", "")
	t.Setenv("SITECREW_LOCAL_HOST", "")
	t.Setenv("SITECREW_LOCAL_PORT", "")
	t.Setenv("SITECREW_DB_DSN", "")
	t.Setenv("SITECREW_CONFIG_DIR", "/tmp/sitecrew-cfg")
	t.Setenv("OPENAI_ENDPOINT", "")
	t.Setenv("OPENAI_MODEL", "")
	t.Setenv("OPENAI_API_KEY", "")

	cfg := LoadConfig()
	if cfg.ListenLogLevel != "info" {
		t.Fatalf("unexpected ListenLogLevel: %s", cfg.ListenLogLevel)
	}
	if cfg.TraceStream {
		t.Fatal("trace stream should default to disabled")
	}
	if cfg.LocalPort != 4731 {
		t.Fatalf("unexpected local port: %d", cfg.LocalPort)
	}
	if cfg.LocalHost != "127.0.0.1" {
		t.Fatalf("unexpected local host: %s", cfg.LocalHost)
	}
	if cfg.DBDSN != filepath.Join("/tmp/sitecrew-cfg", "sitecrew.db") {
		t.Fatalf("unexpected default dsn: %s", cfg.DBDSN)
	}
	if cfg.OpenAIEndpoint != "" || cfg.OpenAIModel != "" || cfg.OpenAIAPIKey != "" {
		t.Fatalf("openai env should default empty, got endpoint=%q model=%q key-set=%v", cfg.OpenAIEndpoint, cfg.OpenAIModel, cfg.OpenAIAPIKey != "")
	}
}

func TestLoadConfig_TraceStreamEnabled(t *testing.T) {
	t.Setenv("SITECREW_TRACE_STREAM", "1")
	cfg := LoadConfig()
	if !cfg.TraceStream {
		t.Fatal("trace stream should be enabled when SITECREW_TRACE_STREAM=1")
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("SITECREW_LOCAL_PORT", "4700")
	t.Setenv("SITECREW_LOCAL_HOST", "0.0.0.0")
	t.Setenv("SITECREW_DB_DSN", ":memory:")
	t.Setenv("OPENAI_ENDPOINT", "https://api.example.com/v1")
	t.Setenv("OPENAI_MODEL", "gpt-4.1-mini")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("SITECREW_DEEP_MODEL", "o4-mini")
	t.Setenv("SITECREW_REALTIME_MODEL", "gpt-4o-realtime-preview")
	t.Setenv("SITECREW_WEBUI_MODE", "prod")
	t.Setenv("SITECREW_WEBUI_DIST_DIR", "/srv/sitecrew/dist")
	cfg := LoadConfig()
	if cfg.LocalPort != 4700 {
		t.Fatalf("unexpected local port: %d", cfg.LocalPort)
	}
	if cfg.LocalHost != "0.0.0.0" {
		t.Fatalf("unexpected local host: %s", cfg.LocalHost)
	}
	if cfg.DBDSN != ":memory:" {
		t.Fatalf("unexpected dsn: %s", cfg.DBDSN)
	}
	if cfg.OpenAIEndpoint != "https://api.example.com/v1" {
		t.Fatalf("unexpected openai endpoint: %s", cfg.OpenAIEndpoint)
	}
	if cfg.OpenAIModel != "gpt-4.1-mini" || cfg.DeepModel != "o4-mini" || cfg.RealtimeModel != "gpt-4o-realtime-preview" {
		t.Fatalf("unexpected models: %+v", cfg)
	}
	if cfg.OpenAIAPIKey != "sk-test" {
		t.Fatalf("unexpected openai key")
	}
	if cfg.WebUIMode != "prod" || cfg.WebUIDistDir != "/srv/sitecrew/dist" {
		t.Fatalf("unexpected web ui config: %+v", cfg)
	}
}

func TestLoadConfig_MalformedPortFallsBack(t *testing.T) {
	t.Setenv("SITECREW_LOCAL_PORT", "47x1")
	cfg := LoadConfig()
	if cfg.LocalPort != 4731 {
		t.Fatalf("expected fallback port, got %d", cfg.LocalPort)
	}
}

func TestGetConfig_UsesCacheWithinTTL(t *testing.T) {
	resetConfigCacheForTest()
	t.Setenv("SITECREW_LOCAL_HOST", "127.0.0.1")
	_ = LoadConfig()

	t.Setenv("SITECREW_LOCAL_HOST", "0.0.0.0")
	got := GetConfig()
	if got == nil {
		t.Fatal("GetConfig should not return nil")
	}
	if got.LocalHost != "127.0.0.1" {
		t.Fatalf("expected cached host 127.0.0.1, got %s", got.LocalHost)
	}
}

func TestGetConfig_RefreshesAfterTTL(t *testing.T) {
	resetConfigCacheForTest()

	oldNow := nowFunc
	oldTTL := cacheTTL
	defer func() {
		nowFunc = oldNow
		cacheTTL = oldTTL
		resetConfigCacheForTest()
	}()

	base := time.Date(2026, time.February, 19, 0, 0, 0, 0, time.UTC)
	nowFunc = func() time.Time { return base }
	cacheTTL = 10 * time.Second

	t.Setenv("SITECREW_LOCAL_HOST", "127.0.0.1")
	_ = LoadConfig()

	base = base.Add(11 * time.Second)
	t.Setenv("SITECREW_LOCAL_HOST", "0.0.0.0")

	got := GetConfig()
	if got == nil {
		t.Fatal("GetConfig should not return nil")
	}
	if got.LocalHost != "0.0.0.0" {
		t.Fatalf("expected refreshed host 0.0.0.0, got %s", got.LocalHost)
	}
}

func resetConfigCacheForTest() {
	cacheMu.Lock()
	cachedCfg = Config{}
	cachedAt = time.Time{}
	cacheValid = false
	cacheMu.Unlock()
}
