package config

import (
	"os"
	"path/filepath"
	"sync"
	"time"
)

type Config struct {
	ListenLogLevel string
	TraceStream    bool
	LocalHost      string
	LocalPort      int
	DBDSN          string
	OpenAIEndpoint string
	OpenAIModel    string
	OpenAIAPIKey   string
	DeepModel      string
	RealtimeModel  string
	WebUIMode      string
	WebUIDevProxy  string
	WebUIDistDir   string
}

const defaultLocalPort = 4731

var (
	cacheTTL   = 10 * time.Second
	nowFunc    = time.Now
	cacheMu    sync.RWMutex
	cachedCfg  Config
	cachedAt   time.Time
	cacheValid bool
)

func LoadConfig() Config {
	cfg := loadFromEnv()
	cacheMu.Lock()
	cachedCfg = cfg
	cachedAt = nowFunc()
	cacheValid = true
	cacheMu.Unlock()
	return cfg
}

func GetConfig() *Config {
	now := nowFunc()
	cacheMu.RLock()
	valid := cacheValid && now.Sub(cachedAt) < cacheTTL
	if valid {
		out := cachedCfg
		cacheMu.RUnlock()
		return &out
	}
	cacheMu.RUnlock()

	cfg := loadFromEnv()
	cacheMu.Lock()
	cachedCfg = cfg
	cachedAt = now
	cacheValid = true
	cacheMu.Unlock()

	out := cfg
	return &out
}

func loadFromEnv() Config {
	level := os.Getenv("SITECREW_LOG_LEVEL")
	if level == "" {
		level = "info"
	}
	traceStream := os.Getenv("SITECREW_TRACE_STREAM") == "1"
	localHost := os.Getenv("SITECREW_LOCAL_HOST")
	if localHost == "" {
		localHost = "127.0.0.1"
	}
	localPort := defaultLocalPort
	if p := os.Getenv("SITECREW_LOCAL_PORT"); p != "" {
		// Malformed values fall back to the default.
		if n := atoiOrDefault(p, defaultLocalPort); n > 0 {
			localPort = n
		}
	}
	dsn := os.Getenv("SITECREW_DB_DSN")
	if dsn == "" {
		dsn = defaultDBPath()
	}

	return Config{
		ListenLogLevel: level,
		TraceStream:    traceStream,
		LocalHost:      localHost,
		LocalPort:      localPort,
		DBDSN:          dsn,
		OpenAIEndpoint: os.Getenv("OPENAI_ENDPOINT"),
		OpenAIModel:    os.Getenv("OPENAI_MODEL"),
		OpenAIAPIKey:   os.Getenv("OPENAI_API_KEY"),
		DeepModel:      os.Getenv("SITECREW_DEEP_MODEL"),
		RealtimeModel:  os.Getenv("SITECREW_REALTIME_MODEL"),
		WebUIMode:      os.Getenv("SITECREW_WEBUI_MODE"),
		WebUIDevProxy:  os.Getenv("SITECREW_WEBUI_DEV_PROXY_URL"),
		WebUIDistDir:   os.Getenv("SITECREW_WEBUI_DIST_DIR"),
	}
}

func defaultDBPath() string {
	if override := os.Getenv("SITECREW_CONFIG_DIR"); override != "" {
		return filepath.Join(override, "sitecrew.db")
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "sitecrew.db"
	}
	return filepath.Join(home, ".config", "sitecrew", "sitecrew.db")
}

func atoiOrDefault(v string, fallback int) int {
	n := 0
	for i := 0; i < len(v); i++ {
		if v[i] < '0' || v[i] > '9' {
			return fallback
		}
		n = n*10 + int(v[i]-'0')
	}
	if n == 0 {
		return fallback
	}
	return n
}
