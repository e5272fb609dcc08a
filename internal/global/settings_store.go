package global

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"sitecrew/cli/internal/retry"
	"sitecrew/cli/internal/streamparse"
)

const settingsTOMLFileName = "settings.toml"

type ModelSettings struct {
	Fast     string `json:"fast" toml:"fast"`
	Deep     string `json:"deep" toml:"deep"`
	Realtime string `json:"realtime" toml:"realtime"`
}

type ParserSettings struct {
	FileThoughtsLimit int `json:"file_thoughts_limit" toml:"file_thoughts_limit"`
	TextThoughtsLimit int `json:"text_thoughts_limit" toml:"text_thoughts_limit"`
}

type RetrySettings struct {
	Attempts       int `json:"attempts" toml:"attempts"`
	InitialDelayMS int `json:"initial_delay_ms" toml:"initial_delay_ms"`
}

func (r RetrySettings) Policy() retry.Policy {
	return retry.Policy{MaxAttempts: r.Attempts, InitialDelay: time.Duration(r.InitialDelayMS) * time.Millisecond}
}

type RetryPolicies struct {
	Primary     RetrySettings `json:"primary" toml:"primary"`
	Suggestions RetrySettings `json:"suggestions" toml:"suggestions"`
	Enhance     RetrySettings `json:"enhance" toml:"enhance"`
	Summary     RetrySettings `json:"summary" toml:"summary"`
}

type PersistenceSettings struct {
	DebounceMS int `json:"debounce_ms" toml:"debounce_ms"`
}

func (p PersistenceSettings) Debounce() time.Duration {
	return time.Duration(p.DebounceMS) * time.Millisecond
}

type BreakerSettings struct {
	ConsecutiveFailures int `json:"consecutive_failures" toml:"consecutive_failures"`
	OpenTimeoutSeconds  int `json:"open_timeout_seconds" toml:"open_timeout_seconds"`
}

func (b BreakerSettings) OpenTimeout() time.Duration {
	return time.Duration(b.OpenTimeoutSeconds) * time.Second
}

type Settings struct {
	Models      ModelSettings       `json:"models" toml:"models"`
	Parser      ParserSettings      `json:"parser" toml:"parser"`
	Retry       RetryPolicies       `json:"retry" toml:"retry"`
	Persistence PersistenceSettings `json:"persistence" toml:"persistence"`
	Breaker     BreakerSettings     `json:"breaker" toml:"breaker"`
}

type SettingsStore struct {
	dir string
}

func NewSettingsStore(dir string) *SettingsStore {
	return &SettingsStore{dir: dir}
}

func (s *SettingsStore) Path() string {
	return filepath.Join(s.dir, settingsTOMLFileName)
}

// LoadOrInit reads settings.toml, writing the defaults when it is missing.
func (s *SettingsStore) LoadOrInit() (Settings, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return Settings{}, err
	}

	path := s.Path()
	if b, err := os.ReadFile(path); err == nil {
		var cfg Settings
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return Settings{}, err
		}
		return NormalizeSettings(cfg), nil
	} else if !os.IsNotExist(err) {
		return Settings{}, err
	}

	cfg := NormalizeSettings(Settings{})
	if err := writeTOMLAtomically(path, cfg); err != nil {
		return Settings{}, err
	}
	return cfg, nil
}

func (s *SettingsStore) Save(cfg Settings) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	return writeTOMLAtomically(s.Path(), NormalizeSettings(cfg))
}

// NormalizeSettings fills zero or invalid values with defaults.
func NormalizeSettings(cfg Settings) Settings {
	cfg.Models.Fast = strings.TrimSpace(cfg.Models.Fast)
	cfg.Models.Deep = strings.TrimSpace(cfg.Models.Deep)
	cfg.Models.Realtime = strings.TrimSpace(cfg.Models.Realtime)
	if cfg.Models.Fast == "" {
		cfg.Models.Fast = "gpt-4.1-mini"
	}
	if cfg.Models.Deep == "" {
		cfg.Models.Deep = "o4-mini"
	}
	if cfg.Models.Realtime == "" {
		cfg.Models.Realtime = "gpt-4o-realtime-preview"
	}
	if cfg.Parser.FileThoughtsLimit <= 0 {
		cfg.Parser.FileThoughtsLimit = streamparse.DefaultFileThoughtsLimit
	}
	if cfg.Parser.TextThoughtsLimit <= 0 {
		cfg.Parser.TextThoughtsLimit = streamparse.DefaultTextThoughtsLimit
	}
	cfg.Retry.Primary = normalizeRetry(cfg.Retry.Primary, 5, 2000)
	cfg.Retry.Suggestions = normalizeRetry(cfg.Retry.Suggestions, 2, 500)
	cfg.Retry.Enhance = normalizeRetry(cfg.Retry.Enhance, 2, 1000)
	cfg.Retry.Summary = normalizeRetry(cfg.Retry.Summary, 5, 2000)
	if cfg.Persistence.DebounceMS <= 0 {
		cfg.Persistence.DebounceMS = 500
	}
	if cfg.Breaker.ConsecutiveFailures <= 0 {
		cfg.Breaker.ConsecutiveFailures = 5
	}
	if cfg.Breaker.OpenTimeoutSeconds <= 0 {
		cfg.Breaker.OpenTimeoutSeconds = 30
	}
	return cfg
}

func normalizeRetry(r RetrySettings, attempts, delayMS int) RetrySettings {
	if r.Attempts <= 0 {
		r.Attempts = attempts
	}
	if r.InitialDelayMS <= 0 {
		r.InitialDelayMS = delayMS
	}
	return r
}

func writeTOMLAtomically(path string, v any) error {
	b, err := toml.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// WriteJSONAtomically writes v as indented JSON via a temp file and rename.
func WriteJSONAtomically(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
