package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/caarlos0/env/v11"
)

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so allow_from can contain both "town-square" and 123.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	// Try []string first
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	// Try []interface{} to handle mixed types
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

type Config struct {
	Channels ChannelsConfig `json:"channels"`
	Logging  LoggingConfig  `json:"logging"`
	mu       sync.RWMutex
}

type ChannelsConfig struct {
	Mattermost MattermostConfig `json:"mattermost"`
}

// MattermostConfig is the channel-wide section: global defaults that
// individual accounts inherit, plus the account table itself.
type MattermostConfig struct {
	DefaultAccount       string                   `json:"default_account" env:"CLAWDBOT_CHANNELS_MATTERMOST_DEFAULT_ACCOUNT"`
	AllowFrom            FlexibleStringSlice      `json:"allow_from" env:"CLAWDBOT_CHANNELS_MATTERMOST_ALLOW_FROM"`
	DebugLog             bool                     `json:"debug_log" env:"CLAWDBOT_CHANNELS_MATTERMOST_DEBUG_LOG"`
	ReconnectIntervalSec int                      `json:"reconnect_interval" env:"CLAWDBOT_CHANNELS_MATTERMOST_RECONNECT_INTERVAL"`
	Accounts             map[string]AccountConfig `json:"accounts"`
}

// AccountConfig holds the raw per-account overrides. Pointer fields
// distinguish "unset" from an explicit false/zero so the merge in
// ResolveAccount can fall through to the "default" account and then to
// the built-in defaults.
type AccountConfig struct {
	Name                   string              `json:"name,omitempty"`
	Enabled                *bool               `json:"enabled,omitempty"`
	BaseURL                string              `json:"base_url,omitempty"`
	Token                  string              `json:"token,omitempty"`
	AllowFrom              FlexibleStringSlice `json:"allow_from,omitempty"`
	MediaMaxMB             int                 `json:"media_max_mb,omitempty"`
	RequireDirectAllowlist *bool               `json:"require_direct_allowlist,omitempty"`
	ReplyToMode            string              `json:"reply_to_mode,omitempty"`
	DebugLog               *bool               `json:"debug_log,omitempty"`
}

type LoggingConfig struct {
	FileEnabled     bool   `json:"file_enabled" env:"CLAWDBOT_LOGGING_FILE_ENABLED"`
	FilePath        string `json:"file_path" env:"CLAWDBOT_LOGGING_FILE_PATH"`
	RotationEnabled bool   `json:"rotation_enabled" env:"CLAWDBOT_LOGGING_ROTATION_ENABLED"`
	MaxAgeDays      int    `json:"max_age_days" env:"CLAWDBOT_LOGGING_MAX_AGE_DAYS"`
	MaxSizeMB       int    `json:"max_size_mb" env:"CLAWDBOT_LOGGING_MAX_SIZE_MB"`
}

func DefaultConfig() *Config {
	return &Config{
		Channels: ChannelsConfig{
			Mattermost: MattermostConfig{
				DefaultAccount:       "",
				AllowFrom:            FlexibleStringSlice{},
				DebugLog:             false,
				ReconnectIntervalSec: 5,
				Accounts:             map[string]AccountConfig{},
			},
		},
		Logging: LoggingConfig{
			FileEnabled:     true,
			FilePath:        "~/.clawdbot-mattermost/gateway.log",
			RotationEnabled: true,
			MaxAgeDays:      7,
			MaxSizeMB:       50,
		},
	}
}

// DefaultConfigPath returns the conventional config file location.
func DefaultConfigPath() string {
	return expandHome("~/.clawdbot-mattermost/config.json")
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// ReconnectIntervalSeconds returns the gateway reconnect delay, never
// below one second.
func (c *Config) ReconnectIntervalSeconds() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Channels.Mattermost.ReconnectIntervalSec < 1 {
		return 5
	}
	return c.Channels.Mattermost.ReconnectIntervalSec
}

// LogFilePath returns the configured log path with ~ expanded.
func (c *Config) LogFilePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Logging.FilePath)
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
