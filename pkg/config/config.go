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
// so allow_from can contain both "123" and 123.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

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
	Agent    AgentConfig    `json:"agent"`
	Provider ProviderConfig `json:"provider"`
	Memory   MemoryConfig   `json:"memory"`
	Flush    FlushConfig    `json:"flush"`
	Voice    VoiceConfig    `json:"voice"`
	Autosave AutosaveConfig `json:"autosave"`
	Channels ChannelsConfig `json:"channels"`
	mu       sync.RWMutex
}

type AgentConfig struct {
	Name      string `json:"name" env:"AGENTLEE_AGENT_NAME"`
	UserName  string `json:"user_name" env:"AGENTLEE_AGENT_USER_NAME"`
	Greeting  string `json:"greeting" env:"AGENTLEE_AGENT_GREETING"`
	Workspace string `json:"workspace" env:"AGENTLEE_AGENT_WORKSPACE"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key" env:"AGENTLEE_PROVIDER_API_KEY"`
	APIBase string `json:"api_base" env:"AGENTLEE_PROVIDER_API_BASE"`
	Model   string `json:"model" env:"AGENTLEE_PROVIDER_MODEL"`
	Proxy   string `json:"proxy,omitempty" env:"AGENTLEE_PROVIDER_PROXY"`
}

type MemoryConfig struct {
	MaxTurns       int  `json:"max_turns" env:"AGENTLEE_MEMORY_MAX_TURNS"`
	MaxNotes       int  `json:"max_notes" env:"AGENTLEE_MEMORY_MAX_NOTES"`
	LimitTurns     int  `json:"limit_turns" env:"AGENTLEE_MEMORY_LIMIT_TURNS"`
	LimitNotes     int  `json:"limit_notes" env:"AGENTLEE_MEMORY_LIMIT_NOTES"`
	FreezeLastUsed bool `json:"freeze_last_used" env:"AGENTLEE_MEMORY_FREEZE_LAST_USED"`
}

type FlushConfig struct {
	WindowSeconds int `json:"window_seconds" env:"AGENTLEE_FLUSH_WINDOW_SECONDS"`
}

type VoiceConfig struct {
	Enabled          bool                `json:"enabled" env:"AGENTLEE_VOICE_ENABLED"`
	WakePhrases      FlexibleStringSlice `json:"wake_phrases" env:"AGENTLEE_VOICE_WAKE_PHRASES"`
	SilenceTimeoutMS int                 `json:"silence_timeout_ms" env:"AGENTLEE_VOICE_SILENCE_TIMEOUT_MS"`
	WakeFollowMS     int                 `json:"wake_follow_ms" env:"AGENTLEE_VOICE_WAKE_FOLLOW_MS"`
}

type AutosaveConfig struct {
	ResultDebounceMS int    `json:"result_debounce_ms" env:"AGENTLEE_AUTOSAVE_RESULT_DEBOUNCE_MS"`
	NoteDebounceMS   int    `json:"note_debounce_ms" env:"AGENTLEE_AUTOSAVE_NOTE_DEBOUNCE_MS"`
	Cron             string `json:"cron" env:"AGENTLEE_AUTOSAVE_CRON"`
}

type ChannelsConfig struct {
	Discord DiscordConfig `json:"discord"`
}

type DiscordConfig struct {
	Token     string              `json:"token" env:"AGENTLEE_CHANNELS_DISCORD_TOKEN"`
	AllowFrom FlexibleStringSlice `json:"allow_from" env:"AGENTLEE_CHANNELS_DISCORD_ALLOW_FROM"`
}

func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			Name:      "Agent Lee",
			UserName:  "friend",
			Greeting:  "Yes? I'm listening.",
			Workspace: "~/.agentlee/workspace",
		},
		Provider: ProviderConfig{
			APIBase: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
		},
		Memory: MemoryConfig{
			MaxTurns:   40,
			MaxNotes:   200,
			LimitTurns: 10,
			LimitNotes: 6,
		},
		Flush: FlushConfig{
			WindowSeconds: 60,
		},
		Voice: VoiceConfig{
			Enabled:          true,
			WakePhrases:      FlexibleStringSlice{"hey agent lee", "agent lee", "hey lee"},
			SilenceTimeoutMS: 6000,
			WakeFollowMS:     8000,
		},
		Autosave: AutosaveConfig{
			ResultDebounceMS: 800,
			NoteDebounceMS:   1000,
			Cron:             "*/30 * * * *",
		},
		Channels: ChannelsConfig{
			Discord: DiscordConfig{
				Token:     "",
				AllowFrom: FlexibleStringSlice{},
			},
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if envErr := env.Parse(cfg); envErr != nil {
				return nil, envErr
			}
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
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

	return os.WriteFile(path, data, 0600)
}

func (c *Config) WorkspacePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Agent.Workspace)
}

func (c *Config) GetAPIKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Provider.APIKey
}

func (c *Config) GetAPIBase() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Provider.APIBase != "" {
		return c.Provider.APIBase
	}
	return "https://api.openai.com/v1"
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
