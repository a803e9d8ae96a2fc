package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Memory.MaxTurns != 40 || cfg.Memory.MaxNotes != 200 {
		t.Fatalf("unexpected memory defaults: %+v", cfg.Memory)
	}
	if cfg.Flush.WindowSeconds != 60 {
		t.Fatalf("unexpected flush default: %d", cfg.Flush.WindowSeconds)
	}
	if len(cfg.Voice.WakePhrases) == 0 || cfg.Voice.WakePhrases[0] != "hey agent lee" {
		t.Fatalf("unexpected wake phrases: %v", cfg.Voice.WakePhrases)
	}
}

func TestLoadConfig_FileAndEnvOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
		"provider": {"api_key": "file-key", "model": "file-model"},
		"flush": {"window_seconds": 30},
		"channels": {"discord": {"allow_from": ["123", 456]}}
	}`
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("AGENTLEE_PROVIDER_API_KEY", "env-key")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Provider.APIKey != "env-key" {
		t.Fatalf("env must win over file, got %q", cfg.Provider.APIKey)
	}
	if cfg.Provider.Model != "file-model" {
		t.Fatalf("file value lost: %q", cfg.Provider.Model)
	}
	if cfg.Flush.WindowSeconds != 30 {
		t.Fatalf("file flush window lost: %d", cfg.Flush.WindowSeconds)
	}
	if len(cfg.Channels.Discord.AllowFrom) != 2 || cfg.Channels.Discord.AllowFrom[1] != "456" {
		t.Fatalf("flexible allow_from broken: %v", cfg.Channels.Discord.AllowFrom)
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.json")

	cfg := DefaultConfig()
	cfg.Agent.UserName = "leonard"
	if err := SaveConfig(path, cfg); err != nil {
		t.Fatalf("save config: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("reload config: %v", err)
	}
	if loaded.Agent.UserName != "leonard" {
		t.Fatalf("round trip lost user name: %q", loaded.Agent.UserName)
	}
}
