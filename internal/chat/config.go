package chat

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

type Config struct {
	// Store selects the persistence backend: file, sqlite, or memory.
	Store   string `yaml:"store"`
	DataDir string `yaml:"data_dir"`
	Theme   string `yaml:"theme"`
	// ReplyDelayMs simulates assistant typing time for the offline
	// keyword producer.
	ReplyDelayMs int  `yaml:"reply_delay_ms"`
	SpeakReplies bool `yaml:"speak_replies"`
	Debug        bool `yaml:"debug"`
}

func DefaultConfig() Config {
	return Config{
		Store:        StoreFile,
		ReplyDelayMs: 600,
	}
}

func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", path, err)
	}

	switch cfg.Store {
	case StoreFile, StoreSQLite, StoreMemory:
	case "":
		cfg.Store = StoreFile
	default:
		return cfg, fmt.Errorf("unknown store backend %q", cfg.Store)
	}
	if cfg.ReplyDelayMs < 0 {
		cfg.ReplyDelayMs = 0
	}
	if cfg.ReplyDelayMs > 10000 {
		cfg.ReplyDelayMs = 10000
	}
	return cfg, nil
}

func SaveConfig(cfg Config, path string) error {
	if path == "" {
		return errors.New("no path provided for config")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func DefaultConfigPath() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(base, "irie", "config.yml")
}
