package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load reads the configuration file, applies environment overrides,
// defaults, and validation. A missing file is not an error; the
// defaults describe a fully local setup.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays COCOA_* environment variables onto the config.
func applyEnv(cfg *Config) {
	if v := os.Getenv("COCOA_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("COCOA_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("COCOA_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("COCOA_EMBEDDING_URL"); v != "" {
		cfg.Endpoints.Embedding = v
	}
	if v := os.Getenv("COCOA_RERANK_URL"); v != "" {
		cfg.Endpoints.Rerank = v
	}
	if v := os.Getenv("COCOA_LLM_URL"); v != "" {
		cfg.Endpoints.LLM = v
	}
	if v := os.Getenv("COCOA_VISION_URL"); v != "" {
		cfg.Endpoints.Vision = v
	}
	if v := os.Getenv("COCOA_VECTOR_TYPE"); v != "" {
		cfg.Vector.Type = v
	}
	if v := os.Getenv("COCOA_VECTOR_DIMENSION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Vector.Dimension = n
		}
	}
	if v := os.Getenv("COCOA_MODEL_API_KEY"); v != "" {
		cfg.Model.APIKey = v
	}
}

// SaveSettings persists a settings snapshot next to the database so the
// values survive restarts. Writes are atomic via rename.
func SaveSettings(dataDir string, s Settings) error {
	data, err := yaml.Marshal(&s)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	target := filepath.Join(dataDir, "settings.yaml")
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return os.Rename(tmp, target)
}

// LoadSettings restores a previously saved settings snapshot. Returns
// false when none exists.
func LoadSettings(dataDir string) (Settings, bool, error) {
	data, err := os.ReadFile(filepath.Join(dataDir, "settings.yaml"))
	if err != nil {
		if os.IsNotExist(err) {
			return Settings{}, false, nil
		}
		return Settings{}, false, fmt.Errorf("failed to read settings: %w", err)
	}
	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, false, fmt.Errorf("failed to parse settings: %w", err)
	}
	s.SetDefaults()
	return s, true, nil
}
