package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"signin/pkg/logging"
)

const (
	userConfigDir  = ".config/signin"
	configFileName = "config.yaml"

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "SIGNIN_"
)

// GetDefaultConfigDir returns ~/.config/signin.
func GetDefaultConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine user config directory: %w", err)
	}
	return filepath.Join(homeDir, userConfigDir), nil
}

// LoadConfig builds the configuration from defaults, then config.yaml in
// configDir (if present), then SIGNIN_* environment variables.
func LoadConfig(configDir string) (Config, error) {
	config := GetDefaultConfig()

	configFilePath := filepath.Join(configDir, configFileName)
	data, err := os.ReadFile(configFilePath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logging.Debug("ConfigLoader", "No config.yaml found at %s, using defaults", configFilePath)
	case err != nil:
		return Config{}, fmt.Errorf("error reading config from %s: %w", configFilePath, err)
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return Config{}, fmt.Errorf("error loading config from %s: %w", configFilePath, err)
		}
		logging.Debug("ConfigLoader", "Loaded configuration from %s", configFilePath)
	}

	if err := env.ParseWithOptions(&config, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return config, nil
}

// Save writes cfg to config.yaml in configDir.
func Save(configDir string, cfg Config) error {
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	path := filepath.Join(configDir, configFileName)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config to %s: %w", path, err)
	}
	return nil
}
