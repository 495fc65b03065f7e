package infra

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// secretsFile matches configs/secrets.yaml, which holds venue
// credentials outside the main config so that file stays committable.
type secretsFile struct {
	Binance struct {
		APIKey    string `yaml:"api_key"`
		SecretKey string `yaml:"secret_key"`
	} `yaml:"binance"`
}

// applySecretsFile merges secrets.yaml (sibling of the main config)
// into cfg. A missing file is fine. Environment overrides still win
// over both files.
func applySecretsFile(cfg *Config, configPath string) error {
	path := filepath.Join(filepath.Dir(configPath), "secrets.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read secrets file: %w", err)
	}

	var sec secretsFile
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return fmt.Errorf("parse secrets file %s: %w", path, err)
	}

	if sec.Binance.APIKey != "" {
		cfg.Binance.APIKey = sec.Binance.APIKey
	}
	if sec.Binance.SecretKey != "" {
		cfg.Binance.SecretKey = sec.Binance.SecretKey
	}
	return nil
}
