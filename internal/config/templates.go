package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Template renders the default configuration as TOML.
func Template() (string, error) {
	cfg := Default()
	cfg.Destination = "/topic/pi-hoot"
	cfg.Admin = AdminConfig{
		Addr:        "127.0.0.1:9610",
		CorsOrigins: []string{"http://localhost:3000"},
	}
	data, err := toml.Marshal(cfg.File())
	if err != nil {
		return "", fmt.Errorf("config render failed: %w", err)
	}
	return string(data), nil
}

func WriteTemplate(path string, overwrite bool) error {
	template, err := Template()
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}
