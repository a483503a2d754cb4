package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables read when the matching setting is empty.
const (
	EnvDSN    = "DRIVESPECTRE_DSN"
	EnvUpload = "DRIVESPECTRE_UPLOAD"
)

// LoadEnv loads variables from the given dotenv files into the process
// environment. Missing files are skipped; existing variables win.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, file := range files {
		if _, err := os.Stat(file); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to access env file %q: %w", file, err)
		}
		if err := godotenv.Load(file); err != nil {
			return fmt.Errorf("failed to load env file %q: %w", file, err)
		}
	}
	return nil
}

// ApplyEnv fills empty settings from the environment.
func (c *Config) ApplyEnv() {
	if c.DSN == "" {
		c.DSN = strings.TrimSpace(os.Getenv(EnvDSN))
	}
	if c.Upload.URL == "" {
		c.Upload.URL = strings.TrimSpace(os.Getenv(EnvUpload))
	}
}
