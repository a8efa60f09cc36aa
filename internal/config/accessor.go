package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Save writes cfg as indented JSON, creating the parent directory.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Sanitize returns a copy of the config with sensitive values masked.
func Sanitize(cfg *Config) *Config {
	c := *cfg

	c.WhatsApp.AccessToken = maskString(c.WhatsApp.AccessToken)
	c.WhatsApp.AppSecret = maskString(c.WhatsApp.AppSecret)
	c.WhatsApp.VerifyToken = maskString(c.WhatsApp.VerifyToken)
	c.Docalysis.APIKey = maskString(c.Docalysis.APIKey)
	c.Fallback.APIKey = maskString(c.Fallback.APIKey)
	c.SMTP.Password = maskString(c.SMTP.Password)
	c.Server.SendToken = maskString(c.Server.SendToken)
	if c.Google.CredentialsJSON != "" {
		c.Google.CredentialsJSON = "***"
	}
	if c.Google.TokenJSON != "" {
		c.Google.TokenJSON = "***"
	}
	return &c
}

// maskString shows first 4 and last 4 chars, masks the rest.
func maskString(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}
