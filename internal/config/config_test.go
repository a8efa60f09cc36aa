package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"docrelay/internal/domain"
)

// validConfig returns defaults plus the credentials Validate insists on.
func validConfig() *Config {
	cfg := Defaults()
	cfg.Docalysis.APIKey = "doc-key-1234567890"
	cfg.Docalysis.DirectoryID = "dnkgzx"
	cfg.WhatsApp.AccessToken = "EAAX-token-1234567890"
	cfg.WhatsApp.PhoneNumberID = "595982364250"
	cfg.WhatsApp.VerifyToken = "secretaria"
	return cfg
}

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_DefaultsMissingCredentials(t *testing.T) {
	err := Validate(Defaults())
	if err == nil {
		t.Fatal("defaults carry no credentials and must not validate")
	}
	if !errors.Is(err, domain.ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
	for _, want := range []string{"DOCALYSIS_API_KEY", "WHATSAPP_ACCESS_TOKEN", "WHATSAPP_VERIFY_TOKEN"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should name %s, got: %v", want, err)
		}
	}
}

func TestValidate_WhatsAppDisabledSkipsCredentials(t *testing.T) {
	cfg := validConfig()
	cfg.WhatsApp.Enabled = false
	cfg.WhatsApp.AccessToken = ""
	cfg.WhatsApp.VerifyToken = ""
	if err := Validate(cfg); err != nil {
		t.Fatalf("disabled channel should not require credentials: %v", err)
	}
}

func TestValidate_EmailNeedsGoogleCredentials(t *testing.T) {
	cfg := validConfig()
	cfg.Email.Enabled = true
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for email without google credentials")
	}

	cfg.Google.CredentialsJSON = `{"installed":{}}`
	cfg.Google.TokenJSON = `{"refresh_token":"x"}`
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_SMTPTransport(t *testing.T) {
	cfg := validConfig()
	cfg.Email.Enabled = true
	cfg.Email.Transport = "smtp"
	cfg.Google.CredentialsJSON = "{}"
	cfg.Google.TokenJSON = "{}"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for smtp transport without host")
	}

	cfg.SMTP.Host = "smtp.example.com"
	cfg.SMTP.Username = "bot@example.com"
	cfg.Email.From = "bot@example.com"
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}

	cfg.SMTP.TLS = "opportunistic"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown smtp tls mode")
	}
	cfg.SMTP.TLS = "starttls"

	cfg.Email.Transport = "pigeon"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown transport")
	}
}

func TestValidate_DriveNeedsFolder(t *testing.T) {
	cfg := validConfig()
	cfg.Drive.Enabled = true
	cfg.Google.CredentialsJSON = "{}"
	cfg.Google.TokenJSON = "{}"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for drive without folder id")
	}
	cfg.Drive.FolderID = "folder-1"
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_DurableDedupNeedsStore(t *testing.T) {
	cfg := validConfig()
	cfg.Drive.DurableDedup = true
	cfg.Store.Enabled = false
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for durable dedup without store")
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = -1
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for negative port")
	}

	cfg.Server.Port = 70000
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for port > 65535")
	}
}

func TestValidate_RateLimit(t *testing.T) {
	cfg := validConfig()
	cfg.Docalysis.RatePerMinute = 20
	cfg.Docalysis.RateBurst = 5
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid rate limit, got: %v", err)
	}

	cfg.Docalysis.RateBurst = -1
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for negative burst")
	}
}

func TestValidate_PollInterval(t *testing.T) {
	cfg := validConfig()
	cfg.Poll.IntervalSeconds = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for zero poll interval")
	}
}

func TestValidate_LogLevel(t *testing.T) {
	cfg := validConfig()
	cfg.General.LogLevel = "verbose"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown log level")
	}
}

// --- Load ---

func TestLoad_MissingFileUsesEnvironment(t *testing.T) {
	t.Setenv("DOCALYSIS_API_KEY", "doc-key-from-env")
	t.Setenv("DOCALYSIS_DIRECTORY_ID", "dir-from-env")
	t.Setenv("WHATSAPP_ACCESS_TOKEN", "token-from-env")
	t.Setenv("WHATSAPP_PHONE_NUMBER_ID", "12345")
	t.Setenv("WHATSAPP_VERIFY_TOKEN", "verify-from-env")
	t.Setenv("PORT", "8081")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Docalysis.APIKey != "doc-key-from-env" {
		t.Fatalf("expected api key from env, got %q", cfg.Docalysis.APIKey)
	}
	if cfg.Server.Port != 8081 {
		t.Fatalf("expected port 8081, got %d", cfg.Server.Port)
	}
	if cfg.WhatsApp.APIVersion != "v17.0" {
		t.Fatalf("expected default api version, got %q", cfg.WhatsApp.APIVersion)
	}
}

func TestLoad_FailsFastWithoutCredentials(t *testing.T) {
	t.Setenv("DOCALYSIS_API_KEY", "")
	t.Setenv("WHATSAPP_ACCESS_TOKEN", "")
	_, err := Load("")
	if !errors.Is(err, domain.ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	os.WriteFile(path, []byte("{not json}"), 0o644)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("TEST_DOCRELAY_KEY", "doc-key-from-file")
	t.Setenv("DOCALYSIS_DIRECTORY_ID", "dir-from-env")
	t.Setenv("WHATSAPP_VERIFY_TOKEN", "")

	content := `{
		"docalysis": {"apiKey": "${TEST_DOCRELAY_KEY}", "directoryId": "dir-from-file"},
		"whatsapp": {"enabled": false},
		"poll": {"intervalSeconds": 900}
	}`
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Docalysis.APIKey != "doc-key-from-file" {
		t.Fatalf("expected expanded key, got %q", cfg.Docalysis.APIKey)
	}
	if cfg.Docalysis.DirectoryID != "dir-from-env" {
		t.Fatalf("environment should win over file, got %q", cfg.Docalysis.DirectoryID)
	}
	if cfg.Poll.IntervalSeconds != 900 {
		t.Fatalf("expected 900, got %d", cfg.Poll.IntervalSeconds)
	}
}

func TestLoadSave_RoundTrip(t *testing.T) {
	t.Setenv("DOCALYSIS_DIRECTORY_ID", "")
	path := filepath.Join(t.TempDir(), "sub", "config.json")
	cfg := validConfig()
	cfg.Poll.IntervalSeconds = 300
	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Poll.IntervalSeconds != 300 {
		t.Fatalf("expected 300, got %d", loaded.Poll.IntervalSeconds)
	}
	if loaded.Docalysis.DirectoryID != "dnkgzx" {
		t.Fatalf("expected directory id to survive, got %q", loaded.Docalysis.DirectoryID)
	}
}

// --- Sanitize ---

func TestSanitize_MasksSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Google.TokenJSON = `{"refresh_token":"abc"}`

	sanitized := Sanitize(cfg)

	if sanitized.Docalysis.APIKey == cfg.Docalysis.APIKey {
		t.Fatal("docalysis key should be masked")
	}
	if sanitized.WhatsApp.AccessToken == cfg.WhatsApp.AccessToken {
		t.Fatal("whatsapp token should be masked")
	}
	if sanitized.Google.TokenJSON != "***" {
		t.Fatalf("token json should be hidden, got %q", sanitized.Google.TokenJSON)
	}
	if cfg.Docalysis.APIKey != "doc-key-1234567890" {
		t.Fatal("original config should not be modified")
	}
}

func TestSanitize_ShortSecret(t *testing.T) {
	cfg := validConfig()
	cfg.WhatsApp.VerifyToken = "short"
	if got := Sanitize(cfg).WhatsApp.VerifyToken; got != "***" {
		t.Fatalf("short secret should be '***', got %q", got)
	}
}

// --- ExpandEnvVars ---

func TestExpandEnvVars_SimpleSubstitution(t *testing.T) {
	t.Setenv("TEST_API_KEY", "sk-abc123")
	if got := ExpandEnvVars(`{"key": "${TEST_API_KEY}"}`); got != `{"key": "sk-abc123"}` {
		t.Fatalf("unexpected: %s", got)
	}
}

func TestExpandEnvVars_DefaultValue(t *testing.T) {
	os.Unsetenv("DOCRELAY_UNSET_VAR")
	if got := ExpandEnvVars("${DOCRELAY_UNSET_VAR:-fallback}"); got != "fallback" {
		t.Fatalf("expected fallback, got %s", got)
	}
}

func TestExpandEnvVars_UnsetVarNoDefault_KeepsOriginal(t *testing.T) {
	os.Unsetenv("DOCRELAY_UNSET_VAR")
	if got := ExpandEnvVars("${DOCRELAY_UNSET_VAR}"); got != "${DOCRELAY_UNSET_VAR}" {
		t.Fatalf("expected original kept, got %s", got)
	}
}

func TestExpandEnvVars_EmptyVarUsesDefault(t *testing.T) {
	t.Setenv("EMPTY_VAR", "")
	if got := ExpandEnvVars("${EMPTY_VAR:-default}"); got != "default" {
		t.Fatalf("expected default, got %s", got)
	}
}
