package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"docrelay/internal/domain"

	"github.com/caarlos0/env/v11"
)

// Config is the root configuration for docrelay. It is assembled once at
// startup and passed by value or pointer to constructors; nothing reads it as
// global state.
type Config struct {
	General   GeneralConfig   `json:"general"`
	Server    ServerConfig    `json:"server"`
	WhatsApp  WhatsAppConfig  `json:"whatsapp"`
	Docalysis DocalysisConfig `json:"docalysis"`
	Fallback  FallbackConfig  `json:"fallback"`
	Google    GoogleConfig    `json:"google"`
	Email     EmailConfig     `json:"email"`
	SMTP      SMTPConfig      `json:"smtp"`
	Drive     DriveConfig     `json:"drive"`
	Relay     RelayConfig     `json:"relay"`
	Poll      PollConfig      `json:"poll"`
	Store     StoreConfig     `json:"store"`
	Metrics   MetricsConfig   `json:"metrics"`
	Archive   ArchiveConfig   `json:"archive"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel" env:"LOG_LEVEL"`
	LogFile  string `json:"logFile,omitempty" env:"LOG_FILE"`
	DataDir  string `json:"dataDir" env:"DOCRELAY_DATA_DIR"`
}

type ServerConfig struct {
	Host string `json:"host" env:"HOST"`
	Port int    `json:"port" env:"PORT"`
	// SendToken guards POST /send-message. The endpoint is off when empty.
	SendToken string `json:"sendToken,omitempty" env:"SEND_MESSAGE_TOKEN"`
}

type WhatsAppConfig struct {
	Enabled       bool   `json:"enabled" env:"WHATSAPP_ENABLED"`
	AppSecret     string `json:"appSecret,omitempty" env:"WHATSAPP_APP_SECRET"`
	AccessToken   string `json:"accessToken,omitempty" env:"WHATSAPP_ACCESS_TOKEN"`
	VerifyToken   string `json:"verifyToken,omitempty" env:"WHATSAPP_VERIFY_TOKEN"`
	PhoneNumberID string `json:"phoneNumberId,omitempty" env:"WHATSAPP_PHONE_NUMBER_ID"`
	APIVersion    string `json:"apiVersion" env:"WHATSAPP_API_VERSION"`
	APIBase       string `json:"apiBase,omitempty" env:"WHATSAPP_API_BASE"`
	WebhookPath   string `json:"webhookPath" env:"WHATSAPP_WEBHOOK_PATH"`
	SendTimeoutS  int    `json:"sendTimeoutSeconds" env:"WHATSAPP_SEND_TIMEOUT"`
}

type DocalysisConfig struct {
	APIBase         string `json:"apiBase" env:"DOCALYSIS_API_BASE"`
	APIKey          string `json:"apiKey,omitempty" env:"DOCALYSIS_API_KEY"`
	DirectoryID     string `json:"directoryId" env:"DOCALYSIS_DIRECTORY_ID"`
	UploadDirectory string `json:"uploadDirectory" env:"DOCALYSIS_UPLOAD_DIRECTORY"`
	PromptPrefix    string `json:"promptPrefix" env:"DOCALYSIS_PROMPT_PREFIX"`
	PromptSuffix    string `json:"promptSuffix" env:"DOCALYSIS_PROMPT_SUFFIX"`
	TimeoutSeconds  int    `json:"timeoutSeconds" env:"DOCALYSIS_TIMEOUT"`
	WaitProcessed   bool   `json:"waitProcessed" env:"DOCALYSIS_WAIT_PROCESSED"`
	ReadyPollS      int    `json:"readyPollSeconds" env:"DOCALYSIS_READY_POLL"`
	ReadyMaxTries   int    `json:"readyMaxAttempts" env:"DOCALYSIS_READY_MAX_ATTEMPTS"`
	// RatePerMinute throttles queries; 0 means unlimited.
	RatePerMinute int `json:"ratePerMinute" env:"DOCALYSIS_RATE_PER_MINUTE"`
	RateBurst     int `json:"rateBurst" env:"DOCALYSIS_RATE_BURST"`
}

// FallbackConfig configures an optional OpenAI-compatible answer provider
// tried when Docalysis fails.
type FallbackConfig struct {
	Enabled bool   `json:"enabled" env:"FALLBACK_ENABLED"`
	APIBase string `json:"apiBase" env:"FALLBACK_API_BASE"`
	APIKey  string `json:"apiKey,omitempty" env:"FALLBACK_API_KEY"`
	Model   string `json:"model" env:"FALLBACK_MODEL"`
}

// GoogleConfig holds the OAuth client and token shared by Gmail and Drive.
type GoogleConfig struct {
	CredentialsJSON string `json:"credentialsJson,omitempty" env:"GMAIL_CREDENTIALS_JSON"`
	TokenJSON       string `json:"tokenJson,omitempty" env:"GMAIL_TOKEN_JSON"`
	CredentialsFile string `json:"credentialsFile,omitempty" env:"GOOGLE_CREDENTIALS_FILE"`
	TokenFile       string `json:"tokenFile,omitempty" env:"GOOGLE_TOKEN_FILE"`
}

type EmailConfig struct {
	Enabled        bool   `json:"enabled" env:"EMAIL_ENABLED"`
	Transport      string `json:"transport" env:"EMAIL_TRANSPORT"` // "gmail" | "smtp"
	MaxUnread      int64  `json:"maxUnread" env:"EMAIL_MAX_UNREAD"`
	From           string `json:"from,omitempty" env:"EMAIL_FROM"`
	RulesFile      string `json:"rulesFile,omitempty" env:"EMAIL_RULES_FILE"`
	Greeting       string `json:"greeting" env:"EMAIL_GREETING"`
	SignOff        string `json:"signOff" env:"EMAIL_SIGN_OFF"`
	OriginalHeader string `json:"originalHeader" env:"EMAIL_ORIGINAL_HEADER"`
	// TimeoutSeconds bounds each Gmail API call.
	TimeoutSeconds int `json:"timeoutSeconds" env:"EMAIL_TIMEOUT"`
}

type SMTPConfig struct {
	Host     string `json:"host,omitempty" env:"SMTP_HOST"`
	Port     int    `json:"port" env:"SMTP_PORT"`
	Username string `json:"username,omitempty" env:"SMTP_USERNAME"`
	Password string `json:"password,omitempty" env:"SMTP_PASSWORD"`
	// TLS is implicit, starttls or none; empty picks by port.
	TLS string `json:"tls,omitempty" env:"SMTP_TLS"`
}

type DriveConfig struct {
	Enabled  bool   `json:"enabled" env:"DRIVE_ENABLED"`
	FolderID string `json:"folderId,omitempty" env:"DRIVE_FOLDER_ID"`
	LocalDir string `json:"localDir" env:"DRIVE_LOCAL_DIR"`
	// DurableDedup seeds each pass with fingerprints recorded by earlier runs.
	DurableDedup bool `json:"durableDedup" env:"DRIVE_DURABLE_DEDUP"`
	// TimeoutSeconds bounds each listing call; DownloadTimeoutSeconds one
	// whole file download.
	TimeoutSeconds         int `json:"timeoutSeconds" env:"DRIVE_TIMEOUT"`
	DownloadTimeoutSeconds int `json:"downloadTimeoutSeconds" env:"DRIVE_DOWNLOAD_TIMEOUT"`
}

type RelayConfig struct {
	FallbackPhrase   string `json:"fallbackPhrase" env:"RELAY_FALLBACK_PHRASE"`
	EscalationCC     string `json:"escalationCc,omitempty" env:"RELAY_ESCALATION_CC"`
	EmptyMessageText string `json:"emptyMessageText" env:"RELAY_EMPTY_MESSAGE_TEXT"`
	ApologyText      string `json:"apologyText" env:"RELAY_APOLOGY_TEXT"`
}

type PollConfig struct {
	IntervalSeconds int `json:"intervalSeconds" env:"POLL_INTERVAL"`
}

type StoreConfig struct {
	Enabled bool   `json:"enabled" env:"STORE_ENABLED"`
	DBPath  string `json:"dbPath" env:"STORE_DB_PATH"`
}

type MetricsConfig struct {
	Enabled              bool   `json:"enabled" env:"METRICS_ENABLED"`
	Endpoint             string `json:"endpoint" env:"METRICS_ENDPOINT"`
	CloudWatchNamespace  string `json:"cloudWatchNamespace,omitempty" env:"CLOUDWATCH_NAMESPACE"`
	CloudWatchDeployment string `json:"cloudWatchDeployment,omitempty" env:"CLOUDWATCH_DEPLOYMENT"`
}

// ArchiveConfig enables copying every uploaded PDF into an S3 bucket.
type ArchiveConfig struct {
	S3Bucket   string `json:"s3Bucket,omitempty" env:"ARCHIVE_S3_BUCKET"`
	S3Prefix   string `json:"s3Prefix,omitempty" env:"ARCHIVE_S3_PREFIX"`
	S3Endpoint string `json:"s3Endpoint,omitempty" env:"ARCHIVE_S3_ENDPOINT"`
}

// DefaultConfigDir returns the default config directory (~/.docrelay).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".docrelay"
	}
	return filepath.Join(home, ".docrelay")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load builds the configuration from defaults, the optional JSON file at
// path and the process environment, in that order, then validates it.
// A missing file is not an error: deployments usually configure everything
// through the environment.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		path = ExpandPath(path)
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
		default:
			// Substitute environment variables: ${VAR} and ${VAR:-default}
			data = []byte(ExpandEnvVars(string(data)))
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
			}
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("%w: environment: %v", domain.ErrConfig, err)
	}

	cfg.General.DataDir = ExpandPath(cfg.General.DataDir)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Store.DBPath = ExpandPath(cfg.Store.DBPath)
	cfg.Drive.LocalDir = ExpandPath(cfg.Drive.LocalDir)
	cfg.Google.CredentialsFile = ExpandPath(cfg.Google.CredentialsFile)
	cfg.Google.TokenFile = ExpandPath(cfg.Google.TokenFile)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

// Validate checks value ranges and fails fast on every mandatory credential
// missing for the enabled channels. All problems are reported at once.
func Validate(cfg *Config) error {
	var errs []string
	require := func(value, name string) {
		if strings.TrimSpace(value) == "" {
			errs = append(errs, name+" is required")
		}
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if cfg.Poll.IntervalSeconds < 1 {
		errs = append(errs, "poll.intervalSeconds must be >= 1")
	}
	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	require(cfg.Docalysis.APIKey, "docalysis.apiKey (DOCALYSIS_API_KEY)")
	require(cfg.Docalysis.DirectoryID, "docalysis.directoryId (DOCALYSIS_DIRECTORY_ID)")
	if cfg.Docalysis.TimeoutSeconds < 1 {
		errs = append(errs, "docalysis.timeoutSeconds must be >= 1")
	}
	if cfg.Docalysis.ReadyMaxTries < 1 || cfg.Docalysis.ReadyPollS < 1 {
		errs = append(errs, "docalysis.readyMaxAttempts and docalysis.readyPollSeconds must be >= 1")
	}

	if cfg.Docalysis.RatePerMinute < 0 || cfg.Docalysis.RateBurst < 0 {
		errs = append(errs, "docalysis.ratePerMinute and docalysis.rateBurst must be >= 0")
	}

	if cfg.Fallback.Enabled {
		require(cfg.Fallback.APIBase, "fallback.apiBase (FALLBACK_API_BASE)")
		require(cfg.Fallback.Model, "fallback.model (FALLBACK_MODEL)")
	}

	if cfg.WhatsApp.Enabled {
		require(cfg.WhatsApp.AccessToken, "whatsapp.accessToken (WHATSAPP_ACCESS_TOKEN)")
		require(cfg.WhatsApp.PhoneNumberID, "whatsapp.phoneNumberId (WHATSAPP_PHONE_NUMBER_ID)")
		require(cfg.WhatsApp.VerifyToken, "whatsapp.verifyToken (WHATSAPP_VERIFY_TOKEN)")
		if cfg.WhatsApp.SendTimeoutS < 1 {
			errs = append(errs, "whatsapp.sendTimeoutSeconds must be >= 1")
		}
	}

	if cfg.Email.Enabled || cfg.Drive.Enabled {
		if cfg.Google.CredentialsJSON == "" && cfg.Google.CredentialsFile == "" {
			errs = append(errs, "google.credentialsJson (GMAIL_CREDENTIALS_JSON) or google.credentialsFile is required")
		}
		if cfg.Google.TokenJSON == "" && cfg.Google.TokenFile == "" {
			errs = append(errs, "google.tokenJson (GMAIL_TOKEN_JSON) or google.tokenFile is required")
		}
	}

	if cfg.Email.Enabled {
		switch cfg.Email.Transport {
		case "gmail":
		case "smtp":
			require(cfg.SMTP.Host, "smtp.host (SMTP_HOST)")
			require(cfg.SMTP.Username, "smtp.username (SMTP_USERNAME)")
			require(cfg.Email.From, "email.from (EMAIL_FROM)")
			switch cfg.SMTP.TLS {
			case "", "implicit", "starttls", "none":
			default:
				errs = append(errs, "smtp.tls must be one of: implicit, starttls, none")
			}
		default:
			errs = append(errs, "email.transport must be one of: gmail, smtp")
		}
		if cfg.Email.MaxUnread < 1 {
			errs = append(errs, "email.maxUnread must be >= 1")
		}
	}

	if cfg.Drive.Enabled {
		require(cfg.Drive.FolderID, "drive.folderId (DRIVE_FOLDER_ID)")
		require(cfg.Drive.LocalDir, "drive.localDir (DRIVE_LOCAL_DIR)")
	}

	if cfg.Drive.DurableDedup && !cfg.Store.Enabled {
		errs = append(errs, "drive.durableDedup requires store.enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", domain.ErrConfig, strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
