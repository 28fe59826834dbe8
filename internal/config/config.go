package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the namespace prefix for all interview service environment variables.
const EnvPrefix = "INTERVIEW_"

// Config holds all application configuration. Secrets (API keys, signing
// keys, refresh tokens) are loaded exclusively from environment variables
// and never appear in the config file.
type Config struct {
	ListenAddr     string   `yaml:"listen_addr"`
	DatabaseURL    string   `yaml:"database_url"`
	LogLevel       string   `yaml:"log_level"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	Transcription Transcription `yaml:"transcription"`
	Archive       Archive       `yaml:"archive"`
	Auth          Auth          `yaml:"auth"`

	// Secrets: env vars only, never serialized to YAML.
	DeepgramAPIKey     string `yaml:"-"`
	OpenAIAPIKey       string `yaml:"-"`
	GoogleClientSecret string `yaml:"-"`
	DriveRefreshToken  string `yaml:"-"`
	SessionSecret      string `yaml:"-"`
}

type Transcription struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	Language string `yaml:"language"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`
}

type Archive struct {
	ParentFolderID        string `yaml:"parent_folder_id"`
	GoogleCredentialsFile string `yaml:"google_credentials_file"`
	GoogleClientID        string `yaml:"google_client_id"`
	Timeout               string `yaml:"timeout"`
}

type Auth struct {
	CookieName string `yaml:"cookie_name"`
	Issuer     string `yaml:"issuer"`
}

func defaults() Config {
	return Config{
		ListenAddr:     ":8080",
		DatabaseURL:    "data/interview.db",
		LogLevel:       "info",
		AllowedOrigins: []string{"http://localhost:3000"},
		Transcription: Transcription{
			Provider: "deepgram",
			Model:    "nova-2",
			Language: "pt-BR",
			Timeout:  "60s",
		},
		Archive: Archive{
			GoogleCredentialsFile: "./service-account.json",
			Timeout:               "60s",
		},
		Auth: Auth{
			CookieName: "next-auth.session-token",
		},
	}
}

// Load reads configuration from a YAML file (if it exists), applies
// environment variable overrides, loads secrets, and validates the result.
// It returns the config, any validation warnings, and an error if the file
// exists but cannot be read or parsed.
func Load(path string) (Config, []string, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, nil, fmt.Errorf("read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	loadSecrets(&cfg)

	warnings := validate(&cfg)
	return cfg, warnings, nil
}

// TranscriptionTimeout returns Transcription.Timeout as a time.Duration,
// falling back to 60s if the value is invalid.
func (c *Config) TranscriptionTimeout() time.Duration {
	return parseDurationOr(c.Transcription.Timeout, 60*time.Second)
}

// ArchiveTimeout returns Archive.Timeout as a time.Duration, falling back
// to 60s if the value is invalid.
func (c *Config) ArchiveTimeout() time.Duration {
	return parseDurationOr(c.Archive.Timeout, 60*time.Second)
}

// TranscriptionAPIKey returns the secret for the configured provider.
func (c *Config) TranscriptionAPIKey() string {
	switch c.Transcription.Provider {
	case "openai":
		return c.OpenAIAPIKey
	default:
		return c.DeepgramAPIKey
	}
}

// DriveUsesRefreshToken reports whether the archive should authenticate as
// the admin account through an OAuth2 refresh token rather than a service
// account file.
func (c *Config) DriveUsesRefreshToken() bool {
	return c.DriveRefreshToken != "" && c.Archive.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// SlogLevel maps LogLevel onto a slog.Level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvPrefix + "LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(EnvPrefix + "DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv(EnvPrefix + "ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv(EnvPrefix + "TRANSCRIPTION_PROVIDER"); v != "" {
		cfg.Transcription.Provider = v
	}
	if v := os.Getenv(EnvPrefix + "TRANSCRIPTION_MODEL"); v != "" {
		cfg.Transcription.Model = v
	}
	if v := os.Getenv(EnvPrefix + "TRANSCRIPTION_LANGUAGE"); v != "" {
		cfg.Transcription.Language = v
	}
	if v := os.Getenv(EnvPrefix + "TRANSCRIPTION_BASE_URL"); v != "" {
		cfg.Transcription.BaseURL = v
	}
	if v := os.Getenv(EnvPrefix + "TRANSCRIPTION_TIMEOUT"); v != "" {
		cfg.Transcription.Timeout = v
	}
	if v := os.Getenv(EnvPrefix + "DRIVE_PARENT_FOLDER_ID"); v != "" {
		cfg.Archive.ParentFolderID = v
	}
	if v := os.Getenv(EnvPrefix + "GOOGLE_CREDENTIALS_FILE"); v != "" {
		cfg.Archive.GoogleCredentialsFile = v
	}
	if v := os.Getenv(EnvPrefix + "GOOGLE_CLIENT_ID"); v != "" {
		cfg.Archive.GoogleClientID = v
	}
	if v := os.Getenv(EnvPrefix + "ARCHIVE_TIMEOUT"); v != "" {
		cfg.Archive.Timeout = v
	}
	if v := os.Getenv(EnvPrefix + "AUTH_COOKIE_NAME"); v != "" {
		cfg.Auth.CookieName = v
	}
	if v := os.Getenv(EnvPrefix + "AUTH_ISSUER"); v != "" {
		cfg.Auth.Issuer = v
	}
}

func loadSecrets(cfg *Config) {
	cfg.DeepgramAPIKey = os.Getenv(EnvPrefix + "DEEPGRAM_API_KEY")
	cfg.OpenAIAPIKey = os.Getenv(EnvPrefix + "OPENAI_API_KEY")
	cfg.GoogleClientSecret = os.Getenv(EnvPrefix + "GOOGLE_CLIENT_SECRET")
	cfg.DriveRefreshToken = os.Getenv(EnvPrefix + "DRIVE_REFRESH_TOKEN")
	cfg.SessionSecret = os.Getenv(EnvPrefix + "SESSION_SECRET")
}

func validate(cfg *Config) []string {
	var warnings []string

	switch cfg.Transcription.Provider {
	case "deepgram":
	case "openai":
		if cfg.Transcription.Model == "" || cfg.Transcription.Model == "nova-2" {
			cfg.Transcription.Model = "whisper-1"
		}
	default:
		warnings = append(warnings, fmt.Sprintf("Unknown transcription provider %q — using deepgram.", cfg.Transcription.Provider))
		cfg.Transcription.Provider = "deepgram"
		cfg.Transcription.Model = "nova-2"
	}

	if cfg.TranscriptionAPIKey() == "" {
		key := "DEEPGRAM_API_KEY"
		if cfg.Transcription.Provider == "openai" {
			key = "OPENAI_API_KEY"
		}
		warnings = append(warnings, "Transcription API key not configured — audio submissions are disabled. Set "+EnvPrefix+key+".")
	}
	if cfg.Archive.ParentFolderID == "" {
		warnings = append(warnings, "Drive parent folder not configured — audio submissions are disabled. Set "+EnvPrefix+"DRIVE_PARENT_FOLDER_ID.")
	}
	if cfg.SessionSecret == "" {
		warnings = append(warnings, "Session secret not configured — every request will be rejected as unauthenticated. Set "+EnvPrefix+"SESSION_SECRET.")
	}
	if _, err := time.ParseDuration(cfg.Transcription.Timeout); err != nil {
		warnings = append(warnings, fmt.Sprintf("Invalid transcription timeout %q — using default 60s.", cfg.Transcription.Timeout))
	}
	if _, err := time.ParseDuration(cfg.Archive.Timeout); err != nil {
		warnings = append(warnings, fmt.Sprintf("Invalid archive timeout %q — using default 60s.", cfg.Archive.Timeout))
	}

	return warnings
}

func parseDurationOr(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	seen := make(map[string]struct{}, len(parts))
	result := make([]string, 0, len(parts))

	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		result = append(result, trimmed)
	}

	return result
}
