// Package config loads application configuration from an optional YAML file
// and MAILCODE_ environment variables.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "MAILCODE"

// Provider names.
const (
	ProviderGmail   = "gmail"
	ProviderOutlook = "outlook"
)

// Credential backends.
const (
	BackendSQLite  = "sqlite"
	BackendKeyring = "keyring"
)

// Notifier backends.
const (
	NotifierNone    = "none"
	NotifierDesktop = "desktop"
	NotifierWebPush = "webpush"
)

// Config holds the application configuration.
type Config struct {
	ServiceID    string
	Provider     string
	PollInterval time.Duration
	SearchQuery  string
	ListenAddr   string
	DBPath       string

	// SecretKey is the 32-byte AES-256 key for credentials stored in SQLite.
	// Nil when MAILCODE_SECRET_KEY is unset.
	SecretKey         []byte
	CredentialBackend string
	KeyringDir        string
	KeyringPassword   string

	GoogleClientID     string
	GoogleClientSecret string
	GoogleAuthURL      string
	GoogleTokenURL     string
	GoogleRevokeURL    string
	LoopbackAddr       string
	AuthTimeout        time.Duration

	Notifier               string
	NotificationPermission string
	VAPIDPublicKey         string
	VAPIDPrivateKey        string
	VAPIDContact           string
	WebPushSubscription    string

	AllowedOrigins []string
	LogLevel       string
	LogFormat      string
}

var defaults = map[string]any{
	"service_id":              "gmail",
	"provider":                ProviderGmail,
	"poll_interval":           "30s",
	"search_query":            "verification code",
	"listen_addr":             "127.0.0.1:8787",
	"db_path":                 "mailcode.db",
	"secret_key":              "",
	"credential_backend":      BackendSQLite,
	"keyring_dir":             "",
	"keyring_password":        "",
	"google_client_id":        "",
	"google_client_secret":    "",
	"google_auth_url":         "",
	"google_token_url":        "",
	"google_revoke_url":       "",
	"loopback_addr":           "127.0.0.1:0",
	"auth_timeout":            "5m",
	"notifier":                NotifierNone,
	"notification_permission": "default",
	"vapid_public_key":        "",
	"vapid_private_key":       "",
	"vapid_contact":           "",
	"webpush_subscription":    "",
	"allowed_origins":         "",
	"log_level":               "info",
	"log_format":              "text",
}

// Load reads configuration and returns a validated Config. An empty path
// means defaults and environment only; a named YAML file must exist.
// MAILCODE_ environment variables override values from the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	pollInterval, err := duration(v, "poll_interval")
	if err != nil {
		return nil, err
	}
	authTimeout, err := duration(v, "auth_timeout")
	if err != nil {
		return nil, err
	}
	secretKey, err := parseSecretKey(v.GetString("secret_key"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ServiceID:              strings.TrimSpace(v.GetString("service_id")),
		Provider:               strings.ToLower(v.GetString("provider")),
		PollInterval:           pollInterval,
		SearchQuery:            v.GetString("search_query"),
		ListenAddr:             v.GetString("listen_addr"),
		DBPath:                 v.GetString("db_path"),
		SecretKey:              secretKey,
		CredentialBackend:      strings.ToLower(v.GetString("credential_backend")),
		KeyringDir:             v.GetString("keyring_dir"),
		KeyringPassword:        v.GetString("keyring_password"),
		GoogleClientID:         v.GetString("google_client_id"),
		GoogleClientSecret:     v.GetString("google_client_secret"),
		GoogleAuthURL:          v.GetString("google_auth_url"),
		GoogleTokenURL:         v.GetString("google_token_url"),
		GoogleRevokeURL:        v.GetString("google_revoke_url"),
		LoopbackAddr:           v.GetString("loopback_addr"),
		AuthTimeout:            authTimeout,
		Notifier:               strings.ToLower(v.GetString("notifier")),
		NotificationPermission: strings.ToLower(v.GetString("notification_permission")),
		VAPIDPublicKey:         v.GetString("vapid_public_key"),
		VAPIDPrivateKey:        v.GetString("vapid_private_key"),
		VAPIDContact:           v.GetString("vapid_contact"),
		WebPushSubscription:    v.GetString("webpush_subscription"),
		AllowedOrigins:         splitList(strings.Join(v.GetStringSlice("allowed_origins"), ",")),
		LogLevel:               strings.ToLower(v.GetString("log_level")),
		LogFormat:              strings.ToLower(v.GetString("log_format")),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.ServiceID == "" {
		return errors.New("MAILCODE_SERVICE_ID must not be empty")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("MAILCODE_POLL_INTERVAL must be positive, got %s", c.PollInterval)
	}
	if err := oneOf("MAILCODE_PROVIDER", c.Provider, ProviderGmail, ProviderOutlook); err != nil {
		return err
	}
	if err := oneOf("MAILCODE_CREDENTIAL_BACKEND", c.CredentialBackend, BackendSQLite, BackendKeyring); err != nil {
		return err
	}
	if err := oneOf("MAILCODE_NOTIFIER", c.Notifier, NotifierNone, NotifierDesktop, NotifierWebPush); err != nil {
		return err
	}
	if err := oneOf("MAILCODE_NOTIFICATION_PERMISSION", c.NotificationPermission, "default", "granted", "denied"); err != nil {
		return err
	}
	if err := oneOf("MAILCODE_LOG_FORMAT", c.LogFormat, "text", "json"); err != nil {
		return err
	}
	if c.Notifier == NotifierWebPush && (c.VAPIDPublicKey == "" || c.VAPIDPrivateKey == "") {
		return errors.New("MAILCODE_VAPID_PUBLIC_KEY and MAILCODE_VAPID_PRIVATE_KEY are required for the webpush notifier")
	}
	return nil
}

// HasGoogleClient reports whether OAuth client credentials are configured.
func (c *Config) HasGoogleClient() bool {
	return c.GoogleClientID != ""
}

func duration(v *viper.Viper, key string) (time.Duration, error) {
	raw := v.GetString(key)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s_%s has invalid duration %q: %w", envPrefix, strings.ToUpper(key), raw, err)
	}
	return d, nil
}

// parseSecretKey decodes a 64-character hex string into a 32-byte key.
func parseSecretKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if len(raw) != 64 {
		return nil, fmt.Errorf("MAILCODE_SECRET_KEY must be 64 hex characters, got %d", len(raw))
	}
	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("MAILCODE_SECRET_KEY is not valid hex: %w", err)
	}
	return key, nil
}

func oneOf(name, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s, got %q", name, strings.Join(allowed, ", "), value)
}

func splitList(raw string) []string {
	out := []string{}
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}
