// Package config loads the client configuration from YAML with env var
// overrides. Secret fields may be stored encrypted and are decrypted at
// load time when FORGECHAT_CONFIG_KEY is set.
package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Runner  RunnerConfig  `yaml:"runner"`
	Session SessionConfig `yaml:"session"`
	Cache   CacheConfig   `yaml:"cache"`
	Stream  StreamConfig  `yaml:"stream"`
	Logger  LoggerConfig  `yaml:"logger"`
	Tracer  TracerConfig  `yaml:"tracer"`
	UI      UIConfig      `yaml:"ui"`
}

// RunnerConfig holds the agent runner connection settings.
// Token may be stored encrypted with an "enc:" prefix.
type RunnerConfig struct {
	URL         string        `yaml:"url"`
	Token       string        `yaml:"token"`
	CallTimeout time.Duration `yaml:"call_timeout"`
}

// SessionConfig holds defaults for new sessions.
type SessionConfig struct {
	Harness         string `yaml:"harness"`
	Cwd             string `yaml:"cwd"`
	Provider        string `yaml:"provider"`
	Model           string `yaml:"model"`
	ThinkingLevel   string `yaml:"thinking_level"`
	ContinueSession bool   `yaml:"continue_session"`
}

// CacheConfig holds session history persistence settings.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Path         string        `yaml:"path"`
	MaxSessions  int           `yaml:"max_sessions"`
	SaveInterval time.Duration `yaml:"save_interval"`
}

// StreamConfig holds stream processing settings.
type StreamConfig struct {
	FlushInterval    time.Duration `yaml:"flush_interval"`
	RecoveryInterval time.Duration `yaml:"recovery_interval"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds OpenTelemetry tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// UIConfig holds terminal UI settings.
type UIConfig struct {
	Markdown   bool `yaml:"markdown"`
	ShowTokens bool `yaml:"show_tokens"`
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".forgechat")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Runner: RunnerConfig{
			URL:         "ws://127.0.0.1:9091/ws",
			CallTimeout: 30 * time.Second,
		},
		Session: SessionConfig{
			Harness: "pi",
			Cwd:     ".",
		},
		Cache: CacheConfig{
			Enabled:      true,
			Path:         filepath.Join(dataDir, "sessions.db"),
			MaxSessions:  50,
			SaveInterval: 2 * time.Second,
		},
		Stream: StreamConfig{
			FlushInterval:    50 * time.Millisecond,
			RecoveryInterval: 5 * time.Second,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: filepath.Join(dataDir, "forgechat.log"),
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
		UI: UIConfig{
			Markdown:   true,
			ShowTokens: false,
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts
// secrets. A missing file is not an error; defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyEnvOverrides(cfg)

	passphrase := os.Getenv("FORGECHAT_CONFIG_KEY")
	if passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps FORGECHAT_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FORGECHAT_RUNNER_URL"); v != "" {
		cfg.Runner.URL = v
	}
	if v := os.Getenv("FORGECHAT_RUNNER_TOKEN"); v != "" {
		cfg.Runner.Token = v
	}
	if v := os.Getenv("FORGECHAT_RUNNER_CALL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Runner.CallTimeout = d
		}
	}
	if v := os.Getenv("FORGECHAT_SESSION_HARNESS"); v != "" {
		cfg.Session.Harness = v
	}
	if v := os.Getenv("FORGECHAT_SESSION_CWD"); v != "" {
		cfg.Session.Cwd = v
	}
	if v := os.Getenv("FORGECHAT_SESSION_PROVIDER"); v != "" {
		cfg.Session.Provider = v
	}
	if v := os.Getenv("FORGECHAT_SESSION_MODEL"); v != "" {
		cfg.Session.Model = v
	}
	if v := os.Getenv("FORGECHAT_CACHE_ENABLED"); v == "false" {
		cfg.Cache.Enabled = false
	}
	if v := os.Getenv("FORGECHAT_CACHE_PATH"); v != "" {
		cfg.Cache.Path = v
	}
	if v := os.Getenv("FORGECHAT_CACHE_MAX_SESSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Cache.MaxSessions = n
		}
	}
	if v := os.Getenv("FORGECHAT_STREAM_FLUSH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Stream.FlushInterval = d
		}
	}
	if v := os.Getenv("FORGECHAT_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("FORGECHAT_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("FORGECHAT_LOGGER_OUTPUT"); v != "" {
		cfg.Logger.Output = v
	}
	if v := os.Getenv("FORGECHAT_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("FORGECHAT_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("FORGECHAT_UI_MARKDOWN"); v == "false" {
		cfg.UI.Markdown = false
	}
}

func decryptSecrets(cfg *Config, passphrase string) error {
	if strings.HasPrefix(cfg.Runner.Token, "enc:") {
		decrypted, err := DecryptValue(strings.TrimPrefix(cfg.Runner.Token, "enc:"), passphrase)
		if err != nil {
			return fmt.Errorf("runner token: %w", err)
		}
		cfg.Runner.Token = decrypted
	}
	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key := deriveKey(passphrase, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	// Format: hex(salt) + ":" + hex(nonce+ciphertext)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts an AES-256-GCM encrypted value.
func DecryptValue(encrypted, passphrase string) (string, error) {
	parts := strings.SplitN(encrypted, ":", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid encrypted format")
	}

	salt, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	data, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	key := deriveKey(passphrase, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create gcm: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

// deriveKey uses Argon2id to derive a 32-byte key from passphrase + salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

// validatePermissions checks the config file has restrictive permissions,
// since it may hold the runner token.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
