package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Runner.URL == "" {
		t.Error("default runner URL is empty")
	}
	if cfg.Stream.FlushInterval != 50*time.Millisecond {
		t.Errorf("flush interval = %v", cfg.Stream.FlushInterval)
	}
	if !cfg.Cache.Enabled {
		t.Error("cache should default to enabled")
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Runner.URL != Defaults().Runner.URL {
		t.Errorf("runner URL = %q", cfg.Runner.URL)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
runner:
  url: wss://runner.example.com/ws
  call_timeout: 10s
session:
  harness: claude
  model: opus
stream:
  flush_interval: 25ms
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Runner.URL != "wss://runner.example.com/ws" {
		t.Errorf("runner URL = %q", cfg.Runner.URL)
	}
	if cfg.Session.Harness != "claude" || cfg.Session.Model != "opus" {
		t.Errorf("session = %+v", cfg.Session)
	}
	if cfg.Stream.FlushInterval != 25*time.Millisecond {
		t.Errorf("flush interval = %v", cfg.Stream.FlushInterval)
	}
	// Unset fields keep defaults.
	if !cfg.Cache.Enabled {
		t.Error("cache default lost")
	}
}

func TestLoadRejectsInvalidURL(t *testing.T) {
	path := writeConfig(t, "runner:\n  url: http://not-a-ws-url\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestLoadRejectsLooseFilePermissions(t *testing.T) {
	path := writeConfig(t, "runner:\n  url: ws://ok\n")
	if err := os.Chmod(path, 0666); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected permissions error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FORGECHAT_RUNNER_URL", "ws://env-host/ws")
	t.Setenv("FORGECHAT_LOGGER_LEVEL", "debug")
	t.Setenv("FORGECHAT_CACHE_ENABLED", "false")
	t.Setenv("FORGECHAT_STREAM_FLUSH_INTERVAL", "75ms")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if cfg.Runner.URL != "ws://env-host/ws" {
		t.Errorf("runner URL = %q", cfg.Runner.URL)
	}
	if cfg.Logger.Level != "debug" {
		t.Errorf("logger level = %q", cfg.Logger.Level)
	}
	if cfg.Cache.Enabled {
		t.Error("cache should be disabled by env")
	}
	if cfg.Stream.FlushInterval != 75*time.Millisecond {
		t.Errorf("flush interval = %v", cfg.Stream.FlushInterval)
	}
}

func TestEncryptDecryptRoundtrip(t *testing.T) {
	enc, err := EncryptValue("s3cret-token", "passphrase")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if enc == "s3cret-token" {
		t.Fatal("value not encrypted")
	}
	dec, err := DecryptValue(enc, "passphrase")
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if dec != "s3cret-token" {
		t.Errorf("roundtrip = %q", dec)
	}
}

func TestDecryptWrongPassphrase(t *testing.T) {
	enc, err := EncryptValue("value", "right")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := DecryptValue(enc, "wrong"); err == nil {
		t.Fatal("expected decrypt failure")
	}
}

func TestLoadDecryptsRunnerToken(t *testing.T) {
	enc, err := EncryptValue("tok-123", "key")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	path := writeConfig(t, "runner:\n  url: ws://h/ws\n  token: enc:"+enc+"\n")
	t.Setenv("FORGECHAT_CONFIG_KEY", "key")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Runner.Token != "tok-123" {
		t.Errorf("token = %q", cfg.Runner.Token)
	}
}

func TestValidateRejectsBadExporter(t *testing.T) {
	cfg := Defaults()
	cfg.Tracer.Exporter = "jaeger"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected exporter validation error")
	}
}
