package config

import (
	"os"
	"path/filepath"
	"testing"

	"stp/noise"
)

func writeConfig(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.json", `{
		"identity": {"keystorePath": "keys.json"},
		"relay": {"urls": ["wss://relay.example.com"]}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Management.Bind != "127.0.0.1:7777" {
		t.Fatalf("expected default management bind, got %q", cfg.Management.Bind)
	}
	if len(cfg.Management.ACL) != 1 || cfg.Management.ACL[0] != "127.0.0.0/8" {
		t.Fatalf("expected default management acl, got %v", cfg.Management.ACL)
	}
}

func TestLoadRejectsMissingKeystorePath(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.json", `{
		"relay": {"urls": ["wss://relay.example.com"]}
	}`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing identity.keystorePath")
	}
}

func TestLoadRejectsEmptyRelayURLs(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.json", `{
		"identity": {"keystorePath": "keys.json"},
		"relay": {"urls": []}
	}`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for empty relay.urls")
	}
}

func TestLoadRejectsNonWebsocketRelayURL(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.json", `{
		"identity": {"keystorePath": "keys.json"},
		"relay": {"urls": ["https://relay.example.com"]}
	}`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for non-websocket relay url")
	}
}

func TestLoadRejectsUnsupportedNoisePattern(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.json", `{
		"identity": {"keystorePath": "keys.json", "noisePattern": "xk"},
		"relay": {"urls": ["wss://relay.example.com"]}
	}`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unsupported noise pattern")
	}
}

func TestEffectiveBackoffDefaults(t *testing.T) {
	c := &Config{}
	if c.EffectiveBackoffInitial().Seconds() != 1 {
		t.Fatalf("expected 1s default, got %v", c.EffectiveBackoffInitial())
	}
	if c.EffectiveBackoffMax().Seconds() != 300 {
		t.Fatalf("expected 300s default, got %v", c.EffectiveBackoffMax())
	}
}

func TestEffectiveNoisePatternDefaultsToXX(t *testing.T) {
	c := &Config{}
	pattern, err := c.EffectiveNoisePattern()
	if err != nil {
		t.Fatalf("effective noise pattern: %v", err)
	}
	if pattern != noise.PatternXX {
		t.Fatalf("expected default pattern xx, got %v", pattern)
	}
}

func TestEffectiveNoisePatternMapsConfiguredValue(t *testing.T) {
	c := &Config{Identity: IdentityConfig{NoisePattern: "ik"}}
	pattern, err := c.EffectiveNoisePattern()
	if err != nil {
		t.Fatalf("effective noise pattern: %v", err)
	}
	if pattern != noise.PatternIK {
		t.Fatalf("expected pattern ik, got %v", pattern)
	}
}

func TestLoadRejectsNegativeAuditRotateSize(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.json", `{
		"identity": {"keystorePath": "keys.json"},
		"relay": {"urls": ["wss://relay.example.com"]},
		"audit": {"enabled": true, "rotateSize": -1}
	}`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for negative audit.rotateSize")
	}
}
