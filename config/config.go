// Package config loads the JSON-backed process configuration: the
// identity keystore location and crypto defaults, the relay set, the
// management listener, and logging. The Duration wrapper (accepting
// either a Go duration string or a millisecond count) and the overall
// load-then-validate shape are the teacher's, carried over unchanged.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"net/url"
	"os"
	"strings"
	"time"

	"stp/noise"
)

type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	if len(b) == 0 {
		return errors.New("empty duration")
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			d.Duration = 0
			return nil
		}
		dur, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration string %q: %w", s, err)
		}
		d.Duration = dur
		return nil
	}
	var ms int64
	if err := json.Unmarshal(b, &ms); err != nil {
		return err
	}
	d.Duration = time.Duration(ms) * time.Millisecond
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration.String())
}

// IdentityConfig configures the persistent keystore and the crypto
// defaults that depend on operator choice rather than protocol
// invariant (open questions left to the consumer per spec.md §9).
type IdentityConfig struct {
	KeystorePath         string `json:"keystorePath"`
	NIP44PreferOddParity bool   `json:"nip44PreferOddParity,omitempty"`
	NoisePattern         string `json:"noisePattern,omitempty"` // xx, ik, or nk
}

// RelayConfig configures the relay multiplexer's initial connection set
// and reconnect bounds.
type RelayConfig struct {
	URLs           []string `json:"urls"`
	BackoffInitial Duration `json:"backoffInitial,omitempty"`
	BackoffMax     Duration `json:"backoffMax,omitempty"`
}

// ManagementConfig configures the local status/control listener.
type ManagementConfig struct {
	Bind string   `json:"bind"`
	ACL  []string `json:"acl,omitempty"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `json:"level"`
	Output string `json:"output"`
}

// AuditConfig configures the §7 audit sink. Absent entirely, audit logging
// is disabled: no product path requires it to run, only to be recorded.
type AuditConfig struct {
	Enabled    bool   `json:"enabled,omitempty"`
	OutputPath string `json:"outputPath,omitempty"`
	BufferSize int    `json:"bufferSize,omitempty"`
	RotateSize int64  `json:"rotateSize,omitempty"`
}

// Config is the top-level process configuration.
type Config struct {
	Identity   IdentityConfig   `json:"identity"`
	Relay      RelayConfig      `json:"relay"`
	Management ManagementConfig `json:"management"`
	Logging    LoggingConfig    `json:"logging"`
	Audit      AuditConfig      `json:"audit,omitempty"`
}

// Load reads and validates a Config from path. path may be "-" to read
// from stdin.
func Load(path string) (*Config, error) {
	var reader io.ReadCloser
	if path == "-" {
		reader = io.NopCloser(os.Stdin)
	} else {
		file, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		reader = file
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Identity.KeystorePath) == "" {
		return errors.New("identity.keystorePath must be provided")
	}

	switch strings.ToLower(strings.TrimSpace(c.Identity.NoisePattern)) {
	case "", "xx", "ik", "nk":
	default:
		return fmt.Errorf("unsupported noise pattern %q", c.Identity.NoisePattern)
	}

	if len(c.Relay.URLs) == 0 {
		return errors.New("relay.urls must list at least one relay")
	}
	for _, raw := range c.Relay.URLs {
		if err := validateRelayURL(raw); err != nil {
			return fmt.Errorf("relay url %q: %w", raw, err)
		}
	}
	if c.Relay.BackoffInitial.Duration < 0 {
		return errors.New("relay.backoffInitial cannot be negative")
	}
	if c.Relay.BackoffMax.Duration < 0 {
		return errors.New("relay.backoffMax cannot be negative")
	}
	if c.Relay.BackoffMax.Duration > 0 && c.Relay.BackoffInitial.Duration > c.Relay.BackoffMax.Duration {
		return errors.New("relay.backoffInitial cannot exceed relay.backoffMax")
	}

	if c.Audit.RotateSize < 0 {
		return errors.New("audit.rotateSize cannot be negative")
	}
	if c.Audit.BufferSize < 0 {
		return errors.New("audit.bufferSize cannot be negative")
	}

	if c.Management.Bind == "" {
		c.Management.Bind = "127.0.0.1:7777"
	}
	if len(c.Management.ACL) == 0 {
		c.Management.ACL = []string{"127.0.0.0/8"}
	}
	for _, entry := range c.Management.ACL {
		if _, err := netip.ParsePrefix(entry); err != nil {
			return fmt.Errorf("invalid management acl entry %q: %w", entry, err)
		}
	}

	return nil
}

func validateRelayURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return fmt.Errorf("unsupported scheme %q, expected ws or wss", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

// EffectiveBackoffInitial returns the configured initial reconnect delay,
// defaulting to 1 second per spec.md's exact reconnect schedule.
func (c *Config) EffectiveBackoffInitial() time.Duration {
	if c.Relay.BackoffInitial.Duration <= 0 {
		return time.Second
	}
	return c.Relay.BackoffInitial.Duration
}

// EffectiveBackoffMax returns the configured maximum reconnect delay,
// defaulting to 300 seconds per spec.md's exact reconnect schedule.
func (c *Config) EffectiveBackoffMax() time.Duration {
	if c.Relay.BackoffMax.Duration <= 0 {
		return 300 * time.Second
	}
	return c.Relay.BackoffMax.Duration
}

// EffectiveNoisePattern maps the validated Identity.NoisePattern string onto
// a noise.Pattern constant, defaulting to XX when unset.
func (c *Config) EffectiveNoisePattern() (noise.Pattern, error) {
	switch strings.ToLower(strings.TrimSpace(c.Identity.NoisePattern)) {
	case "", "xx":
		return noise.PatternXX, nil
	case "ik":
		return noise.PatternIK, nil
	case "nk":
		return noise.PatternNK, nil
	default:
		return 0, fmt.Errorf("unsupported noise pattern %q", c.Identity.NoisePattern)
	}
}

// NormalisedLevel returns the configured log level, lower-cased and trimmed.
func (c *Config) NormalisedLevel() string {
	return strings.ToLower(strings.TrimSpace(c.Logging.Level))
}

// ManagementPrefixes parses the management ACL into netip.Prefix values,
// silently skipping any entry that fails to parse (validate already
// rejected malformed configs, so this only runs on already-validated data).
func (c *Config) ManagementPrefixes() []netip.Prefix {
	out := make([]netip.Prefix, 0, len(c.Management.ACL))
	for _, entry := range c.Management.ACL {
		if prefix, err := netip.ParsePrefix(entry); err == nil {
			out = append(out, prefix)
		}
	}
	return out
}
