// Package config loads snspost's YAML configuration, applies environment
// overrides, and watches the file for limit changes.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	yaml "go.yaml.in/yaml/v3"
)

const (
	DefaultServer            = "http://127.0.0.1:5001"
	DefaultAddr              = ":5001"
	DefaultUploadDir         = "uploads"
	DefaultDBPath            = "snspost.db"
	DefaultTimezone          = "Asia/Tokyo"
	DefaultTimeout           = 30 * time.Second
	DefaultSchedulerInterval = 60 * time.Second
	DefaultRatePerSec        = 1.0
)

// Environment overrides.
const (
	EnvServer    = "SNSPOST_SERVER"
	EnvAddr      = "SNSPOST_ADDR"
	EnvDB        = "SNSPOST_DB"
	EnvUploadDir = "SNSPOST_UPLOAD_DIR"
)

// Config is the on-disk configuration.
type Config struct {
	Client    Client         `json:"client"`
	Server    Server         `json:"server"`
	Scheduler Scheduler      `json:"scheduler"`
	Limits    map[string]int `json:"limits,omitempty"`
}

// Client configures the HTTP client used by the composing commands.
type Client struct {
	Server  string `json:"server,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

// Server configures `snspost serve`.
type Server struct {
	Addr      string `json:"addr,omitempty"`
	UploadDir string `json:"upload_dir,omitempty"`
	DBPath    string `json:"db_path,omitempty"`
	// Timezone applies to schedule times sent without an offset.
	Timezone string `json:"timezone,omitempty"`
}

// Scheduler configures delivery of due scheduled posts.
type Scheduler struct {
	Interval   string  `json:"interval,omitempty"`
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Client: Client{Server: DefaultServer, Timeout: DefaultTimeout.String()},
		Server: Server{
			Addr:      DefaultAddr,
			UploadDir: DefaultUploadDir,
			DBPath:    DefaultDBPath,
			Timezone:  DefaultTimezone,
		},
		Scheduler: Scheduler{Interval: DefaultSchedulerInterval.String(), RatePerSec: DefaultRatePerSec},
	}
}

// Load reads path (if non-empty and present), fills defaults and applies
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		parsed, err := Parse(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			cfg = parsed
		}
	}
	cfg.fillDefaults()
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes path strictly: unknown fields and trailing data are errors.
func Parse(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	jb, err := toJSON(path, b)
	if err != nil {
		return nil, err
	}
	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("%s: trailing data", path)
		}
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

// toJSON converts YAML to JSON so one strict decoder serves both formats.
func toJSON(path string, data []byte) ([]byte, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		return data, nil
	}
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}
	if v == nil {
		return []byte("{}"), nil
	}
	j, err := json.Marshal(normalizeYAML(v))
	if err != nil {
		return nil, fmt.Errorf("yaml->json marshal: %w", err)
	}
	return j, nil
}

func normalizeYAML(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = normalizeYAML(v)
		}
		return m
	case map[string]any:
		for k, v := range x {
			x[k] = normalizeYAML(v)
		}
		return x
	case []any:
		for i := range x {
			x[i] = normalizeYAML(x[i])
		}
		return x
	default:
		return in
	}
}

func (c *Config) fillDefaults() {
	def := Default()
	if c.Client.Server == "" {
		c.Client.Server = def.Client.Server
	}
	if c.Client.Timeout == "" {
		c.Client.Timeout = def.Client.Timeout
	}
	if c.Server.Addr == "" {
		c.Server.Addr = def.Server.Addr
	}
	if c.Server.UploadDir == "" {
		c.Server.UploadDir = def.Server.UploadDir
	}
	if c.Server.DBPath == "" {
		c.Server.DBPath = def.Server.DBPath
	}
	if c.Server.Timezone == "" {
		c.Server.Timezone = def.Server.Timezone
	}
	if c.Scheduler.Interval == "" {
		c.Scheduler.Interval = def.Scheduler.Interval
	}
	if c.Scheduler.RatePerSec <= 0 {
		c.Scheduler.RatePerSec = def.Scheduler.RatePerSec
	}
}

// ApplyEnv overrides fields from the environment.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := strings.TrimSpace(getenv(EnvServer)); v != "" {
		c.Client.Server = v
	}
	if v := strings.TrimSpace(getenv(EnvAddr)); v != "" {
		c.Server.Addr = v
	}
	if v := strings.TrimSpace(getenv(EnvDB)); v != "" {
		c.Server.DBPath = v
	}
	if v := strings.TrimSpace(getenv(EnvUploadDir)); v != "" {
		c.Server.UploadDir = v
	}
}

// Validate checks the fields that cannot be checked while decoding.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.ClientTimeout(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.SchedulerInterval(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	for id, n := range c.Limits {
		if n <= 0 {
			errs = append(errs, fmt.Errorf("limits.%s: must be > 0, got %s", id, strconv.Itoa(n)))
		}
	}
	return errors.Join(errs...)
}

// ClientTimeout is the per-request timeout of the HTTP client.
func (c *Config) ClientTimeout() (time.Duration, error) {
	return ParseDurationOrDefault("client.timeout", c.Client.Timeout, DefaultTimeout)
}

// SchedulerInterval is how often due posts are checked.
func (c *Config) SchedulerInterval() (time.Duration, error) {
	return ParseDurationOrDefault("scheduler.interval", c.Scheduler.Interval, DefaultSchedulerInterval)
}

// Location resolves server.timezone.
func (c *Config) Location() (*time.Location, error) {
	name := strings.TrimSpace(c.Server.Timezone)
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("server.timezone: %w", err)
	}
	return loc, nil
}

// ParseDurationField parses a duration string; empty means zero.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def substituted for zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
