package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/alex-user-go/fares/internal/fare"
	"github.com/alex-user-go/fares/internal/manager"
)

// Environment variables overriding file values.
const (
	EnvAddr      = "FARES_ADDR"
	EnvRedisAddr = "FARES_REDIS_ADDR"
)

var (
	// ErrUnknownFormat is returned for config files with an unsupported extension.
	ErrUnknownFormat = errors.New("unsupported config extension")
	// ErrInvalid is returned when a config fails validation.
	ErrInvalid = errors.New("invalid config")
)

// Duration is a time.Duration written as a string ("750ms", "2s") in config
// files.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Config holds runtime parameters for the service.
type Config struct {
	Server    Server    `json:"server" yaml:"server" toml:"server"`
	Search    Search    `json:"search" yaml:"search" toml:"search"`
	RateLimit RateLimit `json:"ratelimit" yaml:"ratelimit" toml:"ratelimit"`
	Redis     Redis     `json:"redis" yaml:"redis" toml:"redis"`
	Airlines  []Airline `json:"airlines" yaml:"airlines" toml:"airlines"`
	Managers  []Manager `json:"managers" yaml:"managers" toml:"managers"`
}

// Server configures the HTTP listener.
type Server struct {
	Addr            string   `json:"addr" yaml:"addr" toml:"addr"`
	ReadTimeout     Duration `json:"read_timeout" yaml:"read_timeout" toml:"read_timeout"`
	WriteTimeout    Duration `json:"write_timeout" yaml:"write_timeout" toml:"write_timeout"`
	ShutdownTimeout Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" toml:"shutdown_timeout"`
	CORSOrigins     []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
}

// Search configures the search sessions.
type Search struct {
	Timeout         Duration `json:"timeout" yaml:"timeout" toml:"timeout"`
	ProviderTimeout Duration `json:"provider_timeout" yaml:"provider_timeout" toml:"provider_timeout"`
	CacheTTL        Duration `json:"cache_ttl" yaml:"cache_ttl" toml:"cache_ttl"`
}

// RateLimit configures per-client limiting of /search.
type RateLimit struct {
	Requests int      `json:"requests" yaml:"requests" toml:"requests"`
	Window   Duration `json:"window" yaml:"window" toml:"window"`
}

// Redis configures the shared result cache. Empty Addr disables it.
type Redis struct {
	Addr      string   `json:"addr" yaml:"addr" toml:"addr"`
	Password  string   `json:"password" yaml:"password" toml:"password"`
	DB        int      `json:"db" yaml:"db" toml:"db"`
	KeyPrefix string   `json:"key_prefix" yaml:"key_prefix" toml:"key_prefix"`
	Timeout   Duration `json:"timeout" yaml:"timeout" toml:"timeout"`
}

// Airline is one row of the airline lookup tables.
type Airline struct {
	Name string `json:"name" yaml:"name" toml:"name"`
	Code string `json:"code" yaml:"code" toml:"code"`
}

// Manager describes one fare provider.
type Manager struct {
	ID              string            `json:"id" yaml:"id" toml:"id"`
	Name            string            `json:"name" yaml:"name" toml:"name"`
	GapTimeServer   Duration          `json:"gap_time_server" yaml:"gap_time_server" toml:"gap_time_server"`
	MaxWaiting      int               `json:"max_waiting" yaml:"max_waiting" toml:"max_waiting"`
	Order           int               `json:"order" yaml:"order" toml:"order"`
	URL             string            `json:"url" yaml:"url" toml:"url"`
	Method          string            `json:"method" yaml:"method" toml:"method"`
	Headers         map[string]string `json:"headers" yaml:"headers" toml:"headers"`
	WithCredentials bool              `json:"with_credentials" yaml:"with_credentials" toml:"with_credentials"`
}

// Default returns the configuration used when no file is given: built-in
// defaults plus environment overrides.
func Default() Config {
	var cfg Config
	cfg.applyEnv(os.LookupEnv)
	cfg.applyDefaults()
	return cfg
}

// Load reads a configuration file based on its extension, applies
// environment overrides and defaults, and validates the result.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	case ".json":
		err = json.Unmarshal(b, &cfg)
	case ".toml":
		err = toml.Unmarshal(b, &cfg)
	default:
		return cfg, fmt.Errorf("%w: %s", ErrUnknownFormat, ext)
	}
	if err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.applyEnv(os.LookupEnv)
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvAddr); ok && v != "" {
		c.Server.Addr = v
	}
	if v, ok := lookup(EnvRedisAddr); ok {
		c.Redis.Addr = v
	}
}

func (c *Config) applyDefaults() {
	setDefault(&c.Server.Addr, ":8080")
	setDefault(&c.Server.ReadTimeout, Duration(10*time.Second))
	setDefault(&c.Server.WriteTimeout, Duration(30*time.Second))
	setDefault(&c.Server.ShutdownTimeout, Duration(10*time.Second))
	setDefault(&c.Search.Timeout, Duration(20*time.Second))
	setDefault(&c.Search.ProviderTimeout, Duration(5*time.Second))
	setDefault(&c.Search.CacheTTL, Duration(30*time.Second))
	setDefault(&c.RateLimit.Requests, 10)
	setDefault(&c.RateLimit.Window, Duration(time.Minute))
	setDefault(&c.Redis.KeyPrefix, "fares:")
	setDefault(&c.Redis.Timeout, Duration(time.Second))
}

func setDefault[T comparable](field *T, value T) {
	var zero T
	if *field == zero {
		*field = value
	}
}

// Validate checks manager definitions.
func (c Config) Validate() error {
	seen := make(map[string]bool, len(c.Managers))
	for i, m := range c.Managers {
		if strings.TrimSpace(m.ID) == "" {
			return fmt.Errorf("%w: managers[%d] has no id", ErrInvalid, i)
		}
		if seen[m.ID] {
			return fmt.Errorf("%w: duplicate manager id %q", ErrInvalid, m.ID)
		}
		seen[m.ID] = true
		if m.MaxWaiting < 0 || m.GapTimeServer < 0 {
			return fmt.Errorf("%w: manager %q has negative timing", ErrInvalid, m.ID)
		}
	}
	if c.Search.Timeout <= 0 {
		return fmt.Errorf("%w: search timeout must be positive", ErrInvalid)
	}
	return nil
}

// ManagerConfigs converts the manager section to registry configurations.
func (c Config) ManagerConfigs() []manager.Config {
	out := make([]manager.Config, 0, len(c.Managers))
	for _, m := range c.Managers {
		name := m.Name
		if name == "" {
			name = m.ID
		}
		out = append(out, manager.Config{
			ID:              m.ID,
			Name:            name,
			GapTimeServer:   time.Duration(m.GapTimeServer),
			MaxWaiting:      m.MaxWaiting,
			Order:           m.Order,
			URL:             m.URL,
			Method:          strings.ToUpper(m.Method),
			Headers:         m.Headers,
			WithCredentials: m.WithCredentials,
		})
	}
	return out
}

// AirlineRecords converts the airline section to lookup records.
func (c Config) AirlineRecords() []fare.Airline {
	out := make([]fare.Airline, 0, len(c.Airlines))
	for _, a := range c.Airlines {
		out = append(out, fare.Airline{Name: a.Name, Code: a.Code})
	}
	return out
}
