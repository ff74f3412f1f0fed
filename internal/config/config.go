// Package config loads fieldsync settings from a YAML file, an optional
// .env file and FIELDSYNC_* environment overrides, in that order.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

const (
	ModeManual    = "manual"
	ModeFile      = "file"
	ModeProbe     = "probe"
	ModeWebSocket = "websocket"
)

const schemaURL = "https://fieldsync.local/config.schema.json"

//go:embed schema.json
var schemaJSON []byte

type Config struct {
	Store struct {
		DSN      string `yaml:"dsn"`
		LockFile string `yaml:"lock_file"`
	} `yaml:"store"`

	Transport struct {
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"transport"`

	Connectivity struct {
		Mode          string        `yaml:"mode"`
		StatusFile    string        `yaml:"status_file"`
		ProbeURL      string        `yaml:"probe_url"`
		ProbeInterval time.Duration `yaml:"probe_interval"`
		ProbeJitter   float64       `yaml:"probe_jitter"`
		WebSocketURL  string        `yaml:"websocket_url"`
	} `yaml:"connectivity"`

	Background struct {
		SpoolDir string `yaml:"spool_dir"`
	} `yaml:"background"`

	API struct {
		Addr  string `yaml:"addr"`
		Token string `yaml:"token"`
	} `yaml:"api"`

	Log struct {
		Env   string `yaml:"env"`
		Level string `yaml:"level"`
	} `yaml:"log"`

	Sync struct {
		Tag           string `yaml:"tag"`
		InitialOnline bool   `yaml:"initial_online"`
	} `yaml:"sync"`

	// Warnings lists environment overrides that were ignored because they
	// did not parse. The caller logs them once a logger exists.
	Warnings []string `yaml:"-"`
}

// Default returns the settings used when no file is given.
func Default() *Config {
	c := &Config{}
	c.Store.DSN = "sqlite://fieldsync.db"
	c.Transport.Timeout = 30 * time.Second
	c.Connectivity.Mode = ModeManual
	c.Connectivity.ProbeInterval = 15 * time.Second
	c.Connectivity.ProbeJitter = 0.2
	c.API.Addr = "127.0.0.1:8787"
	c.Log.Env = "dev"
	c.Log.Level = "info"
	c.Sync.Tag = "mutation-sync"
	return c
}

// Load reads path (optional), then envFile (optional), then applies
// FIELDSYNC_* overrides and validates the result.
func Load(path, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", envFile, err)
		}
	}

	c := Default()
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := validateDocument(raw); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, c); err != nil {
			return nil, fmt.Errorf("config %s: %w", path, err)
		}
	}
	c.applyEnv()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyEnv() {
	c.Store.DSN = envOrDefault("FIELDSYNC_STORE_DSN", c.Store.DSN)
	c.Store.LockFile = envOrDefault("FIELDSYNC_LOCK_FILE", c.Store.LockFile)
	c.Transport.Timeout = c.durationEnv("FIELDSYNC_TRANSPORT_TIMEOUT", c.Transport.Timeout)
	c.Connectivity.Mode = strings.ToLower(envOrDefault("FIELDSYNC_CONNECTIVITY_MODE", c.Connectivity.Mode))
	c.Connectivity.StatusFile = envOrDefault("FIELDSYNC_STATUS_FILE", c.Connectivity.StatusFile)
	c.Connectivity.ProbeURL = envOrDefault("FIELDSYNC_PROBE_URL", c.Connectivity.ProbeURL)
	c.Connectivity.ProbeInterval = c.durationEnv("FIELDSYNC_PROBE_INTERVAL", c.Connectivity.ProbeInterval)
	c.Connectivity.ProbeJitter = c.floatEnv("FIELDSYNC_PROBE_JITTER", c.Connectivity.ProbeJitter)
	c.Connectivity.WebSocketURL = envOrDefault("FIELDSYNC_WEBSOCKET_URL", c.Connectivity.WebSocketURL)
	c.Background.SpoolDir = envOrDefault("FIELDSYNC_SPOOL_DIR", c.Background.SpoolDir)
	c.API.Addr = envOrDefault("FIELDSYNC_API_ADDR", c.API.Addr)
	c.API.Token = envOrDefault("FIELDSYNC_API_TOKEN", c.API.Token)
	c.Log.Env = envOrDefault("FIELDSYNC_LOG_ENV", c.Log.Env)
	c.Log.Level = envOrDefault("FIELDSYNC_LOG_LEVEL", c.Log.Level)
	c.Sync.Tag = envOrDefault("FIELDSYNC_SYNC_TAG", c.Sync.Tag)
	c.Sync.InitialOnline = c.boolEnv("FIELDSYNC_INITIAL_ONLINE", c.Sync.InitialOnline)
}

// Validate checks the cross-field rules the schema cannot express.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Store.DSN) == "" {
		errs = append(errs, errors.New("store.dsn is required"))
	}
	if c.Transport.Timeout < 0 {
		errs = append(errs, errors.New("transport.timeout must not be negative"))
	}
	switch c.Connectivity.Mode {
	case ModeManual:
	case ModeFile:
		if strings.TrimSpace(c.Connectivity.StatusFile) == "" {
			errs = append(errs, errors.New("connectivity.status_file is required in file mode"))
		}
	case ModeProbe:
		if strings.TrimSpace(c.Connectivity.ProbeURL) == "" {
			errs = append(errs, errors.New("connectivity.probe_url is required in probe mode"))
		}
		if c.Connectivity.ProbeInterval <= 0 {
			errs = append(errs, errors.New("connectivity.probe_interval must be positive in probe mode"))
		}
	case ModeWebSocket:
		if strings.TrimSpace(c.Connectivity.WebSocketURL) == "" {
			errs = append(errs, errors.New("connectivity.websocket_url is required in websocket mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("connectivity.mode %q is not one of manual, file, probe, websocket", c.Connectivity.Mode))
	}
	if c.Connectivity.ProbeJitter < 0 || c.Connectivity.ProbeJitter > 1 {
		errs = append(errs, errors.New("connectivity.probe_jitter must be within [0,1]"))
	}
	if strings.TrimSpace(c.Sync.Tag) == "" {
		errs = append(errs, errors.New("sync.tag must not be empty"))
	}
	return errors.Join(errs...)
}

// validateDocument checks raw YAML against the embedded JSON schema. The
// document is round-tripped through JSON so the validator sees JSON types.
func validateDocument(raw []byte) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if doc == nil {
		return nil
	}
	encoded, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("config is not representable as JSON: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	schema, err := compileSchema()
	if err != nil {
		return err
	}
	return schema.Validate(inst)
}

func compileSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, doc); err != nil {
		return nil, err
	}
	return compiler.Compile(schemaURL)
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func (c *Config) durationEnv(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		c.Warnings = append(c.Warnings, fmt.Sprintf("invalid %s=%q, using fallback %s", name, raw, fallback.String()))
		return fallback
	}
	return value
}

func (c *Config) floatEnv(name string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		c.Warnings = append(c.Warnings, fmt.Sprintf("invalid %s=%q, using fallback %f", name, raw, fallback))
		return fallback
	}
	return value
}

func (c *Config) boolEnv(name string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		c.Warnings = append(c.Warnings, fmt.Sprintf("invalid %s=%q, using fallback %t", name, raw, fallback))
		return fallback
	}
	return value
}
