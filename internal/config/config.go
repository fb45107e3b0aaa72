// Package config loads the Kestrel configuration from a file and the
// environment on top of the built-in defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "KESTREL_"

// Load builds the configuration. The base is DefaultConfig, or ProConfig
// when KESTREL_TIER=pro. A non-empty path is decoded over the base as
// YAML, or JSON for a .json extension. Environment overrides apply last
// and the result is validated.
func Load(path string) (*domain.Config, error) {
	cfg := domain.DefaultConfig()
	if strings.EqualFold(os.Getenv(EnvPrefix+"TIER"), "pro") {
		cfg = domain.ProConfig()
	}

	if path != "" {
		if err := decodeFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := ApplyEnvOverrides(cfg, os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func decodeFile(path string, cfg *domain.Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = decodeJSON(data, cfg)
	default:
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return fmt.Errorf("%w: failed to decode config %s: %v", domain.ErrInvalidInput, path, err)
	}
	return nil
}

// durationKeys are the JSON names of time.Duration fields. YAML parses
// "5s" for these natively; JSON would only take integer nanoseconds.
var durationKeys = map[string]bool{
	"localTtl":         true,
	"deviceAgeScale":   true,
	"frequencyWindow":  true,
	"historyWindow":    true,
	"merchantCacheTtl": true,
	"interval":         true,
	"connMaxLifetime":  true,
}

// decodeJSON accepts duration fields as either nanoseconds or Go
// duration strings, matching the YAML decoder.
func decodeJSON(data []byte, cfg *domain.Config) error {
	var tree any
	if err := json.Unmarshal(data, &tree); err != nil {
		return err
	}
	if err := convertDurations(tree); err != nil {
		return err
	}
	normalized, err := json.Marshal(tree)
	if err != nil {
		return err
	}
	return json.Unmarshal(normalized, cfg)
}

func convertDurations(node any) error {
	switch n := node.(type) {
	case map[string]any:
		for k, v := range n {
			if s, ok := v.(string); ok && durationKeys[k] {
				d, err := time.ParseDuration(s)
				if err != nil {
					return fmt.Errorf("%s: %w", k, err)
				}
				n[k] = int64(d)
				continue
			}
			if err := convertDurations(v); err != nil {
				return err
			}
		}
	case []any:
		for _, v := range n {
			if err := convertDurations(v); err != nil {
				return err
			}
		}
	}
	return nil
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

type override struct {
	key   string
	apply func(cfg *domain.Config, v string) error
}

var overrides = []override{
	{"HOST", func(c *domain.Config, v string) error { c.Server.Host = v; return nil }},
	{"PORT", func(c *domain.Config, v string) error { return setInt(&c.Server.Port, v) }},
	{"LOG_LEVEL", func(c *domain.Config, v string) error { c.Logging.Level = v; return nil }},
	{"LOG_FORMAT", func(c *domain.Config, v string) error { c.Logging.Format = v; return nil }},

	{"DB_DRIVER", func(c *domain.Config, v string) error { c.Repository.Driver = v; return nil }},
	{"SQLITE_PATH", func(c *domain.Config, v string) error { c.Repository.SQLitePath = v; return nil }},
	{"POSTGRES_URL", func(c *domain.Config, v string) error { c.Repository.PostgresURL = v; return nil }},

	{"CACHE_TYPE", func(c *domain.Config, v string) error { c.Cache.Type = v; return nil }},
	{"REDIS_ADDR", func(c *domain.Config, v string) error { c.Cache.RedisAddr = v; return nil }},
	{"REDIS_PASSWORD", func(c *domain.Config, v string) error { c.Cache.RedisPassword = v; return nil }},

	{"BUS_TYPE", func(c *domain.Config, v string) error { c.EventBus.Type = v; return nil }},
	{"NATS_URL", func(c *domain.Config, v string) error { c.EventBus.NATSUrl = v; return nil }},
	{"KAFKA_BROKERS", func(c *domain.Config, v string) error { c.EventBus.KafkaBrokers = splitList(v); return nil }},
	{"KAFKA_GROUP_ID", func(c *domain.Config, v string) error { c.EventBus.KafkaGroupID = v; return nil }},

	{"TRACING_ENABLED", func(c *domain.Config, v string) error { return setBool(&c.Tracing.Enabled, v) }},
	{"TRACING_EXPORTER", func(c *domain.Config, v string) error { c.Tracing.ExporterType = v; return nil }},
	{"OTLP_ENDPOINT", func(c *domain.Config, v string) error { c.Tracing.Endpoint = v; return nil }},

	{"SIMULATION_AUTOSTART", func(c *domain.Config, v string) error { return setBool(&c.Simulation.AutoStart, v) }},
	{"SIMULATION_INTERVAL", func(c *domain.Config, v string) error { return setDuration(&c.Simulation.Interval, v) }},
	{"SIMULATION_SEED", func(c *domain.Config, v string) error { return setInt64(&c.Simulation.Seed, v) }},
	{"RETRAIN_EVERY", func(c *domain.Config, v string) error { return setInt(&c.Training.RetrainEvery, v) }},
}

// ApplyEnvOverrides applies every KESTREL_* variable found by lookup.
func ApplyEnvOverrides(cfg *domain.Config, lookup LookupFunc) error {
	for _, o := range overrides {
		v, ok := lookup(EnvPrefix + o.key)
		if !ok || v == "" {
			continue
		}
		if err := o.apply(cfg, v); err != nil {
			return fmt.Errorf("%w: %s%s: %v", domain.ErrInvalidInput, EnvPrefix, o.key, err)
		}
	}
	return nil
}

func setInt(dst *int, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

func setInt64(dst *int64, v string) error {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

func setBool(dst *bool, v string) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return err
	}
	*dst = b
	return nil
}

func setDuration(dst *time.Duration, v string) error {
	d, err := time.ParseDuration(v)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
