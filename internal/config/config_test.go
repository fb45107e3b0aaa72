package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Repository.Driver != "sqlite" {
			t.Errorf("expected sqlite driver, got %s", cfg.Repository.Driver)
		}
		if cfg.Scoring.Thresholds.HighRisk != 70 {
			t.Errorf("expected high risk threshold 70, got %d", cfg.Scoring.Thresholds.HighRisk)
		}
	})

	t.Run("YAML", func(t *testing.T) {
		path := writeFile(t, "kestrel.yaml", `
server:
  port: 9090
scoring:
  thresholds:
    critical: 95
    high: 85
    high_risk: 80
    medium_risk: 60
    low: 30
simulation:
  interval: 2s
  seed: 42
`)
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Server.Port != 9090 {
			t.Errorf("expected port 9090, got %d", cfg.Server.Port)
		}
		if cfg.Scoring.Thresholds.HighRisk != 80 {
			t.Errorf("expected high risk 80, got %d", cfg.Scoring.Thresholds.HighRisk)
		}
		if cfg.Simulation.Interval != 2*time.Second {
			t.Errorf("expected 2s interval, got %v", cfg.Simulation.Interval)
		}
		if cfg.Simulation.Seed != 42 {
			t.Errorf("expected seed 42, got %d", cfg.Simulation.Seed)
		}
		// Untouched sections keep their defaults.
		if cfg.Scoring.Weights.MerchantRisk != 0.30 {
			t.Errorf("expected default merchant weight, got %v", cfg.Scoring.Weights.MerchantRisk)
		}
	})

	t.Run("JSON", func(t *testing.T) {
		path := writeFile(t, "kestrel.json", `{"server":{"port":7070},"training":{"minSamples":20}}`)
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Server.Port != 7070 {
			t.Errorf("expected port 7070, got %d", cfg.Server.Port)
		}
		if cfg.Training.MinSamples != 20 {
			t.Errorf("expected min samples 20, got %d", cfg.Training.MinSamples)
		}
	})

	t.Run("JSONDurations", func(t *testing.T) {
		path := writeFile(t, "kestrel.json", `{
			"simulation": {"interval": "5s"},
			"cache": {"localTtl": "90s"},
			"features": {"historyWindow": 3600000000000}
		}`)
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Simulation.Interval != 5*time.Second {
			t.Errorf("expected 5s interval, got %v", cfg.Simulation.Interval)
		}
		if cfg.Cache.LocalTTL != 90*time.Second {
			t.Errorf("expected 90s local ttl, got %v", cfg.Cache.LocalTTL)
		}
		if cfg.Features.HistoryWindow != time.Hour {
			t.Errorf("expected 1h history window, got %v", cfg.Features.HistoryWindow)
		}
	})

	t.Run("JSONBadDuration", func(t *testing.T) {
		path := writeFile(t, "kestrel.json", `{"simulation":{"interval":"soon"}}`)
		if _, err := Load(path); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("RejectsInvalid", func(t *testing.T) {
		path := writeFile(t, "bad.yaml", `
scoring:
  weights:
    amount: 2
`)
		_, err := Load(path)
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("RejectsMalformed", func(t *testing.T) {
		path := writeFile(t, "broken.yaml", "server: [")
		if _, err := Load(path); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("MissingFile", func(t *testing.T) {
		if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
			t.Error("expected error for missing file")
		}
	})
}

func TestApplyEnvOverrides(t *testing.T) {
	env := map[string]string{
		"KESTREL_PORT":                 "8181",
		"KESTREL_DB_DRIVER":            "postgres",
		"KESTREL_POSTGRES_URL":         "postgres://kestrel@db/kestrel",
		"KESTREL_BUS_TYPE":             "kafka",
		"KESTREL_KAFKA_BROKERS":        "k1:9092, k2:9092,",
		"KESTREL_TRACING_ENABLED":      "true",
		"KESTREL_SIMULATION_AUTOSTART": "1",
		"KESTREL_SIMULATION_INTERVAL":  "750ms",
		"KESTREL_RETRAIN_EVERY":        "25",
	}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	cfg := domain.DefaultConfig()
	if err := ApplyEnvOverrides(cfg, lookup); err != nil {
		t.Fatalf("ApplyEnvOverrides failed: %v", err)
	}

	if cfg.Server.Port != 8181 {
		t.Errorf("expected port 8181, got %d", cfg.Server.Port)
	}
	if cfg.Repository.Driver != "postgres" || cfg.Repository.PostgresURL == "" {
		t.Errorf("expected postgres override, got %+v", cfg.Repository)
	}
	if len(cfg.EventBus.KafkaBrokers) != 2 || cfg.EventBus.KafkaBrokers[1] != "k2:9092" {
		t.Errorf("unexpected brokers %v", cfg.EventBus.KafkaBrokers)
	}
	if !cfg.Tracing.Enabled || !cfg.Simulation.AutoStart {
		t.Error("expected boolean overrides applied")
	}
	if cfg.Simulation.Interval != 750*time.Millisecond {
		t.Errorf("expected 750ms interval, got %v", cfg.Simulation.Interval)
	}
	if cfg.Training.RetrainEvery != 25 {
		t.Errorf("expected retrain every 25, got %d", cfg.Training.RetrainEvery)
	}

	t.Run("BadValue", func(t *testing.T) {
		bad := func(key string) (string, bool) {
			if key == "KESTREL_PORT" {
				return "eighty", true
			}
			return "", false
		}
		err := ApplyEnvOverrides(domain.DefaultConfig(), bad)
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestValidate(t *testing.T) {
	if err := domain.DefaultConfig().Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
	if err := domain.ProConfig().Validate(); err != nil {
		t.Fatalf("expected pro config to validate, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(c *domain.Config)
	}{
		{"MerchantAboveAmountDeviation", func(c *domain.Config) {
			c.Scoring.Multipliers.AmountDeviation = 1.2
			c.Scoring.Multipliers.HighRiskMerchant = 1.4
		}},
		{"FrequencyAboveAmountDeviation", func(c *domain.Config) { c.Scoring.Multipliers.HighFrequency = 1.6 }},
		{"ConfidenceMaxAboveOne", func(c *domain.Config) { c.Scoring.Confidence.Max = 1.2 }},
		{"ConfidenceMinNegative", func(c *domain.Config) { c.Scoring.Confidence.Min = -0.1 }},
		{"ConfidenceInverted", func(c *domain.Config) {
			c.Scoring.Confidence.Min = 0.9
			c.Scoring.Confidence.Max = 0.5
		}},
		{"PatternHighAboveOne", func(c *domain.Config) { c.Features.PatternHigh = 1.5 }},
		{"PatternNeutralNegative", func(c *domain.Config) { c.Features.PatternNeutral = -0.5 }},
		{"PatternUnordered", func(c *domain.Config) { c.Features.PatternMedium = 0.9 }},
		{"DeviceRiskHighAboveOne", func(c *domain.Config) { c.Features.DeviceRiskHigh = 2 }},
		{"DeviceRiskLowNegative", func(c *domain.Config) { c.Features.DeviceRiskLow = -1 }},
		{"UserBehaviorNewAboveOne", func(c *domain.Config) { c.Features.UserBehaviorNew = 1.1 }},
		{"UserBehaviorEstablishedNegative", func(c *domain.Config) { c.Features.UserBehaviorEstablished = -0.2 }},
		{"ZScoresInverted", func(c *domain.Config) { c.Features.ZScoreHigh = 1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := domain.DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, domain.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}

	t.Run("EqualMultipliersAllowed", func(t *testing.T) {
		cfg := domain.DefaultConfig()
		cfg.Scoring.Multipliers.HighRiskMerchant = cfg.Scoring.Multipliers.AmountDeviation
		if err := cfg.Validate(); err != nil {
			t.Errorf("expected tie with amountDeviation to validate, got %v", err)
		}
	})
}
