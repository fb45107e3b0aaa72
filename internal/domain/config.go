package domain

import (
	"fmt"
	"time"
)

// Config holds the complete Kestrel configuration. It is built once at
// startup and shared read-only by every component.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" yaml:"server"`

	// Component configurations
	Repository RepositoryConfig `json:"repository" yaml:"repository"`
	Cache      CacheConfig      `json:"cache" yaml:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" yaml:"event_bus"`

	// Risk pipeline
	Features   FeatureConfig    `json:"features" yaml:"features"`
	Scoring    ScoringConfig    `json:"scoring" yaml:"scoring"`
	Training   TrainingConfig   `json:"training" yaml:"training"`
	Simulation SimulationConfig `json:"simulation" yaml:"simulation"`

	// Observability
	Logging LoggingConfig `json:"logging" yaml:"logging"`
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" yaml:"host"`
	Port         int    `json:"port" yaml:"port"`
	ReadTimeout  int    `json:"readTimeout" yaml:"read_timeout"`   // seconds
	WriteTimeout int    `json:"writeTimeout" yaml:"write_timeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled" yaml:"enabled"`
	ServiceName  string `json:"serviceName" yaml:"service_name"`
	ExporterType string `json:"exporterType" yaml:"exporter_type"` // stdout, otlp
	Endpoint     string `json:"endpoint" yaml:"endpoint"`
}

// FeatureConfig holds normalization constants, windows and the
// step-function cut-offs used by feature extraction.
type FeatureConfig struct {
	AmountScale    float64       `json:"amountScale" yaml:"amount_scale"`
	DeviceAgeScale time.Duration `json:"deviceAgeScale" yaml:"device_age_scale"`
	FrequencyScale float64       `json:"frequencyScale" yaml:"frequency_scale"`
	AvgAmountScale float64       `json:"avgAmountScale" yaml:"avg_amount_scale"`

	FrequencyWindow time.Duration `json:"frequencyWindow" yaml:"frequency_window"`
	HistoryWindow   time.Duration `json:"historyWindow" yaml:"history_window"`
	HistoryLimit    int           `json:"historyLimit" yaml:"history_limit"`

	DefaultMerchantRisk float64 `json:"defaultMerchantRisk" yaml:"default_merchant_risk"`

	NewDeviceTxCount int64   `json:"newDeviceTxCount" yaml:"new_device_tx_count"`
	DeviceRiskHigh   float64 `json:"deviceRiskHigh" yaml:"device_risk_high"`
	DeviceRiskLow    float64 `json:"deviceRiskLow" yaml:"device_risk_low"`

	EstablishedUserTxCount  int64   `json:"establishedUserTxCount" yaml:"established_user_tx_count"`
	UserBehaviorNew         float64 `json:"userBehaviorNew" yaml:"user_behavior_new"`
	UserBehaviorEstablished float64 `json:"userBehaviorEstablished" yaml:"user_behavior_established"`

	PatternMinHistory int     `json:"patternMinHistory" yaml:"pattern_min_history"`
	PatternNeutral    float64 `json:"patternNeutral" yaml:"pattern_neutral"`
	PatternLow        float64 `json:"patternLow" yaml:"pattern_low"`
	PatternMedium     float64 `json:"patternMedium" yaml:"pattern_medium"`
	PatternHigh       float64 `json:"patternHigh" yaml:"pattern_high"`
	ZScoreMedium      float64 `json:"zScoreMedium" yaml:"z_score_medium"`
	ZScoreHigh        float64 `json:"zScoreHigh" yaml:"z_score_high"`

	// Neutral is the value of behavioral dimensions in a degraded vector.
	Neutral float64 `json:"neutral" yaml:"neutral"`

	MerchantCacheTTL time.Duration `json:"merchantCacheTtl" yaml:"merchant_cache_ttl"`
}

// ScoringConfig holds the rule weights, boost table and thresholds.
type ScoringConfig struct {
	Weights     WeightTable      `json:"weights" yaml:"weights"`
	Multipliers MultiplierTable  `json:"multipliers" yaml:"multipliers"`
	Boosts      BoostThresholds  `json:"boosts" yaml:"boosts"`
	Thresholds  RiskThresholds   `json:"thresholds" yaml:"thresholds"`
	Confidence  ConfidenceConfig `json:"confidence" yaml:"confidence"`
}

// WeightTable weights the normalized dimensions in the rule score.
type WeightTable struct {
	Amount       float64 `json:"amount" yaml:"amount"`
	MerchantRisk float64 `json:"merchantRisk" yaml:"merchant_risk"`
	DeviceAge    float64 `json:"deviceAge" yaml:"device_age"`
	Frequency    float64 `json:"frequency" yaml:"frequency"`
	AvgAmount    float64 `json:"avgAmount" yaml:"avg_amount"`
}

// MultiplierTable holds the boost factor for each raw threshold.
// Triggered factors are averaged, not compounded.
type MultiplierTable struct {
	AmountDeviation  float64 `json:"amountDeviation" yaml:"amount_deviation"`
	HighRiskMerchant float64 `json:"highRiskMerchant" yaml:"high_risk_merchant"`
	NewDevice        float64 `json:"newDevice" yaml:"new_device"`
	HighFrequency    float64 `json:"highFrequency" yaml:"high_frequency"`
}

// BoostThresholds are the raw cut-offs shared by boosts and reasons.
type BoostThresholds struct {
	AmountRatio      float64 `json:"amountRatio" yaml:"amount_ratio"`
	RecentCount      int64   `json:"recentCount" yaml:"recent_count"`
	NewDeviceHours   float64 `json:"newDeviceHours" yaml:"new_device_hours"`
	HighRiskMerchant float64 `json:"highRiskMerchant" yaml:"high_risk_merchant"`
	LargeAmount      float64 `json:"largeAmount" yaml:"large_amount"`
	ModelFlag        float64 `json:"modelFlag" yaml:"model_flag"`
}

// RiskThresholds are the five cut-points of the severity ladder.
// HighRisk gates alert creation; MediumRisk gates monitoring.
type RiskThresholds struct {
	Critical   int `json:"critical" yaml:"critical"`
	High       int `json:"high" yaml:"high"`
	HighRisk   int `json:"highRisk" yaml:"high_risk"`
	MediumRisk int `json:"mediumRisk" yaml:"medium_risk"`
	Low        int `json:"low" yaml:"low"`
}

// ConfidenceConfig shapes the data-sufficiency confidence.
type ConfidenceConfig struct {
	Base              float64 `json:"base" yaml:"base"`
	HistoryWeight     float64 `json:"historyWeight" yaml:"history_weight"`
	HistoryScale      float64 `json:"historyScale" yaml:"history_scale"`
	DeviceWeight      float64 `json:"deviceWeight" yaml:"device_weight"`
	DeviceScale       float64 `json:"deviceScale" yaml:"device_scale"`
	VelocityLimit     float64 `json:"velocityLimit" yaml:"velocity_limit"`
	VelocityPenalty   float64 `json:"velocityPenalty" yaml:"velocity_penalty"`
	DeviceRiskPenalty float64 `json:"deviceRiskPenalty" yaml:"device_risk_penalty"`
	Min               float64 `json:"min" yaml:"min"`
	Max               float64 `json:"max" yaml:"max"`
}

// TrainingConfig controls batch retraining.
type TrainingConfig struct {
	ModelKind    string  `json:"modelKind" yaml:"model_kind"`
	RetrainLimit int     `json:"retrainLimit" yaml:"retrain_limit"`
	MinSamples   int     `json:"minSamples" yaml:"min_samples"`
	Gain         float64 `json:"gain" yaml:"gain"`

	// RetrainEvery retrains after this many simulation ticks; 0 disables.
	RetrainEvery int `json:"retrainEvery" yaml:"retrain_every"`
}

// SimulationConfig drives synthetic traffic.
type SimulationConfig struct {
	AutoStart   bool          `json:"autoStart" yaml:"auto_start"`
	Interval    time.Duration `json:"interval" yaml:"interval"`
	Description string        `json:"description" yaml:"description"`

	// Seed fixes the random source; 0 seeds from the clock.
	Seed int64 `json:"seed" yaml:"seed"`

	// Seeding of the entity pool
	Users             int `json:"users" yaml:"users"`
	Merchants         int `json:"merchants" yaml:"merchants"`
	MaxDevicesPerUser int `json:"maxDevicesPerUser" yaml:"max_devices_per_user"`

	// SuspiciousBias is the chance each selection prefers the
	// suspicious end of its pool (newest users, newest devices,
	// riskiest merchants). SuspiciousFraction sizes that end.
	SuspiciousBias     float64 `json:"suspiciousBias" yaml:"suspicious_bias"`
	SuspiciousFraction float64 `json:"suspiciousFraction" yaml:"suspicious_fraction"`

	Amounts []AmountPattern `json:"amounts" yaml:"amounts"`

	// InjectionRate is the chance a tick tries one fraud injector.
	InjectionRate float64          `json:"injectionRate" yaml:"injection_rate"`
	Injectors     []InjectorConfig `json:"injectors" yaml:"injectors"`
}

// AmountPattern is one component of the amount mixture. Values, when
// set, are drawn uniformly instead of the [Min,Max] range.
type AmountPattern struct {
	Name   string    `json:"name" yaml:"name"`
	Weight float64   `json:"weight" yaml:"weight"`
	Min    float64   `json:"min" yaml:"min"`
	Max    float64   `json:"max" yaml:"max"`
	Values []float64 `json:"values,omitempty" yaml:"values,omitempty"`
}

// InjectorConfig weights one fraud-pattern injector and its amount factor.
type InjectorConfig struct {
	Name   string  `json:"name" yaml:"name"`
	Weight float64 `json:"weight" yaml:"weight"`
	Factor float64 `json:"factor" yaml:"factor"`
}

// Fraud injector names.
const (
	InjectRapidSuccession = "rapid_succession"
	InjectOffHours        = "off_hours"
	InjectAmountDeviation = "amount_deviation"
	InjectFirstPairing    = "first_time_pairing"
)

// DefaultConfig returns a self-contained configuration: SQLite, an
// in-memory cache and a channel bus.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
			PublishRetries:    3,
		},
		Features: FeatureConfig{
			AmountScale:             10000,
			DeviceAgeScale:          24 * time.Hour,
			FrequencyScale:          10,
			AvgAmountScale:          5000,
			FrequencyWindow:         5 * time.Minute,
			HistoryWindow:           24 * time.Hour,
			HistoryLimit:            100,
			DefaultMerchantRisk:     50,
			NewDeviceTxCount:        5,
			DeviceRiskHigh:          0.8,
			DeviceRiskLow:           0.2,
			EstablishedUserTxCount:  10,
			UserBehaviorNew:         0.7,
			UserBehaviorEstablished: 0.3,
			PatternMinHistory:       3,
			PatternNeutral:          0.5,
			PatternLow:              0.3,
			PatternMedium:           0.6,
			PatternHigh:             0.8,
			ZScoreMedium:            2,
			ZScoreHigh:              3,
			Neutral:                 0.5,
			MerchantCacheTTL:        10 * time.Minute,
		},
		Scoring: ScoringConfig{
			Weights: WeightTable{
				Amount:       0.25,
				MerchantRisk: 0.30,
				DeviceAge:    0.15,
				Frequency:    0.20,
				AvgAmount:    0.10,
			},
			Multipliers: MultiplierTable{
				AmountDeviation:  1.5,
				HighRiskMerchant: 1.4,
				NewDevice:        1.3,
				HighFrequency:    1.3,
			},
			Boosts: BoostThresholds{
				AmountRatio:      3,
				RecentCount:      5,
				NewDeviceHours:   24,
				HighRiskMerchant: 70,
				LargeAmount:      5000,
				ModelFlag:        0.7,
			},
			Thresholds: RiskThresholds{
				Critical:   90,
				High:       75,
				HighRisk:   70,
				MediumRisk: 50,
				Low:        25,
			},
			Confidence: ConfidenceConfig{
				Base:              0.2,
				HistoryWeight:     0.4,
				HistoryScale:      10,
				DeviceWeight:      0.3,
				DeviceScale:       10,
				VelocityLimit:     2,
				VelocityPenalty:   0.2,
				DeviceRiskPenalty: 0.1,
				Min:               0.1,
				Max:               1,
			},
		},
		Training: TrainingConfig{
			ModelKind:    "linear-risk",
			RetrainLimit: 1000,
			MinSamples:   10,
			Gain:         4,
			RetrainEvery: 0,
		},
		Simulation: SimulationConfig{
			Interval:           5 * time.Second,
			Description:        "synthetic card traffic with injected fraud patterns",
			Users:              50,
			Merchants:          20,
			MaxDevicesPerUser:  3,
			SuspiciousBias:     0.25,
			SuspiciousFraction: 0.2,
			Amounts: []AmountPattern{
				{Name: "normal", Weight: 0.60, Min: 10, Max: 500},
				{Name: "high_value", Weight: 0.15, Min: 1000, Max: 10000},
				{Name: "micro", Weight: 0.15, Min: 0.5, Max: 5},
				{Name: "round_number", Weight: 0.10, Values: []float64{999, 1000, 2500, 5000, 9999}},
			},
			InjectionRate: 0.15,
			Injectors: []InjectorConfig{
				{Name: InjectRapidSuccession, Weight: 0.3, Factor: 1.5},
				{Name: InjectOffHours, Weight: 0.2, Factor: 2},
				{Name: InjectAmountDeviation, Weight: 0.3, Factor: 5},
				{Name: InjectFirstPairing, Weight: 0.2, Factor: 1.8},
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns a configuration backed by PostgreSQL, Redis and NATS.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
		PublishRetries:    3,
	}
	cfg.Tracing.Enabled = true
	return cfg
}

// Validate rejects configurations that would break scoring invariants.
func (c *Config) Validate() error {
	w := c.Scoring.Weights
	for name, v := range map[string]float64{
		"amount": w.Amount, "merchantRisk": w.MerchantRisk, "deviceAge": w.DeviceAge,
		"frequency": w.Frequency, "avgAmount": w.AvgAmount,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%w: weight %s must be in [0,1]", ErrInvalidInput, name)
		}
	}

	m := c.Scoring.Multipliers
	for name, v := range map[string]float64{
		"amountDeviation": m.AmountDeviation, "highRiskMerchant": m.HighRiskMerchant,
		"newDevice": m.NewDevice, "highFrequency": m.HighFrequency,
	} {
		if v < 1 {
			return fmt.Errorf("%w: multiplier %s must be >= 1", ErrInvalidInput, name)
		}
		// A larger amount may swap another boost for the deviation boost,
		// so the deviation factor must not pull the average down.
		if v > m.AmountDeviation {
			return fmt.Errorf("%w: multiplier %s exceeds amountDeviation", ErrInvalidInput, name)
		}
	}

	cc := c.Scoring.Confidence
	if cc.Min < 0 || cc.Max > 1 || cc.Min > cc.Max {
		return fmt.Errorf("%w: confidence bounds must satisfy 0 <= min <= max <= 1", ErrInvalidInput)
	}

	t := c.Scoring.Thresholds
	if !(t.Critical >= t.High && t.High >= t.HighRisk && t.HighRisk >= t.MediumRisk &&
		t.MediumRisk >= t.Low && t.Low >= 0 && t.Critical <= 100) {
		return fmt.Errorf("%w: risk thresholds must be ordered within [0,100]", ErrInvalidInput)
	}

	f := c.Features
	if f.AmountScale <= 0 || f.DeviceAgeScale <= 0 || f.FrequencyScale <= 0 || f.AvgAmountScale <= 0 {
		return fmt.Errorf("%w: normalization constants must be positive", ErrInvalidInput)
	}
	if f.FrequencyWindow <= 0 || f.HistoryWindow <= 0 {
		return fmt.Errorf("%w: feature windows must be positive", ErrInvalidInput)
	}
	for name, v := range map[string]float64{
		"patternNeutral": f.PatternNeutral, "patternLow": f.PatternLow,
		"patternMedium": f.PatternMedium, "patternHigh": f.PatternHigh,
		"deviceRiskHigh": f.DeviceRiskHigh, "deviceRiskLow": f.DeviceRiskLow,
		"userBehaviorNew": f.UserBehaviorNew, "userBehaviorEstablished": f.UserBehaviorEstablished,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%w: feature value %s must be in [0,1]", ErrInvalidInput, name)
		}
	}
	if !(f.PatternLow <= f.PatternMedium && f.PatternMedium <= f.PatternHigh) {
		return fmt.Errorf("%w: pattern values must satisfy low <= medium <= high", ErrInvalidInput)
	}
	if f.ZScoreMedium <= 0 || f.ZScoreHigh < f.ZScoreMedium {
		return fmt.Errorf("%w: z-score cutoffs must satisfy 0 < medium <= high", ErrInvalidInput)
	}

	if c.Training.MinSamples < 1 || c.Training.RetrainLimit < c.Training.MinSamples {
		return fmt.Errorf("%w: retrain limit must be >= min samples >= 1", ErrInvalidInput)
	}

	s := c.Simulation
	if s.Interval <= 0 {
		return fmt.Errorf("%w: simulation interval must be positive", ErrInvalidInput)
	}
	if len(s.Amounts) == 0 {
		return fmt.Errorf("%w: simulation needs at least one amount pattern", ErrInvalidInput)
	}
	for _, p := range s.Amounts {
		if p.Weight < 0 {
			return fmt.Errorf("%w: amount pattern %q has negative weight", ErrInvalidInput, p.Name)
		}
		if len(p.Values) == 0 && (p.Min <= 0 || p.Max < p.Min) {
			return fmt.Errorf("%w: amount pattern %q needs 0 < min <= max", ErrInvalidInput, p.Name)
		}
	}
	for _, inj := range s.Injectors {
		switch inj.Name {
		case InjectRapidSuccession, InjectOffHours, InjectAmountDeviation, InjectFirstPairing:
		default:
			return fmt.Errorf("%w: unknown injector %q", ErrInvalidInput, inj.Name)
		}
	}
	return nil
}
