// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// Inserts fill in ID and timestamp when empty and update the passed row.
type Repository interface {
	// Entity operations
	SaveUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	ListUsers(ctx context.Context, limit int) ([]*User, error)

	SaveDevice(ctx context.Context, d *Device) error
	GetDevice(ctx context.Context, id string) (*Device, error)
	ListDevices(ctx context.Context, limit int) ([]*Device, error)
	ListDevicesByUser(ctx context.Context, userID string) ([]*Device, error)

	SaveMerchant(ctx context.Context, m *Merchant) error
	GetMerchant(ctx context.Context, id string) (*Merchant, error)
	ListMerchants(ctx context.Context, limit int) ([]*Merchant, error)

	// Transaction operations
	SaveTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, id string) (*Transaction, error)
	CountUserTransactions(ctx context.Context, userID string, since time.Time) (int64, error)
	CountDeviceTransactions(ctx context.Context, deviceID string, since time.Time) (int64, error)
	ListUserTransactions(ctx context.Context, userID string, since time.Time, limit int) ([]*Transaction, error)

	// Scoring outcomes
	SaveRiskSignal(ctx context.Context, s *RiskSignal) error
	ListRiskSignals(ctx context.Context, txID string) ([]*RiskSignal, error)
	SaveAlert(ctx context.Context, a *Alert) error
	ListAlerts(ctx context.Context, status string, limit int) ([]*Alert, error)
	ResolveAlert(ctx context.Context, id string) error

	// Training and models
	SaveTrainingExample(ctx context.Context, ex *TrainingExample) error
	ListTrainingExamples(ctx context.Context, limit int) ([]*TrainingExample, error)
	CountTrainingExamples(ctx context.Context) (int64, error)
	SaveModel(ctx context.Context, m *Model) error
	LatestModel(ctx context.Context, kind string) (*Model, error)

	// Rule configuration operations
	SaveRuleConfig(ctx context.Context, rule *RuleConfig) error
	ListRuleConfigs(ctx context.Context) ([]*RuleConfig, error)

	// DashboardStats returns the aggregate counters. Signals at or above
	// highRisk are counted as high risk.
	DashboardStats(ctx context.Context, highRisk int) (*DashboardStats, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `json:"driver" yaml:"driver"`

	// SQLite specific
	SQLitePath string `json:"sqlitePath" yaml:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `json:"postgresHost" yaml:"postgres_host"`
	PostgresPort     int    `json:"postgresPort" yaml:"postgres_port"`
	PostgresUser     string `json:"postgresUser" yaml:"postgres_user"`
	PostgresPassword string `json:"postgresPassword" yaml:"postgres_password"`
	PostgresDB       string `json:"postgresDb" yaml:"postgres_db"`
	PostgresSSLMode  string `json:"postgresSslMode" yaml:"postgres_ssl_mode"`

	// PostgresURL overrides the individual fields when set.
	PostgresURL string `json:"postgresUrl" yaml:"postgres_url"`

	// Connection pool settings
	MaxOpenConns    int           `json:"maxOpenConns" yaml:"max_open_conns"`
	MaxIdleConns    int           `json:"maxIdleConns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" yaml:"conn_max_lifetime"`
}
