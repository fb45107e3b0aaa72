// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = domain.ErrNotFound
	ErrInvalidInput = domain.ErrInvalidInput
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("%w: unsupported driver: %s", ErrInvalidInput, cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w: %w", domain.ErrDependencyUnavailable, err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveUser stores a user.
func (r *SQLRepository) SaveUser(ctx context.Context, u *domain.User) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now()
	}

	query := `INSERT INTO users (id, name, email, created_at) VALUES (?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, r.rebind(query), u.ID, u.Name, u.Email, u.CreatedAt)
	return unavailable("save user", err)
}

// GetUser retrieves a user by ID.
func (r *SQLRepository) GetUser(ctx context.Context, id string) (*domain.User, error) {
	query := `SELECT id, name, email, created_at FROM users WHERE id = ?`

	var u domain.User
	err := r.db.QueryRowContext(ctx, r.rebind(query), id).Scan(&u.ID, &u.Name, &u.Email, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get user", err)
	}
	return &u, nil
}

// ListUsers returns users newest first.
func (r *SQLRepository) ListUsers(ctx context.Context, limit int) ([]*domain.User, error) {
	query := `SELECT id, name, email, created_at FROM users ORDER BY created_at DESC, id LIMIT ?`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), limitOrDefault(limit))
	if err != nil {
		return nil, unavailable("list users", err)
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, &u)
	}
	return users, rows.Err()
}

// SaveDevice stores a device. LastSeen defaults to now.
func (r *SQLRepository) SaveDevice(ctx context.Context, d *domain.Device) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.LastSeen.IsZero() {
		d.LastSeen = now()
	}

	query := `INSERT INTO devices (id, user_id, fingerprint, last_seen) VALUES (?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, r.rebind(query), d.ID, nullString(d.UserID), d.Fingerprint, d.LastSeen.UTC())
	return unavailable("save device", err)
}

const deviceColumns = `id, user_id, fingerprint, last_seen`

func scanDevice(s scanner) (*domain.Device, error) {
	var d domain.Device
	var userID sql.NullString
	if err := s.Scan(&d.ID, &userID, &d.Fingerprint, &d.LastSeen); err != nil {
		return nil, err
	}
	d.UserID = userID.String
	return &d, nil
}

// GetDevice retrieves a device by ID.
func (r *SQLRepository) GetDevice(ctx context.Context, id string) (*domain.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE id = ?`

	d, err := scanDevice(r.db.QueryRowContext(ctx, r.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get device", err)
	}
	return d, nil
}

// ListDevices returns devices most recently seen first.
func (r *SQLRepository) ListDevices(ctx context.Context, limit int) ([]*domain.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices ORDER BY last_seen DESC, id LIMIT ?`
	return r.queryDevices(ctx, "list devices", query, limitOrDefault(limit))
}

// ListDevicesByUser returns the devices currently owned by a user.
func (r *SQLRepository) ListDevicesByUser(ctx context.Context, userID string) ([]*domain.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE user_id = ? ORDER BY last_seen DESC, id`
	return r.queryDevices(ctx, "list user devices", query, userID)
}

func (r *SQLRepository) queryDevices(ctx context.Context, op, query string, args ...any) ([]*domain.Device, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, unavailable(op, err)
	}
	defer rows.Close()

	var devices []*domain.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// SaveMerchant stores a merchant.
func (r *SQLRepository) SaveMerchant(ctx context.Context, m *domain.Merchant) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.RiskLevel < 0 || m.RiskLevel > 100 {
		return fmt.Errorf("%w: merchant risk level must be in [0,100]", ErrInvalidInput)
	}

	query := `INSERT INTO merchants (id, name, category, risk_level) VALUES (?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, r.rebind(query), m.ID, m.Name, m.Category, m.RiskLevel)
	return unavailable("save merchant", err)
}

// GetMerchant retrieves a merchant by ID.
func (r *SQLRepository) GetMerchant(ctx context.Context, id string) (*domain.Merchant, error) {
	query := `SELECT id, name, category, risk_level FROM merchants WHERE id = ?`

	var m domain.Merchant
	err := r.db.QueryRowContext(ctx, r.rebind(query), id).Scan(&m.ID, &m.Name, &m.Category, &m.RiskLevel)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get merchant", err)
	}
	return &m, nil
}

// ListMerchants returns merchants riskiest first.
func (r *SQLRepository) ListMerchants(ctx context.Context, limit int) ([]*domain.Merchant, error) {
	query := `SELECT id, name, category, risk_level FROM merchants ORDER BY risk_level DESC, id LIMIT ?`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), limitOrDefault(limit))
	if err != nil {
		return nil, unavailable("list merchants", err)
	}
	defer rows.Close()

	var merchants []*domain.Merchant
	for rows.Next() {
		var m domain.Merchant
		if err := rows.Scan(&m.ID, &m.Name, &m.Category, &m.RiskLevel); err != nil {
			return nil, err
		}
		merchants = append(merchants, &m)
	}
	return merchants, rows.Err()
}

// SaveTransaction stores a transaction. Transactions are immutable once saved.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	if err := domain.ValidateTransactionInput(tx.UserID, tx.DeviceID, tx.MerchantID, tx.Amount); err != nil {
		return err
	}
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	if tx.Timestamp.IsZero() {
		tx.Timestamp = now()
	}
	if tx.Status == "" {
		tx.Status = domain.TransactionCompleted
	}

	query := `
		INSERT INTO transactions (
			id, user_id, device_id, merchant_id, amount, status, note, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tx.UserID, tx.DeviceID, tx.MerchantID,
		tx.Amount.StringFixed(2), tx.Status, tx.Note, tx.Timestamp.UTC(),
	)
	return unavailable("save transaction", err)
}

const transactionColumns = `id, user_id, device_id, merchant_id, amount, status, note, timestamp`

func scanTransaction(s scanner) (*domain.Transaction, error) {
	var tx domain.Transaction
	if err := s.Scan(
		&tx.ID, &tx.UserID, &tx.DeviceID, &tx.MerchantID,
		&tx.Amount, &tx.Status, &tx.Note, &tx.Timestamp,
	); err != nil {
		return nil, err
	}
	return &tx, nil
}

// GetTransaction retrieves a transaction by ID.
func (r *SQLRepository) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = ?`

	tx, err := scanTransaction(r.db.QueryRowContext(ctx, r.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get transaction", err)
	}
	return tx, nil
}

// CountUserTransactions counts a user's transactions at or after since.
// A zero since counts the user's lifetime.
func (r *SQLRepository) CountUserTransactions(ctx context.Context, userID string, since time.Time) (int64, error) {
	query := `SELECT COUNT(*) FROM transactions WHERE user_id = ? AND timestamp >= ?`
	return r.count(ctx, "count user transactions", query, userID, since.UTC())
}

// CountDeviceTransactions counts a device's transactions at or after since.
func (r *SQLRepository) CountDeviceTransactions(ctx context.Context, deviceID string, since time.Time) (int64, error) {
	query := `SELECT COUNT(*) FROM transactions WHERE device_id = ? AND timestamp >= ?`
	return r.count(ctx, "count device transactions", query, deviceID, since.UTC())
}

// ListUserTransactions returns a user's transactions at or after since,
// newest first.
func (r *SQLRepository) ListUserTransactions(ctx context.Context, userID string, since time.Time, limit int) ([]*domain.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE user_id = ? AND timestamp >= ?
		ORDER BY timestamp DESC, id
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), userID, since.UTC(), limitOrDefault(limit))
	if err != nil {
		return nil, unavailable("list user transactions", err)
	}
	defer rows.Close()

	var transactions []*domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return unavailable("ping", r.db.PingContext(ctx))
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func (r *SQLRepository) count(ctx context.Context, op, query string, args ...any) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, r.rebind(query), args...).Scan(&n); err != nil {
		return 0, unavailable(op, err)
	}
	return n, nil
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = strconv.AppendInt(result, int64(n), 10)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}

type scanner interface {
	Scan(dest ...any) error
}

// unavailable tags driver failures as DependencyUnavailable.
func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrDependencyUnavailable, err)
}

// now returns the current time at the precision both drivers keep.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}
