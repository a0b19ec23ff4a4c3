// Package store: PostgreSQL-backed Repo implementation.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/citabot/citabot/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresRepo is a PostgreSQL-backed Repo.
type PostgresRepo struct {
	db *sql.DB
}

// NewPostgresRepo creates a new Postgres repo based on provided options.
func NewPostgresRepo(opts ...Option) (*PostgresRepo, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresRepo invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresRepo DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresRepo{db: db}, nil
}

func (s *PostgresRepo) ListTenants() ([]models.Tenant, error) {
	rows, err := s.db.Query(`SELECT ` + tenantColumns + ` FROM tenants`)
	if err != nil {
		slog.Error("PostgresRepo ListTenants query failed", "error", err)
		return nil, fmt.Errorf("failed to query tenants: %w", err)
	}
	defer rows.Close()

	var tenants []models.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			slog.Error("PostgresRepo ListTenants scan failed", "error", err)
			return nil, err
		}
		tenants = append(tenants, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tenant rows: %w", err)
	}
	return tenants, nil
}

func (s *PostgresRepo) GetTenant(id string) (*models.Tenant, error) {
	row := s.db.QueryRow(`SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id)
	t, err := scanTenantRow(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrTenantNotFound
	}
	if err != nil {
		slog.Error("PostgresRepo GetTenant failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to get tenant %s: %w", id, err)
	}
	return &t, nil
}

func (s *PostgresRepo) GetTenantByAssistantPhone(phone string) (*models.Tenant, error) {
	row := s.db.QueryRow(`SELECT `+tenantColumns+` FROM tenants WHERE assistant_phone = $1 AND status = $2`,
		phone, string(models.TenantStatusActive))
	t, err := scanTenantRow(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrTenantNotFound
	}
	if err != nil {
		slog.Error("PostgresRepo GetTenantByAssistantPhone failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to get tenant by phone %s: %w", phone, err)
	}
	return &t, nil
}

func (s *PostgresRepo) CreateTenant(t models.Tenant) error {
	_, err := s.db.Exec(`INSERT INTO tenants (`+tenantColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		t.ID, t.Code, t.Name, t.AdminPhone, t.AssistantPhone, t.AssistantID, t.BotEnabled, string(t.Status),
		nilIfEmpty(t.UltraMsgToken), nilIfEmpty(t.UltraMsgInstanceID), nilIfEmpty(t.UltraMsgWebhookToken),
		t.CreatedAt, t.UpdatedAt)
	if err != nil {
		slog.Error("PostgresRepo CreateTenant failed", "error", err, "id", t.ID)
		return fmt.Errorf("failed to insert tenant %s: %w", t.ID, err)
	}
	return nil
}

func (s *PostgresRepo) UpdateTenant(t models.Tenant) error {
	res, err := s.db.Exec(`UPDATE tenants SET code = $1, name = $2, admin_phone = $3, assistant_phone = $4,
		assistant_id = $5, bot_enabled = $6, status = $7, ultramsg_token = $8, ultramsg_instance_id = $9,
		ultramsg_webhook_token = $10, updated_at = $11 WHERE id = $12`,
		t.Code, t.Name, t.AdminPhone, t.AssistantPhone, t.AssistantID, t.BotEnabled, string(t.Status),
		nilIfEmpty(t.UltraMsgToken), nilIfEmpty(t.UltraMsgInstanceID), nilIfEmpty(t.UltraMsgWebhookToken),
		t.UpdatedAt, t.ID)
	if err != nil {
		slog.Error("PostgresRepo UpdateTenant failed", "error", err, "id", t.ID)
		return fmt.Errorf("failed to update tenant %s: %w", t.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrTenantNotFound
	}
	return nil
}

func (s *PostgresRepo) DeleteTenant(id string) error {
	res, err := s.db.Exec(`UPDATE tenants SET status = $1, updated_at = $2 WHERE id = $3`,
		string(models.TenantStatusDeleted), time.Now(), id)
	if err != nil {
		slog.Error("PostgresRepo DeleteTenant failed", "error", err, "id", id)
		return fmt.Errorf("failed to delete tenant %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrTenantNotFound
	}
	return nil
}

func (s *PostgresRepo) AddReceipt(r models.Receipt) error {
	_, err := s.db.Exec(`INSERT INTO receipts (recipient, status, time) VALUES ($1, $2, $3)`, r.To, r.Status, r.Time)
	if err != nil {
		slog.Error("PostgresRepo AddReceipt failed", "error", err, "to", r.To)
		return fmt.Errorf("failed to insert receipt for %s: %w", r.To, err)
	}
	return nil
}

func (s *PostgresRepo) GetReceipts() ([]models.Receipt, error) {
	rows, err := s.db.Query(`SELECT recipient, status, time FROM receipts`)
	if err != nil {
		slog.Error("PostgresRepo GetReceipts query failed", "error", err)
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer rows.Close()

	var receipts []models.Receipt
	for rows.Next() {
		var r models.Receipt
		if err := rows.Scan(&r.To, &r.Status, &r.Time); err != nil {
			return nil, fmt.Errorf("failed to scan receipt row: %w", err)
		}
		receipts = append(receipts, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate receipt rows: %w", err)
	}
	return receipts, nil
}

// Close closes the Postgres database connection.
func (s *PostgresRepo) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}
