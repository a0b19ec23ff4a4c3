// Package store: SQLite-backed Repo implementation.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/citabot/citabot/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteRepo is an SQLite-backed Repo.
type SQLiteRepo struct {
	db *sql.DB
}

// NewSQLiteRepo creates a new SQLite repo with the given options.
// The DSN is a file path to the database file; the parent directory is
// created if it does not exist.
func NewSQLiteRepo(opts ...Option) (*SQLiteRepo, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteRepo invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteRepo DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	slog.Debug("Opening SQLite database connection")
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteRepo{db: db}, nil
}

const tenantColumns = `id, code, name, admin_phone, assistant_phone, assistant_id, bot_enabled, status,
	ultramsg_token, ultramsg_instance_id, ultramsg_webhook_token, created_at, updated_at`

func (s *SQLiteRepo) ListTenants() ([]models.Tenant, error) {
	rows, err := s.db.Query(`SELECT ` + tenantColumns + ` FROM tenants`)
	if err != nil {
		slog.Error("SQLiteRepo ListTenants query failed", "error", err)
		return nil, fmt.Errorf("failed to query tenants: %w", err)
	}
	defer rows.Close()

	var tenants []models.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			slog.Error("SQLiteRepo ListTenants scan failed", "error", err)
			return nil, err
		}
		tenants = append(tenants, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tenant rows: %w", err)
	}
	slog.Debug("SQLiteRepo ListTenants succeeded", "count", len(tenants))
	return tenants, nil
}

func (s *SQLiteRepo) GetTenant(id string) (*models.Tenant, error) {
	row := s.db.QueryRow(`SELECT `+tenantColumns+` FROM tenants WHERE id = ?`, id)
	t, err := scanTenantRow(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrTenantNotFound
	}
	if err != nil {
		slog.Error("SQLiteRepo GetTenant failed", "error", err, "id", id)
		return nil, fmt.Errorf("failed to get tenant %s: %w", id, err)
	}
	return &t, nil
}

func (s *SQLiteRepo) GetTenantByAssistantPhone(phone string) (*models.Tenant, error) {
	row := s.db.QueryRow(`SELECT `+tenantColumns+` FROM tenants WHERE assistant_phone = ? AND status = ?`,
		phone, string(models.TenantStatusActive))
	t, err := scanTenantRow(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrTenantNotFound
	}
	if err != nil {
		slog.Error("SQLiteRepo GetTenantByAssistantPhone failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to get tenant by phone %s: %w", phone, err)
	}
	return &t, nil
}

func (s *SQLiteRepo) CreateTenant(t models.Tenant) error {
	_, err := s.db.Exec(`INSERT INTO tenants (`+tenantColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Code, t.Name, t.AdminPhone, t.AssistantPhone, t.AssistantID, t.BotEnabled, string(t.Status),
		nilIfEmpty(t.UltraMsgToken), nilIfEmpty(t.UltraMsgInstanceID), nilIfEmpty(t.UltraMsgWebhookToken),
		t.CreatedAt, t.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteRepo CreateTenant failed", "error", err, "id", t.ID)
		return fmt.Errorf("failed to insert tenant %s: %w", t.ID, err)
	}
	slog.Debug("SQLiteRepo CreateTenant succeeded", "id", t.ID, "name", t.Name)
	return nil
}

func (s *SQLiteRepo) UpdateTenant(t models.Tenant) error {
	res, err := s.db.Exec(`UPDATE tenants SET code = ?, name = ?, admin_phone = ?, assistant_phone = ?, assistant_id = ?,
		bot_enabled = ?, status = ?, ultramsg_token = ?, ultramsg_instance_id = ?, ultramsg_webhook_token = ?,
		updated_at = ? WHERE id = ?`,
		t.Code, t.Name, t.AdminPhone, t.AssistantPhone, t.AssistantID, t.BotEnabled, string(t.Status),
		nilIfEmpty(t.UltraMsgToken), nilIfEmpty(t.UltraMsgInstanceID), nilIfEmpty(t.UltraMsgWebhookToken),
		t.UpdatedAt, t.ID)
	if err != nil {
		slog.Error("SQLiteRepo UpdateTenant failed", "error", err, "id", t.ID)
		return fmt.Errorf("failed to update tenant %s: %w", t.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrTenantNotFound
	}
	return nil
}

func (s *SQLiteRepo) DeleteTenant(id string) error {
	res, err := s.db.Exec(`UPDATE tenants SET status = ?, updated_at = ? WHERE id = ?`,
		string(models.TenantStatusDeleted), time.Now(), id)
	if err != nil {
		slog.Error("SQLiteRepo DeleteTenant failed", "error", err, "id", id)
		return fmt.Errorf("failed to delete tenant %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrTenantNotFound
	}
	slog.Debug("SQLiteRepo DeleteTenant succeeded", "id", id)
	return nil
}

func (s *SQLiteRepo) AddReceipt(r models.Receipt) error {
	_, err := s.db.Exec(`INSERT INTO receipts (recipient, status, time) VALUES (?, ?, ?)`, r.To, r.Status, r.Time)
	if err != nil {
		slog.Error("SQLiteRepo AddReceipt failed", "error", err, "to", r.To)
		return fmt.Errorf("failed to insert receipt for %s: %w", r.To, err)
	}
	return nil
}

func (s *SQLiteRepo) GetReceipts() ([]models.Receipt, error) {
	rows, err := s.db.Query(`SELECT recipient, status, time FROM receipts`)
	if err != nil {
		slog.Error("SQLiteRepo GetReceipts query failed", "error", err)
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

// Close closes the SQLite database connection.
func (s *SQLiteRepo) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}
