// Package store provides storage backends for the tenant registry and
// delivery receipts.
//
// Three backends implement the same Repo interface: an in-memory store for
// tests and ephemeral deployments, an SQLite store for single-node
// deployments, and a PostgreSQL store for shared deployments. The backend
// is selected from the DSN at startup.
package store

import (
	"strings"

	"github.com/citabot/citabot/internal/models"
)

// Repo is the persistence interface consumed by the tenant directory and
// the API layer. All implementations must be safe for concurrent use.
type Repo interface {
	// ListTenants returns every tenant record, including soft-deleted ones.
	ListTenants() ([]models.Tenant, error)
	// GetTenant returns the tenant with the given id, or
	// models.ErrTenantNotFound.
	GetTenant(id string) (*models.Tenant, error)
	// GetTenantByAssistantPhone returns the active tenant whose
	// assistant-facing phone matches, or models.ErrTenantNotFound.
	GetTenantByAssistantPhone(phone string) (*models.Tenant, error)
	// CreateTenant inserts a new tenant record.
	CreateTenant(t models.Tenant) error
	// UpdateTenant replaces an existing tenant record by id.
	UpdateTenant(t models.Tenant) error
	// DeleteTenant soft-deletes a tenant: the record stays, its status
	// becomes deleted and it drops out of routing.
	DeleteTenant(id string) error

	// AddReceipt records the delivery status of an outbound message.
	AddReceipt(r models.Receipt) error
	// GetReceipts returns all recorded delivery receipts.
	GetReceipts() ([]models.Receipt, error)

	// Close releases the underlying database resources.
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	// DSN is the database connection string.
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType inspects a DSN and reports the matching driver name:
// "postgres" for PostgreSQL URLs and key/value connection strings,
// "sqlite3" for everything else (file paths).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres"
	}
	// Key/value form: "host=... user=... dbname=..."
	for _, kv := range []string{"host=", "user=", "dbname=", "sslmode="} {
		if strings.Contains(dsn, kv) {
			return "postgres"
		}
	}
	return "sqlite3"
}
