package store

import (
	"database/sql"
	"fmt"

	"github.com/citabot/citabot/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// scanTenant scans a Tenant from sql.Rows.
func scanTenant(rows *sql.Rows) (models.Tenant, error) {
	var t models.Tenant
	var status string
	var umToken, umInstance, umWebhook sql.NullString
	err := rows.Scan(
		&t.ID, &t.Code, &t.Name, &t.AdminPhone, &t.AssistantPhone, &t.AssistantID, &t.BotEnabled, &status,
		&umToken, &umInstance, &umWebhook, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return t, fmt.Errorf("scan tenant failed: %w", err)
	}
	t.Status = models.TenantStatus(status)
	t.UltraMsgToken = umToken.String
	t.UltraMsgInstanceID = umInstance.String
	t.UltraMsgWebhookToken = umWebhook.String
	return t, nil
}

// scanTenantRow scans a Tenant from a single sql.Row.
func scanTenantRow(row *sql.Row) (models.Tenant, error) {
	var t models.Tenant
	var status string
	var umToken, umInstance, umWebhook sql.NullString
	err := row.Scan(
		&t.ID, &t.Code, &t.Name, &t.AdminPhone, &t.AssistantPhone, &t.AssistantID, &t.BotEnabled, &status,
		&umToken, &umInstance, &umWebhook, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return t, err
	}
	t.Status = models.TenantStatus(status)
	t.UltraMsgToken = umToken.String
	t.UltraMsgInstanceID = umInstance.String
	t.UltraMsgWebhookToken = umWebhook.String
	return t, nil
}
