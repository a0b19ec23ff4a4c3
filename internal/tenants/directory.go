// Package tenants maintains the tenant directory: an in-memory cache of
// active tenant records over a persistent store.Repo backend.
//
// Inbound routing resolves tenants by their assistant-facing phone; admin
// commands and the management API resolve them by id. Reload refreshes the
// cache from the backend and reports what changed; on backend failure the
// last good cache stays in service.
package tenants

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/citabot/citabot/internal/models"
	"github.com/citabot/citabot/internal/store"
)

// Directory is the cached tenant registry. All methods are safe for
// concurrent use.
type Directory struct {
	mu      sync.RWMutex
	repo    store.Repo
	byID    map[string]models.Tenant
	byCode  map[string]string // tenant code -> tenant id
	byPhone map[string]string // assistant phone -> tenant id
}

// NewDirectory creates a directory and populates the cache from the repo.
func NewDirectory(repo store.Repo) (*Directory, error) {
	d := &Directory{
		repo:    repo,
		byID:    make(map[string]models.Tenant),
		byCode:  make(map[string]string),
		byPhone: make(map[string]string),
	}
	if _, _, err := d.Reload(); err != nil {
		return nil, fmt.Errorf("failed to load tenant directory: %w", err)
	}
	return d, nil
}

// Reload refreshes the cache from the backend and returns the ids of
// tenants added and removed relative to the previous cache. If the backend
// read fails the previous cache is kept and the error is returned.
func (d *Directory) Reload() (added, removed []string, err error) {
	all, err := d.repo.ListTenants()
	if err != nil {
		slog.Error("Directory.Reload: backend read failed, keeping last good cache", "error", err)
		return nil, nil, fmt.Errorf("failed to reload tenants: %w", err)
	}

	next := make(map[string]models.Tenant)
	nextCode := make(map[string]string)
	nextPhone := make(map[string]string)
	for _, t := range all {
		if t.Status != models.TenantStatusActive {
			continue
		}
		next[t.ID] = t
		nextCode[t.Code] = t.ID
		nextPhone[t.AssistantPhone] = t.ID
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for id := range next {
		if _, ok := d.byID[id]; !ok {
			added = append(added, id)
		}
	}
	for id := range d.byID {
		if _, ok := next[id]; !ok {
			removed = append(removed, id)
		}
	}
	d.byID = next
	d.byCode = nextCode
	d.byPhone = nextPhone

	slog.Info("Directory.Reload: tenant cache refreshed", "total", len(next), "added", len(added), "removed", len(removed))
	return added, removed, nil
}

// ListActive returns all active tenants.
func (d *Directory) ListActive() []models.Tenant {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]models.Tenant, 0, len(d.byID))
	for _, t := range d.byID {
		out = append(out, t)
	}
	return out
}

// GetByID returns the active tenant with the given id.
func (d *Directory) GetByID(id string) (*models.Tenant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.byID[id]
	if !ok {
		return nil, models.ErrTenantNotFound
	}
	return &t, nil
}

// GetByCode returns the active tenant with the given command code.
func (d *Directory) GetByCode(code string) (*models.Tenant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.byCode[code]
	if !ok {
		return nil, models.ErrTenantNotFound
	}
	t := d.byID[id]
	return &t, nil
}

// GetByAssistantPhone resolves the tenant serving the given assistant-facing
// phone. Provider JID suffixes ("@c.us" and friends) are stripped before
// matching.
func (d *Directory) GetByAssistantPhone(phone string) (*models.Tenant, error) {
	clean := models.StripJIDSuffix(phone)
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.byPhone[clean]
	if !ok {
		return nil, models.ErrTenantNotFound
	}
	t := d.byID[id]
	return &t, nil
}

// Create validates and persists a new tenant. A missing id is assigned a
// fresh UUID; the tenant starts active with the bot enabled unless the
// record says otherwise.
func (d *Directory) Create(t models.Tenant) (*models.Tenant, error) {
	t.AdminPhone = models.StripJIDSuffix(t.AdminPhone)
	t.AssistantPhone = models.StripJIDSuffix(t.AssistantPhone)
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = models.TenantStatusActive
	}
	now := time.Now()
	t.CreatedAt = now
	t.UpdatedAt = now

	d.mu.Lock()
	defer d.mu.Unlock()
	if existing, ok := d.byCode[t.Code]; ok && existing != t.ID {
		return nil, models.ErrDuplicateTenantCode
	}
	if existing, ok := d.byPhone[t.AssistantPhone]; ok && existing != t.ID {
		return nil, models.ErrDuplicateAssistantPhone
	}
	if err := d.repo.CreateTenant(t); err != nil {
		slog.Error("Directory.Create: persist failed", "error", err, "id", t.ID)
		return nil, err
	}
	if t.Status == models.TenantStatusActive {
		d.byID[t.ID] = t
		d.byCode[t.Code] = t.ID
		d.byPhone[t.AssistantPhone] = t.ID
	}
	slog.Info("Directory.Create: tenant created", "id", t.ID, "name", t.Name, "assistant_phone", t.AssistantPhone)
	return &t, nil
}

// Update validates and persists changes to an existing tenant.
func (d *Directory) Update(t models.Tenant) (*models.Tenant, error) {
	t.AdminPhone = models.StripJIDSuffix(t.AdminPhone)
	t.AssistantPhone = models.StripJIDSuffix(t.AssistantPhone)
	if err := t.Validate(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	prev, ok := d.byID[t.ID]
	if !ok {
		return nil, models.ErrTenantNotFound
	}
	if existing, dup := d.byCode[t.Code]; dup && existing != t.ID {
		return nil, models.ErrDuplicateTenantCode
	}
	if existing, dup := d.byPhone[t.AssistantPhone]; dup && existing != t.ID {
		return nil, models.ErrDuplicateAssistantPhone
	}
	t.Status = prev.Status
	t.CreatedAt = prev.CreatedAt
	t.UpdatedAt = time.Now()
	if err := d.repo.UpdateTenant(t); err != nil {
		slog.Error("Directory.Update: persist failed", "error", err, "id", t.ID)
		return nil, err
	}
	if prev.Code != t.Code {
		delete(d.byCode, prev.Code)
	}
	if prev.AssistantPhone != t.AssistantPhone {
		delete(d.byPhone, prev.AssistantPhone)
	}
	d.byID[t.ID] = t
	d.byCode[t.Code] = t.ID
	d.byPhone[t.AssistantPhone] = t.ID
	slog.Info("Directory.Update: tenant updated", "id", t.ID, "name", t.Name)
	return &t, nil
}

// SoftDelete marks a tenant deleted and drops it from routing. The record
// stays in the backend.
func (d *Directory) SoftDelete(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.byID[id]
	if !ok {
		return models.ErrTenantNotFound
	}
	if err := d.repo.DeleteTenant(id); err != nil {
		slog.Error("Directory.SoftDelete: persist failed", "error", err, "id", id)
		return err
	}
	delete(d.byID, id)
	delete(d.byCode, t.Code)
	delete(d.byPhone, t.AssistantPhone)
	slog.Info("Directory.SoftDelete: tenant removed from routing", "id", id, "name", t.Name)
	return nil
}

// SetBotEnabled flips the bot on/off flag for a tenant.
func (d *Directory) SetBotEnabled(id string, enabled bool) (*models.Tenant, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.byID[id]
	if !ok {
		return nil, models.ErrTenantNotFound
	}
	if t.BotEnabled == enabled {
		return &t, nil
	}
	t.BotEnabled = enabled
	t.UpdatedAt = time.Now()
	if err := d.repo.UpdateTenant(t); err != nil {
		slog.Error("Directory.SetBotEnabled: persist failed", "error", err, "id", id)
		return nil, err
	}
	d.byID[id] = t
	slog.Info("Directory.SetBotEnabled: bot flag changed", "id", id, "enabled", enabled)
	return &t, nil
}

// Stats summarizes the active registry: total tenants, how many have the
// bot enabled, how many have it paused.
func (d *Directory) Stats() models.TenantStats {
	d.mu.RLock()
	defer d.mu.RUnlock()
	stats := models.TenantStats{Total: len(d.byID)}
	for _, t := range d.byID {
		if t.BotEnabled {
			stats.Active++
		} else {
			stats.Inactive++
		}
	}
	return stats
}
