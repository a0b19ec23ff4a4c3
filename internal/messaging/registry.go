package messaging

import (
	"context"
	"log/slog"
	"sync"

	"github.com/citabot/citabot/internal/models"
)

// Factory builds a per-tenant service from the tenant's transport
// credentials.
type Factory func(t models.Tenant) (Service, error)

// defaultFactory builds an UltraMsg service from the tenant's instance
// credentials.
func defaultFactory(t models.Tenant) (Service, error) {
	return NewUltraMsgService(WithUltraMsgInstance(t.UltraMsgInstanceID, t.UltraMsgToken))
}

type registryEntry struct {
	svc        Service
	instanceID string
	token      string
}

// Registry routes outbound sends to the right transport per tenant.
// Tenants with their own gateway credentials get a dedicated service;
// everyone else shares the fallback.
type Registry struct {
	mu       sync.RWMutex
	fallback Service
	factory  Factory
	byTenant map[string]registryEntry
}

// NewRegistry creates a registry over the given fallback service.
func NewRegistry(fallback Service) *Registry {
	return &Registry{
		fallback: fallback,
		factory:  defaultFactory,
		byTenant: make(map[string]registryEntry),
	}
}

// WithFactory replaces the per-tenant service factory (tests use this).
func (r *Registry) WithFactory(f Factory) *Registry {
	r.factory = f
	return r
}

// Rebuild synchronizes per-tenant services with the current tenant set:
// new credentials get a service, changed credentials get a replacement,
// tenants that vanished get their service stopped.
func (r *Registry) Rebuild(tenants []models.Tenant) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool, len(tenants))
	for _, t := range tenants {
		if t.UltraMsgInstanceID == "" || t.UltraMsgToken == "" {
			continue
		}
		seen[t.ID] = true

		if entry, ok := r.byTenant[t.ID]; ok {
			if entry.instanceID == t.UltraMsgInstanceID && entry.token == t.UltraMsgToken {
				continue
			}
			if err := entry.svc.Stop(); err != nil {
				slog.Warn("Registry.Rebuild: failed to stop stale service", "error", err, "tenant", t.ID)
			}
		}

		svc, err := r.factory(t)
		if err != nil {
			slog.Error("Registry.Rebuild: failed to build service, tenant falls back to default", "error", err, "tenant", t.ID)
			delete(r.byTenant, t.ID)
			continue
		}
		r.byTenant[t.ID] = registryEntry{svc: svc, instanceID: t.UltraMsgInstanceID, token: t.UltraMsgToken}
		slog.Info("Registry.Rebuild: per-tenant service ready", "tenant", t.ID, "instanceID", t.UltraMsgInstanceID)
	}

	for id, entry := range r.byTenant {
		if seen[id] {
			continue
		}
		if err := entry.svc.Stop(); err != nil {
			slog.Warn("Registry.Rebuild: failed to stop removed service", "error", err, "tenant", id)
		}
		delete(r.byTenant, id)
		slog.Info("Registry.Rebuild: per-tenant service removed", "tenant", id)
	}
}

// ServiceFor returns the transport for a tenant: its dedicated service if
// one exists, the fallback otherwise.
func (r *Registry) ServiceFor(tenantID string) Service {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if entry, ok := r.byTenant[tenantID]; ok {
		return entry.svc
	}
	return r.fallback
}

// Fallback returns the shared default service.
func (r *Registry) Fallback() Service {
	return r.fallback
}

// Statuses probes every transport that supports status checks, keyed by
// tenant id with "default" for the fallback.
func (r *Registry) Statuses(ctx context.Context) map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]string, len(r.byTenant)+1)
	if checker, ok := r.fallback.(StatusChecker); ok {
		out["default"] = probeStatus(ctx, checker)
	}
	for id, entry := range r.byTenant {
		if checker, ok := entry.svc.(StatusChecker); ok {
			out[id] = probeStatus(ctx, checker)
		}
	}
	return out
}

func probeStatus(ctx context.Context, checker StatusChecker) string {
	status, err := checker.CheckStatus(ctx)
	if err != nil {
		slog.Warn("Registry status probe failed", "error", err)
		return "error"
	}
	return status
}

// StopAll stops every per-tenant service and the fallback.
func (r *Registry) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, entry := range r.byTenant {
		if err := entry.svc.Stop(); err != nil {
			slog.Warn("Registry.StopAll: stop failed", "error", err, "tenant", id)
		}
	}
	r.byTenant = make(map[string]registryEntry)
	if err := r.fallback.Stop(); err != nil {
		slog.Warn("Registry.StopAll: fallback stop failed", "error", err)
	}
}
