// Package store: in-memory Repo implementation.
//
// Used by tests and by deployments that keep the tenant registry entirely
// in configuration. Nothing survives a restart.
package store

import (
	"sync"

	"github.com/citabot/citabot/internal/models"
)

// InMemoryRepo is a mutex-guarded in-memory Repo implementation.
type InMemoryRepo struct {
	mu       sync.RWMutex
	tenants  map[string]models.Tenant
	receipts []models.Receipt
}

// NewInMemoryRepo creates an empty in-memory repo.
func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{tenants: make(map[string]models.Tenant)}
}

func (s *InMemoryRepo) ListTenants() ([]models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Tenant, 0, len(s.tenants))
	for _, t := range s.tenants {
		out = append(out, t)
	}
	return out, nil
}

func (s *InMemoryRepo) GetTenant(id string) (*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[id]
	if !ok {
		return nil, models.ErrTenantNotFound
	}
	return &t, nil
}

func (s *InMemoryRepo) GetTenantByAssistantPhone(phone string) (*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tenants {
		if t.AssistantPhone == phone && t.Status == models.TenantStatusActive {
			tc := t
			return &tc, nil
		}
	}
	return nil, models.ErrTenantNotFound
}

func (s *InMemoryRepo) CreateTenant(t models.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[t.ID] = t
	return nil
}

func (s *InMemoryRepo) UpdateTenant(t models.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tenants[t.ID]; !ok {
		return models.ErrTenantNotFound
	}
	s.tenants[t.ID] = t
	return nil
}

func (s *InMemoryRepo) DeleteTenant(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[id]
	if !ok {
		return models.ErrTenantNotFound
	}
	t.Status = models.TenantStatusDeleted
	s.tenants[id] = t
	return nil
}

func (s *InMemoryRepo) AddReceipt(r models.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts = append(s.receipts, r)
	return nil
}

func (s *InMemoryRepo) GetReceipts() ([]models.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Receipt, len(s.receipts))
	copy(out, s.receipts)
	return out, nil
}

// Close is a no-op for the in-memory repo.
func (s *InMemoryRepo) Close() error { return nil }
