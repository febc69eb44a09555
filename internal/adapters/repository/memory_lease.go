package repository

import (
	"context"
	"sync"
	"time"

	"botflow/internal/core/domain"
	"botflow/internal/core/ports"
)

var _ ports.LeaseStore = (*MemoryLeaseStore)(nil)

// MemoryLeaseStore is a process-local lease, for single-instance runs and tests.
// Instances sharing one store behave like instances sharing Redis.
type MemoryLeaseStore struct {
	mu    sync.Mutex
	lease *domain.Lease
	now   func() time.Time
}

// NewMemoryLeaseStore creates an empty lease store. now may be nil.
func NewMemoryLeaseStore(now func() time.Time) *MemoryLeaseStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryLeaseStore{now: now}
}

// TryAcquire implements ports.LeaseStore
func (s *MemoryLeaseStore) TryAcquire(_ context.Context, instanceID string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if s.lease != nil && s.lease.LeaderInstanceID != instanceID && !s.lease.Expired(now, ttl) {
		return false, nil
	}
	s.lease = &domain.Lease{LeaderInstanceID: instanceID, LastHeartbeatAt: now}
	return true, nil
}

// Renew implements ports.LeaseStore
func (s *MemoryLeaseStore) Renew(_ context.Context, instanceID string, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lease == nil || s.lease.LeaderInstanceID != instanceID {
		return false, nil
	}
	s.lease.LastHeartbeatAt = s.now()
	return true, nil
}

// Read implements ports.LeaseStore
func (s *MemoryLeaseStore) Read(_ context.Context) (*domain.Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lease == nil {
		return nil, nil
	}
	cp := *s.lease
	return &cp, nil
}
