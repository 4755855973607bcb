package storage

import (
	"context"
	"sync"
	"time"

	"github.com/example/freight-marketplace/internal/models"
)

// MemoryStore is an in-process Store used in tests and as a fallback
// when no Postgres DSN is configured. It enforces the same uniqueness
// constraint as the SQL schema so the allocator's backstop behaves
// identically.
type MemoryStore struct {
	mu          sync.RWMutex
	freights    map[string]models.Freight
	assignments map[string]models.Assignment
	pairs       map[string]string // freightID+"/"+driverID -> assignment id
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		freights:    make(map[string]models.Freight),
		assignments: make(map[string]models.Assignment),
		pairs:       make(map[string]string),
	}
}

func pairKey(freightID, driverID string) string { return freightID + "/" + driverID }

func (m *MemoryStore) GetFreight(ctx context.Context, id string) (*models.Freight, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.freights[id]
	if !ok {
		return nil, ErrFreightNotFound
	}
	return &f, nil
}

func (m *MemoryStore) SaveFreight(ctx context.Context, f *models.Freight) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f.UpdatedAt = time.Now()
	m.freights[f.ID] = *f
	return nil
}

func (m *MemoryStore) CountActiveAssignments(ctx context.Context, freightID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, a := range m.assignments {
		if a.FreightID == freightID && a.Status.OccupiesSlot() {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) AssignmentExists(ctx context.Context, freightID, driverID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.pairs[pairKey(freightID, driverID)]
	return ok, nil
}

func (m *MemoryStore) InsertAssignment(ctx context.Context, a *models.Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pairKey(a.FreightID, a.DriverID)
	if _, ok := m.pairs[key]; ok {
		return ErrDuplicateAssignment
	}
	now := time.Now()
	a.CreatedAt = now
	a.UpdatedAt = now
	m.assignments[a.ID] = *a
	m.pairs[key] = a.ID
	return nil
}

func (m *MemoryStore) GetAssignment(ctx context.Context, id string) (*models.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assignments[id]
	if !ok {
		return nil, ErrAssignmentNotFound
	}
	return &a, nil
}

func (m *MemoryStore) ListAssignments(ctx context.Context, freightID string) ([]models.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Assignment, 0)
	for _, a := range m.assignments {
		if a.FreightID == freightID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *MemoryStore) SetAssignmentPayment(ctx context.Context, id, paymentIntentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assignments[id]
	if !ok {
		return ErrAssignmentNotFound
	}
	a.PaymentIntentID = paymentIntentID
	a.UpdatedAt = time.Now()
	m.assignments[id] = a
	return nil
}

func (m *MemoryStore) UpdateAssignmentStatus(ctx context.Context, id string, status models.AssignmentStatus) (*models.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assignments[id]
	if !ok {
		return nil, ErrAssignmentNotFound
	}
	a.Status = status
	a.UpdatedAt = time.Now()
	m.assignments[id] = a
	return &a, nil
}
