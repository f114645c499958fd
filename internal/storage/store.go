package storage

import (
	"context"
	"sync"

	"github.com/example/ride-dispatch/internal/models"
)

// RideStore persists rides. Implementations return models.ErrNotFound for
// unknown ids. Mutual exclusion is the coordinator's job; stores only need
// to be safe for concurrent access.
type RideStore interface {
	CreateRide(ctx context.Context, r *models.Ride) error
	GetRide(ctx context.Context, id string) (*models.Ride, error)
	SaveRide(ctx context.Context, r *models.Ride) error
	// RiderHasActiveRide reports whether the rider has a ride in a
	// non-terminal pre-completion state.
	RiderHasActiveRide(ctx context.Context, riderID string) (bool, error)
	// DriverHasActiveRide reports whether the driver is assigned to a ride in
	// ASSIGNED, ARRIVED or ONGOING.
	DriverHasActiveRide(ctx context.Context, driverID string) (bool, error)
}

// DriverStore persists driver records.
type DriverStore interface {
	CreateDriver(ctx context.Context, d *models.Driver) error
	GetDriver(ctx context.Context, id string) (*models.Driver, error)
	SaveDriver(ctx context.Context, d *models.Driver) error
}

// MemoryStore backs both stores for local runs and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	rides   map[string]models.Ride
	drivers map[string]models.Driver
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rides:   make(map[string]models.Ride),
		drivers: make(map[string]models.Driver),
	}
}

func cloneRide(r models.Ride) *models.Ride {
	cp := r
	cp.RejectedDriverIDs = append([]string(nil), r.RejectedDriverIDs...)
	return &cp
}

func (m *MemoryStore) CreateRide(_ context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rides[r.ID] = *cloneRide(*r)
	return nil
}

func (m *MemoryStore) GetRide(_ context.Context, id string) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return cloneRide(r), nil
}

func (m *MemoryStore) SaveRide(_ context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rides[r.ID]; !ok {
		return models.ErrNotFound
	}
	m.rides[r.ID] = *cloneRide(*r)
	return nil
}

func (m *MemoryStore) RiderHasActiveRide(_ context.Context, riderID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.rides {
		if r.RiderID != riderID {
			continue
		}
		switch r.Status {
		case models.RideSearching, models.RideOffered, models.RideAssigned,
			models.RideArrived, models.RideOngoing:
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) DriverHasActiveRide(_ context.Context, driverID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.rides {
		if r.DriverID == driverID && r.Status.Active() {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) CreateDriver(_ context.Context, d *models.Driver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[d.ID] = *d
	return nil
}

func (m *MemoryStore) GetDriver(_ context.Context, id string) (*models.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drivers[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := d
	return &cp, nil
}

func (m *MemoryStore) SaveDriver(_ context.Context, d *models.Driver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.drivers[d.ID]; !ok {
		return models.ErrNotFound
	}
	m.drivers[d.ID] = *d
	return nil
}
