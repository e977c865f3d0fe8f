package rides

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/prashanthspeshway/riderapp-backend/internal/models"
)

// MemStore is an in-memory Store with the same conditional-update
// semantics as GormStore. It backs package tests and the dispatch and
// verification test suites.
type MemStore struct {
	mu     sync.Mutex
	nextID uint
	rides  map[uint]*models.Ride
}

func NewMemStore() *MemStore {
	return &MemStore{nextID: 1, rides: make(map[uint]*models.Ride)}
}

func (s *MemStore) Create(ctx context.Context, ride *models.Ride) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ride.ID = s.nextID
	s.nextID++
	if ride.CreatedAt.IsZero() {
		ride.CreatedAt = time.Now()
	}
	cp := *ride
	s.rides[ride.ID] = &cp
	return nil
}

func (s *MemStore) GetByID(ctx context.Context, id uint) (*models.Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ride, ok := s.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *ride
	return &cp, nil
}

func (s *MemStore) UpdateIfStatus(ctx context.Context, id uint, expectedStatus string, patch map[string]interface{}) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ride, ok := s.rides[id]
	if !ok || ride.Status != expectedStatus {
		return false, nil
	}
	applyPatch(ride, patch)
	ride.UpdatedAt = time.Now()
	return true, nil
}

func (s *MemStore) ListByStatus(ctx context.Context, status string, limit int) ([]models.Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Ride
	for _, r := range s.rides {
		if r.Status == status {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemStore) ListForParty(ctx context.Context, partyID uint, limit int) ([]models.Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Ride
	for _, r := range s.rides {
		if r.RiderID == partyID || (r.DriverID != nil && *r.DriverID == partyID) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemStore) FindActiveByParty(ctx context.Context, partyID uint) (*models.Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *models.Ride
	for _, r := range s.rides {
		if models.IsTerminalStatus(r.Status) {
			continue
		}
		if r.RiderID == partyID || (r.DriverID != nil && *r.DriverID == partyID) {
			if found == nil || r.CreatedAt.After(found.CreatedAt) {
				found = r
			}
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	cp := *found
	return &cp, nil
}

// applyPatch mirrors the column names GormStore writes through
// UpdateIfStatus.
func applyPatch(ride *models.Ride, patch map[string]interface{}) {
	for k, v := range patch {
		switch k {
		case "status":
			ride.Status = v.(string)
		case "driver_id":
			switch id := v.(type) {
			case *uint:
				ride.DriverID = id
			case uint:
				ride.DriverID = &id
			}
		case "accepted_at":
			ride.AcceptedAt = toTimePtr(v)
		case "started_at":
			ride.StartedAt = toTimePtr(v)
		case "completed_at":
			ride.CompletedAt = toTimePtr(v)
		case "cancelled_at":
			ride.CancelledAt = toTimePtr(v)
		case "cancel_reason":
			ride.CancelReason = v.(string)
		case "otp_code":
			ride.OtpCode = v.(string)
		case "otp_issued_at":
			ride.OtpIssuedAt = toTimePtr(v)
		case "otp_used":
			ride.OtpUsed = v.(bool)
		case "otp_resends":
			ride.OtpResends = v.(int)
		}
	}
}

func toTimePtr(v interface{}) *time.Time {
	switch t := v.(type) {
	case *time.Time:
		return t
	case time.Time:
		return &t
	}
	return nil
}
