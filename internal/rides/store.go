package rides

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/prashanthspeshway/riderapp-backend/internal/models"
)

// Store is the persistence contract the state machine runs against.
// UpdateIfStatus is the single write primitive: a conditional update
// that only applies when the persisted status still matches, so a
// stale caller loses the race instead of overwriting.
type Store interface {
	Create(ctx context.Context, ride *models.Ride) error
	GetByID(ctx context.Context, id uint) (*models.Ride, error)
	UpdateIfStatus(ctx context.Context, id uint, expectedStatus string, patch map[string]interface{}) (bool, error)
	ListByStatus(ctx context.Context, status string, limit int) ([]models.Ride, error)
	ListForParty(ctx context.Context, partyID uint, limit int) ([]models.Ride, error)
	FindActiveByParty(ctx context.Context, partyID uint) (*models.Ride, error)
}

var nonTerminalStatuses = []string{
	models.RideStatusPending,
	models.RideStatusAccepted,
	models.RideStatusStarted,
}

// GormStore is the PostgreSQL-backed Store.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Create(ctx context.Context, ride *models.Ride) error {
	return s.db.WithContext(ctx).Create(ride).Error
}

func (s *GormStore) GetByID(ctx context.Context, id uint) (*models.Ride, error) {
	var ride models.Ride
	err := s.db.WithContext(ctx).Preload("Rider").Preload("Driver").First(&ride, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ride, nil
}

func (s *GormStore) UpdateIfStatus(ctx context.Context, id uint, expectedStatus string, patch map[string]interface{}) (bool, error) {
	tx := s.db.WithContext(ctx).
		Model(&models.Ride{}).
		Where("id = ? AND status = ?", id, expectedStatus).
		Updates(patch)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

func (s *GormStore) ListByStatus(ctx context.Context, status string, limit int) ([]models.Ride, error) {
	var out []models.Ride
	q := s.db.WithContext(ctx).
		Preload("Rider").
		Where("status = ?", status).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) ListForParty(ctx context.Context, partyID uint, limit int) ([]models.Ride, error) {
	var out []models.Ride
	q := s.db.WithContext(ctx).
		Preload("Rider").
		Preload("Driver").
		Where("rider_id = ? OR driver_id = ?", partyID, partyID).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) FindActiveByParty(ctx context.Context, partyID uint) (*models.Ride, error) {
	var ride models.Ride
	err := s.db.WithContext(ctx).
		Where("(rider_id = ? OR driver_id = ?) AND status IN ?", partyID, partyID, nonTerminalStatuses).
		Order("created_at DESC").
		First(&ride).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ride, nil
}
