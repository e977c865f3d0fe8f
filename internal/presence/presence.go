// Package presence tracks each driver's ephemeral online/available
// state and last-known position in Redis. Records go stale quickly and
// matching silently excludes them; a sweeper takes inactive drivers
// offline.
package presence

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/prashanthspeshway/riderapp-backend/internal/observability"
)

const (
	geoKey = "presence:drivers"

	// FreshnessWindow bounds how old a presence record may be and
	// still count for matching. Location pushes arrive every 3-10s.
	FreshnessWindow = 10 * time.Second

	// InactivityTimeout is how long a driver may go without any
	// update before the sweeper marks them offline.
	InactivityTimeout = 10 * time.Minute

	sweepInterval = 30 * time.Second
)

// Driver is a snapshot of one driver's presence.
type Driver struct {
	ID           uint
	Lat          float64
	Lng          float64
	Heading      float64
	Rating       float64
	VehicleClass string
	Online       bool
	Available    bool
	UpdatedAt    time.Time
}

// Fresh reports whether the record is recent enough for matching.
func (d Driver) Fresh(now time.Time) bool {
	return now.Sub(d.UpdatedAt) <= FreshnessWindow
}

func metaKey(driverID uint) string {
	return fmt.Sprintf("presence:driver:%d", driverID)
}

// Service is the Redis-backed presence store.
type Service struct {
	client *redis.Client
	logger *slog.Logger

	mu        sync.RWMutex
	onOffline []func(driverID uint)
}

func NewService(client *redis.Client, logger *slog.Logger) *Service {
	return &Service{client: client, logger: logger}
}

// OnOffline registers a callback invoked whenever a driver goes
// offline, explicitly or via the inactivity sweeper. Dispatch uses it
// to invalidate outstanding offers.
func (s *Service) OnOffline(fn func(driverID uint)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onOffline = append(s.onOffline, fn)
}

func (s *Service) notifyOffline(driverID uint) {
	s.mu.RLock()
	handlers := append([]func(uint){}, s.onOffline...)
	s.mu.RUnlock()
	for _, fn := range handlers {
		fn(driverID)
	}
}

// SetOnline brings a driver online (or takes them offline). Vehicle
// class and rating are captured here so matching reads them from the
// presence record alone.
func (s *Service) SetOnline(ctx context.Context, driverID uint, vehicleClass string, rating float64, online bool) error {
	if !online {
		pipe := s.client.Pipeline()
		pipe.ZRem(ctx, geoKey, memberName(driverID))
		pipe.HSet(ctx, metaKey(driverID), map[string]interface{}{
			"online":    "false",
			"available": "false",
			"updated":   strconv.FormatInt(time.Now().Unix(), 10),
		})
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
		observability.DriversOnline.Dec()
		s.notifyOffline(driverID)
		return nil
	}

	err := s.client.HSet(ctx, metaKey(driverID), map[string]interface{}{
		"online":  "true",
		"class":   vehicleClass,
		"rating":  fmt.Sprintf("%.2f", rating),
		"updated": strconv.FormatInt(time.Now().Unix(), 10),
	}).Err()
	if err != nil {
		return err
	}
	observability.DriversOnline.Inc()
	return nil
}

// SetAvailable toggles whether an online driver accepts new offers.
// Marking available implies online.
func (s *Service) SetAvailable(ctx context.Context, driverID uint, available bool) error {
	fields := map[string]interface{}{
		"available": strconv.FormatBool(available),
		"updated":   strconv.FormatInt(time.Now().Unix(), 10),
	}
	if available {
		fields["online"] = "true"
	}
	return s.client.HSet(ctx, metaKey(driverID), fields).Err()
}

// Update records a location push. Fire-and-forget from the caller's
// perspective; last write wins.
func (s *Service) Update(ctx context.Context, driverID uint, lat, lng, heading float64) error {
	pipe := s.client.Pipeline()
	pipe.GeoAdd(ctx, geoKey, &redis.GeoLocation{
		Name:      memberName(driverID),
		Longitude: lng,
		Latitude:  lat,
	})
	pipe.HSet(ctx, metaKey(driverID), map[string]interface{}{
		"heading": fmt.Sprintf("%.2f", heading),
		"online":  "true",
		"updated": strconv.FormatInt(time.Now().Unix(), 10),
	})
	_, err := pipe.Exec(ctx)
	return err
}

// Get returns one driver's presence record.
func (s *Service) Get(ctx context.Context, driverID uint) (Driver, error) {
	d := Driver{ID: driverID}
	meta, err := s.client.HGetAll(ctx, metaKey(driverID)).Result()
	if err != nil {
		return d, err
	}
	if len(meta) == 0 {
		return d, redis.Nil
	}
	fillMeta(&d, meta)

	pos, err := s.client.GeoPos(ctx, geoKey, memberName(driverID)).Result()
	if err == nil && len(pos) == 1 && pos[0] != nil {
		d.Lat = pos[0].Latitude
		d.Lng = pos[0].Longitude
	}
	return d, nil
}

// Nearby returns drivers around a point, nearest first, with their
// presence metadata attached. Staleness filtering is the caller's
// concern.
func (s *Service) Nearby(ctx context.Context, lat, lng, radiusKm float64, limit int) ([]Driver, error) {
	res, err := s.client.GeoSearchLocation(ctx, geoKey, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  lng,
			Latitude:   lat,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
			Count:      limit,
		},
		WithCoord: true,
	}).Result()
	if err != nil {
		return nil, err
	}

	out := make([]Driver, 0, len(res))
	for _, loc := range res {
		id, err := parseMember(loc.Name)
		if err != nil {
			continue
		}
		d := Driver{ID: id, Lat: loc.Latitude, Lng: loc.Longitude}
		if meta, err := s.client.HGetAll(ctx, metaKey(id)).Result(); err == nil {
			fillMeta(&d, meta)
		}
		out = append(out, d)
	}
	return out, nil
}

// RunSweeper marks drivers offline after InactivityTimeout without any
// tracked activity. Runs until the context is cancelled.
func (s *Service) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Service) sweep(ctx context.Context) {
	members, err := s.client.ZRange(ctx, geoKey, 0, -1).Result()
	if err != nil {
		s.logger.Warn("presence sweep failed", "error", err)
		return
	}
	now := time.Now()
	for _, m := range members {
		id, err := parseMember(m)
		if err != nil {
			continue
		}
		updated, err := s.client.HGet(ctx, metaKey(id), "updated").Result()
		if err != nil {
			continue
		}
		ts, err := strconv.ParseInt(updated, 10, 64)
		if err != nil {
			continue
		}
		if now.Sub(time.Unix(ts, 0)) > InactivityTimeout {
			s.logger.Info("driver inactive, going offline", "driverId", id)
			if err := s.SetOnline(ctx, id, "", 0, false); err != nil {
				s.logger.Warn("auto-offline failed", "driverId", id, "error", err)
			}
		}
	}
}

func memberName(driverID uint) string {
	return strconv.FormatUint(uint64(driverID), 10)
}

func parseMember(name string) (uint, error) {
	id, err := strconv.ParseUint(name, 10, 32)
	return uint(id), err
}

func fillMeta(d *Driver, meta map[string]string) {
	if v, ok := meta["heading"]; ok {
		d.Heading, _ = strconv.ParseFloat(v, 64)
	}
	if v, ok := meta["rating"]; ok {
		d.Rating, _ = strconv.ParseFloat(v, 64)
	}
	if v, ok := meta["class"]; ok {
		d.VehicleClass = v
	}
	d.Online = meta["online"] == "true"
	d.Available = meta["available"] == "true"
	if v, ok := meta["updated"]; ok {
		if ts, err := strconv.ParseInt(v, 10, 64); err == nil {
			d.UpdatedAt = time.Unix(ts, 0)
		}
	}
}
