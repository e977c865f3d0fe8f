package handlers

import (
	"context"
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/prashanthspeshway/riderapp-backend/internal/dispatch"
	"github.com/prashanthspeshway/riderapp-backend/internal/guard"
	"github.com/prashanthspeshway/riderapp-backend/internal/models"
	"github.com/prashanthspeshway/riderapp-backend/internal/presence"
	"github.com/prashanthspeshway/riderapp-backend/internal/realtime"
	"github.com/prashanthspeshway/riderapp-backend/internal/rides"
	"github.com/prashanthspeshway/riderapp-backend/internal/services"
	"github.com/prashanthspeshway/riderapp-backend/pkg/utils"
)

// DriverDeps bundles the driver-side endpoints' collaborators.
type DriverDeps struct {
	DB       *gorm.DB
	Engine   *dispatch.Engine
	Presence *presence.Service
	Hub      *realtime.Hub
	Redis    *redis.Client
	Push     services.PushSender
}

// AcceptRide claims a pending ride for the authenticated driver.
func AcceptRide(deps DriverDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		driverId := c.GetUint("userId")

		rideId, err := strconv.ParseUint(c.Param("rideId"), 10, 32)
		if err != nil {
			c.JSON(400, gin.H{"error": "Invalid ride ID"})
			return
		}

		ride, err := deps.Engine.TryAccept(c.Request.Context(), uint(rideId), driverId)
		if err != nil {
			switch {
			case errors.Is(err, guard.ErrLockConflict):
				c.JSON(409, gin.H{"error": "You already have an active ride"})
			case errors.Is(err, rides.ErrInvalidTransition), errors.Is(err, rides.ErrConflict):
				c.JSON(409, gin.H{"error": "Ride is no longer available"})
			case errors.Is(err, rides.ErrNotFound):
				c.JSON(404, gin.H{"error": "Ride not found"})
			default:
				c.JSON(500, gin.H{"error": "Failed to accept ride"})
			}
			return
		}

		// A busy driver is out of the matching pool until the ride ends.
		if err := deps.Presence.SetAvailable(c.Request.Context(), driverId, false); err != nil {
			c.JSON(200, gin.H{"message": "Ride accepted", "ride": ride})
			return
		}

		if deps.Redis != nil {
			_ = services.PublishRideUpdate(c.Request.Context(), deps.Redis, ride.ID, ride.Status,
				map[string]interface{}{"driverId": driverId})
		}

		go services.NotifyRideStatus(context.Background(), deps.Push, ride, models.RideStatusAccepted)

		c.JSON(200, gin.H{"message": "Ride accepted", "ride": ride})
	}
}

// DeclineRide passes on an offered ride so dispatch can move to the
// next candidate immediately.
func DeclineRide(deps DriverDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		driverId := c.GetUint("userId")

		rideId, err := strconv.ParseUint(c.Param("rideId"), 10, 32)
		if err != nil {
			c.JSON(400, gin.H{"error": "Invalid ride ID"})
			return
		}

		deps.Engine.Decline(uint(rideId), driverId)
		c.JSON(200, gin.H{"message": "Ride declined"})
	}
}

// IngestDriverLocation records a position fix and fans it out:
// presence store for matching, ride room for the rider's live map,
// pub/sub for other nodes. Shared by the HTTP endpoint and the
// websocket stream.
func IngestDriverLocation(ctx context.Context, deps DriverDeps, driverID uint, lat, lng, heading float64) error {
	if err := deps.Presence.Update(ctx, driverID, lat, lng, heading); err != nil {
		return err
	}

	update := realtime.LocationUpdate{
		DriverID: driverID,
		Lat:      lat,
		Lng:      lng,
		Heading:  heading,
	}

	var active *models.Ride
	var ride models.Ride
	if err := deps.DB.Where("driver_id = ? AND status IN ?", driverID,
		[]string{models.RideStatusAccepted, models.RideStatusStarted}).First(&ride).Error; err == nil {
		active = &ride
	}

	room, event := routeDriverLocation(active, update)
	if room != "" {
		deps.Hub.EmitToRoom(room, event)
	} else {
		deps.Hub.EmitToUserType(string(models.UserTypeRider), event)
	}

	if deps.Redis != nil {
		_ = services.PublishDriverLocation(ctx, deps.Redis, update)
	}
	return nil
}

// routeDriverLocation decides where a position fix goes: into the
// active ride's room, or (empty room) the riders' pre-booking map.
func routeDriverLocation(active *models.Ride, update realtime.LocationUpdate) (string, realtime.Event) {
	if active != nil {
		return realtime.RideRoom(active.ID), realtime.Event{
			Type: realtime.EventDriverLocation,
			Data: update,
		}
	}
	return "", realtime.Event{
		Type: realtime.EventOnlineDrivers,
		Data: update,
	}
}

// UpdateLocation ingests the driver's position stream over HTTP.
func UpdateLocation(deps DriverDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		driverId := c.GetUint("userId")

		var input struct {
			Lat     float64 `json:"lat" binding:"required"`
			Lng     float64 `json:"lng" binding:"required"`
			Heading float64 `json:"heading"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}
		if !utils.ValidCoordinate(input.Lat, input.Lng) {
			c.JSON(400, gin.H{"error": "Invalid coordinates"})
			return
		}

		if err := IngestDriverLocation(c.Request.Context(), deps, driverId, input.Lat, input.Lng, input.Heading); err != nil {
			c.JSON(500, gin.H{"error": "Failed to update location"})
			return
		}

		c.JSON(200, gin.H{"message": "Location updated"})
	}
}

// SetAvailability toggles whether the driver is matchable.
func SetAvailability(deps DriverDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		driverId := c.GetUint("userId")

		var input struct {
			Available *bool `json:"available" binding:"required"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}

		if err := deps.Presence.SetAvailable(c.Request.Context(), driverId, *input.Available); err != nil {
			c.JSON(500, gin.H{"error": "Failed to update availability"})
			return
		}
		c.JSON(200, gin.H{"available": *input.Available})
	}
}

// SetOnlineStatus brings the driver on or off shift.
func SetOnlineStatus(deps DriverDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		driverId := c.GetUint("userId")

		var input struct {
			Online *bool `json:"online" binding:"required"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}

		var driver models.User
		if err := deps.DB.First(&driver, driverId).Error; err != nil {
			c.JSON(404, gin.H{"error": "Driver not found"})
			return
		}

		if err := deps.Presence.SetOnline(c.Request.Context(), driverId, driver.VehicleClass, driver.Rating, *input.Online); err != nil {
			c.JSON(500, gin.H{"error": "Failed to update status"})
			return
		}
		c.JSON(200, gin.H{"online": *input.Online})
	}
}

// DriverStatus reports the driver's current presence snapshot.
func DriverStatus(deps DriverDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		driverId := c.GetUint("userId")

		d, err := deps.Presence.Get(c.Request.Context(), driverId)
		if err != nil {
			c.JSON(200, gin.H{"online": false, "available": false})
			return
		}
		c.JSON(200, gin.H{
			"online":    d.Online,
			"available": d.Available,
			"lat":       d.Lat,
			"lng":       d.Lng,
			"updatedAt": d.UpdatedAt,
		})
	}
}

// NearbyDrivers lists matchable drivers around a point, for the
// rider's pre-booking map.
func NearbyDrivers(deps DriverDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		lat, err1 := strconv.ParseFloat(c.Query("lat"), 64)
		lng, err2 := strconv.ParseFloat(c.Query("lng"), 64)
		if err1 != nil || err2 != nil || !utils.ValidCoordinate(lat, lng) {
			c.JSON(400, gin.H{"error": "lat and lng query parameters required"})
			return
		}

		radius := 5.0
		if raw := c.Query("radius"); raw != "" {
			if r, err := strconv.ParseFloat(raw, 64); err == nil && r > 0 && r <= 25 {
				radius = r
			}
		}

		drivers, err := deps.Presence.Nearby(c.Request.Context(), lat, lng, radius, 20)
		if err != nil {
			c.JSON(500, gin.H{"error": "Failed to query nearby drivers"})
			return
		}

		out := make([]gin.H, 0, len(drivers))
		for _, d := range drivers {
			if !d.Online || !d.Available {
				continue
			}
			out = append(out, gin.H{
				"driverId":     d.ID,
				"lat":          d.Lat,
				"lng":          d.Lng,
				"heading":      d.Heading,
				"vehicleClass": d.VehicleClass,
			})
		}
		c.JSON(200, gin.H{"drivers": out})
	}
}
