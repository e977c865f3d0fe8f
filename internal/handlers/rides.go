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
	"github.com/prashanthspeshway/riderapp-backend/internal/realtime"
	"github.com/prashanthspeshway/riderapp-backend/internal/rides"
	"github.com/prashanthspeshway/riderapp-backend/internal/services"
	"github.com/prashanthspeshway/riderapp-backend/pkg/utils"
)

// RideDeps bundles everything the ride endpoints touch.
type RideDeps struct {
	DB     *gorm.DB
	Rides  *rides.Service
	Engine *dispatch.Engine
	Guard  *guard.Service
	Hub    *realtime.Hub
	Redis  *redis.Client
	Push   services.PushSender
}

type CreateRideInput struct {
	PickupLat    float64 `json:"pickupLat" binding:"required"`
	PickupLng    float64 `json:"pickupLng" binding:"required"`
	PickupAddr   string  `json:"pickupAddress" binding:"required"`
	DropLat      float64 `json:"dropLat" binding:"required"`
	DropLng      float64 `json:"dropLng" binding:"required"`
	DropAddr     string  `json:"dropAddress" binding:"required"`
	VehicleClass string  `json:"vehicleClass" binding:"required,oneof=bike auto car suv"`
}

// CreateRide books a new ride for the authenticated rider and starts
// dispatch in the background.
func CreateRide(deps RideDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId := c.GetUint("userId")

		var input CreateRideInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}

		if !utils.ValidCoordinate(input.PickupLat, input.PickupLng) || !utils.ValidCoordinate(input.DropLat, input.DropLng) {
			c.JSON(400, gin.H{"error": "Invalid coordinates"})
			return
		}

		ride, err := deps.Rides.Create(c.Request.Context(), rides.CreateInput{
			RiderID:      userId,
			PickupLat:    input.PickupLat,
			PickupLng:    input.PickupLng,
			PickupAddr:   input.PickupAddr,
			DropLat:      input.DropLat,
			DropLng:      input.DropLng,
			DropAddr:     input.DropAddr,
			VehicleClass: input.VehicleClass,
		})
		if err != nil {
			if errors.Is(err, rides.ErrActiveRide) {
				c.JSON(409, gin.H{"error": "You already have an active ride"})
				return
			}
			c.JSON(500, gin.H{"error": "Failed to create ride"})
			return
		}

		// Dispatch outlives this request: the offer loop can wait
		// through several candidate windows. Exhaustion is reported
		// to the rider over the websocket, not this response.
		go func() {
			_ = deps.Engine.Dispatch(context.Background(), ride)
		}()

		c.JSON(201, gin.H{"message": "Ride requested", "ride": ride})
	}
}

// FareEstimate quotes a fare without booking.
func FareEstimate() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input struct {
			PickupLat    float64 `json:"pickupLat" binding:"required"`
			PickupLng    float64 `json:"pickupLng" binding:"required"`
			DropLat      float64 `json:"dropLat" binding:"required"`
			DropLng      float64 `json:"dropLng" binding:"required"`
			VehicleClass string  `json:"vehicleClass" binding:"required,oneof=bike auto car suv"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}

		distance := utils.HaversineDistance(input.PickupLat, input.PickupLng, input.DropLat, input.DropLng)
		fare := utils.CalculateFare(distance, input.VehicleClass)
		c.JSON(200, gin.H{
			"fare":     fare,
			"duration": utils.CalculateETA(distance, 30),
		})
	}
}

// GetRide returns a ride visible only to its two parties.
func GetRide(deps RideDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId := c.GetUint("userId")

		ride, ok := loadOwnedRide(c, deps, userId)
		if !ok {
			return
		}
		c.JSON(200, gin.H{"ride": ride})
	}
}

// CancelRide is the shared cancellation path for both parties. Pending
// rides also abort the running dispatch round.
func CancelRide(deps RideDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId := c.GetUint("userId")

		ride, ok := loadOwnedRide(c, deps, userId)
		if !ok {
			return
		}

		var input struct {
			Reason string `json:"reason"`
		}
		_ = c.ShouldBindJSON(&input)
		if input.Reason == "" {
			input.Reason = "cancelled by user"
		}

		wasPending := ride.Status == models.RideStatusPending

		cancelled, err := deps.Rides.Cancel(c.Request.Context(), ride.ID, input.Reason)
		if err != nil {
			writeTransitionError(c, err)
			return
		}

		if wasPending {
			deps.Engine.CancelDispatch(ride.ID)
		}
		releaseRide(c.Request.Context(), deps, cancelled)

		room := realtime.RideRoom(ride.ID)
		deps.Hub.EmitToRoom(room, realtime.Event{
			Type: realtime.EventRideCancelled,
			Data: realtime.RideStatusUpdate{RideID: ride.ID, Status: cancelled.Status, Reason: input.Reason},
		})
		deps.Hub.CloseRoom(room)

		if deps.Redis != nil {
			_ = services.PublishRideUpdate(c.Request.Context(), deps.Redis, ride.ID, cancelled.Status,
				map[string]interface{}{"reason": input.Reason})
		}

		go services.NotifyRideStatus(context.Background(), deps.Push, cancelled, models.RideStatusCancelled)

		c.JSON(200, gin.H{"message": "Ride cancelled", "ride": cancelled})
	}
}

// CompleteRide finishes a started ride. Driver only.
func CompleteRide(deps RideDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId := c.GetUint("userId")

		ride, ok := loadOwnedRide(c, deps, userId)
		if !ok {
			return
		}
		if ride.DriverID == nil || *ride.DriverID != userId {
			c.JSON(403, gin.H{"error": "Only the assigned driver can complete the ride"})
			return
		}

		completed, err := deps.Rides.Complete(c.Request.Context(), ride.ID)
		if err != nil {
			writeTransitionError(c, err)
			return
		}

		releaseRide(c.Request.Context(), deps, completed)

		room := realtime.RideRoom(ride.ID)
		deps.Hub.EmitToRoom(room, realtime.Event{
			Type: realtime.EventRideCompleted,
			Data: realtime.RideStatusUpdate{RideID: ride.ID, Status: completed.Status, DriverID: userId},
		})
		deps.Hub.CloseRoom(room)

		if deps.Redis != nil {
			_ = services.PublishRideUpdate(c.Request.Context(), deps.Redis, ride.ID, completed.Status,
				map[string]interface{}{"driverId": userId})
		}

		go services.NotifyRideStatus(context.Background(), deps.Push, completed, models.RideStatusCompleted)

		c.JSON(200, gin.H{"message": "Ride completed", "ride": completed})
	}
}

// ListPendingRides shows drivers the open requests still waiting for
// a match.
func ListPendingRides(deps RideDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 20
		if raw := c.Query("limit"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 100 {
				limit = n
			}
		}

		pending, err := deps.Rides.ListPending(c.Request.Context(), limit)
		if err != nil {
			c.JSON(500, gin.H{"error": "Failed to load pending rides"})
			return
		}
		c.JSON(200, gin.H{"rides": pending})
	}
}

// RideHistory lists past and present rides for the caller.
func RideHistory(deps RideDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId := c.GetUint("userId")

		limit := 50
		if raw := c.Query("limit"); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
				limit = n
			}
		}

		history, err := deps.Rides.History(c.Request.Context(), userId, limit)
		if err != nil {
			c.JSON(500, gin.H{"error": "Failed to load ride history"})
			return
		}
		c.JSON(200, gin.H{"rides": history})
	}
}

// ActiveRide reconciles the client's saved ride against the server.
// The client may pass ?rideId= to validate a specific locally-cached
// ride; otherwise the server reports whatever it considers active.
func ActiveRide(deps RideDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId := c.GetUint("userId")

		if raw := c.Query("rideId"); raw != "" {
			claimed, err := strconv.ParseUint(raw, 10, 32)
			if err != nil {
				c.JSON(400, gin.H{"error": "Invalid ride ID"})
				return
			}
			res := deps.Guard.Reconcile(c.Request.Context(), userId, uint(claimed))
			if res.Cleared {
				// Room membership survives reconnects, so a cleared
				// ride can leave a stale membership behind. Drop it as
				// part of the repair.
				deps.Hub.LeaveRoom(realtime.RideRoom(uint(claimed)), realtime.IdentityKey(userId))
			}
			c.JSON(200, res)
			return
		}

		ride, err := deps.Guard.Active(c.Request.Context(), userId)
		if err != nil {
			if errors.Is(err, rides.ErrNotFound) {
				c.JSON(200, gin.H{"active": false})
				return
			}
			c.JSON(500, gin.H{"error": "Failed to resolve active ride"})
			return
		}
		c.JSON(200, gin.H{"active": true, "ride": ride})
	}
}

// RateDriver records a one-per-ride rating after completion and folds
// it into the driver's running average.
func RateDriver(deps RideDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId := c.GetUint("userId")

		ride, ok := loadOwnedRide(c, deps, userId)
		if !ok {
			return
		}
		if ride.RiderID != userId {
			c.JSON(403, gin.H{"error": "Only the rider can rate the driver"})
			return
		}
		if ride.Status != models.RideStatusCompleted || ride.DriverID == nil {
			c.JSON(409, gin.H{"error": "Ride is not completed"})
			return
		}

		var input struct {
			Rating  float64 `json:"rating" binding:"required,min=1,max=5"`
			Comment string  `json:"comment"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}

		rating := models.DriverRating{
			DriverID: *ride.DriverID,
			RiderID:  userId,
			RideID:   ride.ID,
			Rating:   input.Rating,
			Comment:  input.Comment,
		}
		if err := deps.DB.Create(&rating).Error; err != nil {
			c.JSON(409, gin.H{"error": "Ride already rated"})
			return
		}

		// Keep the denormalized average on the user row current.
		deps.DB.Exec(`UPDATE users SET rating = (SELECT AVG(rating) FROM driver_ratings WHERE driver_id = ?) WHERE id = ?`,
			*ride.DriverID, *ride.DriverID)

		c.JSON(201, gin.H{"message": "Rating recorded"})
	}
}

func loadOwnedRide(c *gin.Context, deps RideDeps, userId uint) (*models.Ride, bool) {
	rideId, err := strconv.ParseUint(c.Param("rideId"), 10, 32)
	if err != nil {
		c.JSON(400, gin.H{"error": "Invalid ride ID"})
		return nil, false
	}

	ride, err := deps.Rides.Get(c.Request.Context(), uint(rideId))
	if err != nil {
		if errors.Is(err, rides.ErrNotFound) {
			c.JSON(404, gin.H{"error": "Ride not found"})
			return nil, false
		}
		c.JSON(500, gin.H{"error": "Failed to load ride"})
		return nil, false
	}

	if ride.RiderID != userId && (ride.DriverID == nil || *ride.DriverID != userId) {
		c.JSON(403, gin.H{"error": "Not your ride"})
		return nil, false
	}
	return ride, true
}

func releaseRide(ctx context.Context, deps RideDeps, ride *models.Ride) {
	parties := []uint{ride.RiderID}
	if ride.DriverID != nil {
		parties = append(parties, *ride.DriverID)
	}
	deps.Guard.UnlockParties(ctx, ride.ID, parties...)
}

func writeTransitionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, rides.ErrInvalidTransition):
		c.JSON(409, gin.H{"error": "Ride is not in a state that allows this"})
	case errors.Is(err, rides.ErrConflict):
		c.JSON(409, gin.H{"error": "Ride was updated concurrently, try again"})
	case errors.Is(err, rides.ErrNotFound):
		c.JSON(404, gin.H{"error": "Ride not found"})
	default:
		c.JSON(500, gin.H{"error": "Failed to update ride"})
	}
}
