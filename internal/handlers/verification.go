package handlers

import (
	"context"
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/prashanthspeshway/riderapp-backend/internal/models"
	"github.com/prashanthspeshway/riderapp-backend/internal/rides"
	"github.com/prashanthspeshway/riderapp-backend/internal/services"
	"github.com/prashanthspeshway/riderapp-backend/internal/verification"
)

// VerificationDeps bundles the pickup-verification endpoints' needs.
type VerificationDeps struct {
	Rides        *rides.Service
	Verification *verification.Service
	Redis        *redis.Client
	Push         services.PushSender
}

// VerifyRide is the driver's pickup proof: submitting the rider's code
// starts the ride.
func VerifyRide(deps VerificationDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		driverId := c.GetUint("userId")

		rideId, err := strconv.ParseUint(c.Param("rideId"), 10, 32)
		if err != nil {
			c.JSON(400, gin.H{"error": "Invalid ride ID"})
			return
		}

		var input struct {
			Code string `json:"code" binding:"required,len=6"`
		}
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(400, gin.H{"error": err.Error()})
			return
		}

		ride, err := deps.Rides.Get(c.Request.Context(), uint(rideId))
		if err != nil {
			c.JSON(404, gin.H{"error": "Ride not found"})
			return
		}
		if ride.DriverID == nil || *ride.DriverID != driverId {
			c.JSON(403, gin.H{"error": "Not your ride"})
			return
		}

		started, err := deps.Verification.Verify(c.Request.Context(), uint(rideId), input.Code)
		if err != nil {
			if errors.Is(err, verification.ErrInvalidOrExpiredCode) {
				c.JSON(401, gin.H{"error": "Invalid or expired verification code"})
				return
			}
			c.JSON(500, gin.H{"error": "Verification failed"})
			return
		}

		if deps.Redis != nil {
			_ = services.PublishRideUpdate(c.Request.Context(), deps.Redis, started.ID, started.Status,
				map[string]interface{}{"driverId": driverId})
		}

		go services.NotifyRideStatus(context.Background(), deps.Push, started, models.RideStatusStarted)

		c.JSON(200, gin.H{"message": "Ride started", "ride": started})
	}
}

// ResendCode reissues the rider's verification code while the ride is
// still waiting at pickup.
func ResendCode(deps VerificationDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId := c.GetUint("userId")

		rideId, err := strconv.ParseUint(c.Param("rideId"), 10, 32)
		if err != nil {
			c.JSON(400, gin.H{"error": "Invalid ride ID"})
			return
		}

		ride, err := deps.Rides.Get(c.Request.Context(), uint(rideId))
		if err != nil {
			c.JSON(404, gin.H{"error": "Ride not found"})
			return
		}
		if ride.RiderID != userId {
			c.JSON(403, gin.H{"error": "Only the rider can request a new code"})
			return
		}

		phone := ""
		if ride.Rider != nil {
			phone = ride.Rider.PhoneNumber
		}

		if err := deps.Verification.Resend(c.Request.Context(), uint(rideId), phone); err != nil {
			switch {
			case errors.Is(err, verification.ErrResendLimit):
				c.JSON(429, gin.H{"error": "Resend limit reached"})
			case errors.Is(err, rides.ErrInvalidTransition):
				c.JSON(409, gin.H{"error": "Ride is not waiting for pickup"})
			default:
				c.JSON(500, gin.H{"error": "Failed to resend code"})
			}
			return
		}
		c.JSON(200, gin.H{"message": "Verification code resent"})
	}
}
