package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/prashanthspeshway/riderapp-backend/internal/models"
	"github.com/prashanthspeshway/riderapp-backend/internal/realtime"
	"github.com/prashanthspeshway/riderapp-backend/internal/rides"
)

// ChatDeps bundles the in-ride chat endpoints' needs.
type ChatDeps struct {
	DB    *gorm.DB
	Rides *rides.Service
	Hub   *realtime.Hub
}

// SendMessage appends a chat message to an active ride and fans it out
// to the ride room.
func SendMessage(deps ChatDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		userId := c.GetUint("userId")

		rideId, err := strconv.ParseUint(c.Param("rideId"), 10, 32)
		if err != nil {
			c.JSON(400, gin.H{"error": "Invalid ride ID"})
			return
		}

		var input struct {
			Text string `json:"text" binding:"required,max=2000"`
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

		role := ""
		switch {
		case ride.RiderID == userId:
			role = models.SenderRoleRider
		case ride.DriverID != nil && *ride.DriverID == userId:
			role = models.SenderRoleDriver
		default:
			c.JSON(403, gin.H{"error": "Not your ride"})
			return
		}

		// Chat lives only while the ride does.
		if ride.IsTerminal() || ride.Status == models.RideStatusPending {
			c.JSON(409, gin.H{"error": "Ride has no active chat"})
			return
		}

		msg := models.ChatMessage{
			RideID:     ride.ID,
			SenderID:   userId,
			SenderRole: role,
			Text:       input.Text,
		}
		if err := deps.DB.Create(&msg).Error; err != nil {
			c.JSON(500, gin.H{"error": "Failed to save message"})
			return
		}

		deps.Hub.EmitToRoom(realtime.RideRoom(ride.ID), realtime.Event{
			Type: realtime.EventChatMessage,
			Data: realtime.ChatPayload{
				RideID:     ride.ID,
				MessageID:  msg.ID,
				SenderID:   userId,
				SenderRole: role,
				Text:       msg.Text,
				SentAt:     msg.CreatedAt.Unix(),
			},
		})

		c.JSON(201, gin.H{"message": msg})
	}
}

// ChatHistory returns the ride's messages in send order and marks the
// counterparty's messages as read.
func ChatHistory(deps ChatDeps) gin.HandlerFunc {
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
		if ride.RiderID != userId && (ride.DriverID == nil || *ride.DriverID != userId) {
			c.JSON(403, gin.H{"error": "Not your ride"})
			return
		}

		var messages []models.ChatMessage
		if err := deps.DB.Where("ride_id = ?", ride.ID).
			Order("created_at ASC, id ASC").
			Find(&messages).Error; err != nil {
			c.JSON(500, gin.H{"error": "Failed to load messages"})
			return
		}

		deps.DB.Model(&models.ChatMessage{}).
			Where("ride_id = ? AND sender_id != ? AND read = false", ride.ID, userId).
			Update("read", true)

		c.JSON(200, gin.H{"messages": messages})
	}
}
