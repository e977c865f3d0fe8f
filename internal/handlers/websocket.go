package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/prashanthspeshway/riderapp-backend/internal/realtime"
)

// WebSocketHandler upgrades the authenticated connection and attaches
// it to the hub.
func WebSocketHandler(hub *realtime.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetUint("userId")
		userType := c.GetString("userType")

		realtime.HandleWebSocket(hub, c.Writer, c.Request, userID, userType)
	}
}
