package models

import (
	"gorm.io/gorm"
)

// SenderRole identifies which party on a ride sent a chat message.
const (
	SenderRoleRider  = "rider"
	SenderRoleDriver = "driver"
)

// ChatMessage belongs to exactly one ride. Messages are append-only;
// ordering is by CreatedAt with insertion id breaking ties.
type ChatMessage struct {
	gorm.Model
	RideID     uint   `json:"rideId" gorm:"not null;index"`
	SenderID   uint   `json:"senderId" gorm:"not null"`
	SenderRole string `json:"senderRole" gorm:"not null"`
	Text       string `json:"text" gorm:"not null"`
	Read       bool   `json:"read" gorm:"default:false"`
}

// TableName specifies the table name
func (ChatMessage) TableName() string {
	return "chat_messages"
}
