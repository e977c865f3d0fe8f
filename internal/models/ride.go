package models

import (
	"time"

	"gorm.io/gorm"
)

// RideStatus constants. Transitions between them are owned by the
// rides package; nothing else writes the status column.
const (
	RideStatusPending   = "pending"
	RideStatusAccepted  = "accepted"
	RideStatusStarted   = "started"
	RideStatusCompleted = "completed"
	RideStatusCancelled = "cancelled"
	RideStatusRejected  = "rejected"
)

// Vehicle class constants for ride requests and driver vehicles.
const (
	VehicleClassBike = "bike"
	VehicleClassAuto = "auto"
	VehicleClassCar  = "car"
	VehicleClassSUV  = "suv"
)

// Ride represents a single transport request from pickup to drop.
type Ride struct {
	gorm.Model
	RiderID      uint    `json:"riderId" gorm:"not null;index"`
	DriverID     *uint   `json:"driverId,omitempty" gorm:"null;index"`
	PickupLat    float64 `json:"pickupLat" gorm:"not null"`
	PickupLng    float64 `json:"pickupLng" gorm:"not null"`
	PickupAddr   string  `json:"pickupAddress" gorm:"not null"`
	DropLat      float64 `json:"dropLat" gorm:"not null"`
	DropLng      float64 `json:"dropLng" gorm:"not null"`
	DropAddr     string  `json:"dropAddress" gorm:"not null"`
	VehicleClass string  `json:"vehicleClass" gorm:"not null;default:'car'"`
	Distance     float64 `json:"distance,omitempty"` // in kilometers
	Duration     int     `json:"duration,omitempty"` // in minutes
	Fare         float64 `json:"fare,omitempty"`

	Status string `json:"status" gorm:"not null;default:'pending';index"`

	OtpCode     string     `json:"-" gorm:"column:otp_code"`
	OtpIssuedAt *time.Time `json:"-" gorm:"column:otp_issued_at"`
	OtpUsed     bool       `json:"-" gorm:"column:otp_used;default:false"`
	OtpResends  int        `json:"-" gorm:"column:otp_resends;default:0"`

	AcceptedAt   *time.Time `json:"acceptedAt,omitempty"`
	StartedAt    *time.Time `json:"startedAt,omitempty"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	CancelledAt  *time.Time `json:"cancelledAt,omitempty"`
	CancelReason string     `json:"cancelReason,omitempty"`

	Rider  *User `json:"rider,omitempty" gorm:"foreignKey:RiderID"`
	Driver *User `json:"driver,omitempty" gorm:"foreignKey:DriverID"`
}

// TableName specifies the table name
func (Ride) TableName() string {
	return "rides"
}

// IsTerminal reports whether the ride has reached a final status.
func (r *Ride) IsTerminal() bool {
	return IsTerminalStatus(r.Status)
}

// IsTerminalStatus reports whether a status is final.
func IsTerminalStatus(status string) bool {
	switch status {
	case RideStatusCompleted, RideStatusCancelled, RideStatusRejected:
		return true
	}
	return false
}

// DriverRating represents driver ratings
type DriverRating struct {
	gorm.Model
	DriverID uint    `json:"driverId" gorm:"not null"`
	RiderID  uint    `json:"riderId" gorm:"not null"`
	RideID   uint    `json:"rideId" gorm:"not null;uniqueIndex"`
	Rating   float64 `json:"rating" gorm:"not null;check:rating >= 1 AND rating <= 5"`
	Comment  string  `json:"comment,omitempty"`
	Driver   *User   `json:"driver,omitempty" gorm:"foreignKey:DriverID"`
	Rider    *User   `json:"rider,omitempty" gorm:"foreignKey:RiderID"`
}

// TableName specifies the table name
func (DriverRating) TableName() string {
	return "driver_ratings"
}
