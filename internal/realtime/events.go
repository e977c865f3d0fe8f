package realtime

// Event is the envelope for every message crossing the websocket.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Event types emitted by the coordinator.
const (
	EventRideRequest      = "ride_request"
	EventOfferRetracted   = "offer_retracted"
	EventRideAccepted     = "ride_accepted"
	EventRideStarted      = "ride_started"
	EventRideCompleted    = "ride_completed"
	EventRideCancelled    = "ride_cancelled"
	EventRideRejected     = "ride_rejected"
	EventRideStatusUpdate = "ride_status_update"
	EventVerificationCode = "verification_code"
	EventChatMessage      = "chat_message"
	EventDriverLocation   = "driver_location_update"
	EventOnlineDrivers    = "online_drivers"
)

// RideOffer is sent to a candidate driver during dispatch.
type RideOffer struct {
	RideID       uint    `json:"rideId"`
	RiderID      uint    `json:"riderId"`
	RiderName    string  `json:"riderName,omitempty"`
	PickupLat    float64 `json:"pickupLat"`
	PickupLng    float64 `json:"pickupLng"`
	PickupAddr   string  `json:"pickupAddress"`
	DropLat      float64 `json:"dropLat"`
	DropLng      float64 `json:"dropLng"`
	DropAddr     string  `json:"dropAddress"`
	VehicleClass string  `json:"vehicleClass"`
	Fare         float64 `json:"fare"`
	DistanceKm   float64 `json:"distance"`
	ExpiresInSec int     `json:"expiresInSec"`
}

// RideStatusUpdate fans out on every lifecycle transition.
type RideStatusUpdate struct {
	RideID   uint   `json:"rideId"`
	Status   string `json:"status"`
	DriverID uint   `json:"driverId,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// LocationUpdate is the high-frequency driver position stream.
type LocationUpdate struct {
	DriverID uint    `json:"driverId"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Heading  float64 `json:"heading"`
}

// ChatPayload carries one chat message to the ride room.
type ChatPayload struct {
	RideID     uint   `json:"rideId"`
	MessageID  uint   `json:"messageId"`
	SenderID   uint   `json:"senderId"`
	SenderRole string `json:"senderRole"`
	Text       string `json:"text"`
	SentAt     int64  `json:"sentAt"`
}
