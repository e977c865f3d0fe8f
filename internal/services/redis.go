package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/prashanthspeshway/riderapp-backend/internal/realtime"
)

// Pub/sub channels. Other processes (workers, future nodes) can feed
// events into the hub through these.
const (
	ChannelRideUpdates     = "ride:updates"
	ChannelDriverLocations = "driver:location:updates"
)

// InitRedis initializes the Redis client.
func InitRedis() (*redis.Client, error) {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://localhost:6379"
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %v", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %v", err)
	}

	return client, nil
}

type rideUpdate struct {
	RideID    uint                   `json:"rideId"`
	Status    string                 `json:"status"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp int64                  `json:"timestamp"`
}

// PublishRideUpdate publishes a ride status update to Redis pub/sub.
func PublishRideUpdate(ctx context.Context, client *redis.Client, rideID uint, status string, data map[string]interface{}) error {
	payload, err := json.Marshal(rideUpdate{
		RideID:    rideID,
		Status:    status,
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		return err
	}
	return client.Publish(ctx, ChannelRideUpdates, payload).Err()
}

// PublishDriverLocation publishes a driver location update to Redis
// pub/sub.
func PublishDriverLocation(ctx context.Context, client *redis.Client, update realtime.LocationUpdate) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return err
	}
	return client.Publish(ctx, ChannelDriverLocations, payload).Err()
}

// RideEventSink receives relayed ride updates. *realtime.Hub
// satisfies it.
type RideEventSink interface {
	EmitToRoom(room string, event realtime.Event)
}

// RunRideUpdateRelay subscribes to the ride-updates channel and fans
// messages into the local hub's ride rooms, so a transition confirmed
// on another node still reaches clients connected here. Runs until
// the context is cancelled.
func RunRideUpdateRelay(ctx context.Context, client *redis.Client, sink RideEventSink, logger *slog.Logger) {
	sub := client.Subscribe(ctx, ChannelRideUpdates)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			relayRideUpdate(sink, []byte(msg.Payload), logger)
		}
	}
}

func relayRideUpdate(sink RideEventSink, payload []byte, logger *slog.Logger) {
	var update rideUpdate
	if err := json.Unmarshal(payload, &update); err != nil {
		logger.Warn("bad ride update payload", "error", err)
		return
	}
	sink.EmitToRoom(realtime.RideRoom(update.RideID), realtime.Event{
		Type: realtime.EventRideStatusUpdate,
		Data: update,
	})
}
