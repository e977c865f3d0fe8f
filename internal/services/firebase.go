package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"github.com/prashanthspeshway/riderapp-backend/internal/models"
)

// PushSender delivers push notifications for ride lifecycle events.
// It is optional: when Firebase credentials are not configured the
// no-op sender is used and delivery is skipped silently.
type PushSender interface {
	SendRideNotification(ctx context.Context, user *models.User, title, body string, data map[string]string) error
}

// InitFirebase builds a PushSender backed by Firebase Cloud Messaging.
// Returns a no-op sender when FIREBASE_SERVICE_ACCOUNT_PATH is unset.
func InitFirebase(ctx context.Context, logger *slog.Logger) (PushSender, error) {
	path := os.Getenv("FIREBASE_SERVICE_ACCOUNT_PATH")
	if path == "" {
		logger.Info("firebase not configured, push notifications disabled")
		return &noopPushSender{}, nil
	}

	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(path))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %v", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize fcm client: %v", err)
	}

	return &fcmPushSender{client: client, logger: logger}, nil
}

type fcmPushSender struct {
	client *messaging.Client
	logger *slog.Logger
}

func (s *fcmPushSender) SendRideNotification(ctx context.Context, user *models.User, title, body string, data map[string]string) error {
	if user == nil || user.FCMToken == "" {
		return nil
	}

	msg := &messaging.Message{
		Token: user.FCMToken,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}

	id, err := s.client.Send(ctx, msg)
	if err != nil {
		s.logger.Warn("fcm send failed", "userId", user.ID, "error", err)
		return err
	}
	s.logger.Debug("fcm message sent", "userId", user.ID, "messageId", id)
	return nil
}

type noopPushSender struct{}

func (*noopPushSender) SendRideNotification(context.Context, *models.User, string, string, map[string]string) error {
	return nil
}

// NotifyRideStatus pushes a lifecycle notification to the counterparty
// of a ride transition. Failures are logged by the sender and never
// block the transition itself.
func NotifyRideStatus(ctx context.Context, sender PushSender, ride *models.Ride, status string) {
	if sender == nil || ride == nil {
		return
	}

	data := map[string]string{
		"rideId": fmt.Sprintf("%d", ride.ID),
		"status": status,
	}

	switch status {
	case models.RideStatusAccepted:
		if ride.Driver != nil {
			body := fmt.Sprintf("%s is on the way in a %s", ride.Driver.Username, ride.VehicleClass)
			_ = sender.SendRideNotification(ctx, ride.Rider, "Driver assigned", body, data)
		}
	case models.RideStatusStarted:
		_ = sender.SendRideNotification(ctx, ride.Rider, "Ride started", "Your trip has begun", data)
	case models.RideStatusCompleted:
		body := fmt.Sprintf("Trip completed. Fare: ₹%.0f", ride.Fare)
		_ = sender.SendRideNotification(ctx, ride.Rider, "Ride completed", body, data)
	case models.RideStatusCancelled:
		_ = sender.SendRideNotification(ctx, ride.Rider, "Ride cancelled", "Your ride was cancelled", data)
		if ride.Driver != nil {
			_ = sender.SendRideNotification(ctx, ride.Driver, "Ride cancelled", "The ride was cancelled", data)
		}
	}
}
