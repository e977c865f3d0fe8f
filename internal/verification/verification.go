// Package verification gates ride activation behind a short-lived
// numeric code. The code is disclosed to the rider only; the driver
// proves physical pickup by submitting it.
package verification

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"time"

	"github.com/prashanthspeshway/riderapp-backend/internal/models"
	"github.com/prashanthspeshway/riderapp-backend/internal/observability"
	"github.com/prashanthspeshway/riderapp-backend/internal/realtime"
	"github.com/prashanthspeshway/riderapp-backend/internal/rides"
	"github.com/prashanthspeshway/riderapp-backend/pkg/utils"
)

var (
	// ErrInvalidOrExpiredCode is returned on any verification failure.
	// The ride is not mutated and the call is safe to retry.
	ErrInvalidOrExpiredCode = errors.New("invalid or expired verification code")
	// ErrResendLimit caps how many fresh codes one ride may get.
	ErrResendLimit = errors.New("verification code resend limit reached")
)

// MaxResends bounds code reissues per ride.
const MaxResends = 5

// Notifier is the slice of the realtime coordinator the gate uses.
type Notifier interface {
	EmitToUser(userID uint, event realtime.Event)
	EmitToRoom(room string, event realtime.Event)
}

// Service issues, resends and checks verification codes.
type Service struct {
	rides  *rides.Service
	hub    Notifier
	sms    utils.SMSSender
	ttl    time.Duration
	logger *slog.Logger

	// Now is swappable for tests.
	Now func() time.Time
}

func NewService(rideSvc *rides.Service, hub Notifier, sms utils.SMSSender, ttl time.Duration, logger *slog.Logger) *Service {
	if ttl <= 0 {
		ttl = utils.OTPExpiration
	}
	return &Service{
		rides:  rideSvc,
		hub:    hub,
		sms:    sms,
		ttl:    ttl,
		logger: logger,
		Now:    time.Now,
	}
}

// Issue generates a fresh code for a just-accepted ride and delivers
// it to the rider's session and phone. The driver never sees it.
func (s *Service) Issue(ctx context.Context, ride *models.Ride, riderPhone string) error {
	return s.issue(ctx, ride, riderPhone, 0)
}

// Resend reissues a code while the ride is still accepted, resetting
// the countdown. Capped at MaxResends per ride.
func (s *Service) Resend(ctx context.Context, rideID uint, riderPhone string) error {
	ride, err := s.rides.Get(ctx, rideID)
	if err != nil {
		return err
	}
	if ride.Status != models.RideStatusAccepted {
		return rides.ErrInvalidTransition
	}
	if ride.OtpResends >= MaxResends {
		return ErrResendLimit
	}
	return s.issue(ctx, ride, riderPhone, ride.OtpResends+1)
}

func (s *Service) issue(ctx context.Context, ride *models.Ride, riderPhone string, resends int) error {
	code := utils.GenerateOTP()
	issuedAt := s.Now()

	if err := s.rides.AttachOTP(ctx, ride.ID, code, issuedAt, resends); err != nil {
		return err
	}

	s.hub.EmitToUser(ride.RiderID, realtime.Event{
		Type: realtime.EventVerificationCode,
		Data: map[string]interface{}{
			"rideId":       ride.ID,
			"code":         code,
			"expiresInSec": int(s.ttl.Seconds()),
		},
	})

	if riderPhone != "" {
		if err := utils.SendVerificationCodeSMS(s.sms, riderPhone, code); err != nil {
			// Delivery failure is not fatal: the code is also on the
			// rider's live session and a resend can be requested.
			s.logger.Warn("verification sms failed", "rideId", ride.ID, "error", err)
		}
	}

	s.logger.Info("verification code issued", "rideId", ride.ID, "resends", resends)
	return nil
}

// Verify checks a submitted code and, on success, transitions the ride
// accepted -> started and consumes the code. Single use: a second call
// with the same code fails.
func (s *Service) Verify(ctx context.Context, rideID uint, submittedCode string) (*models.Ride, error) {
	ride, err := s.rides.Get(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if ride.Status != models.RideStatusAccepted || ride.OtpUsed || ride.OtpCode == "" || ride.OtpIssuedAt == nil {
		observability.OTPVerifications.WithLabelValues("rejected").Inc()
		return nil, ErrInvalidOrExpiredCode
	}
	if s.Now().Sub(*ride.OtpIssuedAt) >= s.ttl {
		observability.OTPVerifications.WithLabelValues("expired").Inc()
		return nil, ErrInvalidOrExpiredCode
	}
	if subtle.ConstantTimeCompare([]byte(ride.OtpCode), []byte(submittedCode)) != 1 {
		observability.OTPVerifications.WithLabelValues("mismatch").Inc()
		return nil, ErrInvalidOrExpiredCode
	}

	started, err := s.rides.Start(ctx, rideID)
	if err != nil {
		// A concurrent transition won; report as a retryable
		// verification failure without side effects.
		if err == rides.ErrConflict || err == rides.ErrInvalidTransition {
			observability.OTPVerifications.WithLabelValues("conflict").Inc()
			return nil, ErrInvalidOrExpiredCode
		}
		return nil, err
	}

	observability.OTPVerifications.WithLabelValues("ok").Inc()

	var driverID uint
	if started.DriverID != nil {
		driverID = *started.DriverID
	}
	s.hub.EmitToRoom(realtime.RideRoom(rideID), realtime.Event{
		Type: realtime.EventRideStarted,
		Data: realtime.RideStatusUpdate{RideID: rideID, Status: started.Status, DriverID: driverID},
	})

	s.logger.Info("ride verified and started", "rideId", rideID)
	return started, nil
}
