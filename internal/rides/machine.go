// Package rides owns the authoritative status of a ride and applies
// lifecycle transitions against the persisted state.
package rides

import (
	"github.com/prashanthspeshway/riderapp-backend/internal/models"
)

// allowedTransitions encodes the ride state flow as code. Initial
// status is pending; completed, cancelled and rejected are terminal.
var allowedTransitions = map[string][]string{
	models.RideStatusPending: {
		models.RideStatusAccepted,
		models.RideStatusRejected,
		models.RideStatusCancelled,
	},
	models.RideStatusAccepted: {
		models.RideStatusStarted,
		models.RideStatusCancelled,
	},
	models.RideStatusStarted: {
		models.RideStatusCompleted,
		models.RideStatusCancelled, // exceptional abort
	},
}

// CanTransition reports whether moving a ride from one status to
// another is legal.
func CanTransition(from, to string) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}
