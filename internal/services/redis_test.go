package services

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/prashanthspeshway/riderapp-backend/internal/realtime"
)

type recordingSink struct {
	rooms  []string
	events []realtime.Event
}

func (r *recordingSink) EmitToRoom(room string, event realtime.Event) {
	r.rooms = append(r.rooms, room)
	r.events = append(r.events, event)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestRelayRideUpdateFansIntoRideRoom(t *testing.T) {
	sink := &recordingSink{}

	payload, err := json.Marshal(rideUpdate{
		RideID:    42,
		Status:    "accepted",
		Data:      map[string]interface{}{"driverId": float64(7)},
		Timestamp: 1700000000,
	})
	if err != nil {
		t.Fatal(err)
	}

	relayRideUpdate(sink, payload, testLogger())

	if len(sink.events) != 1 {
		t.Fatalf("expected 1 relayed event, got %d", len(sink.events))
	}
	if sink.rooms[0] != realtime.RideRoom(42) {
		t.Errorf("relayed into room %q, want %q", sink.rooms[0], realtime.RideRoom(42))
	}
	ev := sink.events[0]
	if ev.Type != realtime.EventRideStatusUpdate {
		t.Errorf("event type = %q, want %q", ev.Type, realtime.EventRideStatusUpdate)
	}
	update, ok := ev.Data.(rideUpdate)
	if !ok {
		t.Fatalf("event data has type %T", ev.Data)
	}
	if update.RideID != 42 || update.Status != "accepted" {
		t.Errorf("relayed update = %+v", update)
	}
}

func TestRelayRideUpdateIgnoresBadPayload(t *testing.T) {
	sink := &recordingSink{}

	relayRideUpdate(sink, []byte("not json"), testLogger())

	if len(sink.events) != 0 {
		t.Errorf("expected no events for malformed payload, got %d", len(sink.events))
	}
}
