package realtime

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(userID uint, userType string) *Client {
	return &Client{
		identity: IdentityKey(userID),
		userID:   userID,
		userType: userType,
		send:     make(chan []byte, 256),
	}
}

func runHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(testLogger())
	go h.Run()
	return h
}

func connect(t *testing.T, h *Hub, c *Client) {
	t.Helper()
	h.register <- c
	deadline := time.Now().Add(time.Second)
	for !h.Connected(c.userID) {
		if time.Now().After(deadline) {
			t.Fatalf("client %s never registered", c.identity)
		}
		time.Sleep(time.Millisecond)
	}
}

func recvEvent(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case data := <-c.send:
		var e Event
		if err := json.Unmarshal(data, &e); err != nil {
			t.Fatalf("bad frame: %v", err)
		}
		return e
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return Event{}
	}
}

func TestEmitToUser(t *testing.T) {
	h := runHub(t)
	rider := newTestClient(1, "rider")
	other := newTestClient(2, "rider")
	connect(t, h, rider)
	connect(t, h, other)

	h.EmitToUser(1, Event{Type: EventRideAccepted})

	if e := recvEvent(t, rider); e.Type != EventRideAccepted {
		t.Fatalf("expected ride_accepted, got %s", e.Type)
	}
	select {
	case <-other.send:
		t.Fatal("event leaked to an unrelated user")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRoomFanOut(t *testing.T) {
	h := runHub(t)
	rider := newTestClient(1, "rider")
	driver := newTestClient(2, "driver")
	stranger := newTestClient(3, "rider")
	connect(t, h, rider)
	connect(t, h, driver)
	connect(t, h, stranger)

	room := RideRoom(10)
	h.JoinRoom(room, rider.identity)
	h.JoinRoom(room, driver.identity)

	h.EmitToRoom(room, Event{Type: EventChatMessage})

	if e := recvEvent(t, rider); e.Type != EventChatMessage {
		t.Fatalf("rider: got %s", e.Type)
	}
	if e := recvEvent(t, driver); e.Type != EventChatMessage {
		t.Fatalf("driver: got %s", e.Type)
	}
	select {
	case <-stranger.send:
		t.Fatal("room event leaked to a non-member")
	case <-time.After(50 * time.Millisecond):
	}
}

// Membership survives a reconnect: rooms are keyed by identity, not
// by connection.
func TestReconnectKeepsRoomMembership(t *testing.T) {
	h := runHub(t)
	first := newTestClient(1, "rider")
	connect(t, h, first)

	room := RideRoom(10)
	h.JoinRoom(room, first.identity)

	h.unregister <- first
	deadline := time.Now().Add(time.Second)
	for h.Connected(1) {
		if time.Now().After(deadline) {
			t.Fatal("client never unregistered")
		}
		time.Sleep(time.Millisecond)
	}

	second := newTestClient(1, "rider")
	connect(t, h, second)

	h.EmitToRoom(room, Event{Type: EventRideStarted})
	if e := recvEvent(t, second); e.Type != EventRideStarted {
		t.Fatalf("reconnected client should still be in the room, got %s", e.Type)
	}
}

func TestLeaveRoomDropsOnlyThatMember(t *testing.T) {
	h := runHub(t)
	rider := newTestClient(1, "rider")
	driver := newTestClient(2, "driver")
	connect(t, h, rider)
	connect(t, h, driver)

	room := RideRoom(10)
	h.JoinRoom(room, rider.identity)
	h.JoinRoom(room, driver.identity)

	h.LeaveRoom(room, driver.identity)

	h.EmitToRoom(room, Event{Type: EventChatMessage})
	if e := recvEvent(t, rider); e.Type != EventChatMessage {
		t.Fatalf("remaining member should still receive, got %s", e.Type)
	}
	select {
	case <-driver.send:
		t.Fatal("departed member must not receive")
	case <-time.After(50 * time.Millisecond):
	}

	h.LeaveRoom(room, rider.identity)
	if len(h.Members(room)) != 0 {
		t.Fatal("room should be gone once the last member leaves")
	}
}

func TestCloseRoomStopsDelivery(t *testing.T) {
	h := runHub(t)
	rider := newTestClient(1, "rider")
	connect(t, h, rider)

	room := RideRoom(10)
	h.JoinRoom(room, rider.identity)
	h.CloseRoom(room)

	h.EmitToRoom(room, Event{Type: EventRideCompleted})
	select {
	case <-rider.send:
		t.Fatal("closed room must not deliver")
	case <-time.After(50 * time.Millisecond):
	}
	if len(h.Members(room)) != 0 {
		t.Fatal("closed room must have no members")
	}
}

func TestSlowConsumerIsSkippedNotBlocked(t *testing.T) {
	h := runHub(t)
	slow := newTestClient(1, "rider")
	slow.send = make(chan []byte) // unbuffered and never drained
	connect(t, h, slow)

	done := make(chan struct{})
	go func() {
		h.EmitToUser(1, Event{Type: EventDriverLocation})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("emit blocked on a slow consumer")
	}
}

func TestEmitToUserType(t *testing.T) {
	h := runHub(t)
	rider := newTestClient(1, "rider")
	driver := newTestClient(2, "driver")
	connect(t, h, rider)
	connect(t, h, driver)

	h.EmitToUserType("rider", Event{Type: EventOnlineDrivers})

	if e := recvEvent(t, rider); e.Type != EventOnlineDrivers {
		t.Fatalf("rider: got %s", e.Type)
	}
	select {
	case <-driver.send:
		t.Fatal("driver should not receive rider broadcasts")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMultipleConnectionsPerIdentity(t *testing.T) {
	h := runHub(t)
	phone := newTestClient(1, "rider")
	tablet := newTestClient(1, "rider")
	connect(t, h, phone)
	h.register <- tablet
	deadline := time.Now().Add(time.Second)
	for h.GetConnectedClients() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("second connection never registered")
		}
		time.Sleep(time.Millisecond)
	}

	h.EmitToUser(1, Event{Type: EventRideAccepted})
	recvEvent(t, phone)
	recvEvent(t, tablet)
}
