package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/codecast/server/internal/protocol"
)

func newWsServer(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := newTestHub()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	}))
	t.Cleanup(srv.Close)
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, eventType protocol.EventType, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	frame, err := json.Marshal(protocol.Envelope{Type: eventType, Payload: raw})
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) *protocol.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	env, err := protocol.Decode(data)
	if err != nil {
		t.Fatalf("Undecodable frame: %v", err)
	}
	return env
}

func readJoined(t *testing.T, conn *websocket.Conn) protocol.JoinedPayload {
	t.Helper()
	env := readEvent(t, conn)
	if env.Type != protocol.EventJoined {
		t.Fatalf("Expected joined, got %s", env.Type)
	}
	var p protocol.JoinedPayload
	if err := protocol.DecodePayload(env, &p); err != nil {
		t.Fatal(err)
	}
	return p
}

// The full session flow: two participants join, edits propagate to
// the other member only, a late joiner bootstraps over a
// point-to-point sync, and a disconnect is announced to the rest.
func TestCollaborationSession(t *testing.T) {
	hub, srv := newWsServer(t)

	alice := dial(t, srv)
	send(t, alice, protocol.EventJoin, protocol.JoinPayload{RoomID: "R1", DisplayName: "Alice"})

	joined := readJoined(t, alice)
	if len(joined.Members) != 1 || joined.DisplayName != "Alice" {
		t.Fatalf("Unexpected joined payload: %+v", joined)
	}
	aliceID := joined.ConnectionID

	bob := dial(t, srv)
	send(t, bob, protocol.EventJoin, protocol.JoinPayload{RoomID: "R1", DisplayName: "Bob"})

	joinedAtBob := readJoined(t, bob)
	joinedAtAlice := readJoined(t, alice)
	if len(joinedAtBob.Members) != 2 || len(joinedAtAlice.Members) != 2 {
		t.Fatal("Both participants should see a two-member list")
	}
	if joinedAtAlice.DisplayName != "Bob" {
		t.Errorf("Alice should see Bob's join, got %s", joinedAtAlice.DisplayName)
	}
	bobID := joinedAtBob.ConnectionID
	if bobID == aliceID {
		t.Fatal("Connection ids must be unique")
	}

	// Alice holds the current document, so she answers Bob's join
	// with a sync addressed to his connection id.
	send(t, alice, protocol.EventSyncRequest, protocol.SyncRequestPayload{
		Code:               "print(1)",
		TargetConnectionID: bobID,
	})

	env := readEvent(t, bob)
	if env.Type != protocol.EventSyncRequest {
		t.Fatalf("Expected sync-request, got %s", env.Type)
	}
	var sync protocol.SyncRequestPayload
	if err := protocol.DecodePayload(env, &sync); err != nil {
		t.Fatal(err)
	}
	if sync.Code != "print(1)" {
		t.Errorf("Sync payload must arrive intact, got %q", sync.Code)
	}

	// An edit reaches the other member, not the sender.
	send(t, alice, protocol.EventCodeChange, protocol.CodeChangePayload{Code: "print(2)"})

	env = readEvent(t, bob)
	if env.Type != protocol.EventCodeChange {
		t.Fatalf("Expected code-change, got %s", env.Type)
	}
	var change protocol.CodeChangePayload
	if err := protocol.DecodePayload(env, &change); err != nil {
		t.Fatal(err)
	}
	if change.Code != "print(2)" {
		t.Errorf("Edit relayed with wrong content: %q", change.Code)
	}

	// Bob drops; the next thing Alice hears is the departure, which
	// also proves her own edit was never echoed back.
	bob.Close()

	env = readEvent(t, alice)
	if env.Type != protocol.EventLeft {
		t.Fatalf("Expected left, got %s", env.Type)
	}
	var left protocol.LeftPayload
	if err := protocol.DecodePayload(env, &left); err != nil {
		t.Fatal(err)
	}
	if left.ConnectionID != bobID || left.DisplayName != "Bob" {
		t.Errorf("Unexpected left payload: %+v", left)
	}

	deadline := time.Now().Add(time.Second)
	for hub.ClientCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	members := hub.registry.MembersOf("R1")
	if len(members) != 1 || members[0].DisplayName != "Alice" {
		t.Errorf("Expected only Alice to remain, got %+v", members)
	}
}

func TestJoinWithEmptyFieldsClosesConnection(t *testing.T) {
	_, srv := newWsServer(t)

	conn := dial(t, srv)
	send(t, conn, protocol.EventJoin, protocol.JoinPayload{RoomID: "", DisplayName: "Alice"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if err == nil {
		t.Fatal("Expected the server to close the connection")
	}
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Errorf("Expected policy violation close, got %v", err)
	}
}

func TestEventsBeforeJoinAreIgnored(t *testing.T) {
	hub, srv := newWsServer(t)

	conn := dial(t, srv)
	send(t, conn, protocol.EventCodeChange, protocol.CodeChangePayload{Code: "x"})

	// The connection stays up and nothing is registered.
	time.Sleep(50 * time.Millisecond)
	if hub.ClientCount() != 0 {
		t.Errorf("Expected no registered clients, got %d", hub.ClientCount())
	}

	send(t, conn, protocol.EventJoin, protocol.JoinPayload{RoomID: "R1", DisplayName: "Alice"})
	joined := readJoined(t, conn)
	if len(joined.Members) != 1 {
		t.Errorf("Join after stray events should still work, got %+v", joined)
	}
}

// Two join frames written back-to-back, without waiting for the
// first to be processed, must register the first room and then move
// to the second — not collapse both registrations onto one room.
func TestPipelinedRejoinRegistersBothRooms(t *testing.T) {
	hub, srv := newWsServer(t)

	conn := dial(t, srv)
	send(t, conn, protocol.EventJoin, protocol.JoinPayload{RoomID: "room-a", DisplayName: "Alice"})
	send(t, conn, protocol.EventJoin, protocol.JoinPayload{RoomID: "room-b", DisplayName: "Alice"})

	first := readJoined(t, conn)
	if len(first.Members) != 1 {
		t.Fatalf("Unexpected first joined payload: %+v", first)
	}

	second := readJoined(t, conn)
	if len(second.Members) != 1 {
		t.Fatalf("Unexpected second joined payload: %+v", second)
	}
	if second.ConnectionID != first.ConnectionID {
		t.Error("Both joins belong to the same connection")
	}

	if got := len(hub.registry.MembersOf("room-a")); got != 0 {
		t.Errorf("First room should be vacated after the move, got %d members", got)
	}
	members := hub.registry.MembersOf("room-b")
	if len(members) != 1 || members[0].ConnectionID != first.ConnectionID {
		t.Errorf("Second room should hold the connection, got %+v", members)
	}
}

// A live connection switching rooms: the old room hears a left under
// the old name, the new room hears a joined under the new one.
func TestRoomMoveOverWebsocket(t *testing.T) {
	hub, srv := newWsServer(t)

	alice := dial(t, srv)
	send(t, alice, protocol.EventJoin, protocol.JoinPayload{RoomID: "room-a", DisplayName: "Alice"})
	aliceID := readJoined(t, alice).ConnectionID

	bob := dial(t, srv)
	send(t, bob, protocol.EventJoin, protocol.JoinPayload{RoomID: "room-a", DisplayName: "Bob"})
	readJoined(t, bob)
	readJoined(t, alice)

	cara := dial(t, srv)
	send(t, cara, protocol.EventJoin, protocol.JoinPayload{RoomID: "room-b", DisplayName: "Cara"})
	readJoined(t, cara)

	send(t, alice, protocol.EventJoin, protocol.JoinPayload{RoomID: "room-b", DisplayName: "Alicia"})

	env := readEvent(t, bob)
	if env.Type != protocol.EventLeft {
		t.Fatalf("Expected left in the vacated room, got %s", env.Type)
	}
	var left protocol.LeftPayload
	if err := protocol.DecodePayload(env, &left); err != nil {
		t.Fatal(err)
	}
	if left.ConnectionID != aliceID || left.DisplayName != "Alice" {
		t.Errorf("Departure should carry the old room's identity, got %+v", left)
	}

	joinedAtCara := readJoined(t, cara)
	if joinedAtCara.ConnectionID != aliceID || joinedAtCara.DisplayName != "Alicia" {
		t.Errorf("New room should see the joiner's new name, got %+v", joinedAtCara)
	}
	if len(joinedAtCara.Members) != 2 {
		t.Errorf("Expected 2 members in the new room, got %d", len(joinedAtCara.Members))
	}
	joinedAtAlice := readJoined(t, alice)
	if len(joinedAtAlice.Members) != 2 {
		t.Errorf("Mover should see the new room's list, got %+v", joinedAtAlice)
	}

	members := hub.registry.MembersOf("room-a")
	if len(members) != 1 || members[0].DisplayName != "Bob" {
		t.Errorf("Old room should hold only Bob, got %+v", members)
	}
}

func TestPerSenderOrderPreserved(t *testing.T) {
	_, srv := newWsServer(t)

	alice := dial(t, srv)
	send(t, alice, protocol.EventJoin, protocol.JoinPayload{RoomID: "R1", DisplayName: "Alice"})
	readJoined(t, alice)

	bob := dial(t, srv)
	send(t, bob, protocol.EventJoin, protocol.JoinPayload{RoomID: "R1", DisplayName: "Bob"})
	readJoined(t, bob)
	readJoined(t, alice)

	edits := []string{"a", "ab", "abc", "abcd", "abcde"}
	for _, code := range edits {
		send(t, alice, protocol.EventCodeChange, protocol.CodeChangePayload{Code: code})
	}

	for _, want := range edits {
		env := readEvent(t, bob)
		if env.Type != protocol.EventCodeChange {
			t.Fatalf("Expected code-change, got %s", env.Type)
		}
		var p protocol.CodeChangePayload
		if err := protocol.DecodePayload(env, &p); err != nil {
			t.Fatal(err)
		}
		if p.Code != want {
			t.Fatalf("Out of order delivery: expected %q, got %q", want, p.Code)
		}
	}
}
