package e2e

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tonegate/internal/distributor"
	"tonegate/internal/realtime"
)

const (
	realtimeWebsocketURL = "ws://localhost:8081/ws"
	eventWaitTimeout     = 10 * time.Second
)

func TestRealtimeRejectsAnonymousConnections(t *testing.T) {
	ws, resp, err := websocket.DefaultDialer.Dial(realtimeWebsocketURL, nil)
	require.Error(t, err)
	if ws != nil {
		ws.Close()
	}
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRealtimePing(t *testing.T) {
	ws := dialRealtime(t, "e2e-ping-user", "e2e-tenant")

	sendCommand(t, ws, realtime.Command{Type: "ping"})
	waitForMessage(t, ws, "pong")
}

func TestRealtimeChannelMessageBroadcast(t *testing.T) {
	tenant := fmt.Sprintf("e2e-tenant-%s", uuid.New().String()[:8])
	channel := fmt.Sprintf("e2e-room-%s", uuid.New().String()[:8])

	alice := dialRealtime(t, "alice", tenant)
	bob := dialRealtime(t, "bob", tenant)

	sendCommand(t, alice, realtime.Command{Type: "subscribe", Channel: channel})
	subscribed := waitForMessage(t, alice, "subscribed")
	assert.Equal(t, channel, subscribed.Channel)

	sendCommand(t, bob, realtime.Command{Type: "subscribe", Channel: channel})
	waitForMessage(t, bob, "subscribed")

	// Alice sees bob arriving. Her own join lands first, skip it.
	for {
		join := waitForEvent(t, alice, "collaboration_join")
		if join.Payload["user_id"] == "bob" {
			break
		}
	}

	sendCommand(t, bob, realtime.Command{Type: "message", Channel: channel, Text: "hello room"})

	msg := waitForEvent(t, alice, "collaboration_message")
	assert.Equal(t, channel, msg.Channel)
	assert.Equal(t, "bob", msg.Payload["user_id"])
	assert.Equal(t, "hello room", msg.Payload["text"])
}

func TestRealtimeUnsubscribeStopsDelivery(t *testing.T) {
	tenant := fmt.Sprintf("e2e-tenant-%s", uuid.New().String()[:8])
	channel := fmt.Sprintf("e2e-room-%s", uuid.New().String()[:8])

	alice := dialRealtime(t, "alice", tenant)
	bob := dialRealtime(t, "bob", tenant)

	sendCommand(t, alice, realtime.Command{Type: "subscribe", Channel: channel})
	waitForMessage(t, alice, "subscribed")
	sendCommand(t, bob, realtime.Command{Type: "subscribe", Channel: channel})
	waitForMessage(t, bob, "subscribed")

	sendCommand(t, alice, realtime.Command{Type: "unsubscribe", Channel: channel})
	waitForMessage(t, alice, "unsubscribed")

	sendCommand(t, bob, realtime.Command{Type: "message", Channel: channel, Text: "anyone there"})

	ev := tryGetEvent(t, alice, "collaboration_message", 3*time.Second)
	assert.Nil(t, ev, "unsubscribed connection should not receive channel messages")
}

func TestRealtimePresenceBroadcast(t *testing.T) {
	tenant := fmt.Sprintf("e2e-tenant-%s", uuid.New().String()[:8])

	alice := dialRealtime(t, "alice", tenant)
	bob := dialRealtime(t, "bob", tenant)

	sendCommand(t, bob, realtime.Command{Type: "presence_update", Status: "busy"})

	// Connect-time online events for both users land first, skip them.
	for {
		ev := waitForEvent(t, alice, "presence_changed")
		if ev.Payload["user_id"] == "bob" && ev.Payload["status"] == "busy" {
			break
		}
	}
}

func TestRealtimeTransformOverWebsocket(t *testing.T) {
	tenant := fmt.Sprintf("e2e-tenant-%s", uuid.New().String()[:8])
	ws := dialRealtime(t, "alice", tenant)

	sendCommand(t, ws, realtime.Command{
		Type:               "transform",
		Text:               "this is taking way too long",
		TransformationType: "soften",
		Intensity:          2,
	})

	ev := waitForEvent(t, ws, "transformation_success")
	assert.Equal(t, "this is taking way too long", ev.Payload["original_text"])
	assert.NotEmpty(t, ev.Payload["transformed_text"])
}

func TestRealtimeUnknownCommand(t *testing.T) {
	ws := dialRealtime(t, "e2e-unknown-user", "e2e-tenant")

	sendCommand(t, ws, realtime.Command{Type: "teleport"})
	errMsg := waitForMessage(t, ws, "error")
	assert.Equal(t, "VALIDATION_ERROR", errMsg.Error["code"])
}

func dialRealtime(t *testing.T, userID, tenantID string) *websocket.Conn {
	t.Helper()

	header := http.Header{}
	header.Set("X-User-ID", userID)
	header.Set("X-Tenant-ID", tenantID)

	ws, resp, err := websocket.DefaultDialer.Dial(realtimeWebsocketURL, header)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { ws.Close() })

	return ws
}

func sendCommand(t *testing.T, ws *websocket.Conn, cmd realtime.Command) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(cmd))
}

// waitForMessage reads frames until one of the wanted type arrives. Event
// frames produced by other activity on the connection are skipped.
func waitForMessage(t *testing.T, ws *websocket.Conn, msgType string) realtime.Message {
	t.Helper()

	deadline := time.Now().Add(eventWaitTimeout)
	require.NoError(t, ws.SetReadDeadline(deadline))

	for time.Now().Before(deadline) {
		var msg realtime.Message
		err := ws.ReadJSON(&msg)
		require.NoError(t, err, "waiting for %q frame", msgType)
		if msg.Type == msgType {
			return msg
		}
	}

	t.Fatalf("no %q frame within %s", msgType, eventWaitTimeout)
	return realtime.Message{}
}

func waitForEvent(t *testing.T, ws *websocket.Conn, eventType string) *distributor.Event {
	t.Helper()

	ev := tryGetEvent(t, ws, eventType, eventWaitTimeout)
	require.NotNil(t, ev, "no %q event within %s", eventType, eventWaitTimeout)
	return ev
}

func tryGetEvent(t *testing.T, ws *websocket.Conn, eventType string, timeout time.Duration) *distributor.Event {
	t.Helper()

	deadline := time.Now().Add(timeout)
	require.NoError(t, ws.SetReadDeadline(deadline))

	for time.Now().Before(deadline) {
		var msg realtime.Message
		if err := ws.ReadJSON(&msg); err != nil {
			return nil
		}
		if msg.Type == "event" && msg.Event != nil && msg.Event.Type == eventType {
			return msg.Event
		}
	}
	return nil
}
