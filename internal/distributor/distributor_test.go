package distributor

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tonegate/internal/logger"
)

type recordingProducer struct {
	mu       sync.Mutex
	messages [][]byte
}

func (p *recordingProducer) Publish(_ context.Context, _ string, _ string, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, value)
	return nil
}

func (p *recordingProducer) Close() error { return nil }

func (p *recordingProducer) last(t *testing.T) Event {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(t, p.messages)
	var ev Event
	require.NoError(t, json.Unmarshal(p.messages[len(p.messages)-1], &ev))
	return ev
}

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func assertNoEvent(t *testing.T, ch <-chan Event) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event delivered: %+v", ev)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestUserScopeReachesOnlyThatUser(t *testing.T) {
	d := New(nil, "events", 4, logger.NopLogger())

	alice := d.Register("c1", "alice", "t1")
	bob := d.Register("c2", "bob", "t1")

	d.Publish(context.Background(), UserEvent(EventNotification, "t1", "alice", nil))

	ev := receive(t, alice)
	assert.Equal(t, "alice", ev.UserID)
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, d.Origin(), ev.Origin)

	assertNoEvent(t, bob)
}

func TestTenantScopeIsolation(t *testing.T) {
	d := New(nil, "events", 4, logger.NopLogger())

	sameTenant := d.Register("c1", "alice", "t1")
	otherTenant := d.Register("c2", "carol", "t2")

	d.Publish(context.Background(), TenantEvent(EventPresenceChanged, "t1", map[string]interface{}{"user_id": "bob"}))

	receive(t, sameTenant)
	assertNoEvent(t, otherTenant)
}

func TestChannelScopeNeedsSubscription(t *testing.T) {
	d := New(nil, "events", 4, logger.NopLogger())

	subscribed := d.Register("c1", "alice", "t1")
	unsubscribed := d.Register("c2", "bob", "t1")
	d.Subscribe("c1", "general")

	d.Publish(context.Background(), ChannelEvent(EventCollaborationMessage, "t1", "general", nil))

	ev := receive(t, subscribed)
	assert.Equal(t, "general", ev.Channel)
	assertNoEvent(t, unsubscribed)

	d.Unsubscribe("c1", "general")
	d.Publish(context.Background(), ChannelEvent(EventCollaborationMessage, "t1", "general", nil))
	assertNoEvent(t, subscribed)
}

func TestAddresseeScope(t *testing.T) {
	d := New(nil, "events", 4, logger.NopLogger())

	alice := d.Register("c1", "alice", "t1")
	bob := d.Register("c2", "bob", "t1")
	carol := d.Register("c3", "carol", "t1")

	d.Publish(context.Background(), AddresseeEvent(EventNotification, "t1", []string{"alice", "carol"}, nil))

	receive(t, alice)
	receive(t, carol)
	assertNoEvent(t, bob)
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	d := New(nil, "events", 2, logger.NopLogger())

	ch := d.Register("c1", "alice", "t1")

	for i := 0; i < 5; i++ {
		d.Publish(context.Background(), UserEvent(EventNotification, "t1", "alice", nil))
	}

	// Buffer holds two; the rest were dropped, never redelivered.
	receive(t, ch)
	receive(t, ch)
	assertNoEvent(t, ch)
}

func TestUnregisterClosesStream(t *testing.T) {
	d := New(nil, "events", 4, logger.NopLogger())

	ch := d.Register("c1", "alice", "t1")
	d.Unregister("c1")

	_, open := <-ch
	assert.False(t, open)

	// Publishing after unregister must not panic.
	d.Publish(context.Background(), UserEvent(EventNotification, "t1", "alice", nil))
}

func TestPublishDuringUnregisterDoesNotPanic(t *testing.T) {
	d := New(nil, "events", 1, logger.NopLogger())

	done := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
				d.Publish(context.Background(), UserEvent(EventNotification, "t1", "alice", nil))
				d.Publish(context.Background(), TenantEvent(EventPresenceChanged, "t1", nil))
			}
		}
	}()

	// Churn subscribers against the publisher. A send racing a close
	// would panic the process, not just fail an assertion.
	for i := 0; i < 500; i++ {
		ch := d.Register("conn", "alice", "t1")
		select {
		case <-ch:
		default:
		}
		d.Unregister("conn")
	}

	close(done)
	wg.Wait()
}

func TestPublishMirrorsToBroker(t *testing.T) {
	producer := &recordingProducer{}
	d := New(producer, "events", 4, logger.NopLogger())

	d.Publish(context.Background(), TenantEvent(EventPresenceChanged, "t1", nil))

	relayed := producer.last(t)
	assert.Equal(t, d.Origin(), relayed.Origin)
	assert.Equal(t, EventPresenceChanged, relayed.Type)
}

func TestRelayHandlerDropsOwnEvents(t *testing.T) {
	d := New(nil, "events", 4, logger.NopLogger())
	ch := d.Register("c1", "alice", "t1")

	own := Event{ID: "e1", Type: EventNotification, Scope: ScopeUser, Tenant: "t1", UserID: "alice", Origin: d.Origin()}
	body, err := json.Marshal(own)
	require.NoError(t, err)
	require.NoError(t, d.RelayHandler(context.Background(), "e1", body))
	assertNoEvent(t, ch)
}

func TestRelayHandlerDeliversRemoteEvents(t *testing.T) {
	d := New(nil, "events", 4, logger.NopLogger())
	ch := d.Register("c1", "alice", "t1")

	remote := Event{ID: "e2", Type: EventNotification, Scope: ScopeUser, Tenant: "t1", UserID: "alice", Origin: "other-instance"}
	body, err := json.Marshal(remote)
	require.NoError(t, err)
	require.NoError(t, d.RelayHandler(context.Background(), "e2", body))

	ev := receive(t, ch)
	assert.Equal(t, "other-instance", ev.Origin)
}

func TestRelayHandlerIgnoresGarbage(t *testing.T) {
	d := New(nil, "events", 4, logger.NopLogger())
	assert.NoError(t, d.RelayHandler(context.Background(), "x", []byte("not json")))
}
