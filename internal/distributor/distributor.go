package distributor

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"tonegate/internal/broker"
	"tonegate/internal/logger"
	"tonegate/pkg/metrics"
)

const defaultSendBuffer = 64

type subscriber struct {
	connID   string
	userID   string
	tenantID string
	channels map[string]struct{}
	out      chan Event
}

// Distributor fans events out to local subscribers and mirrors every local
// publish to the broker so other instances can deliver to their own
// connections. Delivery is at-most-once: a full subscriber buffer drops.
type Distributor struct {
	origin     string
	topic      string
	producer   broker.Producer
	sendBuffer int
	logger     logger.Logger

	mu   sync.RWMutex
	subs map[string]*subscriber
}

func New(producer broker.Producer, topic string, sendBuffer int, log logger.Logger) *Distributor {
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	return &Distributor{
		origin:     uuid.NewString(),
		topic:      topic,
		producer:   producer,
		sendBuffer: sendBuffer,
		logger:     log,
		subs:       make(map[string]*subscriber),
	}
}

// Origin is this instance's relay identity.
func (d *Distributor) Origin() string { return d.origin }

// Register adds a connection and returns its outbound event stream.
func (d *Distributor) Register(connID, userID, tenantID string) <-chan Event {
	sub := &subscriber{
		connID:   connID,
		userID:   userID,
		tenantID: tenantID,
		channels: make(map[string]struct{}),
		out:      make(chan Event, d.sendBuffer),
	}

	d.mu.Lock()
	d.subs[connID] = sub
	total := len(d.subs)
	d.mu.Unlock()

	metrics.ActiveConnections.Set(float64(total))
	return sub.out
}

// Unregister removes the connection and closes its stream. Events published
// afterwards are not delivered. Closing happens under the write lock so it
// cannot interleave with deliverLocal's sends, which hold the read lock.
func (d *Distributor) Unregister(connID string) {
	d.mu.Lock()
	if sub, ok := d.subs[connID]; ok {
		delete(d.subs, connID)
		close(sub.out)
	}
	total := len(d.subs)
	d.mu.Unlock()

	metrics.ActiveConnections.Set(float64(total))
}

// Subscribe attaches the connection to a channel scope. Access control is
// the registry's job; the distributor only routes.
func (d *Distributor) Subscribe(connID, channel string) {
	d.mu.Lock()
	if sub, ok := d.subs[connID]; ok {
		sub.channels[channel] = struct{}{}
	}
	d.mu.Unlock()
}

func (d *Distributor) Unsubscribe(connID, channel string) {
	d.mu.Lock()
	if sub, ok := d.subs[connID]; ok {
		delete(sub.channels, channel)
	}
	d.mu.Unlock()
}

// Publish stamps the event and delivers it locally, then mirrors it to the
// broker. Broker failures are logged and swallowed; local delivery already
// happened.
func (d *Distributor) Publish(ctx context.Context, ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	ev.Origin = d.origin
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	metrics.EventsPublishedTotal.WithLabelValues(ev.Scope).Inc()
	d.deliverLocal(ev)
	d.relay(ctx, ev)
}

func (d *Distributor) relay(ctx context.Context, ev Event) {
	if d.producer == nil {
		return
	}
	body, err := json.Marshal(ev)
	if err != nil {
		d.logger.ErrorwCtx(ctx, "failed to encode event for relay",
			"event_id", ev.ID,
			"error", err,
		)
		return
	}
	if err := d.producer.Publish(ctx, d.topic, ev.ID, body); err != nil {
		d.logger.WarnwCtx(ctx, "failed to relay event to broker",
			"event_id", ev.ID,
			"error", err,
		)
		return
	}
	metrics.RelayMessagesTotal.WithLabelValues("published").Inc()
}

// RelayHandler is the broker consumer callback: remotely-originated events
// are delivered to local subscribers, our own mirrored events are dropped.
func (d *Distributor) RelayHandler(ctx context.Context, _ string, value []byte) error {
	var ev Event
	if err := json.Unmarshal(value, &ev); err != nil {
		d.logger.ErrorwCtx(ctx, "failed to decode relayed event", "error", err)
		return nil
	}
	if ev.Origin == d.origin {
		return nil
	}

	metrics.RelayMessagesTotal.WithLabelValues("received").Inc()
	d.deliverLocal(ev)
	return nil
}

// deliverLocal sends to every matching subscriber. The sends stay under the
// read lock: they never block (drop on full buffer), and the lock keeps
// Unregister from closing a channel mid-send.
func (d *Distributor) deliverLocal(ev Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, sub := range d.subs {
		if !d.matches(sub, ev) {
			continue
		}
		select {
		case sub.out <- ev:
			metrics.EventsDeliveredTotal.WithLabelValues("delivered").Inc()
		default:
			metrics.EventsDeliveredTotal.WithLabelValues("dropped").Inc()
			d.logger.Warnw("subscriber buffer full, dropping event",
				"connection_id", sub.connID,
				"event_type", ev.Type,
			)
		}
	}
}

func (d *Distributor) matches(sub *subscriber, ev Event) bool {
	if ev.Tenant != "" && sub.tenantID != ev.Tenant {
		return false
	}

	switch ev.Scope {
	case ScopeUser:
		return sub.userID == ev.UserID
	case ScopeTenant:
		return true
	case ScopeChannel:
		_, ok := sub.channels[ev.Channel]
		return ok
	case ScopeAddressees:
		for _, id := range ev.Addressees {
			if sub.userID == id {
				return true
			}
		}
		return false
	default:
		return false
	}
}
