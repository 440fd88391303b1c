package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"tonegate/internal/distributor"
	"tonegate/internal/logger"
	"tonegate/pkg/logging"
)

const (
	defaultPingInterval = 30 * time.Second
	defaultPongTimeout  = 60 * time.Second
	writeTimeout        = 10 * time.Second
	maxFrameBytes       = 64 * 1024
)

// Connection is one websocket client. The read pump decodes commands and
// hands them to the handler; the write pump owns all writes to the socket.
type Connection struct {
	id       string
	userID   string
	tenantID string
	role     string

	ws      *websocket.Conn
	events  <-chan distributor.Event
	replies chan Message
	limiter *rate.Limiter

	pingInterval time.Duration
	pongTimeout  time.Duration

	logger logger.Logger
}

func (c *Connection) ID() string       { return c.id }
func (c *Connection) UserID() string   { return c.userID }
func (c *Connection) TenantID() string { return c.tenantID }
func (c *Connection) Role() string     { return c.role }

// reply queues a direct response frame. Replies share the drop-on-full
// policy with events so a stuck client cannot block command handling.
func (c *Connection) reply(msg Message) {
	select {
	case c.replies <- msg:
	default:
		c.logger.Warnw("reply buffer full, dropping frame",
			"connection_id", c.id,
			"message_type", msg.Type,
		)
	}
}

// readPump consumes inbound frames until the socket closes or ctx ends.
// Returns once the connection is unusable; the caller tears down.
func (c *Connection) readPump(ctx context.Context, dispatch func(ctx context.Context, cmd Command)) {
	c.ws.SetReadLimit(maxFrameBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.pongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.pongTimeout))
	})

	connCtx := logging.WithConnectionID(ctx, c.id)
	connCtx = logging.WithUserID(connCtx, c.userID)
	connCtx = logging.WithTenantID(connCtx, c.tenantID)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.WarnwCtx(connCtx, "websocket closed unexpectedly", "error", err)
			}
			return
		}

		if !c.limiter.Allow() {
			c.reply(errorMessage(map[string]interface{}{
				"code":    "RATE_LIMITED",
				"message": "too many commands",
			}))
			continue
		}

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.reply(errorMessage(map[string]interface{}{
				"code":    "VALIDATION_ERROR",
				"message": "malformed command",
			}))
			continue
		}

		dispatch(connCtx, cmd)
	}
}

// writePump serializes all socket writes: distributor events, direct
// replies, and keepalive pings.
func (c *Connection) writePump(ctx context.Context) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	defer c.ws.Close()

	for {
		select {
		case ev, ok := <-c.events:
			if !ok {
				_ = c.writeControl(websocket.CloseMessage)
				return
			}
			if err := c.writeJSON(eventMessage(ev)); err != nil {
				return
			}
		case msg := <-c.replies:
			if err := c.writeJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.writeControl(websocket.PingMessage); err != nil {
				return
			}
		case <-ctx.Done():
			_ = c.writeControl(websocket.CloseMessage)
			return
		}
	}
}

func (c *Connection) writeJSON(msg Message) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteJSON(msg)
}

func (c *Connection) writeControl(messageType int) error {
	return c.ws.WriteControl(messageType, nil, time.Now().Add(writeTimeout))
}
