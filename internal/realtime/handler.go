package realtime

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"tonegate/internal/config"
	"tonegate/internal/constants"
	"tonegate/internal/distributor"
	"tonegate/internal/logger"
	"tonegate/internal/registry"
	"tonegate/internal/rules"
	"tonegate/internal/transform"
	apperrors "tonegate/pkg/errors"
)

// Evaluator decides whether a message should be auto-transformed.
type Evaluator interface {
	Evaluate(ctx context.Context, mc rules.MessageContext) (rules.Decision, error)
}

// Transformer runs transform and analyze operations.
type Transformer interface {
	Apply(ctx context.Context, text, transformationType string, intensity int, options map[string]interface{}) (*transform.Result, error)
	Analyze(ctx context.Context, text string, types []string) (*transform.Analysis, error)
}

// Handler upgrades websocket connections and dispatches the command
// protocol. Authentication happened upstream; the identity triple arrives
// in headers.
type Handler struct {
	registry    *registry.Registry
	presence    *registry.PresenceStore
	distributor *distributor.Distributor
	evaluator   Evaluator
	transformer Transformer
	cfg         config.RealtimeConfig
	upgrader    websocket.Upgrader
	logger      logger.Logger
}

func NewHandler(
	reg *registry.Registry,
	presence *registry.PresenceStore,
	dist *distributor.Distributor,
	evaluator Evaluator,
	transformer Transformer,
	cfg config.RealtimeConfig,
	log logger.Logger,
) *Handler {
	return &Handler{
		registry:    reg,
		presence:    presence,
		distributor: dist,
		evaluator:   evaluator,
		transformer: transformer,
		cfg:         cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: log,
	}
}

func (h *Handler) RegisterRoutes(router gin.IRouter) {
	router.GET("/ws", h.Serve)
}

// Serve runs one connection to completion.
func (h *Handler) Serve(c *gin.Context) {
	userID := c.GetHeader("X-User-ID")
	tenantID := c.GetHeader("X-Tenant-ID")
	role := c.GetHeader("X-User-Role")
	if userID == "" || tenantID == "" {
		c.JSON(http.StatusUnauthorized, apperrors.ToErrorResponse(apperrors.ErrUnauthorized))
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WarnwCtx(c.Request.Context(), "websocket upgrade failed", "error", err)
		return
	}

	conn := &Connection{
		id:           uuid.NewString(),
		userID:       userID,
		tenantID:     tenantID,
		role:         role,
		ws:           ws,
		replies:      make(chan Message, h.sendBuffer()),
		limiter:      rate.NewLimiter(h.inboundRate(), h.inboundBurst()),
		pingInterval: h.pingInterval(),
		pongTimeout:  h.pongTimeout(),
		logger:       h.logger,
	}
	conn.events = h.distributor.Register(conn.id, userID, tenantID)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	h.presence.Update(userID, tenantID, constants.PresenceOnline)
	h.publishPresence(ctx, conn, constants.PresenceOnline)
	h.logger.Infow("websocket connected",
		"connection_id", conn.id,
		"user_id", userID,
		"tenant_id", tenantID,
	)

	go conn.writePump(ctx)
	conn.readPump(ctx, func(cmdCtx context.Context, cmd Command) {
		h.dispatch(cmdCtx, conn, cmd)
	})

	cancel()
	h.distributor.Unregister(conn.id)
	h.presence.Update(userID, tenantID, constants.PresenceOffline)
	h.publishPresence(context.WithoutCancel(ctx), conn, constants.PresenceOffline)
	h.logger.Infow("websocket disconnected",
		"connection_id", conn.id,
		"user_id", userID,
	)
}

func (h *Handler) dispatch(ctx context.Context, conn *Connection, cmd Command) {
	h.presence.Touch(conn.userID)

	switch cmd.Type {
	case CommandPing:
		conn.reply(Message{Type: MessagePong})

	case CommandSubscribe:
		h.handleSubscribe(ctx, conn, cmd)

	case CommandUnsubscribe:
		h.registry.Leave(cmd.Channel, conn.userID)
		h.distributor.Unsubscribe(conn.id, cmd.Channel)
		conn.reply(Message{Type: MessageUnsubscribed, Channel: cmd.Channel})
		h.distributor.Publish(ctx, distributor.ChannelEvent(distributor.EventCollaborationLeave, conn.tenantID, cmd.Channel, map[string]interface{}{
			"user_id": conn.userID,
		}))

	case CommandPresenceUpdate:
		h.presence.Update(conn.userID, conn.tenantID, cmd.Status)
		h.publishPresence(ctx, conn, cmd.Status)

	case CommandTransform:
		go h.handleTransform(ctx, conn, cmd)

	case CommandAnalyze:
		go h.handleAnalyze(ctx, conn, cmd)

	case CommandAutoTransform:
		go h.handleAutoTransform(ctx, conn, cmd)

	case CommandMessage:
		h.handleChannelMessage(ctx, conn, cmd)

	default:
		conn.reply(errorMessage(map[string]interface{}{
			"code":    "VALIDATION_ERROR",
			"message": "unknown command type: " + cmd.Type,
		}))
	}
}

func (h *Handler) handleSubscribe(ctx context.Context, conn *Connection, cmd Command) {
	if cmd.Channel == "" {
		conn.reply(errorMessage(map[string]interface{}{
			"code":    "VALIDATION_ERROR",
			"message": "channel is required",
		}))
		return
	}

	if err := h.registry.Join(cmd.Channel, conn.userID); err != nil {
		conn.reply(errorMessage(apperrors.ToErrorResponse(err)))
		return
	}
	h.distributor.Subscribe(conn.id, cmd.Channel)
	conn.reply(Message{Type: MessageSubscribed, Channel: cmd.Channel})
	h.distributor.Publish(ctx, distributor.ChannelEvent(distributor.EventCollaborationJoin, conn.tenantID, cmd.Channel, map[string]interface{}{
		"user_id": conn.userID,
	}))
}

// handleChannelMessage broadcasts a client message to a channel the sender
// is allowed to see. Runs inline: channel messages keep per-connection order.
func (h *Handler) handleChannelMessage(ctx context.Context, conn *Connection, cmd Command) {
	if cmd.Channel == "" || cmd.Text == "" {
		conn.reply(errorMessage(map[string]interface{}{
			"code":    "VALIDATION_ERROR",
			"message": "channel and text are required",
		}))
		return
	}
	if err := h.registry.ValidateAccess(conn.userID, cmd.Channel); err != nil {
		conn.reply(errorMessage(apperrors.ToErrorResponse(err)))
		return
	}
	h.distributor.Publish(ctx, distributor.ChannelEvent(distributor.EventCollaborationMessage, conn.tenantID, cmd.Channel, map[string]interface{}{
		"user_id": conn.userID,
		"text":    cmd.Text,
	}))
}

func (h *Handler) handleTransform(ctx context.Context, conn *Connection, cmd Command) {
	result, err := h.transformer.Apply(ctx, cmd.Text, cmd.TransformationType, cmd.Intensity, cmd.Options)
	if err != nil {
		h.publishUserEvent(ctx, conn, distributor.EventTransformationError, errorPayload(err))
		return
	}
	h.publishUserEvent(ctx, conn, distributor.EventTransformationSuccess, map[string]interface{}{
		"original_text":       result.OriginalText,
		"transformed_text":    result.TransformedText,
		"transformation_type": result.Type,
		"intensity":           result.Intensity,
	})
}

func (h *Handler) handleAnalyze(ctx context.Context, conn *Connection, cmd Command) {
	analysis, err := h.transformer.Analyze(ctx, cmd.Text, cmd.AnalysisTypes)
	if err != nil {
		h.publishUserEvent(ctx, conn, distributor.EventAnalysisError, errorPayload(err))
		return
	}
	h.publishUserEvent(ctx, conn, distributor.EventAnalysisSuccess, map[string]interface{}{
		"text":   analysis.Text,
		"scores": analysis.Scores,
	})
}

func (h *Handler) handleAutoTransform(ctx context.Context, conn *Connection, cmd Command) {
	mc := rules.MessageContext{
		Message:      cmd.Text,
		UserID:       conn.userID,
		TenantID:     conn.tenantID,
		Platform:     cmd.Platform,
		ChannelID:    cmd.Channel,
		RecipientIDs: cmd.RecipientIDs,
		Metadata:     cmd.Metadata,
	}
	if mc.Metadata == nil {
		mc.Metadata = map[string]interface{}{}
	}
	if conn.role != "" {
		mc.Metadata["role"] = conn.role
	}

	decision, err := h.evaluator.Evaluate(ctx, mc)
	if err != nil {
		h.publishUserEvent(ctx, conn, distributor.EventAutoTransformError, errorPayload(err))
		return
	}

	h.publishUserEvent(ctx, conn, distributor.EventAutoTransformTriggered, map[string]interface{}{
		"should_transform": decision.ShouldTransform,
		"rule_id":          decision.RuleID,
		"confidence":       decision.Confidence,
		"reason":           decision.Reason,
	})
	if !decision.ShouldTransform {
		return
	}

	result, err := h.transformer.Apply(ctx, cmd.Text, decision.Type, decision.Intensity, decision.Options)
	if err != nil {
		h.publishUserEvent(ctx, conn, distributor.EventAutoTransformError, errorPayload(err))
		return
	}
	h.publishUserEvent(ctx, conn, distributor.EventAutoTransformApplied, map[string]interface{}{
		"rule_id":             decision.RuleID,
		"original_text":       result.OriginalText,
		"transformed_text":    result.TransformedText,
		"transformation_type": result.Type,
		"intensity":           result.Intensity,
	})
}

func (h *Handler) publishUserEvent(ctx context.Context, conn *Connection, eventType string, payload map[string]interface{}) {
	h.distributor.Publish(ctx, distributor.UserEvent(eventType, conn.tenantID, conn.userID, payload))
}

func (h *Handler) publishPresence(ctx context.Context, conn *Connection, status string) {
	h.distributor.Publish(ctx, distributor.TenantEvent(distributor.EventPresenceChanged, conn.tenantID, map[string]interface{}{
		"user_id": conn.userID,
		"status":  status,
	}))
}

func errorPayload(err error) map[string]interface{} {
	return apperrors.ToErrorResponse(err)
}

func (h *Handler) sendBuffer() int {
	if h.cfg.SendBuffer > 0 {
		return h.cfg.SendBuffer
	}
	return 64
}

func (h *Handler) inboundRate() rate.Limit {
	if h.cfg.InboundRPS > 0 {
		return rate.Limit(h.cfg.InboundRPS)
	}
	return rate.Limit(10)
}

func (h *Handler) inboundBurst() int {
	if h.cfg.InboundBurst > 0 {
		return h.cfg.InboundBurst
	}
	return 20
}

func (h *Handler) pingInterval() time.Duration {
	if h.cfg.PingInterval > 0 {
		return h.cfg.PingInterval
	}
	return defaultPingInterval
}

func (h *Handler) pongTimeout() time.Duration {
	if h.cfg.PongTimeout > 0 {
		return h.cfg.PongTimeout
	}
	return defaultPongTimeout
}
