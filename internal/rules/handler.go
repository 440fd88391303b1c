package rules

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tonegate/internal/logger"
	"tonegate/pkg/errors"
)

type Handler struct {
	service *Service
	logger  logger.Logger
}

func NewHandler(service *Service, log logger.Logger) *Handler {
	return &Handler{service: service, logger: log}
}

func (h *Handler) RegisterRoutes(router gin.IRouter) {
	v1 := router.Group("/api/v1")
	{
		v1.POST("/evaluate", h.Evaluate)
		v1.GET("/rules/:tenant", h.ListRules)
	}
}

// RuleView is the read-side representation of a loaded rule. Trigger
// payloads stay raw so the view never re-encodes decoded trigger state.
type RuleView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
	Priority    int    `json:"priority"`
	TriggerKind string `json:"trigger_kind"`

	TransformationType      string `json:"transformation_type"`
	TransformationIntensity int    `json:"transformation_intensity"`

	Platforms []string `json:"platforms,omitempty"`
	Channels  []string `json:"channels,omitempty"`
}

func (h *Handler) Evaluate(c *gin.Context) {
	var mc MessageContext
	if err := c.ShouldBindJSON(&mc); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}
	if mc.TenantID == "" || mc.UserID == "" || mc.Message == "" {
		appErr := errors.ErrValidation.WithDetail("message", "tenant_id, user_id and message are required")
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(appErr))
		return
	}

	decision, err := h.service.Evaluate(c.Request.Context(), mc)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, decision)
}

func (h *Handler) ListRules(c *gin.Context) {
	tenantID := c.Param("tenant")

	rules, err := h.service.Rules(c.Request.Context(), tenantID)
	if err != nil {
		h.handleError(c, err)
		return
	}

	views := make([]RuleView, 0, len(rules))
	for _, r := range rules {
		views = append(views, RuleView{
			ID:                      r.ID,
			Name:                    r.Name,
			Description:             r.Description,
			Enabled:                 r.Enabled,
			Priority:                r.Priority,
			TriggerKind:             r.TriggerKind,
			TransformationType:      r.TransformationType,
			TransformationIntensity: r.TransformationIntensity,
			Platforms:               r.Platforms,
			Channels:                r.Channels,
		})
	}

	c.JSON(http.StatusOK, gin.H{"tenant_id": tenantID, "rules": views})
}

func (h *Handler) handleError(c *gin.Context, err error) {
	h.logger.ErrorwCtx(c.Request.Context(), "Request error",
		"error", err,
		"path", c.Request.URL.Path,
	)
	c.JSON(errors.ToHTTPStatus(err), errors.ToErrorResponse(err))
}
