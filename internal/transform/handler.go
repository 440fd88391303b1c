package transform

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

// RegisterRoutes wires the transform surface. The preview route takes extra
// middleware so the caller can attach the anonymous rate limiter.
func (h *Handler) RegisterRoutes(router gin.IRouter, previewMiddleware ...gin.HandlerFunc) {
	v1 := router.Group("/api/v1")
	{
		v1.POST("/apply", h.Apply)
		v1.POST("/analyze", h.Analyze)

		preview := v1.Group("/preview")
		preview.Use(previewMiddleware...)
		preview.POST("", h.Preview)
	}
}

type ApplyRequest struct {
	Text      string                 `json:"text" binding:"required"`
	Type      string                 `json:"transformation_type" binding:"required"`
	Intensity int                    `json:"intensity"`
	Options   map[string]interface{} `json:"options,omitempty"`

	// Set when the caller is applying an evaluate decision; echoed back so
	// clients can attribute the transformed text to the rule.
	RuleID   string `json:"rule_id,omitempty"`
	RuleName string `json:"rule_name,omitempty"`
}

type AnalyzeRequest struct {
	Text  string   `json:"text" binding:"required"`
	Types []string `json:"analysis_types,omitempty"`
}

func (h *Handler) Apply(c *gin.Context) {
	var req ApplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	result, err := h.service.Apply(c.Request.Context(), req.Text, req.Type, req.Intensity, req.Options)
	if err != nil {
		h.handleError(c, err)
		return
	}

	if req.RuleID == "" {
		c.JSON(http.StatusOK, result)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"original_text":       result.OriginalText,
		"transformed_text":    result.TransformedText,
		"transformation_type": result.Type,
		"intensity":           result.Intensity,
		"metadata":            result.Metadata,
		"rule_id":             req.RuleID,
		"rule_name":           req.RuleName,
	})
}

// Preview is the anonymous try-it path. Same semantics as Apply; the rate
// limiter in front is what makes it safe to expose without credentials.
func (h *Handler) Preview(c *gin.Context) {
	var req ApplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	result, err := h.service.Apply(c.Request.Context(), req.Text, req.Type, req.Intensity, req.Options)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"preview":          true,
		"transformed_text": result.TransformedText,
		"original_text":    result.OriginalText,
	})
}

func (h *Handler) Analyze(c *gin.Context) {
	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	analysis, err := h.service.Analyze(c.Request.Context(), req.Text, req.Types)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, analysis)
}

func (h *Handler) handleError(c *gin.Context, err error) {
	h.logger.ErrorwCtx(c.Request.Context(), "Request error",
		"error", err,
		"path", c.Request.URL.Path,
	)
	c.JSON(errors.ToHTTPStatus(err), errors.ToErrorResponse(err))
}
