package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Lllllllleong/identitydocumentflow/internal/failure"
	"github.com/Lllllllleong/identitydocumentflow/internal/models"
	"github.com/Lllllllleong/identitydocumentflow/internal/services"
)

// Validator runs one validation pipeline request.
type Validator interface {
	Run(ctx context.Context, req services.Request) (*services.Result, error)
}

// Pinger reports whether the record store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type ValidationHandler struct {
	Validator Validator
	DB        Pinger
}

func NewValidationHandler(validator Validator, db Pinger) *ValidationHandler {
	return &ValidationHandler{Validator: validator, DB: db}
}

// GET /
func (h *ValidationHandler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "CURP and INE validation API"})
}

// GET /healthz
func (h *ValidationHandler) Health(c *gin.Context) {
	if h.DB != nil {
		if err := h.DB.Ping(c.Request.Context()); err != nil {
			slog.Warn("Health check failed.", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "database unreachable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GET /validate_ine_playwright?user_id=
func (h *ValidationHandler) ValidateINE(c *gin.Context) {
	h.validate(c, models.DocTypeINE)
}

// GET /validate_curp_playwright?user_id=
func (h *ValidationHandler) ValidateCURP(c *gin.Context) {
	h.validate(c, models.DocTypeCURP)
}

func (h *ValidationHandler) validate(c *gin.Context, docType models.DocType) {
	raw := c.Query("user_id")
	if raw == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "parameter 'user_id' is required"})
		return
	}
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "parameter 'user_id' must be an integer"})
		return
	}

	res, err := h.Validator.Run(c.Request.Context(), services.Request{
		UserID:   strconv.FormatInt(userID, 10),
		DocType:  docType,
		Delivery: services.DeliveryStream,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	defer res.Artifact.Body.Close()

	c.DataFromReader(http.StatusOK, res.Artifact.Size, res.Artifact.ContentType, res.Artifact.Body, map[string]string{
		"Content-Disposition": "attachment; filename=" + res.FileName,
	})
}

func writeError(c *gin.Context, err error) {
	c.JSON(failure.HTTPStatus(err), gin.H{"error": failure.Detail(err)})
}
