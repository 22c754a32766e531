package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Lllllllleong/identitydocumentflow/internal/failure"
	"github.com/Lllllllleong/identitydocumentflow/internal/models"
	"github.com/Lllllllleong/identitydocumentflow/internal/services"
)

// EventHandler serves the event-triggered entry points. It always stores the
// document and answers with a time-limited download link.
type EventHandler struct {
	Validator Validator
}

func NewEventHandler(validator Validator) *EventHandler {
	return &EventHandler{Validator: validator}
}

// Handle runs the flow named by ev.DocumentType, CURP when empty. Every
// outcome, including failures, is reported in the returned envelope.
func (h *EventHandler) Handle(ctx context.Context, ev models.ValidationEvent) models.EventResponse {
	userID := strings.TrimSpace(ev.UserID)
	// A zero id is never assigned and counts as absent.
	if userID == "" || userID == "0" {
		return errorResponse(http.StatusBadRequest, "parameter 'user_id' is required")
	}
	docType := models.DocTypeCURP
	if ev.DocumentType != "" {
		dt, err := models.ParseDocType(strings.ToLower(ev.DocumentType))
		if err != nil {
			return errorResponse(http.StatusBadRequest, err.Error())
		}
		docType = dt
	}

	res, err := h.Validator.Run(ctx, services.Request{
		UserID:   userID,
		DocType:  docType,
		Delivery: services.DeliveryLink,
	})
	if err != nil {
		return errorResponse(failure.HTTPStatus(err), failure.Detail(err))
	}

	return jsonResponse(http.StatusOK, models.EventSuccessBody{
		Message:     fmt.Sprintf("%s validation succeeded and file uploaded", strings.ToUpper(string(docType))),
		S3Key:       res.Key,
		DownloadURL: res.DownloadURL,
	})
}

// HandleJSON decodes a raw event payload before handling it.
func (h *EventHandler) HandleJSON(ctx context.Context, payload []byte) models.EventResponse {
	var ev models.ValidationEvent
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &ev); err != nil {
			slog.Warn("Rejected malformed event payload.", "error", err)
			return errorResponse(http.StatusBadRequest, fmt.Sprintf("invalid event payload: %v", err))
		}
	}
	return h.Handle(ctx, ev)
}

func errorResponse(status int, msg string) models.EventResponse {
	return jsonResponse(status, models.ErrorBody{Error: msg})
}

func jsonResponse(status int, body any) models.EventResponse {
	b, err := json.Marshal(body)
	if err != nil {
		slog.Error("Failed to encode event response body.", "error", err)
		return models.EventResponse{StatusCode: http.StatusInternalServerError, Body: `{"error":"internal error"}`}
	}
	return models.EventResponse{StatusCode: status, Body: string(b)}
}
