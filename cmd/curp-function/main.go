package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/funcframework"
	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Lllllllleong/identitydocumentflow/internal/app"
	"github.com/Lllllllleong/identitydocumentflow/internal/config"
	"github.com/Lllllllleong/identitydocumentflow/internal/handlers"
	"github.com/Lllllllleong/identitydocumentflow/internal/models"
)

const maxBodyBytes = 1 << 20

var (
	eventHandler *handlers.EventHandler
	once         sync.Once
	initErr      error
)

func init() {
	app.SetupLogging(slog.LevelInfo)

	functions.HTTP("ValidateDocument", validateHTTP)
	functions.CloudEvent("ValidateDocumentEvent", validateEvent)
}

// main serves the registered functions locally; on Cloud Functions the
// platform supplies its own entry point.
func main() {
	port := config.GetEnv("PORT", "8080")
	if err := funcframework.Start(port); err != nil {
		slog.Error("Functions framework stopped.", "error", err)
		os.Exit(1)
	}
}

func handler() (*handlers.EventHandler, error) {
	once.Do(func() {
		a, err := app.Load(context.Background())
		if err != nil {
			initErr = err
			return
		}
		eventHandler = handlers.NewEventHandler(a.Pipeline)
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
	}
	return eventHandler, initErr
}

// validateHTTP takes the event payload as a JSON body, or user_id and
// document_type query parameters when the body is empty, and writes the
// envelope body with the envelope status.
func validateHTTP(w http.ResponseWriter, r *http.Request) {
	h, err := handler()
	if err != nil {
		writeEnvelope(w, models.EventResponse{StatusCode: http.StatusInternalServerError, Body: `{"error":"service is not initialized"}`})
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeEnvelope(w, models.EventResponse{StatusCode: http.StatusBadRequest, Body: `{"error":"failed to read request body"}`})
		return
	}
	if len(payload) == 0 {
		q := r.URL.Query()
		writeEnvelope(w, h.Handle(r.Context(), models.ValidationEvent{
			UserID:       q.Get("user_id"),
			DocumentType: q.Get("document_type"),
		}))
		return
	}
	writeEnvelope(w, h.HandleJSON(r.Context(), payload))
}

func writeEnvelope(w http.ResponseWriter, resp models.EventResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	_, _ = io.WriteString(w, resp.Body)
}

// validateEvent handles a CloudEvent whose data is the event payload. Any
// non-200 outcome marks the invocation as failed.
func validateEvent(ctx context.Context, e cloudevents.Event) error {
	h, err := handler()
	if err != nil {
		return err
	}

	var ev models.ValidationEvent
	if err := json.Unmarshal(e.Data(), &ev); err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "eventId", e.ID(), "data", string(e.Data()))
		return fmt.Errorf("json.Unmarshal: %w", err)
	}

	resp := h.Handle(ctx, ev)
	logCtx := slog.With("eventId", e.ID(), "eventType", e.Type(), "statusCode", resp.StatusCode)
	if resp.StatusCode != http.StatusOK {
		logCtx.Error("Validation event failed.", "body", resp.Body)
		return fmt.Errorf("validation failed with status %d: %s", resp.StatusCode, resp.Body)
	}
	logCtx.Info("Validation event handled.", "body", resp.Body)
	return nil
}
