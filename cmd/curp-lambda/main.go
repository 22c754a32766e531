package main

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/Lllllllleong/identitydocumentflow/internal/app"
	"github.com/Lllllllleong/identitydocumentflow/internal/handlers"
	"github.com/Lllllllleong/identitydocumentflow/internal/models"
)

var (
	eventHandler *handlers.EventHandler
	once         sync.Once
	initErr      error
)

func main() {
	app.SetupLogging(slog.LevelInfo)
	lambda.Start(handle)
}

// handle answers every invocation with an envelope; initialization failures
// become a 500 envelope instead of a Lambda error.
func handle(ctx context.Context, ev models.ValidationEvent) (models.EventResponse, error) {
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
		return models.EventResponse{
			StatusCode: http.StatusInternalServerError,
			Body:       `{"error":"service is not initialized"}`,
		}, nil
	}
	return eventHandler.Handle(ctx, ev), nil
}
