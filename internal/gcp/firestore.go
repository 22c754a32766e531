package gcp

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/Lllllllleong/identitydocumentflow/internal/models"
)

// NewFirestoreClient creates and returns a new Firestore client for the given project ID.
func NewFirestoreClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return client, nil
}

// RunJournal records one document per validation run.
type RunJournal struct {
	collection *firestore.CollectionRef
	now        func() time.Time
}

func NewRunJournal(client *firestore.Client, collection string) *RunJournal {
	return &RunJournal{collection: client.Collection(collection), now: time.Now}
}

// Start stores run as RUNNING under its RunID.
func (j *RunJournal) Start(ctx context.Context, run models.ValidationRun) error {
	run = startedRun(run, j.now())
	if _, err := j.collection.Doc(run.RunID).Set(ctx, run); err != nil {
		return fmt.Errorf("failed to create run document %s: %w", run.RunID, err)
	}
	return nil
}

// Finish updates the run's terminal status and outcome fields.
func (j *RunJournal) Finish(ctx context.Context, run models.ValidationRun) error {
	if _, err := j.collection.Doc(run.RunID).Update(ctx, finishUpdates(run, j.now())); err != nil {
		return fmt.Errorf("failed to update run document %s: %w", run.RunID, err)
	}
	return nil
}

func startedRun(run models.ValidationRun, now time.Time) models.ValidationRun {
	run.Status = models.RunStatusRunning
	run.CreatedAt = now
	run.UpdatedAt = now
	return run
}

// finishUpdates lists the fields a terminal run sets. Outcome fields that are
// empty are left untouched.
func finishUpdates(run models.ValidationRun, now time.Time) []firestore.Update {
	updates := []firestore.Update{
		{Path: "status", Value: run.Status},
		{Path: "updatedAt", Value: now},
	}
	if run.ObjectKey != "" {
		updates = append(updates, firestore.Update{Path: "objectKey", Value: run.ObjectKey})
	}
	if run.PageCount > 0 {
		updates = append(updates, firestore.Update{Path: "pageCount", Value: run.PageCount})
	}
	if run.ErrorDetails != "" {
		updates = append(updates,
			firestore.Update{Path: "errorKind", Value: run.ErrorKind},
			firestore.Update{Path: "errorDetails", Value: run.ErrorDetails},
		)
	}
	return updates
}
