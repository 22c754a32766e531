package models

import "time"

// Run statuses stored on a ValidationRun.
const (
	RunStatusRunning   = "RUNNING"
	RunStatusSucceeded = "SUCCEEDED"
	RunStatusFailed    = "FAILED"
)

// ValidationRun is the journal record for one pipeline execution in Firestore.
// It tracks the outcome of a single document retrieval.
type ValidationRun struct {
	RunID        string    `firestore:"runId,omitempty"`
	UserID       string    `firestore:"userId,omitempty"`
	DocType      string    `firestore:"docType,omitempty"`
	Delivery     string    `firestore:"delivery,omitempty"`
	Status       string    `firestore:"status,omitempty"`
	ErrorKind    string    `firestore:"errorKind,omitempty"`
	ErrorDetails string    `firestore:"errorDetails,omitempty"`
	ObjectKey    string    `firestore:"objectKey,omitempty"`
	PageCount    int       `firestore:"pageCount,omitempty"`
	CreatedAt    time.Time `firestore:"createdAt,omitempty"`
	UpdatedAt    time.Time `firestore:"updatedAt,omitempty"`
}
