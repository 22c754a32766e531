package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// These structs define the JSON payloads exchanged with the event-triggered
// entry points (Lambda and Cloud Functions).

// ValidationEvent is the input of the event-triggered function.
// UserID accepts either a JSON number or a JSON string.
type ValidationEvent struct {
	UserID       string `json:"user_id"`
	DocumentType string `json:"document_type,omitempty"`
}

func (e *ValidationEvent) UnmarshalJSON(data []byte) error {
	var raw struct {
		UserID       json.RawMessage `json:"user_id"`
		DocumentType string          `json:"document_type"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.DocumentType = raw.DocumentType
	e.UserID = ""

	id := bytes.TrimSpace(raw.UserID)
	if len(id) == 0 || bytes.Equal(id, []byte("null")) {
		return nil
	}
	if id[0] == '"' {
		return json.Unmarshal(id, &e.UserID)
	}
	var n json.Number
	if err := json.Unmarshal(id, &n); err != nil {
		return fmt.Errorf("user_id must be a number or a string: %w", err)
	}
	if i, err := n.Int64(); err == nil {
		e.UserID = strconv.FormatInt(i, 10)
		return nil
	}
	e.UserID = n.String()
	return nil
}

// EventResponse is the envelope returned by the event-triggered function.
// Body is itself a JSON document.
type EventResponse struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

// EventSuccessBody is the body of a 200 EventResponse.
type EventSuccessBody struct {
	Message     string `json:"message"`
	S3Key       string `json:"s3_key"`
	DownloadURL string `json:"download_url"`
}

// ErrorBody is the body of every error response, HTTP or event.
type ErrorBody struct {
	Error string `json:"error"`
}
