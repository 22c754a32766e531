// Package failure defines the closed set of error kinds a validation run can
// end with. Transports branch on the kind, never on message text.
package failure

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies why a validation run did not produce a document.
type Kind int

const (
	// KindUnknown is reported for errors that were never classified.
	KindUnknown Kind = iota
	// KindInput means the stored OCR fields are missing or incomplete.
	KindInput
	// KindNotFound means there is no usable OCR record for the user.
	KindNotFound
	// KindUpstream means the CAPTCHA solver rejected or failed the challenge.
	KindUpstream
	// KindUpstreamTimeout means the CAPTCHA solver never answered in budget.
	KindUpstreamTimeout
	// KindAutomation means the browser flow failed to produce a document.
	KindAutomation
	// KindStorage means the document was produced but could not be stored or read back.
	KindStorage
	// KindDatabase means the record store could not be queried.
	KindDatabase
)

func (k Kind) String() string {
	switch k {
	case KindInput:
		return "input"
	case KindNotFound:
		return "not_found"
	case KindUpstream:
		return "upstream"
	case KindUpstreamTimeout:
		return "upstream_timeout"
	case KindAutomation:
		return "automation"
	case KindStorage:
		return "storage"
	case KindDatabase:
		return "database"
	default:
		return "unknown"
	}
}

// HTTPStatus maps a kind onto the status code both transports report.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInput:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindUpstream:
		return http.StatusBadGateway
	case KindUpstreamTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified failure. Message is safe to show to callers; Err holds
// the underlying cause.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Detail is the caller-facing text: the message, plus the cause for kinds
// whose cause is useful to an operator reading the response.
func (e *Error) Detail() string {
	if e.Err == nil {
		return e.Message
	}
	switch e.Kind {
	case KindInput, KindNotFound:
		return e.Message
	default:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
}

func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

func Wrap(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// HTTPStatus returns the status code for err, 500 when unclassified.
func HTTPStatus(err error) int {
	return KindOf(err).HTTPStatus()
}

// Detail returns the caller-facing message for err.
func Detail(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Detail()
	}
	return err.Error()
}
