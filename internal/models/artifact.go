package models

import (
	"fmt"
	"io"
)

// PDFContentType is the content type every generated document is stored with.
const PDFContentType = "application/pdf"

// DocType names the kind of validation document a flow produces.
type DocType string

const (
	DocTypeINE  DocType = "ine"
	DocTypeCURP DocType = "curp"
)

// ParseDocType accepts the lower-case document type names.
func ParseDocType(s string) (DocType, error) {
	switch DocType(s) {
	case DocTypeINE, DocTypeCURP:
		return DocType(s), nil
	}
	return "", fmt.Errorf("unsupported document type %q", s)
}

// FileName is the download name of the document, validacion_<type>_<id>.pdf.
func FileName(docType DocType, userID string) string {
	return fmt.Sprintf("validacion_%s_%s.pdf", docType, userID)
}

// ObjectKey is the deterministic storage key user_<id>/validacion_<type>_<id>.pdf.
func ObjectKey(docType DocType, userID string) string {
	return fmt.Sprintf("user_%s/%s", userID, FileName(docType, userID))
}

// Artifact is a stored document opened for reading. Callers must close Body.
type Artifact struct {
	Key         string
	ContentType string
	// Size is -1 when the backend does not report it.
	Size int64
	Body io.ReadCloser
}
