package models

import (
	"errors"
	"fmt"
	"strconv"
)

// OCRFields is one decoded JSON blob of a data_ocr row.
type OCRFields map[string]any

// OCRRecord mirrors a row of the data_ocr table, populated by the upstream OCR
// stage. Every blob is optional.
type OCRRecord struct {
	ID             int64
	UserID         string
	DataINE        OCRFields
	DataDomicilio  OCRFields
	DataConstancia OCRFields
	DataINEReverso OCRFields
}

// ErrMissingField is wrapped by field accessors when a required key is absent
// or unusable.
var ErrMissingField = errors.New("missing field")

// String returns the value under key as text. JSON numbers are formatted
// without exponent; other types and empty strings count as missing.
func (f OCRFields) String(key string) (string, error) {
	v, ok := f[key]
	if !ok || v == nil {
		return "", fmt.Errorf("%w: %q", ErrMissingField, key)
	}
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case float64:
		s = strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return "", fmt.Errorf("%w: %q has type %T", ErrMissingField, key, v)
	}
	if s == "" {
		return "", fmt.Errorf("%w: %q is empty", ErrMissingField, key)
	}
	return s, nil
}

// CURP returns data_ine.curp.
func (r *OCRRecord) CURP() (string, error) {
	return r.DataINE.String("curp")
}

// INEQuery holds the two values the voter-list portal asks for.
type INEQuery struct {
	CIC         string
	IDCiudadano string
}

// INEQuery derives the portal inputs from the back-of-card OCR fields: the CIC
// is "identificador" without its trailing check character and the citizen id
// is "code_ocr" without its four-character prefix.
func (r *OCRRecord) INEQuery() (INEQuery, error) {
	ident, err := r.DataINEReverso.String("identificador")
	if err != nil {
		return INEQuery{}, err
	}
	code, err := r.DataINEReverso.String("code_ocr")
	if err != nil {
		return INEQuery{}, err
	}
	// OCR output may carry non-ASCII characters, so trim by rune.
	identRunes, codeRunes := []rune(ident), []rune(code)
	if len(identRunes) < 2 {
		return INEQuery{}, fmt.Errorf("%w: %q is too short", ErrMissingField, "identificador")
	}
	if len(codeRunes) <= 4 {
		return INEQuery{}, fmt.Errorf("%w: %q is too short", ErrMissingField, "code_ocr")
	}
	return INEQuery{
		CIC:         string(identRunes[:len(identRunes)-1]),
		IDCiudadano: string(codeRunes[4:]),
	}, nil
}
