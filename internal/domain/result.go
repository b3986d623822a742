package domain

import (
	"fmt"
	"strings"
)

// Result schemas per automation kind. Results arrive as flat string
// fields; each kind fixes which fields must be present so a bot cannot
// report a half-empty payload.
var requiredResultFields = map[Kind][]string{
	KindLegalRegistry:    {"estado_proceso", "despacho"},
	KindHealthInsurer:    {"aseguradora", "estado_afiliacion"},
	KindWhatsApp:         {"estado_envio"},
	KindPaymentAgreement: {"estado_envio", "fecha_envio"},
}

// RequiredResultFields returns the fixed result schema of a kind.
func RequiredResultFields(kind Kind) []string {
	return requiredResultFields[kind]
}

// ValidateResultFields checks a submitted result against the kind's
// schema. Extra fields are allowed and stored verbatim.
func ValidateResultFields(kind Kind, fields map[string]string) error {
	if !kind.IsValid() {
		return fmt.Errorf("%w: invalid kind %q", ErrValidation, kind)
	}
	if len(fields) == 0 {
		return fmt.Errorf("%w: result fields are required", ErrValidation)
	}
	for _, name := range requiredResultFields[kind] {
		if strings.TrimSpace(fields[name]) == "" {
			return fmt.Errorf("%w: result field %q is required for kind %s", ErrValidation, name, kind)
		}
	}
	return nil
}

// ResultSubmission is one bot report. ItemID is the claim token returned
// by the dispatcher; when present the reconciler matches by id instead of
// rescanning by business key.
type ResultSubmission struct {
	Kind        Kind
	ItemID      string
	BusinessKey string
	Fields      map[string]string
}

func (s *ResultSubmission) Normalize() {
	s.ItemID = strings.TrimSpace(s.ItemID)
	s.BusinessKey = strings.TrimSpace(s.BusinessKey)
	for k, v := range s.Fields {
		s.Fields[k] = strings.TrimSpace(v)
	}
}

func (s ResultSubmission) Validate() error {
	if s.ItemID == "" && s.BusinessKey == "" {
		return fmt.Errorf("%w: itemId or businessKey is required", ErrValidation)
	}
	return ValidateResultFields(s.Kind, s.Fields)
}

// EqualResults compares two result field maps; used to make duplicate
// submissions a no-op instead of a second fill.
func EqualResults(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
