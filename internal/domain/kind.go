package domain

import (
	"fmt"
	"strings"
)

// Kind identifies one automation family. Each kind has its own logical
// queue of work items and its own result schema.
type Kind string

const (
	KindLegalRegistry    Kind = "LEGAL_REGISTRY"
	KindHealthInsurer    Kind = "HEALTH_INSURER"
	KindWhatsApp         Kind = "WHATSAPP"
	KindPaymentAgreement Kind = "PAYMENT_AGREEMENT"
)

func (k Kind) String() string { return string(k) }

func (k Kind) IsValid() bool {
	switch k {
	case KindLegalRegistry, KindHealthInsurer, KindWhatsApp, KindPaymentAgreement:
		return true
	}
	return false
}

// Kinds returns every supported automation kind.
func Kinds() []Kind {
	return []Kind{KindLegalRegistry, KindHealthInsurer, KindWhatsApp, KindPaymentAgreement}
}

func ParseKindFromString(s string) (Kind, error) {
	k := Kind(strings.ToUpper(strings.TrimSpace(s)))
	if !k.IsValid() {
		return "", fmt.Errorf("%w: invalid kind %q", ErrValidation, s)
	}
	return k, nil
}
