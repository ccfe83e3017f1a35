package service

import (
	"regexp"
	"strings"

	"github.com/vanshika/clinigraph/internal/domain"
)

var whitespaceRegex = regexp.MustCompile(`\s+`)

// sanitizeString collapses whitespace and trims the result.
func sanitizeString(value string) string {
	value = whitespaceRegex.ReplaceAllString(value, " ")
	return strings.TrimSpace(value)
}

func normalizePatient(p domain.Patient) domain.Patient {
	return domain.Patient{Name: sanitizeString(p.Name), MRN: strings.TrimSpace(p.MRN)}
}

func normalizeProvider(p domain.Provider) domain.Provider {
	return domain.Provider{
		Name:      sanitizeString(p.Name),
		ID:        strings.TrimSpace(p.ID),
		Type:      domain.ProviderType(sanitizeString(string(p.Type))),
		Specialty: sanitizeString(p.Specialty),
	}
}

func normalizeDiagnosis(d domain.Diagnosis) domain.Diagnosis {
	return domain.Diagnosis{Name: sanitizeString(d.Name), ICD10: strings.TrimSpace(d.ICD10)}
}

func normalizeTreatment(t domain.Treatment) domain.Treatment {
	return domain.Treatment{
		Name:   sanitizeString(t.Name),
		RXCUI:  strings.TrimSpace(t.RXCUI),
		Dosage: sanitizeString(t.Dosage),
	}
}

func normalizeTest(t domain.Test) domain.Test {
	return domain.Test{Name: sanitizeString(t.Name), Result: strings.TrimSpace(t.Result)}
}
