package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Validate checks the natural key and name of the patient.
func (p Patient) Validate() error {
	if blank(p.MRN) {
		return required("patient", "MRN")
	}
	if blank(p.Name) {
		return required("patient", "name")
	}
	return nil
}

// Validate checks the provider key length and role, then the remaining
// attributes. Upserts never revisit an existing provider, so every attribute
// must be present the first time the id is seen.
func (p Provider) Validate() error {
	id := strings.TrimSpace(p.ID)
	if id == "" {
		return required("provider", "id")
	}
	if n := utf8.RuneCountInString(id); n != ProviderIDLength {
		return &ValidationError{
			Entity: "provider",
			Field:  "id",
			Reason: fmt.Sprintf("must be exactly %d characters, got %d", ProviderIDLength, n),
		}
	}
	if !ProviderType(strings.Join(strings.Fields(string(p.Type)), " ")).Valid() {
		return &ValidationError{
			Entity: "provider",
			Field:  "type",
			Reason: fmt.Sprintf("%q is not one of Doctor, Nurse, Physician Assistant", p.Type),
		}
	}
	if blank(p.Name) {
		return required("provider", "name")
	}
	if blank(p.Specialty) {
		return required("provider", "specialty")
	}
	return nil
}

func (d Diagnosis) Validate() error {
	if blank(d.ICD10) {
		return required("diagnosis", "ICD10")
	}
	if blank(d.Name) {
		return required("diagnosis", "name")
	}
	return nil
}

func (t Treatment) Validate() error {
	if blank(t.RXCUI) {
		return required("treatment", "RXCUI")
	}
	if blank(t.Name) {
		return required("treatment", "name")
	}
	if blank(t.Dosage) {
		return required("treatment", "dosage")
	}
	return nil
}

// Validate checks the attributes of a test; tests carry no key.
func (t Test) Validate() error {
	if blank(t.Name) {
		return required("test", "name")
	}
	if blank(t.Result) {
		return required("test", "result")
	}
	return nil
}

// ValidateFields checks the encounter's own fields without descending into
// the nested entities.
func (e Encounter) ValidateFields() error {
	if e.Date.IsZero() {
		return required("encounter", "date")
	}
	if blank(e.Summary) {
		return required("encounter", "summary")
	}
	return nil
}

// Validate checks the encounter and every nested entity.
func (e Encounter) Validate() error {
	if err := e.ValidateFields(); err != nil {
		return err
	}
	if err := e.Patient.Validate(); err != nil {
		return err
	}
	if err := e.Provider.Validate(); err != nil {
		return err
	}
	for i, d := range e.Diagnoses {
		if err := d.Validate(); err != nil {
			return indexed(err, "patient_diagnoses", i)
		}
	}
	for i, t := range e.Tests {
		if err := t.Validate(); err != nil {
			return indexed(err, "patient_tests", i)
		}
	}
	for i, t := range e.Treatments {
		if err := t.Validate(); err != nil {
			return indexed(err, "treatment_plans", i)
		}
	}
	return nil
}

// indexed names err after its position in list. An error that already
// carries a list position keeps it as a suffix.
func indexed(err error, list string, idx int) error {
	verr, ok := err.(*ValidationError)
	if !ok {
		return err
	}
	entity := fmt.Sprintf("%s[%d]", list, idx)
	if strings.Contains(verr.Entity, "[") {
		entity += "." + verr.Entity
	}
	return &ValidationError{Entity: entity, Field: verr.Field, Reason: verr.Reason}
}

func blank(value string) bool {
	return strings.TrimSpace(value) == ""
}
