package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validEncounter() Encounter {
	return Encounter{
		Date:     NewDate(2024, time.March, 1),
		Patient:  Patient{Name: "Ada Lovelace", MRN: "M001"},
		Provider: Provider{Name: "Dr. Grey", ID: "DOC0000001", Type: ProviderDoctor, Specialty: "Cardiology"},
		Summary:  "follow-up",
		Diagnoses: []Diagnosis{
			{Name: "Type 2 diabetes", ICD10: "E11.9"},
		},
		Tests:      []Test{{Name: "HbA1c", Result: "7.1%"}},
		Treatments: []Treatment{{Name: "Metformin", RXCUI: "860975", Dosage: "500mg"}},
	}
}

func TestEncounterValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Encounter)
		entity string
		field  string
	}{
		{"missing date", func(e *Encounter) { e.Date = Date{} }, "encounter", "date"},
		{"missing MRN", func(e *Encounter) { e.Patient.MRN = "  " }, "patient", "MRN"},
		{"missing provider id", func(e *Encounter) { e.Provider.ID = "" }, "provider", "id"},
		{"short provider id", func(e *Encounter) { e.Provider.ID = "DOC1" }, "provider", "id"},
		{"long provider id", func(e *Encounter) { e.Provider.ID = "DOC00000001" }, "provider", "id"},
		{"unknown provider type", func(e *Encounter) { e.Provider.Type = "Surgeon" }, "provider", "type"},
		{"diagnosis without code", func(e *Encounter) { e.Diagnoses[0].ICD10 = "" }, "patient_diagnoses[0]", "ICD10"},
		{"treatment without code", func(e *Encounter) { e.Treatments[0].RXCUI = "" }, "treatment_plans[0]", "RXCUI"},
		{"missing summary", func(e *Encounter) { e.Summary = " " }, "encounter", "summary"},
		{"missing patient name", func(e *Encounter) { e.Patient.Name = "" }, "patient", "name"},
		{"missing provider name", func(e *Encounter) { e.Provider.Name = "" }, "provider", "name"},
		{"missing provider specialty", func(e *Encounter) { e.Provider.Specialty = "" }, "provider", "specialty"},
		{"diagnosis without name", func(e *Encounter) { e.Diagnoses[0].Name = "" }, "patient_diagnoses[0]", "name"},
		{"test without name", func(e *Encounter) { e.Tests[0].Name = "" }, "patient_tests[0]", "name"},
		{"test without result", func(e *Encounter) { e.Tests[0].Result = "\t" }, "patient_tests[0]", "result"},
		{"treatment without name", func(e *Encounter) { e.Treatments[0].Name = "" }, "treatment_plans[0]", "name"},
		{"treatment without dosage", func(e *Encounter) { e.Treatments[0].Dosage = "" }, "treatment_plans[0]", "dosage"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			enc := validEncounter()
			tc.mutate(&enc)

			err := enc.Validate()
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
			assert.Equal(t, tc.entity, verr.Entity)
			assert.Equal(t, tc.field, verr.Field)
		})
	}

	assert.NoError(t, validEncounter().Validate())
}

func TestProviderIDCountsCharacters(t *testing.T) {
	p := Provider{Name: "Grey", ID: "DÖC0000001", Type: ProviderNurse, Specialty: "ER"}
	assert.NoError(t, p.Validate())

	p.Type = " Physician   Assistant "
	assert.NoError(t, p.Validate(), "whitespace in the role collapses")
}

func TestEncounterDecodesSourceLayout(t *testing.T) {
	raw := `{
		"date": "2024-03-01",
		"patient": {"name": "Ada", "MRN": "M001"},
		"provider": {"name": "Grey", "id": "DOC0000001", "type": "Physician Assistant", "specialty": "Family"},
		"summary": "visit",
		"patient_diagnoses": [{"name": "Flu", "ICD10": "J10"}],
		"patient_tests": [{"name": "Swab", "result": "positive"}]
	}`

	var enc Encounter
	require.NoError(t, json.Unmarshal([]byte(raw), &enc))
	assert.Equal(t, "2024-03-01", enc.Date.String())
	assert.Equal(t, ProviderPhysicianAssistant, enc.Provider.Type)
	assert.Len(t, enc.Diagnoses, 1)
	assert.Len(t, enc.Tests, 1)
	assert.Empty(t, enc.Treatments)
	assert.NoError(t, enc.Validate())
}

func TestDateJSON(t *testing.T) {
	var d Date
	require.NoError(t, json.Unmarshal([]byte(`null`), &d))
	assert.True(t, d.IsZero())

	require.Error(t, json.Unmarshal([]byte(`"03/01/2024"`), &d))
	require.Error(t, json.Unmarshal([]byte(`20240301`), &d))

	out, err := json.Marshal(NewDate(2023, time.December, 31))
	require.NoError(t, err)
	assert.JSONEq(t, `"2023-12-31"`, string(out))

	out, err = json.Marshal(Date{})
	require.NoError(t, err)
	assert.Equal(t, "null", string(out))
}

func TestPatientHistoryValidate(t *testing.T) {
	h := PatientHistory{
		Name: "Ada",
		MRN:  "M001",
		Encounters: []HistoryEncounter{
			{Date: NewDate(2024, time.January, 2), Diagnosis: "flu", Tests: []Test{}},
			{Diagnosis: "cold", Tests: []Test{}},
		},
	}
	err := h.Validate()
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "encounters[1]", verr.Entity)

	h.Encounters = h.Encounters[:1]
	assert.NoError(t, h.Validate())

	h.MRN = ""
	require.ErrorAs(t, h.Validate(), &verr)
	assert.Equal(t, "MRN", verr.Field)
}

func TestHistoryEncounterValidate(t *testing.T) {
	valid := func() HistoryEncounter {
		return HistoryEncounter{
			Date:      NewDate(2024, time.January, 2),
			Diagnosis: "allergies",
			Tests:     []Test{{Name: "IgE", Result: "high"}},
		}
	}

	tests := []struct {
		name   string
		mutate func(*HistoryEncounter)
		entity string
		field  string
	}{
		{"missing date", func(e *HistoryEncounter) { e.Date = Date{} }, "encounter", "date"},
		{"missing diagnosis", func(e *HistoryEncounter) { e.Diagnosis = "" }, "encounter", "diagnosis"},
		{"missing tests", func(e *HistoryEncounter) { e.Tests = nil }, "encounter", "tests"},
		{"test without result", func(e *HistoryEncounter) { e.Tests[0].Result = "" }, "tests[0]", "result"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			enc := valid()
			tc.mutate(&enc)

			var verr *ValidationError
			require.ErrorAs(t, enc.Validate(), &verr)
			assert.Equal(t, tc.entity, verr.Entity)
			assert.Equal(t, tc.field, verr.Field)
		})
	}

	enc := valid()
	enc.Tests = []Test{}
	assert.NoError(t, enc.Validate(), "an empty test list is allowed")

	h := PatientHistory{Name: "Ada", MRN: "M001", Encounters: []HistoryEncounter{valid(), valid()}}
	h.Encounters[1].Tests = append(h.Encounters[1].Tests, Test{Name: "CBC"})
	var verr *ValidationError
	require.ErrorAs(t, h.Validate(), &verr)
	assert.Equal(t, "encounters[1].tests[1]", verr.Entity)
	assert.Equal(t, "result", verr.Field)
}
