package domain

// ProviderType enumerates the accepted provider roles.
type ProviderType string

const (
	ProviderDoctor             ProviderType = "Doctor"
	ProviderNurse              ProviderType = "Nurse"
	ProviderPhysicianAssistant ProviderType = "Physician Assistant"
)

// ProviderIDLength is the exact length of a provider identifier.
const ProviderIDLength = 10

// Valid reports whether t is one of the known provider roles.
func (t ProviderType) Valid() bool {
	switch t {
	case ProviderDoctor, ProviderNurse, ProviderPhysicianAssistant:
		return true
	}
	return false
}

// Patient is keyed by medical record number.
type Patient struct {
	Name string `json:"name"`
	MRN  string `json:"MRN"`
}

// Provider is keyed by its 10 character identifier.
type Provider struct {
	Name      string       `json:"name"`
	ID        string       `json:"id"`
	Type      ProviderType `json:"type"`
	Specialty string       `json:"specialty"`
}

// Diagnosis is keyed by its ICD-10 code.
type Diagnosis struct {
	Name  string `json:"name"`
	ICD10 string `json:"ICD10"`
}

// Test has no natural key; every occurrence becomes its own node.
type Test struct {
	Name   string `json:"name"`
	Result string `json:"result"`
}

// Treatment is keyed by its RxNorm concept identifier.
type Treatment struct {
	Name   string `json:"name"`
	RXCUI  string `json:"RXCUI"`
	Dosage string `json:"dosage"`
}

// Encounter is a single clinical visit together with everything recorded during it.
type Encounter struct {
	Date       Date        `json:"date"`
	Patient    Patient     `json:"patient"`
	Provider   Provider    `json:"provider"`
	Summary    string      `json:"summary"`
	Diagnoses  []Diagnosis `json:"patient_diagnoses,omitempty"`
	Tests      []Test      `json:"patient_tests,omitempty"`
	Treatments []Treatment `json:"treatment_plans,omitempty"`
}
