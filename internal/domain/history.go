package domain

// PatientHistory is the alternate record layout where encounters are nested
// under the patient and carry only a free-text diagnosis and a list of tests.
// It has no provider, coded diagnosis, or treatment entities.
type PatientHistory struct {
	Name       string             `json:"name"`
	MRN        string             `json:"MRN"`
	Encounters []HistoryEncounter `json:"encounters"`
}

// HistoryEncounter is one visit inside a PatientHistory.
type HistoryEncounter struct {
	Date      Date   `json:"date"`
	Diagnosis string `json:"diagnosis"`
	Tests     []Test `json:"tests"`
}

// Patient returns the patient entity described by the history.
func (h PatientHistory) Patient() Patient {
	return Patient{Name: h.Name, MRN: h.MRN}
}

// Validate checks the encounter date, diagnosis, and tests. An encounter
// must list its tests, even if the list is empty.
func (e HistoryEncounter) Validate() error {
	if e.Date.IsZero() {
		return required("encounter", "date")
	}
	if blank(e.Diagnosis) {
		return required("encounter", "diagnosis")
	}
	if e.Tests == nil {
		return required("encounter", "tests")
	}
	for j, t := range e.Tests {
		if err := t.Validate(); err != nil {
			return indexed(err, "tests", j)
		}
	}
	return nil
}

// Validate checks the patient and every nested encounter. A patient with
// no encounters is valid.
func (h PatientHistory) Validate() error {
	if err := h.Patient().Validate(); err != nil {
		return err
	}
	for i, enc := range h.Encounters {
		if err := enc.Validate(); err != nil {
			return indexed(err, "encounters", i)
		}
	}
	return nil
}
