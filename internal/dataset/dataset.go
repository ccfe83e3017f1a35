// Package dataset loads encounter and patient-history documents from disk.
package dataset

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/vanshika/clinigraph/internal/domain"
)

// ErrEmptyDataset is returned when a document holds no records.
var ErrEmptyDataset = errors.New("dataset contains no records")

type encounterDocument struct {
	Encounters []domain.Encounter `json:"encounters"`
}

type historyDocument struct {
	Patients []domain.PatientHistory `json:"patients"`
}

// LoadEncounters reads a standard encounter document from path.
func LoadEncounters(path string) ([]domain.Encounter, error) {
	var out []domain.Encounter
	err := loadFile(path, func(r io.Reader) error {
		var err error
		out, err = DecodeEncounters(r)
		return err
	})
	return out, err
}

// LoadHistories reads a patient-history document from path.
func LoadHistories(path string) ([]domain.PatientHistory, error) {
	var out []domain.PatientHistory
	err := loadFile(path, func(r io.Reader) error {
		var err error
		out, err = DecodeHistories(r)
		return err
	})
	return out, err
}

// DecodeEncounters accepts {"encounters": [...]}, a bare array, or a single
// encounter object.
func DecodeEncounters(r io.Reader) ([]domain.Encounter, error) {
	raw, err := readAll(r)
	if err != nil {
		return nil, err
	}
	var encounters []domain.Encounter
	switch raw[0] {
	case '[':
		err = strictUnmarshal(raw, &encounters)
	case '{':
		var fields map[string]json.RawMessage
		if err = json.Unmarshal(raw, &fields); err != nil {
			break
		}
		if _, ok := fields["encounters"]; ok {
			var doc encounterDocument
			err = strictUnmarshal(raw, &doc)
			encounters = doc.Encounters
		} else {
			var single domain.Encounter
			err = strictUnmarshal(raw, &single)
			encounters = []domain.Encounter{single}
		}
	default:
		err = fmt.Errorf("expected a JSON object or array, got %q", raw[0])
	}
	if err != nil {
		return nil, fmt.Errorf("decode encounters: %w", err)
	}
	if len(encounters) == 0 {
		return nil, ErrEmptyDataset
	}
	return encounters, nil
}

// DecodeHistories accepts {"patients": [...]}, a bare array, or a single
// patient object.
func DecodeHistories(r io.Reader) ([]domain.PatientHistory, error) {
	raw, err := readAll(r)
	if err != nil {
		return nil, err
	}
	var histories []domain.PatientHistory
	switch raw[0] {
	case '[':
		err = strictUnmarshal(raw, &histories)
	case '{':
		var fields map[string]json.RawMessage
		if err = json.Unmarshal(raw, &fields); err != nil {
			break
		}
		if _, ok := fields["patients"]; ok {
			var doc historyDocument
			err = strictUnmarshal(raw, &doc)
			histories = doc.Patients
		} else {
			var single domain.PatientHistory
			err = strictUnmarshal(raw, &single)
			histories = []domain.PatientHistory{single}
		}
	default:
		err = fmt.Errorf("expected a JSON object or array, got %q", raw[0])
	}
	if err != nil {
		return nil, fmt.Errorf("decode patient histories: %w", err)
	}
	if len(histories) == 0 {
		return nil, ErrEmptyDataset
	}
	return histories, nil
}

func loadFile(path string, decode func(io.Reader) error) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	if err := decode(file); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func readAll(r io.Reader) ([]byte, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, ErrEmptyDataset
	}
	return raw, nil
}

// strictUnmarshal rejects unknown fields so that a document of the other
// layout is not silently accepted as empty records.
func strictUnmarshal(raw []byte, target any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(target)
}
