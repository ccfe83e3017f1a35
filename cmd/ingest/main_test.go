package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanshika/clinigraph/internal/domain"
	"github.com/vanshika/clinigraph/internal/graph"
	"github.com/vanshika/clinigraph/internal/service"
)

const validEncounter = `{
	"date": "2024-03-01",
	"patient": {"name": "Ada", "MRN": "M001"},
	"provider": {"name": "Grey", "id": "DOC0000001", "type": "Doctor", "specialty": "Cardiology"},
	"summary": "checkup",
	"patient_diagnoses": [{"name": "Hypertension", "ICD10": "I10"}]
}`

const invalidEncounter = `{
	"date": "2024-03-02",
	"patient": {"name": "Bo", "MRN": "M002"},
	"provider": {"name": "Grey", "id": "DOC1", "type": "Doctor", "specialty": "Cardiology"},
	"summary": "follow-up"
}`

func writeDataset(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dataset.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func runIngest(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("GRAPH_BACKEND", "sqlite")
	t.Setenv("GRAPH_SQLITE_PATH", filepath.Join(t.TempDir(), "graph.db"))
	t.Setenv("LOG_LEVEL", "error")

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestExitCode(t *testing.T) {
	validation := &domain.ValidationError{Entity: "provider", Field: "id", Reason: "is required"}
	unreachable := &graph.ConnectionError{Err: errors.New("dial tcp: refused")}

	tests := map[string]struct {
		err  error
		want int
	}{
		"success":        {nil, exitOK},
		"config":         {errors.New("load config: bad port"), exitInvalid},
		"unreachable":    {unreachable, exitUnreachable},
		"pinned partial": {&exitError{code: exitPartial, err: errors.New("1 records failed")}, exitPartial},
		"unreachable inside batch": {
			&exitError{code: exitPartial, err: &service.BatchError{Failures: []service.RecordFailure{{Index: 0, Err: unreachable}}}},
			exitUnreachable,
		},
		"validation only": {
			classifyBatch(service.BatchReport{}, &service.BatchError{Failures: []service.RecordFailure{{Index: 0, Err: validation}}}),
			exitInvalid,
		},
		"validation with commits": {
			classifyBatch(service.BatchReport{Succeeded: 1}, &service.BatchError{Failures: []service.RecordFailure{{Index: 1, Err: validation}}}),
			exitPartial,
		},
		"canceled": {classifyBatch(service.BatchReport{}, context.Canceled), exitPartial},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, exitCode(tc.err))
		})
	}
}

func TestLoadCommitsAndPrintsStats(t *testing.T) {
	path := writeDataset(t, `{"encounters": [`+validEncounter+`,`+validEncounter+`]}`)

	out, err := runIngest(t, "load", "--file", path, "--workers", "2")
	require.NoError(t, err)

	assert.Contains(t, out, "2 records, 2 committed, 0 failed")
	assert.Regexp(t, `Encounter\s+2`, out)
	assert.Regexp(t, `Patient\s+1`, out)
	assert.Regexp(t, `HAS_DIAGNOSIS\s+2`, out)
}

func TestLoadPartialBatch(t *testing.T) {
	path := writeDataset(t, `[`+validEncounter+`,`+invalidEncounter+`]`)

	out, err := runIngest(t, "load", "-f", path, "--on-error", "skip")
	require.Error(t, err)
	assert.Equal(t, exitPartial, exitCode(err))
	assert.Contains(t, out, "1 committed, 1 failed")
}

func TestLoadValidationOnly(t *testing.T) {
	path := writeDataset(t, `[`+invalidEncounter+`]`)

	_, err := runIngest(t, "load", "-f", path)
	require.Error(t, err)
	assert.Equal(t, exitInvalid, exitCode(err))
}

func TestLoadRejectsBadInput(t *testing.T) {
	_, err := runIngest(t, "load", "-f", filepath.Join(t.TempDir(), "missing.json"))
	assert.Equal(t, exitInvalid, exitCode(err))

	path := writeDataset(t, validEncounter)
	_, err = runIngest(t, "load", "-f", path, "--mode", "merged")
	assert.Equal(t, exitInvalid, exitCode(err))

	_, err = runIngest(t, "load")
	assert.Equal(t, exitInvalid, exitCode(err), "--file is required")
}

func TestLoadPatientHistoryMode(t *testing.T) {
	path := writeDataset(t, `{"patients": [{"name": "Grace", "MRN": "H001", "encounters": [
		{"date": "2023-05-04", "diagnosis": "allergies", "tests": [{"name": "IgE", "result": "high"}]}
	]}]}`)

	out, err := runIngest(t, "load", "-f", path, "--mode", "patient-history")
	require.NoError(t, err)
	assert.Regexp(t, `HAD_TEST\s+1`, out)
	assert.NotContains(t, out, "Provider")
}
